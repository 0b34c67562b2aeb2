package handset

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// fakePin is a minimal gpio.PinIO fake, in the style of periph.io's
// own gpiotest.Pin: modify its fields directly to simulate hardware,
// read them back to assert what the driver did.
type fakePin struct {
	name  string
	level gpio.Level
	pull  gpio.Pull
	edge  gpio.Edge
	duty  int
	edges chan gpio.Level
}

func (p *fakePin) String() string   { return p.name }
func (p *fakePin) Halt() error      { return nil }
func (p *fakePin) Name() string     { return p.name }
func (p *fakePin) Number() int      { return 0 }
func (p *fakePin) Function() string { return "" }

func (p *fakePin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.pull = pull
	p.edge = edge
	return nil
}

func (p *fakePin) Read() gpio.Level { return p.level }

func (p *fakePin) WaitForEdge(timeout time.Duration) bool {
	if p.edges == nil {
		return false
	}
	if timeout < 0 {
		p.level = <-p.edges
		return true
	}
	select {
	case p.level = <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *fakePin) Pull() gpio.Pull { return p.pull }

func (p *fakePin) Out(l gpio.Level) error {
	p.level = l
	return nil
}

func (p *fakePin) PWM(duty int) error {
	p.duty = duty
	return nil
}

func TestGPIORailEnableDisable(t *testing.T) {
	pin := &fakePin{name: "rail"}
	r := NewGPIORail(pin)
	r.Enable()
	if pin.level != gpio.High {
		t.Fatal("expected Enable to drive the pin high")
	}
	r.Disable()
	if pin.level != gpio.Low {
		t.Fatal("expected Disable to drive the pin low")
	}
}

func TestGPIOMotorTracksOnState(t *testing.T) {
	pin := &fakePin{name: "motor"}
	m := NewGPIOMotor(pin)
	m.On()
	if !m.IsOn() || pin.level != gpio.High {
		t.Fatal("expected On to set the pin high and IsOn true")
	}
	m.Off()
	if m.IsOn() || pin.level != gpio.Low {
		t.Fatal("expected Off to set the pin low and IsOn false")
	}
}

func TestChargerEnableDisableAndShunts(t *testing.T) {
	enable := &fakePin{name: "en"}
	shuntB := &fakePin{name: "shuntB"}
	shuntT := &fakePin{name: "shuntT"}
	sense := &fakePin{name: "sense", level: gpio.High}

	c := NewCharger(enable, shuntB, shuntT, sense)
	if !c.Present() {
		t.Fatal("expected Present to reflect the sense pin")
	}
	c.Enable()
	if !c.Enabled() || enable.level != gpio.High {
		t.Fatal("expected Enable to set Enabled and drive the enable pin")
	}
	c.SetShuntBottom(true)
	if shuntB.level != gpio.High {
		t.Fatal("expected SetShuntBottom(true) to drive the pin high")
	}
	c.SetShuntTop(false)
	if shuntT.level != gpio.Low {
		t.Fatal("expected SetShuntTop(false) to drive the pin low")
	}
	c.Disable()
	if c.Enabled() || enable.level != gpio.Low {
		t.Fatal("expected Disable to clear Enabled and drive the enable pin low")
	}
}

func TestGPIOBuzzerTimerPlayStop(t *testing.T) {
	pin := &fakePin{name: "buzzer"}
	timer := NewGPIOBuzzerTimer(pin)
	timer.SetFrequency(4000)
	timer.Enable()
	if pin.duty != gpio.Half {
		t.Fatal("expected Enable to drive a 50% duty PWM")
	}
	timer.Disable()
	if pin.level != gpio.Low {
		t.Fatal("expected Disable to drive the pin low")
	}
}

func TestWatchButtonDebouncesEdges(t *testing.T) {
	pin := &fakePin{name: "btn", level: gpio.High, edges: make(chan gpio.Level, 4)}
	ch := make(chan ButtonEdge, 4)
	go WatchButton(3, pin, ch)

	pin.edges <- gpio.Low // press
	ev := <-ch
	if ev.Index != 3 || !ev.Pressed {
		t.Fatalf("expected a press edge, got %+v", ev)
	}

	pin.edges <- gpio.High // release
	ev = <-ch
	if ev.Pressed {
		t.Fatalf("expected a release edge, got %+v", ev)
	}
}
