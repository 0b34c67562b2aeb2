// package flight implements the flight-link session (component K):
// it parses the vehicle telemetry envelope carried over the host
// serial link, tracks arm/flight-mode/system-status/battery state
// with a liveness timeout, and arbitrates user intent (arm, takeoff,
// return-home, force-disarm) against vehicle acknowledgments. Grounded
// throughout on original_source/artoo/src/flightmanager.{h,cpp}.
package flight

import (
	"encoding/binary"
	"math"
	"strings"

	"seedhammer.com/button"
	"seedhammer.com/ui"
)

// FlightMode mirrors ArduCopter's custom_mode numbering carried in
// HEARTBEAT, as observed by github.com/diydrones/ardupilot's
// ArduCopter/defines.h.
type FlightMode uint8

const (
	Stabilize   FlightMode = 0
	Acro        FlightMode = 1
	AltHold     FlightMode = 2
	Auto        FlightMode = 3
	Guided      FlightMode = 4
	Loiter      FlightMode = 5
	RTLMode     FlightMode = 6
	Circle      FlightMode = 7
	Land        FlightMode = 9
	Drift       FlightMode = 11
	Sport       FlightMode = 13
	Flip        FlightMode = 14
	AutoTune    FlightMode = 15
	PosHold     FlightMode = 16
	Brake       FlightMode = 17
	Throw       FlightMode = 18
	AvoidADSB   FlightMode = 19
	GuidedNoGPS FlightMode = 20
	SmartRTL    FlightMode = 21
	FlowHold    FlightMode = 22
	Follow      FlightMode = 23
	ZigZag      FlightMode = 24
)

func (m FlightMode) String() string {
	switch m {
	case Stabilize:
		return "Stabilize"
	case Acro:
		return "Acro"
	case AltHold:
		return "Alt Hold"
	case Auto:
		return "Auto"
	case Guided:
		return "Guided"
	case Loiter:
		return "Loiter"
	case RTLMode:
		return "Return to Home"
	case Circle:
		return "Circle"
	case Land:
		return "Land"
	case Drift:
		return "Drift"
	case Sport:
		return "Sport"
	case Flip:
		return "Flip"
	case AutoTune:
		return "Auto Tune"
	case PosHold:
		return "Pos Hold"
	default:
		return "Unknown"
	}
}

// autonomous reports whether the mode flies itself, in the sense that
// matters for GPS requirements and for returning to Loiter on disarm.
func (m FlightMode) autonomous() bool {
	switch m {
	case Auto, Guided, Loiter, RTLMode, Circle, Drift, PosHold, Brake, Throw,
		AvoidADSB, GuidedNoGPS, SmartRTL, FlowHold, Follow, ZigZag:
		return true
	default:
		return false
	}
}

// ArmState is the vehicle's reported arm status.
type ArmState uint8

const (
	Disarmed ArmState = iota
	Armed
	DisarmForce
)

// TakeoffState is the takeoff request sub-state machine (§4.9):
// None → SetMode (if not already in Loiter) → SentTakeoffCmd →
// Ascending → Complete.
type TakeoffState uint8

const (
	TakeoffNone TakeoffState = iota
	TakeoffSetMode
	TakeoffSentTakeoffCmd
	TakeoffAscending
	TakeoffComplete
)

// CommandID identifies a user-initiated command awaiting dispatch.
// PauseButtonClick exists in the original firmware's Command::ID but
// has no sender and no ack handler there either, so it is omitted
// here (see DESIGN.md).
type CommandID uint8

const (
	CmdNone CommandID = iota
	CmdSetFlightMode
	CmdSetArmState
	CmdGetHomeWaypoint
	CmdTakeoff
	CmdFlyButtonClick
	CmdFlyButtonHold
)

// CommandState tracks one pending command through the producer chain.
type CommandState uint8

const (
	CmdComplete CommandState = iota
	CmdPending
	CmdSent
)

// Command is the single in-flight user-command slot.
type Command struct {
	ID         CommandID
	State      CommandState
	FlightMode FlightMode
	Arm        ArmState
	Waypoint   uint16
}

// Battery level thresholds (int8 percent, or a sentinel). Mirrors
// FlightManager::BatteryLevel* in flightmanager.h.
const (
	levelNotSet     int8 = -1
	levelMin        int8 = -100
	levelFailsafe   int8 = 10
	levelCritical   int8 = 15
	levelLow        int8 = 25
	levelLowDismiss int8 = 35
	levelMax        int8 = 100
	levelDismiss    int8 = 3
)

// BatteryPhase is a position in the battery hysteresis state machine.
type BatteryPhase uint8

const (
	BatteryNormal BatteryPhase = iota
	BatteryLow
	BatteryCritical
	BatteryFailsafe
)

type batteryState struct {
	phase    BatteryPhase
	event    ui.Event
	minLevel int8
	maxLevel int8
}

// batteryStates is the exact hysteresis table from
// FlightManager::batteryStates[]: each phase stays current as long as
// the level falls in (minLevel, maxLevel], with overlapping dismiss
// buffers above the Low/Critical/Failsafe floors so noisy readings
// near a boundary don't flap the phase.
var batteryStates = [...]batteryState{
	{BatteryNormal, ui.AlertRecovery /* never emitted for Normal */, levelLow, levelMax},
	{BatteryLow, ui.FlightBatteryLow, levelCritical, levelLowDismiss},
	{BatteryCritical, ui.FlightBatteryCritical, levelFailsafe, levelCritical + levelDismiss},
	{BatteryFailsafe, ui.FlightBatteryFailsafe, levelMin, levelFailsafe + levelDismiss},
}

const ekfUninit = 0xffff

// EKF_STATUS_REPORT flag bits consumed by isEkfGpsOk (telemetry.cpp).
const (
	ekfPosHorizAbs     = 1 << 4
	ekfConstPosMode    = 1 << 7
	ekfPredPosHorizAbs = 1 << 9
	ekfGPSGlitching    = 1 << 15
)

// Telemetry is the subset of vehicle state the session tracks,
// mirroring struct Telemetry in telemetry.h.
type Telemetry struct {
	BatteryLevel  int8
	GPSFix        uint8
	NumSatellites uint8
	Altitude      float32
	AirSpeed      float32
	GroundSpeed   float32
	RSSI          int8
	EKFFlags      uint16
}

// Coord is a WGS84 point; Valid distinguishes "never received" from
// (0,0).
type Coord struct {
	Lat, Lng float64
	Valid    bool
}

func distanceMeters(a, b Coord) float64 {
	if !a.Valid || !b.Valid {
		return 0
	}
	const earthRadius = 6371000.0
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	x := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Atan2(math.Sqrt(x), math.Sqrt(1-x))
}

// heartbeatHz is the dispatcher's periodic task rate the liveness
// counter and gimbal/idle-timeout tasks all run on.
const heartbeatHz = 50

// linkConnDuration is how many heartbeat ticks of silence (~3s) before
// the link is considered disconnected.
const linkConnDuration = heartbeatHz * 3

const forceDisarmMagic = 21196
const takeoffAltitudeMeters = 3

// rssiBars buckets a raw signed RSSI reading into 0..5 bars, matching
// UiTelemetry::rssiBars.
func rssiBars(rssi int8) int {
	switch {
	case rssi < -75:
		return 0
	case rssi < -70:
		return 1
	case rssi < -65:
		return 2
	case rssi < -60:
		return 3
	case rssi < -50:
		return 4
	default:
		return 5
	}
}

func clampInt8(v, lo, hi int8) int8 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ManualOverride reports whether factory/test manual override (§4.15)
// is engaged, which routes an A-button click straight to ALT_HOLD.
type ManualOverride interface {
	Engaged() bool
}

// Haptics is the subset of the haptic player a flight session drives
// directly, decoupling this package from the haptic package.
type Haptics interface {
	StartShort()
	StartMedium()
	StartLong()
}

// Session owns all flight-link state. The zero value is not usable;
// construct with NewSession.
type Session struct {
	mode                FlightMode
	systemStatus         uint8
	armState             ArmState
	modeArmableStatus    uint32
	takeoffState         TakeoffState
	statusText           string
	preArmAlertActive    bool
	linkConnCounter      uint32
	command              Command
	telemetry            Telemetry
	currentLoc           Coord
	home                 Coord
	rcFailsafe           bool
	pendingEkfFlags      uint16
	currentBatteryPhase  BatteryPhase
	heldMask             uint16
	seq                  byte

	events   *ui.Queue
	override ManualOverride
	haptics  Haptics
}

const (
	artooSysID             byte = 250
	artooComponentIDSystem byte = mavCompIDSystemControl
	soloSysID              byte = 1
	soloComponentID        byte = 1
)

// NewSession constructs a disconnected Session. override and haptics
// may be nil.
func NewSession(events *ui.Queue, override ManualOverride) *Session {
	return &Session{
		mode:                Stabilize,
		systemStatus:        mavStateUninit,
		armState:            Disarmed,
		linkConnCounter:      linkConnDuration, // starts disconnected
		command:             Command{State: CmdComplete},
		pendingEkfFlags:     ekfUninit,
		currentBatteryPhase: BatteryNormal,
		telemetry: Telemetry{
			BatteryLevel:  levelNotSet,
			RSSI:          math.MaxInt8,
			NumSatellites: 0xff,
			EKFFlags:      ekfUninit,
		},
		events:   events,
		override: override,
	}
}

// SetHaptics wires the haptic player used for button-action feedback.
func (s *Session) SetHaptics(h Haptics) { s.haptics = h }

func (s *Session) hapticShort() {
	if s.haptics != nil {
		s.haptics.StartShort()
	}
}

func (s *Session) hapticMedium() {
	if s.haptics != nil {
		s.haptics.StartMedium()
	}
}

func (s *Session) hapticLong() {
	if s.haptics != nil {
		s.haptics.StartLong()
	}
}

// Accessors.

func (s *Session) LinkConnected() bool { return s.linkConnCounter < linkConnDuration }
func (s *Session) Mode() FlightMode    { return s.mode }
func (s *Session) ArmStateVal() ArmState { return s.armState }
func (s *Session) Armed() bool         { return s.armState == Armed }
func (s *Session) TakeoffStateVal() TakeoffState { return s.takeoffState }
func (s *Session) Telem() Telemetry    { return s.telemetry }
func (s *Session) CommandVal() Command { return s.command }
func (s *Session) Home() Coord         { return s.home }
func (s *Session) CurrentLocation() Coord { return s.currentLoc }

func (s *Session) inFlightWithStatus(ss uint8) bool {
	if !s.Armed() {
		return false
	}
	return ss == mavStateActive || ss == mavStateCritical
}

// InFlight reports whether the vehicle is armed and airborne by the
// vehicle's own reckoning.
func (s *Session) InFlight() bool { return s.inFlightWithStatus(s.systemStatus) }

// ReadyToFly reports armed-but-grounded: on the ground, armed, not yet
// taken off.
func (s *Session) ReadyToFly() bool { return s.Armed() && !s.InFlight() }

// ReadyToArm reports whether the current mode is in the vehicle's
// reported armable-mode bitmask.
func (s *Session) ReadyToArm() bool {
	return s.modeArmableStatus&(1<<uint(s.mode)) != 0
}

// ReadyToArmWithoutGPS checks armability of ALT_HOLD specifically,
// since it's the one mode known not to require GPS (flightmanager.h's
// own "Hack" comment).
func (s *Session) ReadyToArmWithoutGPS() bool {
	return s.modeArmableStatus&(1<<uint(AltHold)) != 0
}

func (s *Session) isEkfGpsOk(flags uint16) bool {
	if flags&ekfGPSGlitching != 0 {
		return false
	}
	if s.Armed() {
		return flags&ekfPosHorizAbs != 0 && flags&ekfConstPosMode == 0
	}
	return flags&ekfPosHorizAbs != 0 || flags&ekfPredPosHorizAbs != 0
}

func (s *Session) hasGpsFix() bool { return s.isEkfGpsOk(s.telemetry.EKFFlags) }

// MustWaitForGpsToArm reports whether arming should block on GPS: not
// armed yet, EKF state not yet known, and the current mode needs GPS.
func (s *Session) MustWaitForGpsToArm() bool {
	if s.Armed() {
		return false
	}
	if s.telemetry.EKFFlags == ekfUninit {
		return true
	}
	return s.mode.autonomous() && !s.hasGpsFix()
}

// PeriodicHapticRequested reports whether the caller should keep
// buzzing the haptic motor: landing, armed and airborne.
func (s *Session) PeriodicHapticRequested() bool {
	return s.InFlight() && s.mode == Land
}

// DistanceFromTakeoff is the great-circle distance, in meters, between
// the last known home waypoint and the current position.
func (s *Session) DistanceFromTakeoff() float64 {
	return distanceMeters(s.home, s.currentLoc)
}

// SysHeartbeat is the ~50Hz liveness check: called once per heartbeat
// tick, it advances the disconnect counter while connected.
func (s *Session) SysHeartbeat() {
	if s.LinkConnected() {
		s.linkConnCounter++
		if s.linkConnCounter >= linkConnDuration {
			s.linkDisconnected()
		}
	}
}

func (s *Session) linkConnected() {
	s.command.State = CmdComplete
	s.events.Pend(ui.VehicleConnectionChanged)
}

func (s *Session) linkDisconnected() {
	s.events.Pend(ui.VehicleConnectionChanged)
	s.events.Pend(ui.AlertRecovery)

	if s.InFlight() {
		s.rcFailsafe = true
		if s.hasGpsFix() {
			s.events.Pend(ui.RCFailsafe)
		} else {
			s.events.Pend(ui.RCFailsafeNoGPS)
		}
	}

	s.takeoffState = TakeoffNone
	s.systemStatus = mavStateUninit
	s.pendingEkfFlags = ekfUninit
	s.telemetry = Telemetry{
		BatteryLevel:  levelNotSet,
		RSSI:          math.MaxInt8,
		NumSatellites: 0xff,
		EKFFlags:      ekfUninit,
	}
}

func (s *Session) updateRCFailsafeState(sysStatus uint8) {
	if !s.rcFailsafe {
		return
	}
	s.rcFailsafe = false
	if s.inFlightWithStatus(sysStatus) && (s.mode == RTLMode || s.mode == Land) {
		s.events.Pend(ui.RCFailsafeRecovery)
	}
}

// OnMavlink feeds one host-forwarded telemetry payload (§6.2 tag 4)
// through the frame parser and dispatches each decoded message.
func (s *Session) OnMavlink(payload []byte) {
	for _, m := range parseMessages(payload) {
		s.resetLinkConnCount(m.id)
		s.handleMessage(m)
	}
}

func (s *Session) resetLinkConnCount(msgID uint32) {
	if s.LinkConnected() {
		s.linkConnCounter = 0
		return
	}
	if msgID == msgHeartbeat {
		s.linkConnected()
		s.linkConnCounter = 0
	}
}

func (s *Session) handleMessage(m message) {
	switch m.id {
	case msgHeartbeat:
		s.onHeartbeat(m.payload)
	case msgGlobalPositionInt:
		s.onGlobalPositionInt(m.payload)
	case msgGpsRawInt:
		s.onGpsRawInt(m.payload)
	case msgVfrHud:
		s.onVfrHud(m.payload)
	case msgSysStatus:
		s.onSysStatus(m.payload)
	case msgCommandAck:
		s.onCommandAck(m.payload)
	case msgStatustext:
		s.onStatustext(m.payload)
	case msgNamedValueInt:
		s.onNamedValueInt(m.payload)
	case msgRadioStatus:
		s.onRadioStatus(m.payload)
	case msgEkfStatusReport:
		s.onEkfStatusReport(m.payload)
	case msgMissionItem:
		s.onMissionItem(m.payload)
	}
}

func (s *Session) onHeartbeat(p []byte) {
	if len(p) < 9 {
		return
	}
	customMode := le32(p, 0)
	baseMode := p[6]
	sysStatus := p[7]

	armState := Disarmed
	if baseMode&mavModeFlagSafetyArmed != 0 {
		armState = Armed
	}
	if armState != s.armState {
		s.onArmStateChanged(armState)
		s.armState = armState
	}

	mode := FlightMode(customMode)
	if mode != s.mode {
		s.onFlightModeChanged(mode)
		s.mode = mode
	}

	if sysStatus != s.systemStatus {
		s.onSystemStatusChanged(sysStatus)
		s.systemStatus = sysStatus
	}

	// EKF flags are latched from their own message but only committed
	// here, so arm-state-dependent EKF interpretation always sees a
	// consistent tuple.
	if s.telemetry.EKFFlags != s.pendingEkfFlags {
		s.onEkfChanged(s.pendingEkfFlags)
		s.telemetry.EKFFlags = s.pendingEkfFlags
	}
}

func (s *Session) onGlobalPositionInt(p []byte) {
	if len(p) < 12 {
		return
	}
	c := Coord{Lat: float64(s32(p, 4)) / 1e7, Lng: float64(s32(p, 8)) / 1e7, Valid: true}
	s.onGpsPositionChanged(c)
	s.currentLoc = c
}

func (s *Session) onGpsRawInt(p []byte) {
	if len(p) < 30 {
		return
	}
	fixType := p[28]
	numSat := p[29]
	if fixType != s.telemetry.GPSFix {
		s.telemetry.GPSFix = fixType
	}
	if numSat != s.telemetry.NumSatellites {
		s.onGpsNumSatellitesChanged(numSat)
		s.telemetry.NumSatellites = numSat
	}
}

func within(a, b, eps float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func (s *Session) onVfrHud(p []byte) {
	if len(p) < 18 {
		return
	}
	airspeed := f32(p, 0)
	groundspeed := f32(p, 4)
	alt := f32(p, 8)

	if s.takeoffState == TakeoffAscending && alt >= float32(takeoffAltitudeMeters)-0.2 {
		s.takeoffState = TakeoffComplete
	}

	if !within(s.telemetry.Altitude, alt, 0.1) {
		s.onAltitudeChanged(alt)
		s.telemetry.Altitude = alt
	}
	s.telemetry.AirSpeed = airspeed
	s.telemetry.GroundSpeed = groundspeed
}

func (s *Session) onSysStatus(p []byte) {
	if len(p) < 25 {
		return
	}
	battLevel := int8(p[24])
	if battLevel != s.telemetry.BatteryLevel {
		s.onBatteryChanged(battLevel)
		s.telemetry.BatteryLevel = battLevel
	}
}

// cmdMavID maps a pending command to the vehicle-protocol id its ack
// will carry, correcting the original firmware's command.id compare
// (which held our own small CommandID enum, never a real command
// number) to an actual match against the acked command.
func cmdMavID(id CommandID) (uint32, bool) {
	switch id {
	case CmdSetArmState:
		return mavCmdComponentArmDisarm, true
	case CmdTakeoff:
		return mavCmdNavTakeoff, true
	case CmdSetFlightMode:
		return msgSetMode, true
	case CmdFlyButtonClick:
		return mavCmdSoloBtnFlyClick, true
	case CmdFlyButtonHold:
		return mavCmdSoloBtnFlyHold, true
	default:
		return 0, false
	}
}

func (s *Session) onCommandAck(p []byte) {
	if len(p) < 3 {
		return
	}
	ackCmd := uint32(le16(p, 0))
	ackResult := p[2]

	if want, ok := cmdMavID(s.command.ID); ok && s.command.State == CmdSent && ackCmd == want {
		s.command.State = CmdComplete
	}

	switch ackCmd {
	case mavCmdComponentArmDisarm:
		if ackResult != mavResultAccepted {
			s.events.Pend(ui.ArmFailed)
		}
	case msgSetMode:
		s.onFlightModeAck(ackResult)
	case mavCmdNavTakeoff:
		if ackResult == mavResultAccepted {
			s.takeoffState = TakeoffAscending
		} else {
			s.events.Pend(ui.TakeoffFailed)
		}
	}
}

func (s *Session) onFlightModeAck(result byte) {
	if result == mavResultAccepted {
		if s.takeoffState == TakeoffSetMode && s.systemStatus == mavStateStandby {
			s.takeoffState = TakeoffSentTakeoffCmd
			s.setCommand(CmdTakeoff)
			return
		}
	}
	s.takeoffState = TakeoffNone
}

func cString(b []byte) string {
	if i := indexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func (s *Session) onStatustext(p []byte) {
	if len(p) < 2 {
		return
	}
	s.statusText = cString(p[1:])
	s.onStatusTextChanged()
}

func (s *Session) modeIsNotArmable(text string) bool {
	return strings.HasPrefix(text, "Arm: Mode not armable")
}

func (s *Session) onStatusTextChanged() {
	if s.modeIsNotArmable(s.statusText) {
		s.requestFlightModeChange(Loiter)
		return
	}
	s.processStatusText(s.statusText)
}

type statusTextEvent struct {
	prefixes []string
	event    ui.Event
}

// statusTextEvents is processStatusText's fixed string-match
// dictionary. There is no enumeration of these anywhere upstream; they
// are matched by prefix against whatever the flight code currently
// emits.
var statusTextEvents = []statusTextEvent{
	{[]string{
		"PreArm: Accelerometers not healthy",
		"PreArm: Gyros not healthy",
		"PreArm: Compass not healthy",
		"PreArm: Barometer not healthy",
		"PreArm: Barometer not healthy!",
		"PreArm: Check Board Voltage",
	}, ui.VehicleRequiresService},
	{[]string{
		"PreArm: INS not calibrated",
		"PreArm: inconsistent Gyros",
		"PreArm: inconsistent Accelerometers",
	}, ui.LevelError},
	{[]string{"PreArm: Altitude disparity"}, ui.AltitudeCalRequired},
	{[]string{
		"PreArm: Waiting for Nav Checks",
		"Arm: Waiting for Nav Checks",
	}, ui.WaitingForNavChecks},
	{[]string{
		"PreArm: Compass not calibrated",
		"PreArm: Compass offsets too high",
	}, ui.CompassCalRequired},
	{[]string{
		"PreArm: Check mag field",
		"PreArm: inconsistent compasses",
	}, ui.CompassInterference},
	{[]string{"Arm: Compass calibration running"}, ui.CompassCalibrating},
	{[]string{"Arm: Accelerometer calibration running"}, ui.LevelCalibrating},
	{[]string{"Arm: Altitude disparity"}, ui.VehicleCalibrating},
	{[]string{"Arm: Gyro calibration failed"}, ui.CalibrationFailed},
	{[]string{"Arm: Throttle too high"}, ui.ThrottleError},
	{[]string{"Arm: Leaning"}, ui.CantArmWhileLeaning},
}

func (s *Session) processStatusText(text string) {
	for _, ste := range statusTextEvents {
		for _, prefix := range ste.prefixes {
			if strings.HasPrefix(text, prefix) {
				s.events.Pend(ste.event)
				s.preArmAlertActive = true
				return
			}
		}
	}

	unrecognized := strings.HasPrefix(text, "Arm: ") || strings.HasPrefix(text, "PreArm: ")
	if s.preArmAlertActive && unrecognized {
		s.events.Pend(ui.AlertRecovery)
		s.preArmAlertActive = false
	}
}

func (s *Session) onNamedValueInt(p []byte) {
	if len(p) < 18 {
		return
	}
	value := le32(p, 4)
	name := cString(p[8:18])
	if !strings.HasPrefix(name, "ARMMASK") {
		return
	}
	if value != s.modeArmableStatus {
		s.onArmableStatusChanged(value)
	}
}

func (s *Session) onRadioStatus(p []byte) {
	if len(p) < 6 {
		return
	}
	rssi := int8(p[5])
	if rssi != s.telemetry.RSSI {
		s.onRssiChanged(rssi)
		s.telemetry.RSSI = rssi
	}
}

func (s *Session) onEkfStatusReport(p []byte) {
	if len(p) < 22 {
		return
	}
	// Mark the flags dirty; they're committed on the next heartbeat,
	// since EKF interpretation depends on an up to date arm state.
	s.pendingEkfFlags = le16(p, 20)
}

func (s *Session) onMissionItem(p []byte) {
	if len(p) < 32 {
		return
	}
	seq := le16(p, 28)
	if seq != 0 {
		return
	}
	home := Coord{Lat: float64(f32(p, 16)), Lng: float64(f32(p, 20)), Valid: true}
	if home != s.home {
		s.home = home
		s.events.Pend(ui.HomeLocationChanged)
	}
}

func (s *Session) onArmStateChanged(as ArmState) {
	if as == Armed {
		s.requestHomeWaypoint()
	} else if as == Disarmed {
		s.takeoffState = TakeoffNone
		if s.mode.autonomous() {
			s.requestFlightModeChange(Loiter)
		}
	}
	s.events.Pend(ui.ArmStateUpdated)
}

func (s *Session) onSystemStatusChanged(ss uint8) {
	s.updateRCFailsafeState(ss)
}

func (s *Session) onFlightModeChanged(fm FlightMode) {
	s.events.Pend(ui.FlightModeChanged)
}

func (s *Session) onGpsNumSatellitesChanged(n uint8) {
	s.events.Pend(ui.GpsNumSatellitesChanged)
}

func (s *Session) onAltitudeChanged(alt float32) {
	s.events.Pend(ui.AltitudeUpdated)
}

func (s *Session) onBatteryChanged(lvl int8) {
	if s.batteryPhaseTransition(lvl) {
		s.updateBatteryPhase(lvl)
	}
	s.events.Pend(ui.FlightBatteryChanged)
}

func (s *Session) batteryPhaseTransition(lvl int8) bool {
	if lvl == levelNotSet {
		return false
	}
	bs := batteryStates[s.currentBatteryPhase]
	lvl = clampInt8(lvl, levelMin, levelMax)
	return !(lvl > bs.minLevel && lvl <= bs.maxLevel)
}

func (s *Session) updateBatteryPhase(lvl int8) {
	lvl = clampInt8(lvl, levelMin, levelMax)
	for _, bs := range batteryStates {
		if lvl > bs.minLevel && s.currentBatteryPhase != bs.phase {
			s.currentBatteryPhase = bs.phase
			s.updateBatteryAlert(bs.event)
			return
		}
	}
}

func (s *Session) updateBatteryAlert(evt ui.Event) {
	if s.currentBatteryPhase == BatteryNormal {
		s.events.Pend(ui.AlertRecovery)
		return
	}
	s.events.Pend(evt)
}

func (s *Session) onRssiChanged(rssi int8) {
	if rssiBars(s.telemetry.RSSI) != rssiBars(rssi) {
		s.events.Pend(ui.RssiUpdated)
	}
	// SoloConnectionPoor (rssi<=1 bar) is left disabled: it's #if 0'd
	// in the original firmware pending a better connection-quality
	// heuristic, and SPEC_FULL.md carries that decision forward.
}

func (s *Session) onGpsPositionChanged(c Coord) {
	s.events.Pend(ui.GpsPositionChanged)
}

func (s *Session) onEkfChanged(newFlags uint16) {
	s.events.Pend(ui.GpsFixChanged)

	if s.InFlight() && s.telemetry.EKFFlags != ekfUninit {
		prevOK := s.isEkfGpsOk(s.telemetry.EKFFlags)
		currOK := s.isEkfGpsOk(newFlags)
		switch {
		case prevOK && !currOK:
			if !s.mode.autonomous() {
				s.events.Pend(ui.GpsLostManual)
			} else {
				s.events.Pend(ui.GpsLost)
			}
		case !prevOK && currOK:
			s.events.Pend(ui.GpsLostRecovery)
		}
	}
}

func (s *Session) onArmableStatusChanged(mask uint32) {
	s.modeArmableStatus = mask
	if s.ReadyToArmWithoutGPS() && s.preArmAlertActive {
		s.events.Pend(ui.AlertRecovery)
		s.preArmAlertActive = false
	}
}

// setCommand stages id as the pending user command, matching the
// original's Command::set: it is a programming error to stage a new
// command while one is already Pending (not yet picked up by the
// producer step).
func (s *Session) setCommand(id CommandID) {
	if s.command.State == CmdPending {
		panic("flight: command already pending")
	}
	s.command.ID = id
	s.command.State = CmdPending
}

func (s *Session) requestFlightModeChange(m FlightMode) {
	if s.mode != m {
		s.command.FlightMode = m
		s.setCommand(CmdSetFlightMode)
	}
}

func (s *Session) requestArmStateChange(as ArmState) {
	if s.armState != as {
		s.command.Arm = as
		s.setCommand(CmdSetArmState)
	}
}

func (s *Session) requestHomeWaypoint() {
	s.command.Waypoint = 0
	s.setCommand(CmdGetHomeWaypoint)
}

func (s *Session) forceDisarm() {
	s.requestArmStateChange(DisarmForce)
	s.hapticLong()
}

// RequestFlightModeChange asks the vehicle to switch to m, e.g. the
// manual-override gesture driving AltHold directly without going
// through the takeoff sub-state machine.
func (s *Session) RequestFlightModeChange(m FlightMode) {
	s.requestFlightModeChange(m)
}

// BeginTakeoff starts the takeoff sub-state machine: it switches to
// Loiter first if necessary, otherwise sends the takeoff command
// directly.
func (s *Session) BeginTakeoff() {
	if s.mode == Loiter {
		s.takeoffState = TakeoffSentTakeoffCmd
		s.setCommand(CmdTakeoff)
	} else {
		s.takeoffState = TakeoffSetMode
		s.requestFlightModeChange(Loiter)
	}
}

// Produce implements the link package's Producer signature when
// wrapped with the Mavlink tag by the caller: it returns the encoded
// pending command frame, if any, and transitions it to Sent.
func (s *Session) Produce() ([]byte, bool) {
	if s.command.State != CmdPending {
		return nil, false
	}
	buf := s.encodeCommand()
	s.command.State = CmdSent
	return buf, true
}

func (s *Session) encodeCommand() []byte {
	s.seq++
	switch s.command.ID {
	case CmdSetArmState:
		payload := make([]byte, 33)
		arm := float32(0)
		if s.command.Arm == Armed {
			arm = 1
		}
		disarmCode := float32(0)
		if s.command.Arm == DisarmForce {
			disarmCode = forceDisarmMagic
		}
		putF32(payload, 0, arm)
		putF32(payload, 4, disarmCode)
		binary.LittleEndian.PutUint16(payload[28:], mavCmdComponentArmDisarm)
		payload[30], payload[31] = soloSysID, mavCompIDSystemControl
		return encodeFrame(s.seq, artooSysID, mavCompIDSystemControl, msgCommandLong, payload)

	case CmdTakeoff:
		payload := make([]byte, 33)
		putF32(payload, 24, takeoffAltitudeMeters)
		binary.LittleEndian.PutUint16(payload[28:], mavCmdNavTakeoff)
		payload[30], payload[31] = soloSysID, mavCompIDAutopilot1
		return encodeFrame(s.seq, artooSysID, mavCompIDSystemControl, msgCommandLong, payload)

	case CmdSetFlightMode:
		payload := make([]byte, 6)
		binary.LittleEndian.PutUint32(payload[0:], uint32(s.command.FlightMode))
		payload[4] = soloSysID
		payload[5] = mavModeFlagCustomModeEnabled
		return encodeFrame(s.seq, artooSysID, artooComponentIDSystem, msgSetMode, payload)

	case CmdFlyButtonClick, CmdFlyButtonHold:
		payload := make([]byte, 33)
		cmdID := uint16(mavCmdSoloBtnFlyClick)
		if s.command.ID == CmdFlyButtonHold {
			cmdID = mavCmdSoloBtnFlyHold
			putF32(payload, 0, takeoffAltitudeMeters)
		}
		binary.LittleEndian.PutUint16(payload[28:], cmdID)
		payload[30], payload[31] = soloSysID, mavCompIDSystemControl
		return encodeFrame(s.seq, artooSysID, mavCompIDSystemControl, msgCommandLong, payload)

	case CmdGetHomeWaypoint:
		payload := make([]byte, 4)
		binary.LittleEndian.PutUint16(payload[0:], s.command.Waypoint)
		payload[2], payload[3] = soloSysID, soloComponentID
		return encodeFrame(s.seq, artooSysID, artooComponentIDSystem, msgMissionRequest, payload)

	default:
		return nil
	}
}

// Button wiring (§4.9's FLY/RTL/A/B/Pause handlers).

const (
	holdBitA   = 1 << 0
	holdBitB   = 1 << 1
	holdBitRTL = 1 << 2
	forceDisarmMask = holdBitA | holdBitB | holdBitRTL
)

func holdBit(id button.ID) uint16 {
	switch id {
	case button.A:
		return holdBitA
	case button.B:
		return holdBitB
	case button.RTL:
		return holdBitRTL
	default:
		return 0
	}
}

// WireButtons subscribes the session to the button events it needs to
// drive flight commands and the force-disarm gesture.
func (s *Session) WireButtons(m *button.Manager) {
	m.Subscribe(button.Press, s.onButtonPress)
	m.Subscribe(button.ClickRelease, s.onButtonClickRelease)
	m.Subscribe(button.Hold, s.onButtonHold)
	m.Subscribe(button.Release, s.onButtonRelease)
}

func (s *Session) onButtonPress(id button.ID, evt button.Event, mask uint16) bool {
	if id != button.RTL {
		return false
	}
	if !s.LinkConnected() {
		return false
	}
	if s.InFlight() {
		s.requestFlightModeChange(RTLMode)
		if !s.hasGpsFix() {
			s.events.Pend(ui.RTLWithoutGPS)
		}
		s.hapticMedium()
	}
	return false
}

func (s *Session) onButtonClickRelease(id button.ID, evt button.Event, mask uint16) bool {
	switch id {
	case button.Fly:
		if !s.LinkConnected() {
			return false
		}
		if !s.InFlight() && s.telemetry.BatteryLevel < levelCritical {
			return false
		}
		s.setCommand(CmdFlyButtonClick)
		s.hapticShort()
	case button.A:
		if !s.LinkConnected() {
			return false
		}
		if s.override != nil && s.override.Engaged() {
			s.requestFlightModeChange(AltHold)
		}
	}
	return false
}

func (s *Session) onButtonHold(id button.ID, evt button.Event, mask uint16) bool {
	switch id {
	case button.A, button.B, button.RTL:
		s.heldMask |= holdBit(id)
	}

	switch id {
	case button.Fly:
		if s.LinkConnected() && (s.InFlight() || s.telemetry.BatteryLevel >= levelCritical) {
			s.setCommand(CmdFlyButtonHold)
			s.hapticShort()
		}
	case button.A:
		if s.LinkConnected() {
			s.checkForceDisarm()
		}
	case button.B, button.Pause:
		s.checkForceDisarm()
	}
	return false
}

func (s *Session) onButtonRelease(id button.ID, evt button.Event, mask uint16) bool {
	switch id {
	case button.A, button.B, button.RTL:
		s.heldMask &^= holdBit(id)
	}
	return false
}

func (s *Session) checkForceDisarm() {
	if !s.Armed() {
		return
	}
	if s.heldMask&forceDisarmMask == forceDisarmMask {
		s.forceDisarm()
	}
}
