package battery

// PackID identifies the battery chemistry/cell-count detected from
// the pack's identification resistor.
type PackID int

const (
	Unknown PackID = iota
	Pack2Cell
	Pack4Cell
)

// Raw ADC readings (0-4095) that identify a known pack, within slop.
const (
	rawIDPack2Cell = 0x800
	rawIDPack4Cell = 0x9d8
)

// packIDSlop is 1% of the ADC's full range, matching the firmware's
// "up to 1% slop in either direction".
const packIDSlop = 4096 / 100

func classifyPackID(sample uint16) PackID {
	if abs(int(sample)-rawIDPack2Cell) < packIDSlop {
		return Pack2Cell
	}
	if abs(int(sample)-rawIDPack4Cell) < packIDSlop {
		return Pack4Cell
	}
	return Unknown
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

const microvoltsPerADCUnit = 3280

func millivoltsToADC(mv int) uint16 {
	return uint16(mv * 1000 / microvoltsPerADCUnit)
}

// dischargeCurves maps a pack id to its descending cell-sum threshold
// curve, in ADC units. Curves must remain in descending order; the
// measured millivolt tables come from original_source/artoo/src/battery.cpp.
var dischargeCurves = map[PackID][]uint16{
	Pack2Cell: curveFromMillivolts([]int{
		8140, 7960, 7890, 7830, 7770, 7720, 7670, 7620, 7570, 7520,
		7470, 7410, 7360, 7310, 7260, 7220, 7190, 7150, 7120, 7090,
		7060, 7020, 6990, 6950, 6910, 6870, 6810, 6750, 6670, 6590,
		6490, 6340,
	}),
	Pack4Cell: curveFromMillivolts([]int{
		8090, 7880, 7810, 7740, 7690, 7630, 7570, 7520, 7470, 7420,
		7380, 7330, 7290, 7240, 7200, 7170, 7150, 7120, 7110, 7090,
		7070, 7050, 7040, 7020, 7000, 6970, 6940, 6910, 6850, 6780,
		6710, 6620,
	}),
	Unknown: curveFromMillivolts([]int{
		4200 * 2, 4100 * 2, 4000 * 2, 3850 * 2, 3650 * 2,
		3600 * 2, 3550 * 2, 3525 * 2, 3500 * 2, 3400 * 2,
	}),
}

func curveFromMillivolts(mv []int) []uint16 {
	out := make([]uint16, len(mv))
	for i, v := range mv {
		out[i] = millivoltsToADC(v)
	}
	return out
}

// lookupPercent returns the curve-derived state of charge (0-100) for
// cellSum on the given pack's discharge curve. The curve is a
// descending array; the result is (count-i)/count where i is the
// first index whose threshold is at or below cellSum.
func lookupPercent(id PackID, cellSum uint16) uint {
	curve := dischargeCurves[id]
	n := len(curve)
	for i, threshold := range curve {
		if cellSum >= threshold {
			return uint((n - i) * 100 / n)
		}
	}
	return 0
}
