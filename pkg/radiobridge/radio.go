package radiobridge

// ModemMode describes a named channel speed and how long it takes to put one byte on air.
type ModemMode struct {
	Name string
	// SecondsPerByte is the expected airtime of one encoded byte.
	SecondsPerByte float64
}

var (
	ModeBPSK63  = ModemMode{Name: "BPSK63", SecondsPerByte: 1.0}
	ModePSK125R = ModemMode{Name: "PSK125R", SecondsPerByte: 0.5}
	ModePSK250R = ModemMode{Name: "PSK250R", SecondsPerByte: 0.25}
	ModePSK500R = ModemMode{Name: "PSK500R", SecondsPerByte: 0.125}
)

// DefaultMode is used when the configured mode has no entry in the multiplier table.
var DefaultMode = ModePSK125R

// DefaultModeMultipliers returns the seconds-per-byte table of the known modes.
func DefaultModeMultipliers() map[string]float64 {
	modes := []ModemMode{ModeBPSK63, ModePSK125R, ModePSK250R, ModePSK500R}
	table := make(map[string]float64, len(modes))
	for _, m := range modes {
		table[m.Name] = m.SecondsPerByte
	}
	return table
}
