package sample

// Resolution describes the converter width feeding a Source.
type Resolution struct {
	Max     uint16
	Divisor uint16
}

var (
	// Resolution12 is the 12-bit converter (0-4095) scaled by 16.
	Resolution12 = Resolution{Max: 4095, Divisor: 16}
	// Resolution10 is the 10-bit converter (0-1023) scaled by 4.
	Resolution10 = Resolution{Max: 1023, Divisor: 4}
)

// ToByte scales v into 0-255 with integer truncation. Values above r.Max are
// clamped first.
func (r Resolution) ToByte(v uint16) uint8 {
	if v > r.Max {
		v = r.Max
	}
	div := r.Divisor
	if div == 0 {
		div = 1
	}
	out := v / div
	if out > 255 {
		out = 255
	}
	return uint8(out)
}

// ReplyByte is the one-byte command-frame reply: sample >> 4.
func ReplyByte(v uint16) uint8 {
	return Resolution12.ToByte(v)
}
