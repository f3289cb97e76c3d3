package textenc

// DenseSymbols is the 91-character alphabet of the legacy dense format.
const DenseSymbols = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!#$%&()*+,./:;<=>?@[]^_`{|}~\""

var denseIndex = func() [256]int16 {
	var t [256]int16
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(DenseSymbols); i++ {
		t[DenseSymbols[i]] = int16(i)
	}
	return t
}()

// denseOverflow is what historical encoders wrote when the high symbol of a
// pair fell outside the alphabet. Pairs written that way cannot be read back.
const denseOverflow = "undefined"

// base91 packs 14 bits into each symbol pair, least significant symbol
// first. Pair values above 91*91-1 do not fit the alphabet; Encode writes
// them the way historical links did so fixtures match byte for byte.
type base91 struct{}

func (base91) Encode(src []byte) string {
	out := make([]byte, 0, len(src)*16/14+2)
	var b uint32
	var n uint
	for _, c := range src {
		b |= uint32(c) << n
		n += 8
		if n > 13 {
			v := b & 16383
			b >>= 14
			n -= 14
			out = append(out, DenseSymbols[v%91])
			if hi := v / 91; hi < 91 {
				out = append(out, DenseSymbols[hi])
			} else {
				out = append(out, denseOverflow...)
			}
		}
	}
	// n is even and below 14 here, so b/91 always fits.
	if n > 0 {
		out = append(out, DenseSymbols[b%91])
		if n > 7 {
			out = append(out, DenseSymbols[b/91])
		}
	}
	return string(out)
}

// Decode skips characters outside the alphabet. It never fails; garbage
// input yields garbage bytes that the caller's decompressor rejects.
func (base91) Decode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s)*14/16+1)
	var b uint32
	var n uint
	v := -1
	for i := 0; i < len(s); i++ {
		d := int(denseIndex[s[i]])
		if d < 0 {
			continue
		}
		if v < 0 {
			v = d
			continue
		}
		v += d * 91
		b |= uint32(v) << n
		n += 14
		for n > 7 {
			out = append(out, byte(b))
			b >>= 8
			n -= 8
		}
		v = -1
	}
	if v >= 0 {
		out = append(out, byte(b|uint32(v)<<n))
	}
	return out, nil
}
