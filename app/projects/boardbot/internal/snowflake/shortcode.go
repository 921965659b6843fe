package snowflake

import (
	"fmt"
	"math/bits"
)

const (
	alphabet        = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	base            = uint64(len(alphabet))
	ShortCodeLength = 11
	feistelRounds   = 4
)

var roundKeys = [feistelRounds]uint32{0x9E3779B1, 0x85EBCA77, 0xC2B2AE3D, 0x27D4EB2F}

var decodeTable = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		t[alphabet[i]] = int8(i)
	}
	return t
}()

// round maps 0 to 0 so the zero id encodes to the all-zero code.
func round(x uint32, i int) uint32 {
	y := x * roundKeys[i]
	return bits.RotateLeft32(y, 13) ^ (y >> 7)
}

func shuffle(v uint64) uint64 {
	l, r := uint32(v>>32), uint32(v)
	for i := 0; i < feistelRounds; i++ {
		l, r = r, l^round(r, i)
	}
	return uint64(l)<<32 | uint64(r)
}

func unshuffle(v uint64) uint64 {
	l, r := uint32(v>>32), uint32(v)
	for i := feistelRounds - 1; i >= 0; i-- {
		l, r = r^round(l, i), l
	}
	return uint64(l)<<32 | uint64(r)
}

// Encode returns the fixed-width 11 character short code of id.
func Encode(id ID) string {
	v := shuffle(uint64(id))
	var buf [ShortCodeLength]byte
	for i := ShortCodeLength - 1; i >= 0; i-- {
		buf[i] = alphabet[v%base]
		v /= base
	}
	return string(buf[:])
}

// Decode inverts Encode. Codes shorter than 11 characters are treated as left-padded.
func Decode(code string) (ID, error) {
	if code == "" || len(code) > ShortCodeLength {
		return 0, fmt.Errorf("snowflake: short code %q must be 1..%d characters", code, ShortCodeLength)
	}
	var v uint64
	for i := 0; i < len(code); i++ {
		d := decodeTable[code[i]]
		if d < 0 {
			return 0, fmt.Errorf("snowflake: invalid character %q in short code %q", code[i], code)
		}
		hi, lo := bits.Mul64(v, base)
		if hi != 0 {
			return 0, fmt.Errorf("snowflake: short code %q overflows 64 bits", code)
		}
		sum, carry := bits.Add64(lo, uint64(d), 0)
		if carry != 0 {
			return 0, fmt.Errorf("snowflake: short code %q overflows 64 bits", code)
		}
		v = sum
	}
	return ID(unshuffle(v)), nil
}
