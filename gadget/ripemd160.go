// Package gadget implements the obligation dischargers: the fixed-shape
// sub-circuits that prove a selected signature obligation verifies under the
// transaction sighash and that every reachable hash obligation's digest is
// the true hash of its preimage. The expensive cryptographic circuits live
// only here, instantiated once per obligation slot, so their cost is bounded
// by the configured capacities rather than by script length.
package gadget

import "github.com/consensys/gnark/frontend"

// RIPEMD160 has no gnark std gadget; this is a bit-sliced rendering of the
// compression function. State words are kept as little-endian bit vectors so
// rotations are index shifts and the boolean round functions stay one
// constraint per bit; only the modular additions round-trip through field
// values.

type u32 []frontend.Variable

func u32Const(v uint32) u32 {
	bits := make(u32, 32)
	for i := range bits {
		bits[i] = (v >> i) & 1
	}
	return bits
}

func u32FromBytes(api frontend.API, b [4]frontend.Variable) u32 {
	bits := make(u32, 0, 32)
	for _, by := range b {
		bits = append(bits, api.ToBinary(by, 8)...)
	}
	return bits
}

func (w u32) rotl(n int) u32 {
	out := make(u32, 32)
	for i := 0; i < 32; i++ {
		out[(i+n)%32] = w[i]
	}
	return out
}

func (w u32) byteAt(api frontend.API, j int) frontend.Variable {
	return api.FromBinary(w[j*8 : j*8+8]...)
}

// add32 sums the words modulo 2^32. The carry window is sized to the addend
// count, so each call is one decomposition.
func add32(api frontend.API, words ...u32) u32 {
	sum := frontend.Variable(0)
	for _, w := range words {
		sum = api.Add(sum, api.FromBinary(w...))
	}
	extra := 0
	for n := len(words) - 1; n > 0; n >>= 1 {
		extra++
	}
	return u32(api.ToBinary(sum, 32+extra)[:32])
}

func xor32(api frontend.API, a, b u32) u32 {
	out := make(u32, 32)
	for i := range out {
		out[i] = api.Sub(api.Add(a[i], b[i]), api.Mul(2, a[i], b[i]))
	}
	return out
}

func and32(api frontend.API, a, b u32) u32 {
	out := make(u32, 32)
	for i := range out {
		out[i] = api.Mul(a[i], b[i])
	}
	return out
}

func or32(api frontend.API, a, b u32) u32 {
	out := make(u32, 32)
	for i := range out {
		out[i] = api.Sub(api.Add(a[i], b[i]), api.Mul(a[i], b[i]))
	}
	return out
}

func not32(api frontend.API, a u32) u32 {
	out := make(u32, 32)
	for i := range out {
		out[i] = api.Sub(1, a[i])
	}
	return out
}

// Message word selection and per-round rotation amounts, left and right
// lines.
var (
	ripemdSelL = []int{
		0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15,
		7, 4, 13, 1, 10, 6, 15, 3, 12, 0, 9, 5, 2, 14, 11, 8,
		3, 10, 14, 4, 9, 15, 8, 1, 2, 7, 0, 6, 13, 11, 5, 12,
		1, 9, 11, 10, 0, 8, 12, 4, 13, 3, 7, 15, 14, 5, 6, 2,
		4, 0, 5, 9, 7, 12, 2, 10, 14, 1, 3, 8, 11, 6, 15, 13,
	}
	ripemdRotL = []int{
		11, 14, 15, 12, 5, 8, 7, 9, 11, 13, 14, 15, 6, 7, 9, 8,
		7, 6, 8, 13, 11, 9, 7, 15, 7, 12, 15, 9, 11, 7, 13, 12,
		11, 13, 6, 7, 14, 9, 13, 15, 14, 8, 13, 6, 5, 12, 7, 5,
		11, 12, 14, 15, 14, 15, 9, 8, 9, 14, 5, 6, 8, 6, 5, 12,
		9, 15, 5, 11, 6, 8, 13, 12, 5, 12, 13, 14, 11, 8, 5, 6,
	}
	ripemdSelR = []int{
		5, 14, 7, 0, 9, 2, 11, 4, 13, 6, 15, 8, 1, 10, 3, 12,
		6, 11, 3, 7, 0, 13, 5, 10, 14, 15, 8, 12, 4, 9, 1, 2,
		15, 5, 1, 3, 7, 14, 6, 9, 11, 8, 12, 2, 10, 0, 4, 13,
		8, 6, 4, 1, 3, 11, 15, 0, 5, 12, 2, 13, 9, 7, 10, 14,
		12, 15, 10, 4, 1, 5, 8, 7, 6, 2, 13, 14, 0, 3, 9, 11,
	}
	ripemdRotR = []int{
		8, 9, 9, 11, 13, 15, 15, 5, 7, 7, 8, 11, 14, 14, 12, 6,
		9, 13, 15, 7, 12, 8, 9, 11, 7, 7, 12, 7, 6, 15, 13, 11,
		9, 7, 15, 11, 8, 6, 6, 14, 12, 13, 5, 14, 13, 13, 7, 5,
		15, 5, 8, 11, 14, 14, 6, 14, 6, 9, 12, 9, 12, 5, 15, 8,
		8, 5, 12, 9, 12, 5, 14, 6, 8, 13, 6, 5, 15, 13, 11, 11,
	}
	ripemdKL = []uint32{0x00000000, 0x5A827999, 0x6ED9EBA1, 0x8F1BBCDC, 0xA953FD4E}
	ripemdKR = []uint32{0x50A28BE6, 0x5C4DD124, 0x6D703EF3, 0x7A6D76E9, 0x00000000}
)

// ripemdF applies the round function of phase p (0..4) to bit-sliced words.
func ripemdF(api frontend.API, p int, x, y, z u32) u32 {
	switch p {
	case 0:
		return xor32(api, xor32(api, x, y), z)
	case 1:
		return or32(api, and32(api, x, y), and32(api, not32(api, x), z))
	case 2:
		return xor32(api, or32(api, x, not32(api, y)), z)
	case 3:
		return or32(api, and32(api, x, z), and32(api, y, not32(api, z)))
	default:
		return xor32(api, x, or32(api, y, not32(api, z)))
	}
}

// Ripemd160 hashes a fixed-length byte sequence. The input length is a
// circuit-build-time constant, so the Merkle–Damgård padding is laid down as
// constants; in this module the input is always a 32-byte SHA-256 digest,
// one block.
func Ripemd160(api frontend.API, data []frontend.Variable) [20]frontend.Variable {
	msgLen := len(data)
	paddedLen := ((msgLen + 9 + 63) / 64) * 64
	padded := make([]frontend.Variable, paddedLen)
	for i := range padded {
		if i < msgLen {
			padded[i] = data[i]
		} else {
			padded[i] = 0
		}
	}
	padded[msgLen] = 0x80
	bitLen := uint64(msgLen) * 8
	for i := 0; i < 8; i++ {
		padded[paddedLen-8+i] = (bitLen >> (8 * i)) & 0xff
	}

	h := [5]u32{
		u32Const(0x67452301), u32Const(0xEFCDAB89), u32Const(0x98BADCFE),
		u32Const(0x10325476), u32Const(0xC3D2E1F0),
	}

	for blk := 0; blk < paddedLen; blk += 64 {
		var x [16]u32
		for i := 0; i < 16; i++ {
			x[i] = u32FromBytes(api, [4]frontend.Variable{
				padded[blk+i*4], padded[blk+i*4+1], padded[blk+i*4+2], padded[blk+i*4+3],
			})
		}

		al, bl, cl, dl, el := h[0], h[1], h[2], h[3], h[4]
		ar, br, cr, dr, er := h[0], h[1], h[2], h[3], h[4]

		for j := 0; j < 80; j++ {
			p := j / 16

			fl := ripemdF(api, p, bl, cl, dl)
			t := add32(api, al, fl, x[ripemdSelL[j]], u32Const(ripemdKL[p]))
			t = add32(api, t.rotl(ripemdRotL[j]), el)
			al, el, dl, cl, bl = el, dl, cl.rotl(10), bl, t

			fr := ripemdF(api, 4-p, br, cr, dr)
			t = add32(api, ar, fr, x[ripemdSelR[j]], u32Const(ripemdKR[p]))
			t = add32(api, t.rotl(ripemdRotR[j]), er)
			ar, er, dr, cr, br = er, dr, cr.rotl(10), br, t
		}

		h[0], h[1], h[2], h[3], h[4] =
			add32(api, h[1], cl, dr),
			add32(api, h[2], dl, er),
			add32(api, h[3], el, ar),
			add32(api, h[4], al, br),
			add32(api, h[0], bl, cr)
	}

	var out [20]frontend.Variable
	for i, w := range h {
		for j := 0; j < 4; j++ {
			out[i*4+j] = w.byteAt(api, j)
		}
	}
	return out
}
