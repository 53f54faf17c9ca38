package crypto

import (
	"crypto/cipher"
	"crypto/subtle"
)

// leCTR is counter mode with a little-endian counter: the counter block is
// treated as a single little-endian integer and incremented by one per block.
// crypto/cipher.NewCTR increments big-endian, which the readout wire format
// does not use.
type leCTR struct {
	b       cipher.Block
	ctr     []byte
	out     []byte
	outUsed int
}

// NewLECTR returns a cipher.Stream running b in little-endian counter mode.
// The length of iv must equal the block size.
func NewLECTR(b cipher.Block, iv []byte) cipher.Stream {
	if len(iv) != b.BlockSize() {
		panic("crypto: NewLECTR: IV length must equal block size")
	}
	ctr := make([]byte, len(iv))
	copy(ctr, iv)
	return &leCTR{
		b:       b,
		ctr:     ctr,
		out:     make([]byte, b.BlockSize()),
		outUsed: b.BlockSize(),
	}
}

func (x *leCTR) refill() {
	x.b.Encrypt(x.out, x.ctr)
	x.outUsed = 0

	for i := range x.ctr {
		x.ctr[i]++
		if x.ctr[i] != 0 {
			break
		}
	}
}

func (x *leCTR) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("crypto: output smaller than input")
	}
	for len(src) > 0 {
		if x.outUsed == len(x.out) {
			x.refill()
		}
		n := subtle.XORBytes(dst, src, x.out[x.outUsed:])
		dst = dst[n:]
		src = src[n:]
		x.outUsed += n
	}
}
