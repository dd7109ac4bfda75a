// Package rice implements Rice coding of signed residuals under a
// chosen parameter k, the per-block code-family selection among a
// small candidate set, and the block-floating-point (BFP) pass-
// through fallback used when Rice coding would expand the block.
package rice

import (
	"github.com/simonwerner/x3archive/bitio"
	"github.com/simonwerner/x3archive/x3"
)

// Fold maps a signed 32-bit residual to its zigzag-style unsigned
// representation: u = (x << 1) ^ (x >> 31), an arithmetic right shift
// on the twos-complement view. Small-magnitude values of either sign
// map to small unsigned values, which is what makes the unary prefix
// short on well-predicted residuals.
func Fold(x int32) uint32 {
	return uint32((x << 1) ^ (x >> 31))
}

// Unfold reverses Fold.
func Unfold(u uint32) int32 {
	return int32(u>>1) ^ -int32(u&1)
}

// EncodedLenBits returns the number of bits Encode would emit for x
// under parameter k, without emitting anything. Used by the block
// codec to evaluate candidates before committing to one.
func EncodedLenBits(x int32, k int) int {
	u := Fold(x)
	q := u >> uint(k)
	return int(q) + 1 + k
}

// Encode writes x under Rice parameter k (k >= 0): the quotient
// u>>k in unary, then the low k bits of u in binary.
func Encode(w *bitio.Writer, x int32, k int) error {
	u := Fold(x)
	q := u >> uint(k)
	if err := w.WriteUnary(int(q)); err != nil {
		return err
	}
	if k == 0 {
		return nil
	}
	return w.WriteBits(u&((1<<uint(k))-1), k)
}

// Decode reads a value previously written by Encode with the same k.
func Decode(r *bitio.Reader, k int) (int32, error) {
	q, err := r.ReadUnary()
	if err != nil {
		return 0, err
	}
	var low uint32
	if k > 0 {
		low, err = r.ReadBits(k)
		if err != nil {
			return 0, err
		}
	}
	u := (uint32(q) << uint(k)) | low
	return Unfold(u), nil
}

// BlockLenBits returns the total bits Encode would emit for every
// residual in block under parameter k. It is the measure the encoder
// minimises over when selecting a code family.
func BlockLenBits(block []int32, k int) int {
	total := 0
	for _, x := range block {
		total += EncodedLenBits(x, k)
	}
	return total
}

// BFPLenBits returns the fixed bit length of the block-floating-point
// fallback encoding for a block of n samples at the given raw width.
func BFPLenBits(n, maxBFPBits int) int {
	return n * maxBFPBits
}

// EncodeBFP writes n signed samples as maxBFPBits-wide two's-
// complement raw values, with no prediction or entropy coding. It is
// always available, bounding worst-case expansion to
// block_len*max_bfp_bits bits.
func EncodeBFP(w *bitio.Writer, samples []int32, maxBFPBits int) error {
	mask := uint32(1)<<uint(maxBFPBits) - 1
	for _, s := range samples {
		if !fitsSigned(s, maxBFPBits) {
			return x3.NewError(x3.KindEncodeOverflow, "sample %d does not fit in %d BFP bits", s, maxBFPBits)
		}
		if err := w.WriteBits(uint32(s)&mask, maxBFPBits); err != nil {
			return err
		}
	}
	return nil
}

// DecodeBFP reads n raw maxBFPBits-wide two's-complement samples.
func DecodeBFP(r *bitio.Reader, n, maxBFPBits int) ([]int32, error) {
	out := make([]int32, n)
	for i := range out {
		raw, err := r.ReadBits(maxBFPBits)
		if err != nil {
			return nil, err
		}
		out[i] = signExtend(raw, maxBFPBits)
	}
	return out, nil
}

func fitsSigned(v int32, width int) bool {
	if width >= 32 {
		return true
	}
	lo := -(int32(1) << uint(width-1))
	hi := int32(1)<<uint(width-1) - 1
	return v >= lo && v <= hi
}

func signExtend(raw uint32, width int) int32 {
	if width >= 32 {
		return int32(raw)
	}
	shift := uint(32 - width)
	return int32(raw<<shift) >> shift
}

// Selection is the outcome of choosing a code family for one block:
// either a Rice parameter index into Parameters.RiceCodes, or BFP.
type Selection struct {
	// Index is the position within Parameters.RiceCodes chosen, or
	// the reserved BFP selector value (len(RiceCodes)) when IsBFP.
	Index int
	IsBFP bool
	// LenBits is the payload length the chosen family would take,
	// excluding the block header itself.
	LenBits int
}

// Select measures every configured Rice candidate plus BFP against
// block's residuals and returns the minimum-length choice. Ties break
// toward the smaller Rice index, and Rice is preferred over BFP at
// equal length, both favouring the cheaper selector.
func Select(block []int32, p x3.Parameters) Selection {
	best := Selection{Index: 0, LenBits: BlockLenBits(block, p.RiceCodes[0])}
	for i := 1; i < len(p.RiceCodes); i++ {
		n := BlockLenBits(block, p.RiceCodes[i])
		if n < best.LenBits {
			best = Selection{Index: i, LenBits: n}
		}
	}
	if bfpLen := BFPLenBits(len(block), p.MaxBFPBits); bfpLen < best.LenBits {
		best = Selection{IsBFP: true, LenBits: bfpLen, Index: p.BFPSelector()}
	}
	return best
}
