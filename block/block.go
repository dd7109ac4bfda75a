// Package block implements the block codec: choosing a predictor
// order and Rice (or BFP) code family for one block_len-sample block,
// encoding its bit-packed header and body, and the inverse decode.
package block

import (
	"github.com/simonwerner/x3archive/bitio"
	"github.com/simonwerner/x3archive/predict"
	"github.com/simonwerner/x3archive/rice"
	"github.com/simonwerner/x3archive/x3"
)

// State is the inter-block predictor memory the block codec threads
// through consecutive blocks of one channel within a frame.
type State struct {
	Mem predict.Memory
}

// Reset returns State to the frame-boundary condition (zeroed
// predictor taps).
func (s *State) Reset() { s.Mem.Reset() }

// Encode chooses the (order, Rice-k-or-BFP) pair that jointly
// minimises the block's codeword length, writes the block header
// (order, rice_selector) followed by the coded body, and advances
// state to the end of this block for use by the next one.
func Encode(w *bitio.Writer, samples []int32, state *State, p x3.Parameters) error {
	if len(samples) != p.BlockLen {
		return x3.NewError(x3.KindUnsupportedFormat, "block has %d samples, want %d", len(samples), p.BlockLen)
	}

	order, residuals, mem := predict.Select(p.MaxPredictorOrder, samples, state.Mem, func(res []int32) int {
		return rice.Select(res, p).LenBits
	})
	sel := rice.Select(residuals, p)

	if err := w.WriteBits(uint32(order), x3.OrderBits); err != nil {
		return err
	}
	if err := w.WriteBits(uint32(sel.Index), p.RiceSelectorBits()); err != nil {
		return err
	}

	if sel.IsBFP {
		if err := rice.EncodeBFP(w, samples, p.MaxBFPBits); err != nil {
			return err
		}
	} else {
		k := p.RiceCodes[sel.Index]
		for _, r := range residuals {
			if err := rice.Encode(w, r, k); err != nil {
				return err
			}
		}
	}

	state.Mem = mem
	return nil
}

// Decode is a pure function of (r, state, p): it reads exactly one
// block's bits, reconstructs its block_len samples, advances state to
// this block's trailing taps, and advances r's cursor by exactly the
// block's bit length.
func Decode(r *bitio.Reader, state *State, p x3.Parameters) ([]int32, error) {
	orderBits, err := r.ReadBits(x3.OrderBits)
	if err != nil {
		return nil, err
	}
	order := int(orderBits)
	if order > predict.MaxOrder {
		return nil, x3.NewError(x3.KindCorruptBlock, "block header order %d out of range", order)
	}

	selBits, err := r.ReadBits(p.RiceSelectorBits())
	if err != nil {
		return nil, err
	}
	sel := int(selBits)

	if sel == p.BFPSelector() {
		samples, err := rice.DecodeBFP(r, p.BlockLen, p.MaxBFPBits)
		if err != nil {
			return nil, err
		}
		// BFP carries raw samples, not residuals: reconstructing with
		// order 0 (prediction = 0) yields the samples unchanged while
		// still priming the predictor memory from their actual
		// trailing values, exactly as a real block would.
		out := make([]int32, p.BlockLen)
		state.Mem = predict.Reconstruct(0, samples, state.Mem, out)
		return out, nil
	}

	if sel >= len(p.RiceCodes) {
		return nil, x3.NewError(x3.KindCorruptBlock, "rice selector %d out of range", sel)
	}
	k := p.RiceCodes[sel]

	residuals := make([]int32, p.BlockLen)
	for i := range residuals {
		v, err := rice.Decode(r, k)
		if err != nil {
			if kind, ok := x3.KindOf(err); ok && kind == x3.KindUnaryOverflow {
				return nil, x3.WrapError(x3.KindCorruptBlock, err, "residual %d", i)
			}
			return nil, err
		}
		residuals[i] = v
	}

	out := make([]int32, p.BlockLen)
	state.Mem = predict.Reconstruct(order, residuals, state.Mem, out)
	return out, nil
}
