// Package x3 holds the types and constants shared across the codec
// pipeline: encoding parameters, the error taxonomy and the CRC used
// by both the frame and archive layers.
package x3

// Sample is a single signed 16-bit PCM sample.
type Sample = int16

const (
	// MaxChannelCount bounds the channel-count field reserved in the
	// frame header. Only channel 0 is exercised by this implementation.
	MaxChannelCount = 255

	// MaxBlockLen bounds block_len so a block header's fixed-width
	// fields never have to change shape.
	MaxBlockLen = 1 << 12

	// SampleBits is the only bit depth this codec accepts.
	SampleBits = 16

	// SyncWord marks the start of a frame for resynchronisation.
	SyncWord uint16 = 0x7FFF

	// ArchiveMagic is the fixed magic at the start of an archive header.
	ArchiveMagic = "X3A\x00"

	// ArchiveVersion is the version byte written to new archives.
	ArchiveVersion byte = 1
)

// Parameters is the immutable, per-archive configuration threaded
// through every codec call. It is constructed once at archive open
// and never mutated afterwards; the archive header carries a copy so
// a decoder never needs a caller-supplied value.
type Parameters struct {
	// BlockLen is the number of samples compressed as one block.
	BlockLen int

	// BlocksPerFrame is the number of blocks carried in one frame's
	// payload.
	BlocksPerFrame int

	// RiceCodes is the ordered set of Rice parameters (k values) the
	// block codec considers when choosing a code family. Tie-breaks
	// favour the earliest (cheapest to select) entry.
	RiceCodes []int

	// MaxBFPBits is the bit width of the block-floating-point
	// pass-through fallback. Defaults to the raw sample width.
	MaxBFPBits int

	// MaxPredictorOrder bounds the predictor orders the block codec
	// evaluates (0..3).
	MaxPredictorOrder int
}

// DefaultParameters returns the reference parameter set described in
// the archive's data model: 20-sample blocks, 20 blocks per frame,
// Rice candidates {0,1,2,3}, 16-bit BFP fallback, predictor orders up
// to 2.
func DefaultParameters() Parameters {
	return Parameters{
		BlockLen:          20,
		BlocksPerFrame:    20,
		RiceCodes:         []int{0, 1, 2, 3},
		MaxBFPBits:        16,
		MaxPredictorOrder: 2,
	}
}

// Validate reports whether p describes a self-consistent parameter
// set that the rest of the codec can rely on without further checks.
func (p Parameters) Validate() error {
	switch {
	case p.BlockLen <= 0 || p.BlockLen > MaxBlockLen:
		return NewError(KindUnsupportedFormat, "block length %d out of range", p.BlockLen)
	case p.BlocksPerFrame <= 0:
		return NewError(KindUnsupportedFormat, "blocks per frame must be positive")
	case len(p.RiceCodes) == 0:
		return NewError(KindUnsupportedFormat, "rice code set must not be empty")
	case p.MaxBFPBits <= 0 || p.MaxBFPBits > 32:
		return NewError(KindUnsupportedFormat, "max BFP bit width %d out of range", p.MaxBFPBits)
	case p.MaxPredictorOrder < 0 || p.MaxPredictorOrder > 3:
		return NewError(KindUnsupportedFormat, "predictor order %d out of range", p.MaxPredictorOrder)
	}
	for _, k := range p.RiceCodes {
		if k < 0 || k > 30 {
			return NewError(KindUnsupportedFormat, "rice parameter %d out of range", k)
		}
	}
	return nil
}

// RiceSelectorBits returns the number of bits needed to encode a
// choice among the configured Rice candidates plus one reserved value
// for the BFP fallback: ceil(log2(len(codes)+1)).
func (p Parameters) RiceSelectorBits() int {
	return bitsFor(len(p.RiceCodes) + 1)
}

// BFPSelector is the reserved rice_selector value denoting a
// block-floating-point pass-through block.
func (p Parameters) BFPSelector() int {
	return len(p.RiceCodes)
}

// OrderBits is the fixed width of the predictor-order field in a
// block header.
const OrderBits = 2

func bitsFor(n int) int {
	bits := 0
	for (1 << bits) < n {
		bits++
	}
	return bits
}
