// Package archive implements the file-level codec: the archive
// header described in header.go followed by a stream of frames
// (package frame). It exposes both a streaming Encoder/Decoder pair —
// the primary surface — and a whole-buffer convenience wrapper for
// callers, like the CLI, that would rather hand over one slice of
// samples than drive the frame loop themselves.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/simonwerner/x3archive/frame"
	"github.com/simonwerner/x3archive/x3"
)

// Encoder streams an archive to an underlying io.Writer: one Header,
// written at construction, followed by any number of frames.
type Encoder struct {
	w      io.Writer
	p      x3.Parameters
	header Header
}

// NewEncoder writes the archive header to w and returns an Encoder
// ready to accept frames. sampleRate and channelCount describe the
// source audio; metadata is merged into the header's key/value set.
func NewEncoder(w io.Writer, p x3.Parameters, sampleRate uint32, channelCount uint8, metadata map[string]string) (*Encoder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	h := Header{
		Version:      x3.ArchiveVersion,
		Params:       p,
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Metadata:     metadata,
	}
	raw, err := h.Marshal()
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("writing archive header: %w", err)
	}
	return &Encoder{w: w, p: p, header: h}, nil
}

// EncodeFrame writes one frame of exactly p.BlockLen*blockCount
// samples, for blockCount in [1, p.BlocksPerFrame], at the given
// timecode.
func (e *Encoder) EncodeFrame(samples []int32, timecode uint64) error {
	return frame.EncodeFrame(e.w, samples, timecode, e.p)
}

// Decoder streams frames out of an archive after having parsed its
// header.
type Decoder struct {
	Header Header
	frames *frame.Decoder
}

// NewDecoder parses the archive header at the start of data and
// returns a Decoder positioned to read the first frame. The decoder
// keeps data, and anything later appended with Feed, in memory: the
// frame layer's resynchronisation logic needs random access to scan
// for sync words past a damaged frame.
func NewDecoder(data []byte) (*Decoder, error) {
	h, n, err := UnmarshalHeader(data)
	if err != nil {
		return nil, err
	}
	return &Decoder{
		Header: h,
		frames: frame.NewDecoder(data[n:], h.Params),
	}, nil
}

// Next decodes the next frame. See frame.Decoder.Next for the
// (frame, nil) / (nil, FrameCorrupt) / (nil, io.EOF) contract.
func (d *Decoder) Next() (*frame.Frame, error) {
	return d.frames.Next()
}

// Feed appends more bytes to the frame stream, for a caller
// assembling a live feed incrementally rather than handing over one
// closed buffer up front.
func (d *Decoder) Feed(more []byte) {
	d.frames.Feed(more)
}

// Ready reports whether Next has enough buffered bytes to decode, or
// unambiguously resynchronise past, the next frame. See
// frame.Decoder.Ready.
func (d *Decoder) Ready() bool {
	return d.frames.Ready()
}

// EncodeBuffer is the whole-buffer convenience wrapper: it packs all
// of samples into as many frames as p.BlocksPerFrame allows, padding
// the final block with zeros if necessary and recording the true
// sample count in metadata so DecodeBuffer can trim the padding back
// off.
func EncodeBuffer(samples []int32, p x3.Parameters, sampleRate uint32) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	meta := totalSamplesMetadata(len(samples))
	padded := samples
	if rem := len(padded) % p.BlockLen; rem != 0 {
		padded = append(append([]int32{}, samples...), make([]int32, p.BlockLen-rem)...)
	}

	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, p, sampleRate, 1, meta)
	if err != nil {
		return nil, err
	}

	samplesPerFrame := p.BlockLen * p.BlocksPerFrame
	var timecode uint64
	for off := 0; off < len(padded); off += samplesPerFrame {
		end := off + samplesPerFrame
		if end > len(padded) {
			// padded is already a whole number of blocks, and
			// samplesPerFrame is itself a multiple of BlockLen, so
			// the final short frame is still a whole number of
			// blocks.
			end = len(padded)
		}
		if err := enc.EncodeFrame(padded[off:end], timecode); err != nil {
			return nil, err
		}
		timecode += uint64(end - off)
	}
	return buf.Bytes(), nil
}

// DecodeBuffer is the whole-buffer convenience wrapper's inverse: it
// decodes every frame in data, concatenates their samples, trims the
// zero padding EncodeBuffer may have appended (recovered from the
// "x3-total-samples" metadata key, if present), and returns every
// FrameCorrupt event encountered along the way rather than failing
// the whole decode.
func DecodeBuffer(data []byte) (samples []int32, sampleRate uint32, corrupt []*x3.Error, err error) {
	dec, err := NewDecoder(data)
	if err != nil {
		return nil, 0, nil, err
	}

	for {
		fr, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if kind, ok := x3.KindOf(err); ok && kind == x3.KindFrameCorrupt {
				corrupt = append(corrupt, err.(*x3.Error))
				continue
			}
			return nil, 0, corrupt, err
		}
		samples = append(samples, fr.Channels[0]...)
	}

	if raw, ok := dec.Header.Metadata[TotalSamplesKey]; ok {
		if n, parseErr := strconv.Atoi(raw); parseErr == nil && n >= 0 && n <= len(samples) {
			samples = samples[:n]
		}
	}
	return samples, dec.Header.SampleRate, corrupt, nil
}
