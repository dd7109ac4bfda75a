// Package frame assembles blocks into self-synchronising,
// independently decodable frames: a fixed header with sync word,
// payload length, channel count, block count and timecode, a payload
// of concatenated block codewords, and a payload CRC footer.
package frame

import (
	"encoding/binary"
	"io"

	"github.com/simonwerner/x3archive/bitio"
	"github.com/simonwerner/x3archive/block"
	"github.com/simonwerner/x3archive/x3"
)

// HeaderLen is the fixed byte length of a frame header: sync(2) +
// channels(1) + blockCount(1) + payloadLen(2) + timecode(6) +
// headerCRC(2).
const HeaderLen = 14

// FooterLen is the byte length of the payload CRC footer.
const FooterLen = 2

// Frame is one decoded frame: the samples for each channel (mono in
// this scope, so len(Channels) == 1) plus its timecode.
type Frame struct {
	Timecode uint64
	Channels [][]int32 // one []int32 of blockCount*BlockLen samples per channel
}

// maxPayloadBits bounds the scratch buffer a frame's payload needs in
// the worst case, where every block falls back to BFP.
func maxPayloadBits(blockCount int, p x3.Parameters) int {
	perBlock := x3.OrderBits + p.RiceSelectorBits() + p.BlockLen*p.MaxBFPBits
	return blockCount * perBlock
}

// EncodeFrame writes one frame to w: samples must hold exactly
// blockCount*p.BlockLen values for a single channel. The predictor is
// reset to the frame-boundary state before the first block, so the
// frame is independently decodable.
func EncodeFrame(w io.Writer, samples []int32, timecode uint64, p x3.Parameters) error {
	if len(samples)%p.BlockLen != 0 {
		return x3.NewError(x3.KindUnsupportedFormat, "frame sample count %d is not a multiple of block_len %d", len(samples), p.BlockLen)
	}
	blockCount := len(samples) / p.BlockLen
	if blockCount > 255 {
		return x3.NewError(x3.KindUnsupportedFormat, "frame has %d blocks, more than the 8-bit block count field can hold", blockCount)
	}

	payloadBuf := make([]byte, maxPayloadBits(blockCount, p)/8+2)
	pw := bitio.NewWriter(payloadBuf)

	var state block.State
	for b := 0; b < blockCount; b++ {
		start := b * p.BlockLen
		if err := block.Encode(pw, samples[start:start+p.BlockLen], &state, p); err != nil {
			return err
		}
	}
	if _, err := pw.ByteAlign(); err != nil {
		return err
	}
	payload := pw.Bytes()
	if len(payload) > 0xFFFF {
		return x3.NewError(x3.KindUnsupportedFormat, "frame payload of %d bytes exceeds the 16-bit length field", len(payload))
	}

	header := make([]byte, HeaderLen)
	binary.BigEndian.PutUint16(header[0:2], x3.SyncWord)
	header[2] = 1 // channel count; mono in this scope
	header[3] = byte(blockCount)
	binary.BigEndian.PutUint16(header[4:6], uint16(len(payload)))
	putUint48(header[6:12], timecode)
	headerCRC := x3.CRC16CCITT(header[0:12])
	binary.BigEndian.PutUint16(header[12:14], headerCRC)

	if _, err := w.Write(header); err != nil {
		return x3.WrapError(x3.KindBufferFull, err, "writing frame header")
	}
	if _, err := w.Write(payload); err != nil {
		return x3.WrapError(x3.KindBufferFull, err, "writing frame payload")
	}

	footer := make([]byte, FooterLen)
	binary.BigEndian.PutUint16(footer, x3.CRC16CCITT(payload))
	if _, err := w.Write(footer); err != nil {
		return x3.WrapError(x3.KindBufferFull, err, "writing frame footer")
	}
	return nil
}

func putUint48(dst []byte, v uint64) {
	dst[0] = byte(v >> 40)
	dst[1] = byte(v >> 32)
	dst[2] = byte(v >> 24)
	dst[3] = byte(v >> 16)
	dst[4] = byte(v >> 8)
	dst[5] = byte(v)
}

func getUint48(src []byte) uint64 {
	return uint64(src[0])<<40 | uint64(src[1])<<32 | uint64(src[2])<<24 |
		uint64(src[3])<<16 | uint64(src[4])<<8 | uint64(src[5])
}

// Decoder implements the frame-layer state machine described by the
// archive format: SEEK_SYNC -> READ_HEADER -> VALIDATE_HEADER ->
// READ_PAYLOAD -> VALIDATE_PAYLOAD -> EMIT_SAMPLES -> SEEK_SYNC, with
// any validation failure bouncing back to SEEK_SYNC one bit past the
// last sync word.
type Decoder struct {
	r *bitio.Reader
	p x3.Parameters
}

// NewDecoder returns a Decoder over the frame-stream bytes that
// follow an archive header, ready to scan for the first sync word.
func NewDecoder(data []byte, p x3.Parameters) *Decoder {
	r := bitio.NewReader(data)
	r.MaxUnaryBits = p.BlockLen * p.MaxBFPBits
	return &Decoder{r: r, p: p}
}

// Feed appends more bytes to the stream the decoder reads from, for a
// caller assembling a live feed incrementally rather than handing
// over one closed buffer up front.
func (d *Decoder) Feed(more []byte) {
	d.r.Grow(more)
}

// Ready reports whether enough bytes have been fed for Next to either
// decode a complete frame or unambiguously resynchronise past a
// corrupt one, as opposed to a sync word whose frame simply has not
// finished arriving yet. Callers feeding bytes incrementally via Feed
// should gate every Next call on this, so a frame that is merely
// incomplete is never reported as FrameCorrupt.
func (d *Decoder) Ready() bool {
	return frameAvailable(d.r.Unread(), d.p)
}

// frameAvailable looks for the first byte-aligned sync word in data
// and reports whether the frame it introduces is either fully present
// or carries an implausible payload length that can only be
// corruption, in either case safe for Next to act on immediately. A
// plausible length that simply is not fully buffered yet reports
// false, the signal to wait for more bytes.
func frameAvailable(data []byte, p x3.Parameters) bool {
	maxPayloadBytes := maxPayloadBits(p.BlocksPerFrame, p)/8 + 2
	for start := 0; start+HeaderLen <= len(data); start++ {
		if data[start] != byte(x3.SyncWord>>8) || data[start+1] != byte(x3.SyncWord&0xFF) {
			continue
		}
		payloadLen := int(binary.BigEndian.Uint16(data[start+4 : start+6]))
		if payloadLen > maxPayloadBytes {
			return true
		}
		return start+HeaderLen+payloadLen+FooterLen <= len(data)
	}
	return false
}

// Next decodes the next frame from the stream. Three outcomes:
//
//   - (frame, nil): a frame decoded cleanly.
//   - (nil, err) where x3.KindOf(err) == x3.KindFrameCorrupt: the
//     decoder already resynchronised past a damaged frame; the
//     caller should report the event (err.(*x3.Error).SkippedBits
//     tells it how much was skipped) and call Next again.
//   - (nil, io.EOF): terminal state, no more frames.
//
// Any other error is fatal to the stream.
func (d *Decoder) Next() (*Frame, error) {
	if d.r.Remaining() < 16 {
		return nil, io.EOF
	}

	syncAt, err := d.r.SkipToSync(uint32(x3.SyncWord), 16)
	if err != nil {
		return nil, io.EOF
	}

	fr, _, err := d.tryDecodeFrameAt(syncAt)
	if err == nil {
		return fr, nil
	}
	if kind, ok := x3.KindOf(err); ok && kind == x3.KindUnsupportedFormat {
		return nil, err
	}
	// Any other validation failure: scan on from one bit past the sync
	// word we just tried to the next sync word whose frame validates
	// (or may still be arriving), leave the cursor on it, and surface
	// everything skipped up to it as one event. The caller decides
	// whether to keep calling Next.
	for resume := syncAt + 1; ; {
		d.r.SeekBits(resume)
		next, serr := d.r.SkipToSync(uint32(x3.SyncWord), 16)
		if serr != nil {
			return nil, x3.FrameCorruptError(d.r.PositionBits()+d.r.Remaining()-syncAt, "%v", err)
		}
		_, _, nerr := d.tryDecodeFrameAt(next)
		if kind, _ := x3.KindOf(nerr); nerr == nil || kind == x3.KindUnexpectedEOF || kind == x3.KindUnsupportedFormat {
			d.r.SeekBits(next)
			return nil, x3.FrameCorruptError(next-syncAt, "%v", err)
		}
		resume = next + 1
	}
}

// tryDecodeFrameAt attempts to parse one full frame starting at the
// sync word found at bit offset syncAt (which the reader's cursor is
// already just past). It never advances d.r past what it consumed on
// failure; callers that get an error should resynchronise themselves.
func (d *Decoder) tryDecodeFrameAt(syncAt int) (*Frame, int, error) {
	headerRest := HeaderLen - 2 // bytes, excluding the sync word already consumed
	if d.r.Remaining() < headerRest*8 {
		return nil, d.r.PositionBits() - syncAt, x3.NewError(x3.KindUnexpectedEOF, "truncated frame header")
	}

	headerBytes := make([]byte, HeaderLen)
	binary.BigEndian.PutUint16(headerBytes[0:2], x3.SyncWord)
	for i := 2; i < HeaderLen; i++ {
		v, err := d.r.ReadBits(8)
		if err != nil {
			return nil, d.r.PositionBits() - syncAt, err
		}
		headerBytes[i] = byte(v)
	}

	channelCount := headerBytes[2]
	blockCount := int(headerBytes[3])
	payloadLen := int(binary.BigEndian.Uint16(headerBytes[4:6]))
	timecode := getUint48(headerBytes[6:12])
	storedHeaderCRC := binary.BigEndian.Uint16(headerBytes[12:14])

	if x3.CRC16CCITT(headerBytes[0:12]) != storedHeaderCRC {
		return nil, d.r.PositionBits() - syncAt, x3.NewError(x3.KindFrameCorrupt, "frame header CRC mismatch")
	}
	if channelCount == 0 || int(channelCount) > x3.MaxChannelCount {
		return nil, d.r.PositionBits() - syncAt, x3.NewError(x3.KindFrameCorrupt, "invalid channel count %d", channelCount)
	}
	if channelCount > 1 {
		return nil, d.r.PositionBits() - syncAt, x3.NewError(x3.KindUnsupportedFormat, "multi-channel archives are not supported by this decoder")
	}

	if d.r.Remaining() < (payloadLen+FooterLen)*8 {
		return nil, d.r.PositionBits() - syncAt, x3.NewError(x3.KindUnexpectedEOF, "truncated frame payload")
	}

	payload := make([]byte, payloadLen)
	for i := range payload {
		v, err := d.r.ReadBits(8)
		if err != nil {
			return nil, d.r.PositionBits() - syncAt, err
		}
		payload[i] = byte(v)
	}
	footerBits, err := d.r.ReadBits(16)
	if err != nil {
		return nil, d.r.PositionBits() - syncAt, err
	}
	storedPayloadCRC := uint16(footerBits)

	if x3.CRC16CCITT(payload) != storedPayloadCRC {
		return nil, d.r.PositionBits() - syncAt, x3.NewError(x3.KindFrameCorrupt, "frame payload CRC mismatch")
	}

	samples, err := decodeBlocks(payload, blockCount, d.p)
	if err != nil {
		return nil, d.r.PositionBits() - syncAt, x3.NewError(x3.KindFrameCorrupt, "corrupt block data: %v", err)
	}

	return &Frame{Timecode: timecode, Channels: [][]int32{samples}}, 0, nil
}

func decodeBlocks(payload []byte, blockCount int, p x3.Parameters) ([]int32, error) {
	r := bitio.NewReader(payload)
	r.MaxUnaryBits = p.BlockLen * p.MaxBFPBits
	var state block.State
	out := make([]int32, 0, blockCount*p.BlockLen)
	for b := 0; b < blockCount; b++ {
		samples, err := block.Decode(r, &state, p)
		if err != nil {
			return nil, err
		}
		out = append(out, samples...)
	}
	return out, nil
}
