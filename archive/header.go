package archive

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/simonwerner/x3archive/x3"
)

// Header is the archive-level envelope written once before any
// frames: the fixed magic, version, the Parameters the frame/block
// codec was configured with, the source sample rate and channel
// count, and a set of caller-supplied metadata key/value pairs
// (this package uses one entry, "x3-total-samples", to carry the
// exact total sample count so a whole-buffer decode can trim the
// zero padding a partial final block picks up).
type Header struct {
	Version     byte
	Params      x3.Parameters
	SampleRate  uint32
	ChannelCount uint8
	Metadata    map[string]string
}

// Marshal serialises h into the archive header wire format: magic,
// version, serialised Parameters, sample rate, channel count,
// metadata, header CRC.
func (h Header) Marshal() ([]byte, error) {
	if err := h.Params.Validate(); err != nil {
		return nil, err
	}
	if len(h.Params.RiceCodes) > 255 {
		return nil, x3.NewError(x3.KindUnsupportedFormat, "too many rice codes (%d) to serialise", len(h.Params.RiceCodes))
	}

	body := []byte{h.Version}
	body = appendParams(body, h.Params)
	body = binary.BigEndian.AppendUint32(body, h.SampleRate)
	body = append(body, h.ChannelCount)
	body = appendMetadata(body, h.Metadata)

	out := make([]byte, 0, len(x3.ArchiveMagic)+len(body)+2)
	out = append(out, []byte(x3.ArchiveMagic)...)
	out = append(out, body...)
	crc := x3.CRC16CCITT(out)
	out = binary.BigEndian.AppendUint16(out, crc)
	return out, nil
}

func appendParams(dst []byte, p x3.Parameters) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(p.BlockLen))
	dst = binary.BigEndian.AppendUint16(dst, uint16(p.BlocksPerFrame))
	dst = append(dst, byte(len(p.RiceCodes)))
	for _, k := range p.RiceCodes {
		dst = append(dst, byte(k))
	}
	dst = append(dst, byte(p.MaxBFPBits))
	dst = append(dst, byte(p.MaxPredictorOrder))
	return dst
}

func appendMetadata(dst []byte, meta map[string]string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(meta)))
	// Deterministic order keeps the header byte-identical across runs
	// for the same metadata, which matters for golden-file tests.
	keys := sortedKeys(meta)
	for _, k := range keys {
		dst = appendLengthPrefixedString(dst, k)
		dst = appendLengthPrefixedString(dst, meta[k])
	}
	return dst
}

func appendLengthPrefixedString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnmarshalHeader parses the archive header at the start of data and
// returns the header plus the number of bytes it consumed.
func UnmarshalHeader(data []byte) (Header, int, error) {
	magicLen := len(x3.ArchiveMagic)
	if len(data) < magicLen+1 {
		return Header{}, 0, x3.NewError(x3.KindUnexpectedEOF, "archive too short for a header")
	}
	if string(data[:magicLen]) != x3.ArchiveMagic {
		return Header{}, 0, x3.NewError(x3.KindArchiveHeaderCorrupt, "archive magic mismatch")
	}
	pos := magicLen

	version := data[pos]
	pos++

	p, n, err := parseParams(data[pos:])
	if err != nil {
		return Header{}, 0, err
	}
	pos += n

	if len(data) < pos+4+1+2 {
		return Header{}, 0, x3.NewError(x3.KindUnexpectedEOF, "archive header truncated before metadata")
	}
	sampleRate := binary.BigEndian.Uint32(data[pos : pos+4])
	pos += 4
	channelCount := data[pos]
	pos++

	meta, n, err := parseMetadata(data[pos:])
	if err != nil {
		return Header{}, 0, err
	}
	pos += n

	if len(data) < pos+2 {
		return Header{}, 0, x3.NewError(x3.KindUnexpectedEOF, "archive header truncated before CRC")
	}
	storedCRC := binary.BigEndian.Uint16(data[pos : pos+2])
	pos += 2

	if x3.CRC16CCITT(data[:pos-2]) != storedCRC {
		return Header{}, 0, x3.NewError(x3.KindArchiveHeaderCorrupt, "archive header CRC mismatch")
	}
	if version != x3.ArchiveVersion {
		return Header{}, 0, x3.NewError(x3.KindUnsupportedFormat, "archive version %d is not supported (want %d)", version, x3.ArchiveVersion)
	}
	if channelCount > 1 {
		return Header{}, 0, x3.NewError(x3.KindUnsupportedFormat, "archive has %d channels, only mono is supported", channelCount)
	}
	if err := p.Validate(); err != nil {
		return Header{}, 0, err
	}

	return Header{
		Version:      version,
		Params:       p,
		SampleRate:   sampleRate,
		ChannelCount: channelCount,
		Metadata:     meta,
	}, pos, nil
}

func parseParams(data []byte) (x3.Parameters, int, error) {
	if len(data) < 5 {
		return x3.Parameters{}, 0, x3.NewError(x3.KindUnexpectedEOF, "archive header truncated before parameters")
	}
	blockLen := int(binary.BigEndian.Uint16(data[0:2]))
	blocksPerFrame := int(binary.BigEndian.Uint16(data[2:4]))
	riceCount := int(data[4])
	pos := 5
	if len(data) < pos+riceCount+2 {
		return x3.Parameters{}, 0, x3.NewError(x3.KindUnexpectedEOF, "archive header truncated inside rice codes")
	}
	riceCodes := make([]int, riceCount)
	for i := 0; i < riceCount; i++ {
		riceCodes[i] = int(data[pos])
		pos++
	}
	maxBFPBits := int(data[pos])
	pos++
	maxPredictorOrder := int(data[pos])
	pos++
	return x3.Parameters{
		BlockLen:          blockLen,
		BlocksPerFrame:    blocksPerFrame,
		RiceCodes:         riceCodes,
		MaxBFPBits:        maxBFPBits,
		MaxPredictorOrder: maxPredictorOrder,
	}, pos, nil
}

func parseMetadata(data []byte) (map[string]string, int, error) {
	if len(data) < 2 {
		return nil, 0, x3.NewError(x3.KindUnexpectedEOF, "archive header truncated before metadata count")
	}
	count := int(binary.BigEndian.Uint16(data[0:2]))
	pos := 2
	meta := make(map[string]string, count)
	for i := 0; i < count; i++ {
		key, n, err := parseLengthPrefixedString(data[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		val, n, err := parseLengthPrefixedString(data[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n
		meta[key] = val
	}
	return meta, pos, nil
}

func parseLengthPrefixedString(data []byte) (string, int, error) {
	if len(data) < 2 {
		return "", 0, x3.NewError(x3.KindUnexpectedEOF, "archive header truncated inside metadata string length")
	}
	n := int(binary.BigEndian.Uint16(data[0:2]))
	if len(data) < 2+n {
		return "", 0, x3.NewError(x3.KindUnexpectedEOF, "archive header truncated inside metadata string")
	}
	return string(data[2 : 2+n]), 2 + n, nil
}

// TotalSamplesKey is the metadata key this package uses to record the
// exact pre-padding sample count, letting a whole-buffer decode trim
// the zero padding appended to fill out the final block.
const TotalSamplesKey = "x3-total-samples"

func totalSamplesMetadata(n int) map[string]string {
	return map[string]string{TotalSamplesKey: fmt.Sprintf("%d", n)}
}
