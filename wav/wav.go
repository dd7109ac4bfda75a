// Package wav reads and writes the canonical 44-byte-header PCM WAV
// files this codec's CLI uses as its encode source and decode sink.
// It mirrors the archive package's own chunk-by-chunk
// encoding/binary style rather than pulling in a dedicated WAV
// library, since the format this codec accepts (16-bit mono PCM, no
// extension chunks) needs only the fixed-size canonical layout.
package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/simonwerner/x3archive/x3"
)

const headerLen = 44

// Read loads an entire 16-bit mono PCM WAV file into memory, returning
// its sample rate and samples. Anything other than 16-bit mono PCM is
// rejected with x3.KindUnsupportedFormat, matching the WAV input
// contract.
func Read(path string) (sampleRate int, samples []int32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(f, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, x3.WrapError(x3.KindUnsupportedFormat, err, "%s is too short to be a canonical WAV file", path)
		}
		return 0, nil, fmt.Errorf("reading WAV header of %s: %w", path, err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, nil, x3.NewError(x3.KindUnsupportedFormat, "%s is not a RIFF/WAVE file", path)
	}
	if string(header[12:16]) != "fmt " {
		return 0, nil, x3.NewError(x3.KindUnsupportedFormat, "%s has no canonical fmt chunk", path)
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	channels := binary.LittleEndian.Uint16(header[22:24])
	rate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	if audioFormat != 1 {
		return 0, nil, x3.NewError(x3.KindUnsupportedFormat, "%s uses audio format %d, only PCM (1) is supported", path, audioFormat)
	}
	if channels != 1 {
		return 0, nil, x3.NewError(x3.KindUnsupportedFormat, "%s has %d channels, only mono is supported", path, channels)
	}
	if bitsPerSample != x3.SampleBits {
		return 0, nil, x3.NewError(x3.KindUnsupportedFormat, "%s is %d-bit, only 16-bit PCM is supported", path, bitsPerSample)
	}
	if string(header[36:40]) != "data" {
		return 0, nil, x3.NewError(x3.KindUnsupportedFormat, "%s has no canonical data chunk immediately after fmt", path)
	}

	dataSize := binary.LittleEndian.Uint32(header[40:44])
	raw := make([]byte, dataSize)
	if _, err := io.ReadFull(f, raw); err != nil {
		return 0, nil, fmt.Errorf("reading WAV data of %s: %w", path, err)
	}

	n := len(raw) / 2
	samples = make([]int32, n)
	for i := 0; i < n; i++ {
		samples[i] = int32(int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2])))
	}
	return int(rate), samples, nil
}

// Writer streams 16-bit mono PCM samples to a WAV file, rewriting the
// header with the final data size on Close since the total sample
// count isn't known up front in a streaming decode.
type Writer struct {
	file       *os.File
	sampleRate int
	dataSize   uint32
}

// Create opens path for writing and reserves a placeholder header,
// which Close rewrites with the true data size.
func Create(path string, sampleRate int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	w := &Writer{file: f, sampleRate: sampleRate}
	if err := w.writeHeader(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing placeholder WAV header of %s: %w", path, err)
	}
	return w, nil
}

func (w *Writer) writeHeader(dataSize uint32) error {
	const bitsPerSample = uint16(x3.SampleBits)
	const channels = uint16(1)
	byteRate := uint32(w.sampleRate) * uint32(channels) * uint32(bitsPerSample) / 8
	blockAlign := channels * bitsPerSample / 8

	fields := []any{
		[]byte("RIFF"), dataSize + 36, []byte("WAVE"),
		[]byte("fmt "), uint32(16), uint16(1), channels, uint32(w.sampleRate), byteRate, blockAlign, bitsPerSample,
		[]byte("data"), dataSize,
	}
	for _, field := range fields {
		if err := binary.Write(w.file, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	return nil
}

// WriteSamples appends PCM samples to the data chunk.
func (w *Writer) WriteSamples(samples []int32) error {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(int16(s)))
	}
	if _, err := w.file.Write(buf); err != nil {
		return err
	}
	w.dataSize += uint32(len(buf))
	return nil
}

// Close rewrites the header with the final data size and closes the
// underlying file.
func (w *Writer) Close() error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to rewrite WAV header: %w", err)
	}
	if err := w.writeHeader(w.dataSize); err != nil {
		return fmt.Errorf("rewriting WAV header: %w", err)
	}
	return w.file.Close()
}
