package archive

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/simonwerner/x3archive/frame"
	"github.com/simonwerner/x3archive/x3"
)

func testParams() x3.Parameters {
	return x3.Parameters{
		BlockLen:          20,
		BlocksPerFrame:    5,
		RiceCodes:         []int{0, 1, 2, 3},
		MaxBFPBits:        16,
		MaxPredictorOrder: 2,
	}
}

func TestHeaderMarshalUnmarshalRoundTrip(t *testing.T) {
	p := testParams()
	h := Header{
		Version:      x3.ArchiveVersion,
		Params:       p,
		SampleRate:   44100,
		ChannelCount: 1,
		Metadata:     map[string]string{"site": "buoy-12", "x3-total-samples": "4000"},
	}
	raw, err := h.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, n, err := UnmarshalHeader(raw)
	if err != nil {
		t.Fatalf("UnmarshalHeader: %v", err)
	}
	if n != len(raw) {
		t.Errorf("consumed %d bytes, want %d", n, len(raw))
	}
	if got.SampleRate != 44100 || got.ChannelCount != 1 {
		t.Errorf("got %+v", got)
	}
	if got.Metadata["site"] != "buoy-12" || got.Metadata["x3-total-samples"] != "4000" {
		t.Errorf("metadata mismatch: %+v", got.Metadata)
	}
	if len(got.Params.RiceCodes) != len(p.RiceCodes) {
		t.Errorf("rice codes mismatch: %+v", got.Params)
	}
}

func TestUnmarshalHeaderRejectsBadMagic(t *testing.T) {
	raw := []byte("NOTX3\x00\x01")
	_, _, err := UnmarshalHeader(raw)
	if kind, ok := x3.KindOf(err); !ok || kind != x3.KindArchiveHeaderCorrupt {
		t.Fatalf("got %v, want KindArchiveHeaderCorrupt", err)
	}
}

func TestUnmarshalHeaderRejectsBadCRC(t *testing.T) {
	p := testParams()
	h := Header{Version: x3.ArchiveVersion, Params: p, SampleRate: 8000, ChannelCount: 1}
	raw, err := h.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xFF
	_, _, err = UnmarshalHeader(raw)
	if kind, ok := x3.KindOf(err); !ok || kind != x3.KindArchiveHeaderCorrupt {
		t.Fatalf("got %v, want KindArchiveHeaderCorrupt", err)
	}
}

func TestEncodeDecodeBufferRoundTripExactMultiple(t *testing.T) {
	p := testParams()
	samples := make([]int32, p.BlockLen*p.BlocksPerFrame*3)
	rng := rand.New(rand.NewSource(11))
	for i := range samples {
		samples[i] = int32(rng.Intn(2001) - 1000)
	}

	data, err := EncodeBuffer(samples, p, 44100)
	if err != nil {
		t.Fatalf("EncodeBuffer: %v", err)
	}

	got, rate, corrupt, err := DecodeBuffer(data)
	if err != nil {
		t.Fatalf("DecodeBuffer: %v", err)
	}
	if len(corrupt) != 0 {
		t.Errorf("got %d corrupt frames, want 0", len(corrupt))
	}
	if rate != 44100 {
		t.Errorf("sample rate = %d, want 44100", rate)
	}
	if len(got) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestEncodeDecodeBufferTrimsPartialFinalBlock(t *testing.T) {
	p := testParams()
	// Not a multiple of BlockLen: EncodeBuffer must pad, and
	// DecodeBuffer must trim the padding back off via the
	// "x3-total-samples" metadata entry.
	samples := make([]int32, p.BlockLen*2+7)
	for i := range samples {
		samples[i] = int32(i)
	}

	data, err := EncodeBuffer(samples, p, 8000)
	if err != nil {
		t.Fatalf("EncodeBuffer: %v", err)
	}
	got, _, corrupt, err := DecodeBuffer(data)
	if err != nil {
		t.Fatalf("DecodeBuffer: %v", err)
	}
	if len(corrupt) != 0 {
		t.Errorf("got %d corrupt frames, want 0", len(corrupt))
	}
	if len(got) != len(samples) {
		t.Fatalf("got %d samples, want %d (padding not trimmed)", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestDecodeBufferSurvivesOneCorruptFrame(t *testing.T) {
	p := testParams()
	samplesPerFrame := p.BlockLen * p.BlocksPerFrame
	const frameCount = 10
	samples := make([]int32, samplesPerFrame*frameCount)
	for i := range samples {
		samples[i] = int32(i) // one continuous ramp spanning all ten frames
	}

	// Encode frame by frame (rather than via EncodeBuffer) so the exact
	// byte range of frame 5 (0-indexed frame 4) can be captured and
	// targeted precisely, matching the spec's own literal scenario.
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, p, 44100, 1, totalSamplesMetadata(len(samples)))
	if err != nil {
		t.Fatal(err)
	}
	offsets := make([]int, frameCount+1)
	offsets[0] = buf.Len()
	for f := 0; f < frameCount; f++ {
		start := f * samplesPerFrame
		if err := enc.EncodeFrame(samples[start:start+samplesPerFrame], uint64(start)); err != nil {
			t.Fatalf("EncodeFrame(%d): %v", f, err)
		}
		offsets[f+1] = buf.Len()
	}
	data := buf.Bytes()

	// Flip a bit in the middle of frame 5's payload.
	frameStart, frameEnd := offsets[4], offsets[5]
	payloadLen := frameEnd - frameStart - frame.HeaderLen - frame.FooterLen
	target := frameStart + frame.HeaderLen + payloadLen/2
	data[target] ^= 0x40

	got, _, corrupt, err := DecodeBuffer(data)
	if err != nil {
		t.Fatalf("DecodeBuffer: %v", err)
	}
	if len(corrupt) != 1 {
		t.Fatalf("got %d corrupt frames, want exactly 1", len(corrupt))
	}
	if corrupt[0].Kind != x3.KindFrameCorrupt {
		t.Errorf("corrupt event kind = %v, want KindFrameCorrupt", corrupt[0].Kind)
	}

	wantLen := len(samples) - samplesPerFrame
	if len(got) != wantLen {
		t.Fatalf("got %d samples, want %d (frame 5 dropped entirely)", len(got), wantLen)
	}
	// Frames 1-4 (samples before the dropped frame) are untouched.
	for i := 0; i < 4*samplesPerFrame; i++ {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
	// Frames 6-10 survive too, shifted back by one frame's worth of
	// samples in the decoded output since frame 5 contributed none.
	for i := 4 * samplesPerFrame; i < len(got); i++ {
		want := samples[i+samplesPerFrame]
		if got[i] != want {
			t.Fatalf("sample %d (after gap) = %d, want %d", i, got[i], want)
		}
	}
}
