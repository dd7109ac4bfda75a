package frame

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/simonwerner/x3archive/x3"
)

func testParams() x3.Parameters {
	return x3.Parameters{
		BlockLen:          20,
		BlocksPerFrame:    20,
		RiceCodes:         []int{0, 1, 2, 3},
		MaxBFPBits:        16,
		MaxPredictorOrder: 2,
	}
}

func rampSamples(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(i)
	}
	return out
}

func TestEncodeDecodeSingleFrameRoundTrip(t *testing.T) {
	p := testParams()
	samples := rampSamples(p.BlockLen * p.BlocksPerFrame)

	var buf bytes.Buffer
	if err := EncodeFrame(&buf, samples, 12345, p); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	dec := NewDecoder(buf.Bytes(), p)
	fr, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if fr.Timecode != 12345 {
		t.Errorf("timecode = %d, want 12345", fr.Timecode)
	}
	got := fr.Channels[0]
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}

	if _, err := dec.Next(); err != io.EOF {
		t.Errorf("second Next() = %v, want io.EOF", err)
	}
}

func TestMultipleFramesIndependentlyDecodable(t *testing.T) {
	p := testParams()
	rng := rand.New(rand.NewSource(7))

	var buf bytes.Buffer
	var allSamples [][]int32
	for f := 0; f < 5; f++ {
		samples := make([]int32, p.BlockLen*p.BlocksPerFrame)
		for i := range samples {
			samples[i] = int32(rng.Intn(201) - 100)
		}
		allSamples = append(allSamples, samples)
		if err := EncodeFrame(&buf, samples, uint64(f*len(samples)), p); err != nil {
			t.Fatalf("EncodeFrame %d: %v", f, err)
		}
	}

	dec := NewDecoder(buf.Bytes(), p)
	for f := 0; f < 5; f++ {
		fr, err := dec.Next()
		if err != nil {
			t.Fatalf("frame %d: Next: %v", f, err)
		}
		got := fr.Channels[0]
		want := allSamples[f]
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("frame %d sample %d = %d, want %d", f, i, got[i], want[i])
			}
		}
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Errorf("trailing Next() = %v, want io.EOF", err)
	}
}

func TestFrameIndependenceAcrossASplitBoundary(t *testing.T) {
	p := testParams()
	full := rampSamples(p.BlockLen * p.BlocksPerFrame * 2)

	// Encode as two independent frames split at the boundary.
	var split bytes.Buffer
	if err := EncodeFrame(&split, full[:len(full)/2], 0, p); err != nil {
		t.Fatal(err)
	}
	if err := EncodeFrame(&split, full[len(full)/2:], uint64(len(full)/2), p); err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(split.Bytes(), p)
	var got []int32
	for {
		fr, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, fr.Channels[0]...)
	}
	for i := range full {
		if got[i] != full[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], full[i])
		}
	}
}

func TestSingleBitFlipInPayloadReportsFrameCorrupt(t *testing.T) {
	p := testParams()
	samples := rampSamples(p.BlockLen * p.BlocksPerFrame)

	var buf bytes.Buffer
	if err := EncodeFrame(&buf, samples, 0, p); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	// Flip a bit inside the payload (skip the 14-byte header).
	data[HeaderLen+2] ^= 0x01

	dec := NewDecoder(data, p)
	_, err := dec.Next()
	if err == nil {
		t.Fatal("expected an error after corrupting the payload")
	}
	kind, ok := x3.KindOf(err)
	if !ok || kind != x3.KindFrameCorrupt {
		t.Fatalf("got error %v, want KindFrameCorrupt", err)
	}
}

func TestSingleBitFlipInHeaderReportsFrameCorrupt(t *testing.T) {
	p := testParams()
	samples := rampSamples(p.BlockLen * p.BlocksPerFrame)

	var buf bytes.Buffer
	if err := EncodeFrame(&buf, samples, 99, p); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	data[4] ^= 0x01 // inside the payload-length field

	dec := NewDecoder(data, p)
	_, err := dec.Next()
	kind, ok := x3.KindOf(err)
	if !ok || kind != x3.KindFrameCorrupt {
		t.Fatalf("got error %v, want KindFrameCorrupt", err)
	}
}

func TestResynchronisationAfterInsertedGarbage(t *testing.T) {
	p := testParams()
	samples1 := rampSamples(p.BlockLen * p.BlocksPerFrame)
	samples2 := rampSamples(p.BlockLen * p.BlocksPerFrame)
	for i := range samples2 {
		samples2[i] = -samples2[i]
	}

	var buf bytes.Buffer
	if err := EncodeFrame(&buf, samples1, 0, p); err != nil {
		t.Fatal(err)
	}
	garbage := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x12, 0x34}
	buf.Write(garbage)
	if err := EncodeFrame(&buf, samples2, 1000, p); err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(buf.Bytes(), p)
	fr1, err := dec.Next()
	if err != nil {
		t.Fatalf("frame 1: %v", err)
	}
	for i := range samples1 {
		if fr1.Channels[0][i] != samples1[i] {
			t.Fatalf("frame 1 sample %d mismatch", i)
		}
	}

	fr2, err := dec.Next()
	if err != nil {
		t.Fatalf("frame 2 after garbage: %v", err)
	}
	for i := range samples2 {
		if fr2.Channels[0][i] != samples2[i] {
			t.Fatalf("frame 2 sample %d mismatch", i)
		}
	}
}

func TestBoundedExpansionNeverExceedsBFPWorstCase(t *testing.T) {
	p := testParams()
	rng := rand.New(rand.NewSource(3))
	samples := make([]int32, p.BlockLen*p.BlocksPerFrame)
	for i := range samples {
		samples[i] = int32(rng.Intn(65536) - 32768)
	}

	var buf bytes.Buffer
	if err := EncodeFrame(&buf, samples, 0, p); err != nil {
		t.Fatal(err)
	}

	perBlockWorst := x3.OrderBits + p.RiceSelectorBits() + p.BlockLen*p.MaxBFPBits
	worstPayloadBits := p.BlocksPerFrame * perBlockWorst
	worstPayloadBytes := (worstPayloadBits + 7) / 8
	maxFrameBytes := HeaderLen + worstPayloadBytes + FooterLen

	if buf.Len() > maxFrameBytes {
		t.Errorf("frame is %d bytes, want <= %d (BFP worst case)", buf.Len(), maxFrameBytes)
	}
}
