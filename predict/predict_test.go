package predict

import "testing"

func TestOrder1ConstantSignalResidualsAllZeroExceptFirst(t *testing.T) {
	const c = int32(1234)
	samples := make([]int32, 50)
	for i := range samples {
		samples[i] = c
	}
	out := make([]int32, len(samples))
	if _, ok := Residuals(1, samples, Memory{}, out); !ok {
		t.Fatal("order 1 should not overflow on a constant signal")
	}
	if out[0] != c {
		t.Errorf("out[0] = %d, want %d (no predictor memory yet)", out[0], c)
	}
	for i := 1; i < len(out); i++ {
		if out[i] != 0 {
			t.Errorf("out[%d] = %d, want 0", i, out[i])
		}
	}
}

func TestOrder2ConstantSignalResidualsAllZeroAfterSecond(t *testing.T) {
	const c = int32(1234)
	samples := make([]int32, 50)
	for i := range samples {
		samples[i] = c
	}
	out := make([]int32, len(samples))
	if _, ok := Residuals(2, samples, Memory{}, out); !ok {
		t.Fatal("order 2 should not overflow on a constant signal")
	}
	for i := 2; i < len(out); i++ {
		if out[i] != 0 {
			t.Errorf("out[%d] = %d, want 0", i, out[i])
		}
	}
}

func TestOrder2RampResidualsAllZeroAfterSecond(t *testing.T) {
	samples := make([]int32, 400)
	for i := range samples {
		samples[i] = int32(i)
	}
	out := make([]int32, len(samples))
	if _, ok := Residuals(2, samples, Memory{}, out); !ok {
		t.Fatal("order 2 should not overflow on a linear ramp")
	}
	for i := 2; i < len(out); i++ {
		if out[i] != 0 {
			t.Errorf("out[%d] = %d, want 0", i, out[i])
		}
	}
}

func TestReconstructInvertsResiduals(t *testing.T) {
	samples := []int32{10, 15, 13, 20, -5, -100, 32000, -32000, 0, 1}
	for order := 0; order <= MaxOrder; order++ {
		res := make([]int32, len(samples))
		mem, ok := Residuals(order, samples, Memory{}, res)
		if !ok {
			t.Fatalf("order %d: unexpected overflow", order)
		}
		got := make([]int32, len(samples))
		gotMem := Reconstruct(order, res, Memory{}, got)
		for i := range samples {
			if got[i] != samples[i] {
				t.Errorf("order %d: got[%d] = %d, want %d", order, i, got[i], samples[i])
			}
		}
		if gotMem != mem {
			t.Errorf("order %d: reconstructed memory %+v != encode memory %+v", order, gotMem, mem)
		}
	}
}

func TestResidualsCarryMemoryAcrossBlocks(t *testing.T) {
	first := []int32{1, 2, 3, 4}
	second := []int32{5, 6, 7, 8}

	out1 := make([]int32, len(first))
	mem, ok := Residuals(1, first, Memory{}, out1)
	if !ok {
		t.Fatal("unexpected overflow")
	}

	out2 := make([]int32, len(second))
	if _, ok := Residuals(1, second, mem, out2); !ok {
		t.Fatal("unexpected overflow")
	}
	// second[0]=5 predicted from first's last sample (4): residual 1.
	if out2[0] != 1 {
		t.Errorf("out2[0] = %d, want 1 (predictor primed from previous block)", out2[0])
	}
}

func TestSelectPicksLowestOrderOnTies(t *testing.T) {
	samples := make([]int32, 20) // all zero: every order gives zero residuals
	lenFn := func(res []int32) int {
		n := 0
		for _, r := range res {
			if r != 0 {
				n++
			}
			n++
		}
		return n
	}
	order, res, _ := Select(3, samples, Memory{}, lenFn)
	if order != 0 {
		t.Errorf("order = %d, want 0 on a tie", order)
	}
	for i, r := range res {
		if r != 0 {
			t.Errorf("res[%d] = %d, want 0", i, r)
		}
	}
}

func TestResidualsReportsOverflow(t *testing.T) {
	// True int16 input can never push a residual outside int32 range,
	// but Residuals must still report overflow for synthetic int32
	// inputs at the boundary: the order-1 residual MinInt32 - MaxInt32
	// does not fit, and Select relies on that report to skip the order.
	samples := []int32{1<<31 - 1, -(1 << 31), 1<<31 - 1, -(1 << 31)}
	out := make([]int32, len(samples))
	if _, ok := Residuals(1, samples, Memory{}, out); ok {
		t.Fatal("expected overflow detection for order 1 on extreme alternating values")
	}
}
