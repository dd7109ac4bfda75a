// Package predict implements the fixed-order integer linear
// predictors the block codec chooses among: order 0 (no prediction)
// through order 3, each producing signed 32-bit residuals; Residuals
// detects a residual that would overflow signed 32-bit rather than
// wrapping it.
package predict

import "math"

// MaxOrder is the highest predictor order this package supports.
const MaxOrder = 3

// Memory carries the three trailing decoded samples a predictor needs
// to resume across a block boundary within a frame. At the first
// block of a frame all taps are zero.
type Memory struct {
	s1 int32 // s[i-1]
	s2 int32 // s[i-2]
	s3 int32 // s[i-3]
}

// Reset clears the predictor memory to the frame-boundary state.
func (m *Memory) Reset() { *m = Memory{} }

// Residuals computes the order-th predictor's residuals for samples,
// carrying mem across the call and leaving it updated to the last
// decoded samples so the next block can resume from it. It returns
// false if any residual would overflow signed 32-bit, in which case
// the caller should demote to a lower order.
func Residuals(order int, samples []int32, mem Memory, out []int32) (Memory, bool) {
	s1, s2, s3 := mem.s1, mem.s2, mem.s3
	for i, s := range samples {
		var pred int64
		switch order {
		case 0:
			pred = 0
		case 1:
			pred = int64(s1)
		case 2:
			pred = 2*int64(s1) - int64(s2)
		case 3:
			pred = 3*int64(s1) - 3*int64(s2) + int64(s3)
		}
		res := int64(s) - pred
		if res > int64(maxInt32) || res < int64(minInt32) {
			return mem, false
		}
		out[i] = int32(res)
		s3, s2, s1 = s2, s1, s
	}
	return Memory{s1: s1, s2: s2, s3: s3}, true
}

// Reconstruct inverts Residuals: given residuals and the same
// starting memory, it reproduces the original samples and returns the
// updated memory.
func Reconstruct(order int, residuals []int32, mem Memory, out []int32) Memory {
	s1, s2, s3 := mem.s1, mem.s2, mem.s3
	for i, res := range residuals {
		var pred int64
		switch order {
		case 0:
			pred = 0
		case 1:
			pred = int64(s1)
		case 2:
			pred = 2*int64(s1) - int64(s2)
		case 3:
			pred = 3*int64(s1) - 3*int64(s2) + int64(s3)
		}
		s := int32(pred + int64(res))
		out[i] = s
		s3, s2, s1 = s2, s1, s
	}
	return Memory{s1: s1, s2: s2, s3: s3}
}

const (
	maxInt32 = int32(math.MaxInt32)
	minInt32 = int32(math.MinInt32)
)

// Select evaluates orders 0..maxOrder against samples (given the
// starting memory) and returns the order, its residuals and the
// resulting memory that jointly minimise the Rice-coded length
// measured by lenFn. Orders whose residuals would overflow signed
// 32-bit are skipped. Ties break toward the lowest order.
func Select(maxOrder int, samples []int32, mem Memory, lenFn func([]int32) int) (order int, residuals []int32, newMem Memory) {
	bestLen := -1
	scratch := make([]int32, len(samples))
	for o := 0; o <= maxOrder; o++ {
		m, ok := Residuals(o, samples, mem, scratch)
		if !ok {
			continue
		}
		l := lenFn(scratch)
		if bestLen == -1 || l < bestLen {
			bestLen = l
			order = o
			newMem = m
			residuals = append(residuals[:0:0], scratch...)
		}
	}
	if bestLen == -1 {
		// Every evaluated order overflowed (not possible for 16-bit
		// input, but possible for pathological int32 input); order 0
		// never overflows because the residual equals the sample
		// itself.
		order = 0
		newMem, _ = Residuals(0, samples, mem, scratch)
		residuals = append([]int32(nil), scratch...)
	}
	return order, residuals, newMem
}
