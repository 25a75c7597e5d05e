package utils

import (
	"math"
)

// Float64AlmostEqual compares two float64s and returns if the difference between them is less than epsilon.
func Float64AlmostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}

// IsClose mirrors the usual relative/absolute closeness test: |a-b| <= atol + rtol*|b|.
func IsClose(a, b, rtol, atol float64) bool {
	return math.Abs(a-b) <= atol+rtol*math.Abs(b)
}

// AllClose applies IsClose elementwise. Slices of differing length are never close.
func AllClose(a, b []float64, rtol, atol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !IsClose(a[i], b[i], rtol, atol) {
			return false
		}
	}
	return true
}

// Square returns n squared.
func Square(n float64) float64 {
	return n * n
}

// MinInt returns the minimum of two ints.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Combinations calls fn with every increasing k-subset of [0, n). Iteration stops early when fn
// returns false.
func Combinations(n, k int, fn func(idx []int) bool) {
	if k > n || k < 0 {
		return
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		if !fn(idx) {
			return
		}
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
