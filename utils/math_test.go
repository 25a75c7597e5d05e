package utils

import (
	"testing"

	"go.viam.com/test"

	"go.viam.com/contactplan/logging"
)

func TestCloseness(t *testing.T) {
	test.That(t, Float64AlmostEqual(1, 1.0005, 1e-3), test.ShouldBeTrue)
	test.That(t, Float64AlmostEqual(1, 1.01, 1e-3), test.ShouldBeFalse)
	test.That(t, IsClose(1000, 1000.001, 1e-5, 1e-8), test.ShouldBeTrue)
	test.That(t, IsClose(0, 1e-7, 1e-5, 1e-8), test.ShouldBeFalse)
	test.That(t, AllClose([]float64{1, 2}, []float64{1, 2 + 1e-9}, 1e-5, 1e-8), test.ShouldBeTrue)
	test.That(t, AllClose([]float64{1, 2}, []float64{1}, 1e-5, 1e-8), test.ShouldBeFalse)
}

func TestCombinations(t *testing.T) {
	var got [][]int
	Combinations(4, 2, func(idx []int) bool {
		got = append(got, append([]int{}, idx...))
		return true
	})
	test.That(t, got, test.ShouldResemble, [][]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}})

	count := 0
	Combinations(5, 3, func([]int) bool {
		count++
		return count < 4
	})
	test.That(t, count, test.ShouldEqual, 4)

	called := false
	Combinations(2, 3, func([]int) bool {
		called = true
		return true
	})
	test.That(t, called, test.ShouldBeFalse)
}

func TestGetenvInt(t *testing.T) {
	logger := logging.NewTestLogger(t)
	const name = "CONTACTPLAN_TEST_INT"

	test.That(t, GetenvInt(name, 5, logger), test.ShouldEqual, 5)

	t.Setenv(name, "12")
	test.That(t, GetenvInt(name, 5, logger), test.ShouldEqual, 12)

	t.Setenv(name, "twelve")
	test.That(t, GetenvInt(name, 5, logger), test.ShouldEqual, 5)

	t.Setenv(name, "yes")
	test.That(t, GetenvBool(name), test.ShouldBeTrue)
}
