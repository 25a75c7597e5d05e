package motionplan

import (
	"encoding/json"
	"testing"

	"go.viam.com/test"
	"gopkg.in/yaml.v3"
)

func TestReexploreLevel(t *testing.T) {
	for _, level := range []ReexploreLevel{ReexploreNone, ReexploreFull} {
		parsed, err := ParseReexploreLevel(level.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, level)
	}
	parsed, err := ParseReexploreLevel(" full ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed, test.ShouldEqual, ReexploreFull)
	_, err = ParseReexploreLevel("PARTIAL")
	test.That(t, err, test.ShouldNotBeNil)

	var opts SearchOptions
	test.That(t, yaml.Unmarshal([]byte("reexplore_level: FULL"), &opts), test.ShouldBeNil)
	test.That(t, opts.ReexploreLevel, test.ShouldEqual, ReexploreFull)
}

func TestSearchOptionsFromExtra(t *testing.T) {
	opts, err := NewSearchOptionsFromExtra(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts, test.ShouldResemble, NewBasicSearchOptions())

	opts, err = NewSearchOptionsFromExtra(map[string]interface{}{
		"reexplore_level": "FULL",
		"max_iterations":  10,
		"log_interval":    0,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.ReexploreLevel, test.ShouldEqual, ReexploreFull)
	test.That(t, opts.MaxIterations, test.ShouldEqual, 10)
	test.That(t, opts.LogInterval, test.ShouldEqual, 0)
	test.That(t, opts.SolveConvexRestriction, test.ShouldBeTrue)

	data, err := json.Marshal(opts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, `"reexplore_level":"FULL"`)

	_, err = NewSearchOptionsFromExtra(map[string]interface{}{"reexplore_level": "SOME"})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewSearchOptionsFromExtra(map[string]interface{}{"max_iterations": -1})
	test.That(t, err, test.ShouldNotBeNil)
}
