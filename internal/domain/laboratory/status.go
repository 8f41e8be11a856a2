package laboratory

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TransitionMode selects how sample status changes are checked.
type TransitionMode string

const (
	// TransitionsStrict enforces the sample state machine.
	TransitionsStrict TransitionMode = "strict"
	// TransitionsPermissive accepts any change to a valid status.
	TransitionsPermissive TransitionMode = "permissive"
)

var sampleTransitions = map[SampleStatus][]SampleStatus{
	SampleReceived:   {SampleInProgress, SampleRejected, SampleCancelled},
	SampleInProgress: {SampleCompleted, SampleRejected},
	SampleCompleted:  nil,
	SampleRejected:   nil,
	SampleCancelled:  nil,
}

var testTransitions = map[TestStatus][]TestStatus{
	TestPending:    {TestInProgress, TestCancelled},
	TestInProgress: {TestCompleted, TestFailed, TestCancelled},
	TestFailed:     {TestPending},
	TestCompleted:  nil,
	TestCancelled:  nil,
}

// CanTransitionSample reports whether a sample may move from one status to
// another under mode. Staying in the same status is always allowed.
func CanTransitionSample(mode TransitionMode, from, to SampleStatus) bool {
	if !to.Valid() {
		return false
	}
	if from == to || mode == TransitionsPermissive {
		return true
	}
	for _, next := range sampleTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionTest reports whether a test request may move between statuses.
func CanTransitionTest(from, to TestStatus) bool {
	if !to.Valid() {
		return false
	}
	for _, next := range testTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func sampleTransitionMessage(from SampleStatus) string {
	next := sampleTransitions[from]
	if len(next) == 0 {
		return fmt.Sprintf("cannot change a %s sample", from)
	}
	names := make([]string, len(next))
	for i, s := range next {
		names[i] = string(s)
	}
	return fmt.Sprintf("a %s sample can only move to %s", from, strings.Join(names, ", "))
}

// ComputeFlag derives a result flag from a numeric value and an optional
// reference range. Values that do not parse, or a missing range, give N.
func ComputeFlag(value string, low, high *float64) Flag {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(v) {
		return FlagNormal
	}
	if low != nil && v < *low {
		return FlagLow
	}
	if high != nil && v > *high {
		return FlagHigh
	}
	return FlagNormal
}

// QCPassed reports whether a control run is within tolerance.
func QCPassed(expected, actual, tolerance float64) bool {
	return math.Abs(expected-actual) <= tolerance
}

// formatRange renders a reference range for display on a result.
func formatRange(low, high *float64, text *string) *string {
	var s string
	switch {
	case low != nil && high != nil:
		s = fmt.Sprintf("%g-%g", *low, *high)
	case low != nil:
		s = fmt.Sprintf(">=%g", *low)
	case high != nil:
		s = fmt.Sprintf("<=%g", *high)
	case text != nil && *text != "":
		s = *text
	default:
		return nil
	}
	return &s
}
