package classify

import (
	"math"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

// DefaultWarnMargin is the fraction of the threshold interval, measured
// inward from each bound, that classifies as Warn.
const DefaultWarnMargin = 0.10

// Bound names which threshold a verdict refers to.
type Bound string

const (
	BoundNone Bound = ""
	BoundMin  Bound = "min"
	BoundMax  Bound = "max"
)

// Verdict is the outcome of Evaluate. For Fail, Bound is the violated
// threshold; for Warn, the one the value is approaching.
type Verdict struct {
	Status    types.Status
	Bound     Bound
	Threshold float64
}

// Classify returns only the status part of Evaluate.
func Classify(value float64, min, max *float64, margin float64) types.Status {
	return Evaluate(value, min, max, margin).Status
}

// Evaluate classifies value against the optional inclusive bounds.
//
//	v < min or v > max                  Fail
//	within margin*(max-min) of a bound  Warn  (two-sided)
//	within margin*|bound| of the bound  Warn  (one-sided)
//	otherwise                           Pass
//
// A value equal to a bound is never Fail. A negative or NaN margin is
// treated as zero.
func Evaluate(value float64, min, max *float64, margin float64) Verdict {
	if margin < 0 || math.IsNaN(margin) {
		margin = 0
	}
	switch {
	case min != nil && value < *min:
		return Verdict{Status: types.StatusFail, Bound: BoundMin, Threshold: *min}
	case max != nil && value > *max:
		return Verdict{Status: types.StatusFail, Bound: BoundMax, Threshold: *max}
	}

	var bandMin, bandMax float64
	switch {
	case min != nil && max != nil:
		w := margin * (*max - *min)
		bandMin, bandMax = w, w
	case min != nil:
		bandMin = margin * math.Abs(*min)
	case max != nil:
		bandMax = margin * math.Abs(*max)
	default:
		return Verdict{Status: types.StatusPass}
	}

	// Prefer the nearer bound when both bands overlap.
	var distMin, distMax = math.Inf(1), math.Inf(1)
	if min != nil {
		distMin = value - *min
	}
	if max != nil {
		distMax = *max - value
	}
	if distMax <= distMin {
		if max != nil && bandMax > 0 && distMax <= bandMax {
			return Verdict{Status: types.StatusWarn, Bound: BoundMax, Threshold: *max}
		}
		if min != nil && bandMin > 0 && distMin <= bandMin {
			return Verdict{Status: types.StatusWarn, Bound: BoundMin, Threshold: *min}
		}
	} else {
		if min != nil && bandMin > 0 && distMin <= bandMin {
			return Verdict{Status: types.StatusWarn, Bound: BoundMin, Threshold: *min}
		}
		if max != nil && bandMax > 0 && distMax <= bandMax {
			return Verdict{Status: types.StatusWarn, Bound: BoundMax, Threshold: *max}
		}
	}
	return Verdict{Status: types.StatusPass}
}

// EvaluateType classifies value against tt, using tt.WarnMargin when set
// and defaultMargin otherwise.
func EvaluateType(value float64, tt types.TestType, defaultMargin float64) Verdict {
	margin := defaultMargin
	if tt.WarnMargin != nil {
		margin = *tt.WarnMargin
	}
	return Evaluate(value, tt.MinThreshold, tt.MaxThreshold, margin)
}

// NearestBound reports the bound an already-classified result relates to.
// It is used when only the persisted status and threshold snapshot are known.
func NearestBound(value float64, min, max *float64) (Bound, float64, bool) {
	switch {
	case min != nil && max != nil:
		if *max-value <= value-*min {
			return BoundMax, *max, true
		}
		return BoundMin, *min, true
	case min != nil:
		return BoundMin, *min, true
	case max != nil:
		return BoundMax, *max, true
	}
	return BoundNone, 0, false
}

