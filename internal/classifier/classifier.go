// Package classifier maps raw extraction results to a record lifecycle
// status. Classification is a pure function of its inputs so the policy is
// independently unit-testable; all thresholds are named configuration.
package classifier

import (
	"math"

	"github.com/dealscope/pricetrack-cli/internal/model"
)

// Config holds the classification thresholds.
type Config struct {
	// DeviationTolerance is the maximum relative deviation from the
	// validation basis price that still auto-applies (0.15 = 15%).
	DeviationTolerance float64 `yaml:"deviation_tolerance" mapstructure:"deviation_tolerance"`
	// HighConfidence is the extraction confidence at or above which a
	// result is trusted despite a larger deviation.
	HighConfidence float64 `yaml:"high_confidence" mapstructure:"high_confidence"`
	// AutoApplyConfidence is the minimum extraction confidence required to
	// auto-apply even a within-tolerance price; below it a human decides.
	AutoApplyConfidence float64 `yaml:"auto_apply_confidence" mapstructure:"auto_apply_confidence"`
	// ValidationMismatch is the maximum allowed gap between extraction
	// confidence and the independently computed validation confidence
	// before a high-confidence result is still routed to review.
	ValidationMismatch float64 `yaml:"validation_mismatch" mapstructure:"validation_mismatch"`
}

// DefaultConfig returns the default classification thresholds.
func DefaultConfig() Config {
	return Config{
		DeviationTolerance:  0.15,
		HighConfidence:      0.85,
		AutoApplyConfidence: 0.5,
		ValidationMismatch:  0.35,
	}
}

// Input is one extraction result to classify.
type Input struct {
	// Price is nil when extraction produced no candidate.
	Price *float64
	// Confidence is the extractor's own 0-1 score.
	Confidence float64
	// BasisPrice is the canonical price at extraction time.
	BasisPrice float64
	// ValidationConfidence is the independent cross-check score, usually
	// ValidationConfidence(price, basis).
	ValidationConfidence float64
}

// Outcome is the classification verdict.
type Outcome struct {
	Status model.RecordStatus
	Reason model.RecordReason
}

// Classify assigns a lifecycle status to an extraction result.
//
// Tie-break order: missing price fails first, then non-positive prices.
// High-confidence results auto-apply unless the independent validation
// score disagrees sharply. Below the high-confidence bar, a deviation
// beyond tolerance or a confidence under the auto-apply floor routes the
// candidate to human review.
func Classify(in Input, cfg Config) Outcome {
	if in.Price == nil {
		return Outcome{Status: model.RecordStatusFailed, Reason: model.ReasonExtractionFailed}
	}
	if *in.Price <= 0 {
		// Zero or negative prices are never valid, regardless of confidence.
		return Outcome{Status: model.RecordStatusFailed, Reason: model.ReasonInvalidPrice}
	}

	if in.Confidence >= cfg.HighConfidence {
		if in.Confidence-in.ValidationConfidence > cfg.ValidationMismatch {
			return Outcome{Status: model.RecordStatusPendingReview, Reason: model.ReasonConfidenceMismatch}
		}
		return Outcome{Status: model.RecordStatusSuccess}
	}

	if RelativeDeviation(*in.Price, in.BasisPrice) > cfg.DeviationTolerance {
		return Outcome{Status: model.RecordStatusPendingReview, Reason: model.ReasonLargeDeviation}
	}
	if in.Confidence < cfg.AutoApplyConfidence {
		return Outcome{Status: model.RecordStatusPendingReview, Reason: model.ReasonLowConfidence}
	}

	return Outcome{Status: model.RecordStatusSuccess}
}

// RelativeDeviation returns |price − basis| / basis. A non-positive basis
// (new product, no canonical price yet) yields zero deviation so the
// extraction confidence alone decides the outcome.
func RelativeDeviation(price, basis float64) float64 {
	if basis <= 0 {
		return 0
	}
	return math.Abs(price-basis) / basis
}

// ValidationConfidence computes the independent cross-check score for a
// candidate price against the validation basis: 1.0 when the price matches
// the basis exactly, decaying linearly to 0 at 100% deviation. With no
// usable basis the score is a neutral 0.5.
func ValidationConfidence(price, basis float64) float64 {
	if basis <= 0 {
		return 0.5
	}
	dev := RelativeDeviation(price, basis)
	if dev >= 1 {
		return 0
	}
	return 1 - dev
}
