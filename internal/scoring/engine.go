package scoring

import (
	"time"

	"github.com/spectrascout/trustcore/internal/errors"
	"github.com/spectrascout/trustcore/internal/types"
)

const (
	// lowConfidenceThreshold flags scores whose composite confidence is too
	// weak to act on.
	lowConfidenceThreshold = 0.5

	// High-risk marker: a confidently bad review_sentiment dimension.
	highRiskScoreCeiling    = 0.2
	highRiskConfidenceFloor = 0.6
)

// Engine turns an evidence set into a trust score. Scoring is a pure
// function of (evidence, rule set version): no I/O, no randomness, no
// dependence on record order.
type Engine struct {
	rules *RuleSetRegistry
}

// NewEngine creates an engine over the given rule set registry.
func NewEngine(rules *RuleSetRegistry) *Engine {
	return &Engine{rules: rules}
}

// dimensionAggregate is the combined view of all records for one dimension.
type dimensionAggregate struct {
	score      float64
	confidence float64
	sources    int
}

// Score computes the composite trust score for one evidence set.
func (e *Engine) Score(set types.EvidenceSet, ruleSetVersion string) (types.TrustScore, error) {
	ruleSet, err := e.rules.Get(ruleSetVersion)
	if err != nil {
		return types.TrustScore{}, errors.NewValidationError(err.Error())
	}

	if len(set.Records) == 0 {
		return types.TrustScore{}, errors.NewNoEvidenceError(set.Subject)
	}

	aggregates := combineByDimension(set.Records)

	// Redistribute the weights of absent dimensions proportionally among the
	// present ones. Absence is missing coverage, not a failure signal.
	presentWeight := 0.0
	for dim := range aggregates {
		presentWeight += ruleSet.Weights[dim]
	}
	if presentWeight == 0 {
		// Every present dimension carries zero weight in this rule set.
		return types.TrustScore{}, errors.NewNoEvidenceError(set.Subject)
	}

	composite := 0.0
	confidence := 0.0
	breakdown := make(types.ScoreBreakdown, len(aggregates))

	for _, dim := range types.AllDimensions {
		agg, ok := aggregates[dim]
		if !ok {
			continue
		}

		weight := ruleSet.Weights[dim] / presentWeight
		contribution := weight * agg.score

		composite += contribution
		confidence += weight * agg.confidence

		breakdown[dim] = types.DimensionContribution{
			WeightedContribution: contribution,
			Confidence:           agg.confidence,
			Weight:               weight,
			Sources:              agg.sources,
		}
	}

	composite = Clip(composite*100, 0, 100)
	confidence = Clip(confidence, 0, 1)

	return types.TrustScore{
		Subject:        set.Subject,
		Composite:      composite,
		Confidence:     confidence,
		Breakdown:      breakdown,
		RuleSetVersion: ruleSet.Version,
		LowConfidence:  confidence < lowConfidenceThreshold,
		HighRisk:       highRisk(aggregates),
		ComputedAt:     time.Now().UTC(),
	}, nil
}

// combineByDimension folds all records for each dimension into one
// aggregate via a confidence-weighted average. Disagreement between sources
// is not an error: variance lowers the dimension's effective confidence.
func combineByDimension(records []types.EvidenceRecord) map[types.Dimension]dimensionAggregate {
	grouped := make(map[types.Dimension][]types.EvidenceRecord)
	for _, rec := range records {
		grouped[rec.Dimension] = append(grouped[rec.Dimension], rec)
	}

	out := make(map[types.Dimension]dimensionAggregate, len(grouped))
	for dim, recs := range grouped {
		var weightedSum, confSum, confTotal float64
		scores := make([]float64, 0, len(recs))

		for _, rec := range recs {
			n := Clip(rec.Normalized, 0, 1)
			c := Clip(rec.Confidence, 0, 1)

			weightedSum += n * c
			confSum += c
			confTotal += c
			scores = append(scores, n)
		}

		var score float64
		if confSum > 0 {
			score = weightedSum / confSum
		} else {
			// All sources reported zero confidence; fall back to the plain
			// mean but carry the zero confidence forward.
			for _, s := range scores {
				score += s
			}
			score /= float64(len(scores))
		}

		avgConf := confTotal / float64(len(recs))
		avgConf *= disagreementPenalty(scores)

		out[dim] = dimensionAggregate{
			score:      score,
			confidence: Clip(avgConf, 0, 1),
			sources:    len(recs),
		}
	}

	return out
}

// highRisk reports whether the evidence shows confidently bad review
// sentiment, mirroring the vetting rubric's fraud-report flag.
func highRisk(aggregates map[types.Dimension]dimensionAggregate) bool {
	agg, ok := aggregates[types.DimReviewSentiment]
	if !ok {
		return false
	}
	return agg.score < highRiskScoreCeiling && agg.confidence >= highRiskConfidenceFloor
}
