package scoring

import (
	"math"
	"sort"
	"time"
)

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	mid := len(cp) / 2
	if len(cp)%2 == 1 {
		return cp[mid]
	}
	return 0.5 * (cp[mid-1] + cp[mid])
}

func mad(xs []float64) float64 {
	if len(xs) == 0 {
		return 1
	}
	m := median(xs)
	res := make([]float64, len(xs))
	for i, v := range xs {
		res[i] = math.Abs(v - m)
	}
	md := median(res)
	if md == 0 {
		return 1
	}
	return md
}

// RobustZ computes asinh((x - med)/(1.4826*MAD)).
func RobustZ(x float64, sample []float64) float64 {
	med := median(sample)
	m := mad(sample)
	s := 1.4826 * m
	if s == 0 {
		s = 1
	}
	return math.Asinh((x - med) / s)
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// Clip bounds x to [lo, hi].
func Clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// NormalizeCount maps an unbounded raw count (stars, mentions, reviews) into
// [0,1] against a baseline sample, via a sigmoid over the robust z-score.
// Outliers saturate instead of dominating.
func NormalizeCount(x float64, baseline []float64) float64 {
	return sigmoid(RobustZ(x, baseline))
}

// StalenessConfidence discounts a record's confidence by its age:
// exp(-staleness/tau). Fresh evidence keeps its confidence, stale evidence
// decays toward zero.
func StalenessConfidence(confidence float64, staleness, tau time.Duration) float64 {
	if tau <= 0 {
		return confidence
	}
	if staleness <= 0 {
		return confidence
	}
	return confidence * math.Exp(-staleness.Seconds()/tau.Seconds())
}

// variance returns the population variance of xs.
func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range xs {
		mean += v
	}
	mean /= float64(len(xs))

	sum := 0.0
	for _, v := range xs {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}

// disagreementPenalty maps the variance of per-source scores for one
// dimension into a confidence multiplier in [0,1]. Values on [0,1] cannot
// have variance above 0.25, so that is the normalization constant; maximal
// disagreement (0 vs 1) zeroes the dimension's confidence.
func disagreementPenalty(scores []float64) float64 {
	return 1 - Clip(variance(scores)/0.25, 0, 1)
}
