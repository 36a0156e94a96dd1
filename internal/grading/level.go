package grading

// LevelPolicy controls how a graded answer moves the per-topic knowledge
// level. The exact constants are configurable; defaults come from
// config.
type LevelPolicy struct {
	// PassThreshold is the confidence at or above which an answer counts
	// as correct.
	PassThreshold float64
	// LearnRate scales how far a single answer moves the level.
	LearnRate float64
}

// NextLevel computes the updated knowledge level after one graded answer.
//
// A correct answer moves the level toward 1 proportionally to the
// exercise difficulty, so passing a hard exercise counts more than
// passing a trivial one. An incorrect answer pulls the level down
// proportionally to how far the confidence sits from 0.5: a confidently
// wrong answer costs more than a borderline one. The result is always
// clamped to [0,1].
func (p LevelPolicy) NextLevel(current, confidence, difficulty float64) float64 {
	current = clamp01(current)
	confidence = clamp01(confidence)
	difficulty = clamp01(difficulty)

	var next float64
	if confidence >= p.PassThreshold {
		next = current + p.LearnRate*difficulty*(1-current)
	} else {
		weight := clamp01(2 * abs(confidence-0.5))
		next = current - p.LearnRate*weight*current
	}
	return clamp01(next)
}

func clamp01(v float64) float64 {
	return min(1, max(0, v))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
