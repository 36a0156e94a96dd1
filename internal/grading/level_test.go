package grading

import (
	"math/rand"
	"testing"
)

func TestNextLevelBounds(t *testing.T) {
	t.Parallel()
	policy := LevelPolicy{PassThreshold: 0.7, LearnRate: 0.35}

	// Any sequence of confidences and difficulties keeps the level in [0,1].
	rng := rand.New(rand.NewSource(1))
	level := 0.0
	for i := 0; i < 10000; i++ {
		level = policy.NextLevel(level, rng.Float64(), rng.Float64())
		if level < 0 || level > 1 {
			t.Fatalf("level out of bounds after %d updates: %v", i+1, level)
		}
	}
}

func TestNextLevelDirection(t *testing.T) {
	t.Parallel()
	policy := LevelPolicy{PassThreshold: 0.7, LearnRate: 0.35}

	tests := []struct {
		name                   string
		current, conf, diff    float64
		wantAbove, wantBelow   bool
	}{
		{name: "correct raises", current: 0.4, conf: 0.9, diff: 0.5, wantAbove: true},
		{name: "incorrect lowers", current: 0.4, conf: 0.1, diff: 0.5, wantBelow: true},
		{name: "borderline incorrect barely moves", current: 0.4, conf: 0.5, diff: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.NextLevel(tt.current, tt.conf, tt.diff)
			if tt.wantAbove && got <= tt.current {
				t.Errorf("NextLevel(%v, %v, %v) = %v, want > %v", tt.current, tt.conf, tt.diff, got, tt.current)
			}
			if tt.wantBelow && got >= tt.current {
				t.Errorf("NextLevel(%v, %v, %v) = %v, want < %v", tt.current, tt.conf, tt.diff, got, tt.current)
			}
			if !tt.wantAbove && !tt.wantBelow && got != tt.current {
				t.Errorf("NextLevel(%v, %v, %v) = %v, want unchanged", tt.current, tt.conf, tt.diff, got)
			}
		})
	}
}

func TestNextLevelDifficultyWeighting(t *testing.T) {
	t.Parallel()
	policy := LevelPolicy{PassThreshold: 0.7, LearnRate: 0.35}

	easy := policy.NextLevel(0.3, 0.9, 0.2)
	hard := policy.NextLevel(0.3, 0.9, 0.9)
	if hard <= easy {
		t.Errorf("hard exercise gain %v not above easy gain %v", hard-0.3, easy-0.3)
	}
}

func TestNextLevelConfidentlyWrongCostsMore(t *testing.T) {
	t.Parallel()
	policy := LevelPolicy{PassThreshold: 0.7, LearnRate: 0.35}

	borderline := policy.NextLevel(0.6, 0.45, 0.5)
	confident := policy.NextLevel(0.6, 0.05, 0.5)
	if confident >= borderline {
		t.Errorf("confidently wrong level %v not below borderline %v", confident, borderline)
	}
}

func TestNextLevelClampsInputs(t *testing.T) {
	t.Parallel()
	policy := LevelPolicy{PassThreshold: 0.7, LearnRate: 0.35}

	if got := policy.NextLevel(1.5, 2.0, 3.0); got < 0 || got > 1 {
		t.Errorf("NextLevel with out-of-range inputs = %v, want within [0,1]", got)
	}
	if got := policy.NextLevel(-1, -1, -1); got < 0 || got > 1 {
		t.Errorf("NextLevel with negative inputs = %v, want within [0,1]", got)
	}
}
