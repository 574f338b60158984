// Package scoring computes points for answers. It is pure: no clocks, no I/O.
package scoring

import (
	"strings"

	"quiz-session-service/internal/domain"
)

// Config holds the scoring constants.
type Config struct {
	// BonusFraction caps the speed bonus as a fraction of base points.
	// An instant correct answer earns base*(1+BonusFraction); the bonus decays
	// linearly to zero at the time limit.
	BonusFraction float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{BonusFraction: 0.5}
}

// Engine scores answers under a fixed configuration.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.BonusFraction < 0 {
		cfg.BonusFraction = 0
	}
	return &Engine{cfg: cfg}
}

// Score computes points for a single answer.
//   - incorrect: 0
//   - correct, elapsed <= limit: base + floor((1 - elapsed/limit) * base * BonusFraction)
//   - correct, elapsed > limit: base only; the speed bonus is strictly for on-time answers
//
// Time values are whole seconds and the bonus truncates, so the award never
// exceeds base*(1+BonusFraction).
func (e *Engine) Score(correct bool, basePoints, elapsedSec, limitSec int) int {
	if !correct {
		return 0
	}
	if limitSec <= 0 || elapsedSec > limitSec {
		return basePoints
	}
	if elapsedSec < 0 {
		elapsedSec = 0
	}
	remaining := float64(limitSec-elapsedSec) / float64(limitSec)
	bonus := int(remaining * float64(basePoints) * e.cfg.BonusFraction)
	return basePoints + bonus
}

// MaxAward is the ceiling for a question, used by clients rendering progress.
func (e *Engine) MaxAward(basePoints int) int {
	return basePoints + int(float64(basePoints)*e.cfg.BonusFraction)
}

// Evaluate checks a submission against the question content. The switch is
// exhaustive over the closed question-type set; adding a type is a
// compile-visible change here.
func Evaluate(q domain.Question, sub domain.AnswerSubmission) (bool, error) {
	switch q.Type {
	case domain.TypeSingleChoice, domain.TypeTrueFalse:
		var selected *domain.Option
		for i := range q.Options {
			if q.Options[i].ID == sub.OptionID {
				selected = &q.Options[i]
				break
			}
		}
		if selected == nil {
			return false, domain.ErrOptionNotFound
		}
		return selected.Correct, nil
	case domain.TypeFillBlank:
		given := strings.TrimSpace(strings.ToLower(sub.Text))
		if given == "" {
			return false, nil
		}
		for _, accepted := range q.Accepted {
			if given == strings.TrimSpace(strings.ToLower(accepted)) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, domain.NewError(domain.KindValidation, "unknown question type: "+string(q.Type))
	}
}
