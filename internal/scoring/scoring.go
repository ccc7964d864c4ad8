// Package scoring classifies over/under picks against official swim results.
//
// Swim times are compared in exact hundredths: lower is faster, a faster
// result than the line makes "under" correct, a slower one makes "over"
// correct, and an exact tie is a push that stays pending. Scoring is total
// over arbitrary stored strings; malformed input degrades to pending.
package scoring

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/taper/internal/domain"
)

// ErrMalformedTime is returned by TimeToSeconds for strings that are not
// "SS.cc" or "M:SS.cc" shaped.
var ErrMalformedTime = errors.New("scoring: malformed time")

// timePattern matches an optional "M:" or "MM:" prefix, one or two seconds
// digits, and exactly two hundredths digits.
var timePattern = regexp.MustCompile(`(\d{1,2}:)?\d{1,2}\.\d{2}`)

var sixty = decimal.NewFromInt(60)

// ParseTargetTime returns the first swim time embedded in label, e.g. "42.80"
// from "Dressel's 42.80". ok is false for purely descriptive labels such as
// "World Record Line".
func ParseTargetTime(label string) (target string, ok bool) {
	m := timePattern.FindString(label)
	if m == "" {
		return "", false
	}
	return m, true
}

// Seconds converts a swim time to an exact decimal number of seconds.
func Seconds(t string) (decimal.Decimal, error) {
	parts := strings.Split(t, ":")
	switch len(parts) {
	case 1:
		return parseComponent(t, parts[0])
	case 2:
		min, err := parseComponent(t, parts[0])
		if err != nil {
			return decimal.Zero, err
		}
		sec, err := parseComponent(t, parts[1])
		if err != nil {
			return decimal.Zero, err
		}
		return min.Mul(sixty).Add(sec), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedTime, t)
	}
}

// TimeToSeconds converts "42.74" to 42.74 and "1:33.88" to 93.88.
func TimeToSeconds(t string) (float64, error) {
	d, err := Seconds(t)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

func parseComponent(whole, part string) (decimal.Decimal, error) {
	part = strings.TrimSpace(part)
	if part == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedTime, whole)
	}
	d, err := decimal.NewFromString(part)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedTime, whole)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q is negative", ErrMalformedTime, whole)
	}
	return d, nil
}

// Classify scores side against result for the line described by label.
func Classify(label, result string, side domain.Side) domain.Outcome {
	if !side.Valid() || strings.TrimSpace(result) == "" {
		return domain.OutcomePending
	}

	target, ok := ParseTargetTime(label)
	if !ok {
		return domain.OutcomePending
	}

	lineSec, err := Seconds(target)
	if err != nil {
		return domain.OutcomePending
	}
	resSec, err := Seconds(result)
	if err != nil {
		return domain.OutcomePending
	}

	switch resSec.Cmp(lineSec) {
	case 0:
		// Push.
		return domain.OutcomePending
	case -1:
		if side == domain.SideUnder {
			return domain.OutcomeCorrect
		}
		return domain.OutcomeIncorrect
	default:
		if side == domain.SideOver {
			return domain.OutcomeCorrect
		}
		return domain.OutcomeIncorrect
	}
}

// ClassifyMarket scores side against m's label and recorded result.
func ClassifyMarket(m domain.Market, side domain.Side) domain.Outcome {
	return Classify(m.TimeLabel, m.ResultTime(), side)
}

// Tally counts outcomes across a set of scored picks.
type Tally struct {
	Correct   int `json:"correct"`
	Incorrect int `json:"incorrect"`
	Pending   int `json:"pending"`
}

// Add records one outcome.
func (t *Tally) Add(o domain.Outcome) {
	switch o {
	case domain.OutcomeCorrect:
		t.Correct++
	case domain.OutcomeIncorrect:
		t.Incorrect++
	default:
		t.Pending++
	}
}

// Total is the number of outcomes recorded.
func (t Tally) Total() int {
	return t.Correct + t.Incorrect + t.Pending
}
