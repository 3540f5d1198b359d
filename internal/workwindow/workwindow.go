// Package workwindow evaluates the work-window expression language that
// decides whether a task may crawl at a given instant, and computes the next
// eligible instant otherwise.
//
// An expression is a set of clauses joined by one kind of combinator:
// "|" for OR, or "&"/";" for AND. The two kinds cannot be mixed. Clauses:
//
//	"0, 24"          hour-of-day range [0, 24)
//	"[1, 2, 15]"     hour-of-day set
//	"%w==5"          strftime comparison (equal)
//	"%w!=0"          strftime comparison (unequal)
//
// The whole expression may carry a "#<seconds>" suffix: even inside the
// window the task is not due until that many seconds have elapsed since its
// last observed change.
package workwindow

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// DefaultExpression matches every instant.
const DefaultExpression = "0, 24"

// maxProbes bounds the forward search for the next in-window instant.
const maxProbes = 60

// ErrMixedCombinators is returned when "|" appears alongside "&" or ";".
var ErrMixedCombinators = errors.New(`"|" can not be used with "&" or ";"`)

var digitsRe = regexp.MustCompile(`\d+`)

// Evaluate reports whether now falls inside the window described by expr.
// The change-interval suffix is not part of the window itself and must be
// stripped by the caller (NextCheckTime does this).
func Evaluate(expr string, now time.Time) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultExpression
	}
	if strings.Contains(expr, "|") {
		if strings.ContainsAny(expr, "&;") {
			return false, ErrMixedCombinators
		}
		for _, clause := range strings.Split(expr, "|") {
			ok, err := evalClause(clause, now)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	for _, clause := range strings.FieldsFunc(expr, func(r rune) bool { return r == '&' || r == ';' }) {
		ok, err := evalClause(clause, now)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// NextCheckTime decides whether a task is due at now and computes its next
// check instant. Inside the window the next check is simply now+interval.
// Outside it, the instant is probed forward in interval-sized steps until
// the window matches; after maxProbes the last probed instant is returned
// and the caller logs the schedule as degraded.
func NextCheckTime(expr string, now, lastChange time.Time, interval time.Duration) (bool, time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultExpression
	}
	if head, suffix, found := strings.Cut(expr, "#"); found {
		seconds, err := strconv.Atoi(strings.TrimSpace(suffix))
		if err != nil {
			return false, time.Time{}, fmt.Errorf("parse change interval %q: %w", suffix, err)
		}
		gate := lastChange.Add(time.Duration(seconds) * time.Second)
		if now.Before(gate) {
			return false, gate, nil
		}
		expr = head
	}
	due, err := Evaluate(expr, now)
	if err != nil {
		return false, time.Time{}, err
	}
	if due {
		return true, now.Add(interval), nil
	}
	next := now
	for i := 0; i < maxProbes; i++ {
		next = next.Add(interval)
		ok, err := Evaluate(expr, next)
		if err != nil {
			return false, time.Time{}, err
		}
		if ok {
			break
		}
	}
	return false, next, nil
}

func evalClause(clause string, now time.Time) (bool, error) {
	clause = strings.TrimSpace(clause)
	if pattern, target, found := strings.Cut(clause, "=="); found {
		return strftime.Format(pattern, now) == target, nil
	}
	if pattern, target, found := strings.Cut(clause, "!="); found {
		return strftime.Format(pattern, now) != target, nil
	}
	hour := now.Hour()
	if strings.HasPrefix(clause, "[") && strings.HasSuffix(clause, "]") {
		var hours []int
		if err := json.Unmarshal([]byte(clause), &hours); err != nil {
			return false, fmt.Errorf("parse hour set %q: %w", clause, err)
		}
		for _, h := range hours {
			if h == hour {
				return true, nil
			}
		}
		return false, nil
	}
	nums := digitsRe.FindAllString(clause, -1)
	if len(nums) < 2 {
		return false, fmt.Errorf("invalid work window clause %q", clause)
	}
	lo, err := strconv.Atoi(nums[0])
	if err != nil {
		return false, fmt.Errorf("invalid work window clause %q: %w", clause, err)
	}
	hi, err := strconv.Atoi(nums[1])
	if err != nil {
		return false, fmt.Errorf("invalid work window clause %q: %w", clause, err)
	}
	return hour >= lo && hour < hi, nil
}
