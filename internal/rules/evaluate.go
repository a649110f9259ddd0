package rules

import (
	"math"
	"strings"

	"supportdesk/internal/models"
)

// Evaluate reports whether a submitted field value satisfies the rule's
// condition. It has no side effects; unknown operators and Missing values
// never match.
//
// For list values (checkbox groups) eq and contains match when any element
// matches a scalar rule value, and neq is the negation of eq.
func Evaluate(rule models.TicketRule, field Value) bool {
	if field.IsMissing() {
		return false
	}
	want := ValueOf(rule.Value)

	switch rule.Operator {
	case models.OpEq:
		return equals(field, want)
	case models.OpNeq:
		return !equals(field, want)
	case models.OpLt, models.OpLte, models.OpGt, models.OpGte:
		return compareNumbers(rule.Operator, field.ToNumber(), want.ToNumber())
	case models.OpContains:
		return contains(field, want)
	default:
		return false
	}
}

// KnownOperator reports whether op is one Evaluate understands.
func KnownOperator(op string) bool {
	switch op {
	case models.OpEq, models.OpNeq, models.OpLt, models.OpLte, models.OpGt, models.OpGte, models.OpContains:
		return true
	}
	return false
}

// NumericOperator reports whether op coerces both sides to numbers.
func NumericOperator(op string) bool {
	switch op {
	case models.OpLt, models.OpLte, models.OpGt, models.OpGte:
		return true
	}
	return false
}

func equals(field, want Value) bool {
	if field.Kind() == KindList && want.Kind() != KindList {
		for _, it := range field.Items() {
			if LooseEqual(it, want) {
				return true
			}
		}
		return false
	}
	return LooseEqual(field, want)
}

func contains(field, want Value) bool {
	needle := strings.ToLower(want.ToString())
	if field.Kind() == KindList && want.Kind() != KindList {
		for _, it := range field.Items() {
			if strings.Contains(strings.ToLower(it.ToString()), needle) {
				return true
			}
		}
		return false
	}
	return strings.Contains(strings.ToLower(field.ToString()), needle)
}

// compareNumbers 任一侧为 NaN 时结果恒为 false
func compareNumbers(op string, a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return false
	}
	switch op {
	case models.OpLt:
		return a < b
	case models.OpLte:
		return a <= b
	case models.OpGt:
		return a > b
	case models.OpGte:
		return a >= b
	}
	return false
}
