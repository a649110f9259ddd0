package rules

import (
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"supportdesk/internal/models"
)

var allOperators = []string{models.OpEq, models.OpNeq, models.OpLt, models.OpLte, models.OpGt, models.OpGte, models.OpContains}

func TestProperty_EvaluateIsPure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("same input yields same output", prop.ForAll(
		func(opIdx int, ruleNum int, field string) bool {
			r := rule(allOperators[opIdx], ruleNum)
			v := String(field)
			return Evaluate(r, v) == Evaluate(r, v)
		},
		gen.IntRange(0, len(allOperators)-1),
		gen.IntRange(-100, 100),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestProperty_NeqIsNegationOfEq(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("neq == !eq for present values", prop.ForAll(
		func(a int, b int, asString bool) bool {
			var field Value = Number(float64(a))
			if asString {
				field = String(strconv.Itoa(a))
			}
			return Evaluate(rule(models.OpNeq, b), field) == !Evaluate(rule(models.OpEq, b), field)
		},
		gen.IntRange(-20, 20),
		gen.IntRange(-20, 20),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestProperty_NumericOperatorsMatchIntegerOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("string encoded integers compare numerically", prop.ForAll(
		func(a int, b int) bool {
			field := String(strconv.Itoa(a))
			return Evaluate(rule(models.OpLt, b), field) == (a < b) &&
				Evaluate(rule(models.OpLte, b), field) == (a <= b) &&
				Evaluate(rule(models.OpGt, b), field) == (a > b) &&
				Evaluate(rule(models.OpGte, b), field) == (a >= b)
		},
		gen.IntRange(-1000, 1000),
		gen.IntRange(-1000, 1000),
	))

	properties.Property("non numeric text never satisfies a numeric operator", prop.ForAll(
		func(s string, b int, opIdx int) bool {
			op := []string{models.OpLt, models.OpLte, models.OpGt, models.OpGte}[opIdx]
			return !Evaluate(rule(op, b), String("x"+s))
		},
		gen.AlphaString(),
		gen.IntRange(-10, 10),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

func TestProperty_ContainsIgnoresCase(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("upper-cased needle matches", prop.ForAll(
		func(prefix, needle, suffix string) bool {
			field := String(prefix + strings.ToLower(needle) + suffix)
			return Evaluate(rule(models.OpContains, strings.ToUpper(needle)), field)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
