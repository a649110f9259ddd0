package rules

import (
	"math"
	"testing"

	"supportdesk/internal/models"
)

func rule(op string, value any) models.TicketRule {
	return models.TicketRule{ID: "r", FieldID: "f", Operator: op, Value: value, CreateTicket: true}
}

func TestEvaluate_Operators(t *testing.T) {
	tests := []struct {
		name  string
		rule  models.TicketRule
		field Value
		want  bool
	}{
		// 边界行为
		{"gte numeric string", rule(models.OpGte, 3), String("3"), true},
		{"gte non numeric", rule(models.OpGte, 3), String("abc"), false},
		{"gte underscore digits", rule(models.OpGte, 3), String("1_0"), false},
		{"gte inf literal", rule(models.OpGte, 3), String("inf"), false},
		{"eq underscore digits", rule(models.OpEq, 10), String("1_0"), false},
		{"contains case insensitive", rule(models.OpContains, "URGENT"), String("this is urgent"), true},

		{"eq loose string number", rule(models.OpEq, 3), String("3"), true},
		{"eq loose number string", rule(models.OpEq, "3"), Number(3), true},
		{"eq string mismatch", rule(models.OpEq, "yes"), String("no"), false},
		{"eq bool vs number", rule(models.OpEq, 1), Bool(true), true},
		{"eq bool vs string", rule(models.OpEq, "true"), Bool(true), false},
		{"eq null vs null", rule(models.OpEq, nil), Null(), true},
		{"eq null vs zero", rule(models.OpEq, 0), Null(), false},
		{"eq empty string vs zero", rule(models.OpEq, 0), String(""), true},
		{"neq negates eq", rule(models.OpNeq, 3), String("3"), false},
		{"neq different", rule(models.OpNeq, "a"), String("b"), true},

		{"lt", rule(models.OpLt, 2), Number(1), true},
		{"lt equal", rule(models.OpLt, 2), Number(2), false},
		{"lte equal", rule(models.OpLte, 2), Number(2), true},
		{"gt", rule(models.OpGt, 2), String(" 2.5 "), true},
		{"gt nan rule value", rule(models.OpGt, "abc"), Number(10), false},
		{"lte string rule value", rule(models.OpLte, "2"), Number(1), true},
		{"lt empty string is zero", rule(models.OpLt, 1), String(""), true},
		{"gte bool coerces", rule(models.OpGte, 1), Bool(true), true},

		{"contains number", rule(models.OpContains, 2), Number(123), true},
		{"contains miss", rule(models.OpContains, "refund"), String("billing"), false},

		{"unknown operator", rule("between", 3), Number(3), false},
		{"empty operator", rule("", 3), Number(3), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.rule, tt.field); got != tt.want {
				t.Fatalf("Evaluate(%s %v, %v) = %v, want %v", tt.rule.Operator, tt.rule.Value, tt.field.ToString(), got, tt.want)
			}
		})
	}
}

func TestEvaluate_MissingNeverMatches(t *testing.T) {
	for _, op := range []string{models.OpEq, models.OpNeq, models.OpLt, models.OpLte, models.OpGt, models.OpGte, models.OpContains} {
		if Evaluate(rule(op, ""), Missing()) {
			t.Errorf("operator %s matched a missing value", op)
		}
	}
}

func TestEvaluate_ListValues(t *testing.T) {
	checked := ValueOf([]any{"billing", "Shipping"})

	tests := []struct {
		name string
		rule models.TicketRule
		want bool
	}{
		{"eq any element", rule(models.OpEq, "billing"), true},
		{"eq no element", rule(models.OpEq, "refund"), false},
		{"neq is negation", rule(models.OpNeq, "billing"), false},
		{"neq none", rule(models.OpNeq, "refund"), true},
		{"contains any element", rule(models.OpContains, "SHIP"), true},
		{"eq whole list", rule(models.OpEq, []any{"billing", "Shipping"}), true},
		{"numeric on multi list", rule(models.OpGt, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.rule, checked); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}

	// 单元素列表按元素数值比较
	if !Evaluate(rule(models.OpLte, 2), ValueOf([]any{"1"})) {
		t.Error("single element list should coerce to its element")
	}
}

func TestValue_Coercion(t *testing.T) {
	numbers := []struct {
		in   Value
		want float64
	}{
		{Number(1.5), 1.5},
		{String(" 42 "), 42},
		{String(""), 0},
		{Bool(true), 1},
		{Bool(false), 0},
		{Null(), 0},
		{List(String("7")), 7},
		{String("-.5"), -0.5},
		{String("1e3"), 1000},
		{String("+2."), 2},
	}
	for _, tt := range numbers {
		if got := tt.in.ToNumber(); got != tt.want {
			t.Errorf("ToNumber(%s %q) = %v, want %v", tt.in.Kind(), tt.in.ToString(), got, tt.want)
		}
	}

	for _, v := range []Value{
		String("abc"), String("1_0"), String("inf"), String("-Infinity"), String("NaN"),
		String("0x10"), String("1e"), String("."), Missing(), List(), List(Number(1), Number(2)),
	} {
		if !math.IsNaN(v.ToNumber()) {
			t.Errorf("ToNumber(%s %q) should be NaN", v.Kind(), v.ToString())
		}
	}

	strs := []struct {
		in   Value
		want string
	}{
		{Number(1), "1"},
		{Number(1.5), "1.5"},
		{Number(-0.25), "-0.25"},
		{Bool(false), "false"},
		{Null(), ""},
		{List(String("a"), Number(2)), "a,2"},
	}
	for _, tt := range strs {
		if got := tt.in.ToString(); got != tt.want {
			t.Errorf("ToString(%s) = %q, want %q", tt.in.Kind(), got, tt.want)
		}
	}
}

func TestLooseEqual_NaN(t *testing.T) {
	if LooseEqual(Number(math.NaN()), Number(math.NaN())) {
		t.Error("NaN must not equal NaN")
	}
	if LooseEqual(String("abc"), Number(math.NaN())) {
		t.Error("non numeric string must not equal NaN")
	}
}

func TestValueOf_JSONKinds(t *testing.T) {
	tests := []struct {
		in   any
		want Kind
	}{
		{nil, KindNull},
		{"x", KindString},
		{float64(1), KindNumber},
		{7, KindNumber},
		{true, KindBool},
		{[]any{"a"}, KindList},
		{[]string{"a"}, KindList},
	}
	for _, tt := range tests {
		if got := ValueOf(tt.in).Kind(); got != tt.want {
			t.Errorf("ValueOf(%#v).Kind() = %s, want %s", tt.in, got, tt.want)
		}
	}
}
