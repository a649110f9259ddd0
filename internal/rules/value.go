package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

/*
 * Tagged values for rule evaluation.
 *
 * Submitted form data arrives as decoded JSON, so a field value can be a
 * string, a number, a bool, null or a list (checkbox groups). Every operator
 * works on a Value and converts through the table below instead of relying on
 * whatever the decoder produced.
 *
 *   ToNumber: Number -> itself, String -> trimmed plain decimal ("" is 0,
 *             anything else is NaN), Bool -> 1/0, Null -> 0, one-element List -> element,
 *             other List -> NaN, Missing -> NaN.
 *   ToString: Number -> shortest decimal, Bool -> "true"/"false",
 *             Null/Missing -> "", List -> elements joined by ",".
 *
 * Missing is distinct from Null: it marks a field the submission did not
 * carry, or a rule pointing at a field the form no longer has. Missing never
 * matches anything.
 */

// Kind is the tag of a Value.
type Kind int

const (
	KindMissing Kind = iota
	KindNull
	KindString
	KindNumber
	KindBool
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "missing"
	}
}

// Value is an immutable tagged value. The zero Value is Missing.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
}

func Missing() Value { return Value{} }
func Null() Value { return Value{kind: KindNull} }
func String(s string) Value { return Value{kind: KindString, str: s} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func List(items ...Value) Value { return Value{kind: KindList, list: items} }
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsMissing() bool { return v.kind == KindMissing }
func (v Value) Items() []Value { return v.list }

// ValueOf converts a decoded JSON value into a Value.
func ValueOf(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case string:
		return String(x)
	case bool:
		return Bool(x)
	case float64:
		return Number(x)
	case float32:
		return Number(float64(x))
	case int:
		return Number(float64(x))
	case int8:
		return Number(float64(x))
	case int16:
		return Number(float64(x))
	case int32:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case uint:
		return Number(float64(x))
	case uint8:
		return Number(float64(x))
	case uint16:
		return Number(float64(x))
	case uint32:
		return Number(float64(x))
	case uint64:
		return Number(float64(x))
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return Number(f)
		}
		return String(x.String())
	case []any:
		items := make([]Value, 0, len(x))
		for _, it := range x {
			items = append(items, ValueOf(it))
		}
		return List(items...)
	case []string:
		items := make([]Value, 0, len(x))
		for _, it := range x {
			items = append(items, String(it))
		}
		return List(items...)
	default:
		return String(fmt.Sprint(x))
	}
}

// 仅接受普通十进制写法；ParseFloat 额外认可的 "1_0"、"inf"、"0x1p4" 等视为非数字
var decimalRe = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// ToNumber applies the numeric coercion table. NaN marks a failed coercion.
func (v Value) ToNumber() float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		s := strings.TrimSpace(v.str)
		if s == "" {
			return 0
		}
		if !decimalRe.MatchString(s) {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return math.NaN()
		}
		return f
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	case KindNull:
		return 0
	case KindList:
		if len(v.list) == 1 {
			return v.list[0].ToNumber()
		}
		return math.NaN()
	default:
		return math.NaN()
	}
}

// ToString applies the string coercion table.
func (v Value) ToString() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		parts := make([]string, len(v.list))
		for i, it := range v.list {
			parts[i] = it.ToString()
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

// IsEmpty reports whether a submitted value counts as "no answer".
// An unchecked consent box (false) is empty too.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindMissing, KindNull:
		return true
	case KindString:
		return strings.TrimSpace(v.str) == ""
	case KindList:
		return len(v.list) == 0
	case KindBool:
		return !v.b
	default:
		return false
	}
}

func formatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "NaN"
	case math.IsInf(n, 1):
		return "Infinity"
	case math.IsInf(n, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// LooseEqual compares two values with type coercion:
// same kinds compare directly (NaN never equals itself), Null only equals
// Null, a Bool is compared as its number, Number against String compares
// numbers, and a List against a scalar compares the list's string form.
func LooseEqual(a, b Value) bool {
	if a.kind == KindMissing || b.kind == KindMissing {
		return false
	}
	if a.kind == b.kind {
		switch a.kind {
		case KindNull:
			return true
		case KindString:
			return a.str == b.str
		case KindNumber:
			return a.num == b.num
		case KindBool:
			return a.b == b.b
		case KindList:
			if len(a.list) != len(b.list) {
				return false
			}
			for i := range a.list {
				if !LooseEqual(a.list[i], b.list[i]) {
					return false
				}
			}
			return true
		}
	}
	if a.kind == KindNull || b.kind == KindNull {
		return false
	}
	if a.kind == KindBool {
		return LooseEqual(Number(a.ToNumber()), b)
	}
	if b.kind == KindBool {
		return LooseEqual(a, Number(b.ToNumber()))
	}
	if a.kind == KindList {
		return LooseEqual(String(a.ToString()), b)
	}
	if b.kind == KindList {
		return LooseEqual(a, String(b.ToString()))
	}
	// 剩下的只有 Number 与 String 的组合
	return a.ToNumber() == b.ToNumber()
}
