// Package matcher evaluates one observed value against one declarative expectation.
package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/mykhaliev/agent-oracle/assertion"
	"github.com/mykhaliev/agent-oracle/model"
	"github.com/mykhaliev/agent-oracle/templates"
)

// Matcher is a closed set of expectation kinds. Only types in this package implement it,
// and MatchField switches over all of them.
type Matcher interface {
	isMatcher()
}

// Literal requires deep equality. String values may contain {{var}} templates.
type Literal struct {
	Value interface{}
}

// Contains checks keywords case-insensitively. All keywords must be present unless Any
// is set. WholeWord ("mentions") rejects matches inside longer words.
type Contains struct {
	Keywords  []string
	Any       bool
	WholeWord bool
}

// Exists asserts presence (Want=true) or absence of a field.
// With NullIsMissing an explicit null counts as absent.
type Exists struct {
	Want          bool
	NullIsMissing bool
}

type Op string

const (
	OpGT  Op = "$gt"
	OpGTE Op = "$gte"
	OpLT  Op = "$lt"
	OpLTE Op = "$lte"
	OpNE  Op = "$ne"
)

var opSymbols = map[Op]string{
	OpGT:  ">",
	OpGTE: ">=",
	OpLT:  "<",
	OpLTE: "<=",
	OpNE:  "!=",
}

// Comparison is a relational check over numbers or dates.
type Comparison struct {
	Op    Op
	Value interface{}
}

// Regex is always evaluated case-insensitively against the string form of the value.
type Regex struct {
	Pattern string
}

// Ref compares against a value captured earlier in the run ($alias or $alias.field).
type Ref struct {
	Alias string
	Field string
}

func (Literal) isMatcher()    {}
func (Contains) isMatcher()   {}
func (Exists) isMatcher()     {}
func (Comparison) isMatcher() {}
func (Regex) isMatcher()      {}
func (Ref) isMatcher()        {}

func (r Ref) String() string {
	if r.Field == "" {
		return "$" + r.Alias
	}
	return "$" + r.Alias + "." + r.Field
}

// MatchField evaluates a present value against m.
func MatchField(actual interface{}, m Matcher, ctx *Context) assertion.Result {
	return matchField(actual, true, m, ctx)
}

// MatchAll evaluates one value against every matcher in ms.
func MatchAll(actual interface{}, ms []Matcher, ctx *Context) assertion.Result {
	results := make([]assertion.Result, 0, len(ms))
	for _, m := range ms {
		results = append(results, matchField(actual, true, m, ctx))
	}
	return assertion.Combine(results...)
}

// Lookup reads one field out of a row, reporting whether it was present.
type Lookup func(row map[string]interface{}, key string) (interface{}, bool)

// MatchFields applies each check to the corresponding (dot-path) field of row.
// Keys are evaluated in sorted order so combined messages are stable.
func MatchFields(row map[string]interface{}, checks map[string]Matcher, ctx *Context) assertion.Result {
	return MatchFieldsWith(row, checks, ctx, model.GetNestedValue)
}

// MatchFieldsWith is MatchFields with a custom field lookup.
func MatchFieldsWith(row map[string]interface{}, checks map[string]Matcher, ctx *Context, lookup Lookup) assertion.Result {
	keys := make([]string, 0, len(checks))
	for k := range checks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]assertion.Result, 0, len(keys))
	for _, key := range keys {
		actual, present := lookup(row, key)
		r := matchField(actual, present, checks[key], ctx)
		if !r.Passed {
			r.Message = key + ": " + r.Message
		}
		results = append(results, r.WithPath(key))
	}

	return assertion.Combine(results...)
}

func matchField(actual interface{}, present bool, m Matcher, ctx *Context) assertion.Result {
	if ctx == nil {
		ctx = NewContext()
	}

	switch mt := m.(type) {
	case Literal:
		return matchLiteral(actual, present, mt, ctx)
	case Contains:
		return matchContains(actual, present, mt)
	case Exists:
		return matchExists(actual, present, mt)
	case Comparison:
		return matchComparison(actual, present, mt)
	case Regex:
		return matchRegex(actual, present, mt)
	case Ref:
		return matchRef(actual, present, mt, ctx)
	case nil:
		return assertion.FailWithReason(assertion.ReasonInvalidAssertion, "no matcher given", nil, actual)
	default:
		return assertion.FailWithReason(assertion.ReasonInvalidAssertion,
			fmt.Sprintf("unsupported matcher %T", m), nil, actual)
	}
}

func matchLiteral(actual interface{}, present bool, m Literal, ctx *Context) assertion.Result {
	expected := templates.RenderValue(m.Value, ctx.TemplateData())
	if !present {
		return assertion.Fail(fmt.Sprintf("expected %v, field is missing", expected), expected, nil)
	}
	if !DeepEqual(expected, actual) {
		return assertion.Fail(fmt.Sprintf("expected %v, got %v", expected, actual), expected, actual)
	}
	return assertion.Passf("equals %v", expected)
}

func matchContains(actual interface{}, present bool, m Contains) assertion.Result {
	verb := "contain"
	if m.WholeWord {
		verb = "mention"
	}
	if !present || actual == nil {
		return assertion.Fail(fmt.Sprintf("expected value to %s %q, field is missing", verb, m.Keywords), m.Keywords, nil)
	}

	text := toText(actual)
	var found, missing []string
	for _, kw := range m.Keywords {
		if containsKeyword(text, kw, m.WholeWord) {
			found = append(found, kw)
		} else {
			missing = append(missing, kw)
		}
	}

	if m.Any {
		if len(found) > 0 || len(m.Keywords) == 0 {
			return assertion.Passf("%ss %q", verb, found)
		}
		return assertion.Fail(fmt.Sprintf("expected value to %s any of %q", verb, m.Keywords),
			m.Keywords, model.TruncateString(text, 200))
	}

	if len(missing) > 0 {
		return assertion.Fail(fmt.Sprintf("expected value to %s %q", verb, missing),
			m.Keywords, model.TruncateString(text, 200))
	}
	return assertion.Passf("%ss all of %q", verb, m.Keywords)
}

func containsKeyword(text, keyword string, wholeWord bool) bool {
	if !wholeWord {
		return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
	}
	// Boundaries are explicit non-word characters so keywords like "c++" or "#urgent" still match.
	re, err := regexp.Compile(`(?i)(?:^|\W)` + regexp.QuoteMeta(keyword) + `(?:\W|$)`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

func matchExists(actual interface{}, present bool, m Exists) assertion.Result {
	exists := present && !(m.NullIsMissing && actual == nil)
	switch {
	case exists == m.Want:
		return assertion.Passf("exists=%t", exists)
	case m.Want:
		return assertion.Fail("expected field to exist", true, false)
	default:
		return assertion.Fail(fmt.Sprintf("expected field not to exist, got %v", actual), false, true)
	}
}

func matchComparison(actual interface{}, present bool, m Comparison) assertion.Result {
	symbol, ok := opSymbols[m.Op]
	if !ok {
		return assertion.FailWithReason(assertion.ReasonInvalidAssertion,
			fmt.Sprintf("unknown comparison operator %q", m.Op), m.Value, actual)
	}
	expectedDesc := fmt.Sprintf("%s %v", symbol, m.Value)

	if !present {
		return assertion.Fail(fmt.Sprintf("expected %s, field is missing", expectedDesc), expectedDesc, nil)
	}

	if m.Op == OpNE {
		if DeepEqual(actual, m.Value) {
			return assertion.Fail(fmt.Sprintf("expected %s, got %v", expectedDesc, actual), expectedDesc, actual)
		}
		return assertion.Passf("%v %s", actual, expectedDesc)
	}

	cmp, ok := compareValues(actual, m.Value)
	if !ok {
		return assertion.Fail(fmt.Sprintf("expected %s, got non-comparable %v", expectedDesc, actual), expectedDesc, actual)
	}

	var passed bool
	switch m.Op {
	case OpGT:
		passed = cmp > 0
	case OpGTE:
		passed = cmp >= 0
	case OpLT:
		passed = cmp < 0
	case OpLTE:
		passed = cmp <= 0
	}

	if !passed {
		return assertion.Fail(fmt.Sprintf("expected %s, got %v", expectedDesc, actual), expectedDesc, actual)
	}
	return assertion.Passf("%v %s", actual, expectedDesc)
}

// compareValues returns -1/0/1 comparing a to b as numbers, falling back to dates.
func compareValues(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb), true
		}
	}
	return 0, false
}

func matchRegex(actual interface{}, present bool, m Regex) assertion.Result {
	re, err := regexp.Compile("(?i)" + m.Pattern)
	if err != nil {
		return assertion.FailWithReason(assertion.ReasonInvalidAssertion,
			fmt.Sprintf("invalid regex %q: %v", m.Pattern, err), m.Pattern, actual)
	}
	if !present || actual == nil {
		return assertion.Fail(fmt.Sprintf("expected value matching /%s/, field is missing", m.Pattern), m.Pattern, nil)
	}

	text := toText(actual)
	if !re.MatchString(text) {
		return assertion.Fail(fmt.Sprintf("expected value matching /%s/, got %q", m.Pattern, model.TruncateString(text, 200)),
			m.Pattern, actual)
	}
	return assertion.Passf("matches /%s/", m.Pattern)
}

func matchRef(actual interface{}, present bool, m Ref, ctx *Context) assertion.Result {
	expected, err := ctx.Resolve(m)
	if err != nil {
		return assertion.FailWithReason(assertion.ReasonUnresolvedRef,
			fmt.Sprintf("Unresolved reference: %s", m), m.String(), actual)
	}
	if !present {
		return assertion.Fail(fmt.Sprintf("expected %v (%s), field is missing", expected, m), expected, nil)
	}
	if !DeepEqual(expected, actual) {
		return assertion.Fail(fmt.Sprintf("expected %v (%s), got %v", expected, m, actual), expected, actual)
	}
	return assertion.Passf("equals %s", m)
}

func toText(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return typed
	case []interface{}:
		parts := make([]string, len(typed))
		for i, item := range typed {
			parts[i] = toText(item)
		}
		return strings.Join(parts, ", ")
	case nil:
		return ""
	case float64:
		if typed == float64(int64(typed)) {
			return strconv.FormatInt(int64(typed), 10)
		}
		return strconv.FormatFloat(typed, 'g', -1, 64)
	case map[string]interface{}, model.EntityRow:
		if text, err := sonic.ConfigStd.MarshalToString(typed); err == nil {
			return text
		}
		return fmt.Sprint(typed)
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
