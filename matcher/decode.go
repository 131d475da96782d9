package matcher

import (
	"fmt"

	"github.com/life4/genesis/slices"
	"gopkg.in/yaml.v3"
)

// Fields maps dot-path field names to matchers. It decodes from YAML.
type Fields map[string]Matcher

func (f *Fields) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]interface{}
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode field matchers: %w", err)
	}
	fields, err := FieldsFromMap(raw)
	if err != nil {
		return err
	}
	*f = fields
	return nil
}

// List is several matchers applied to one value. It decodes from a single matcher
// shape or a sequence of them, so a sequence is never a Literal list here.
type List []Matcher

func (l *List) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode matchers: %w", err)
	}

	items, ok := raw.([]interface{})
	if !ok {
		items = []interface{}{raw}
	}

	out := make(List, 0, len(items))
	for i, item := range items {
		m, err := FromValue(item)
		if err != nil {
			return fmt.Errorf("matcher %d: %w", i, err)
		}
		out = append(out, m)
	}
	*l = out
	return nil
}

// FieldsFromMap converts already-deserialized matcher shapes.
func FieldsFromMap(raw map[string]interface{}) (Fields, error) {
	fields := make(Fields, len(raw))
	for key, value := range raw {
		m, err := FromValue(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		fields[key] = m
	}
	return fields, nil
}

// FromValue decodes one matcher shape:
//
//	"literal" | 42 | [..]          Literal
//	"$alias.field"                 Ref
//	{contains: x | [x, y]}         Contains (all)
//	{containsAny: [x, y]}          Contains (any)
//	{mentions: ..}/{mentionsAny:}  Contains, whole words
//	{exists: bool, nullIsMissing}  Exists
//	{$gt|$gte|$lt|$lte|$ne: v}     Comparison
//	{regex: pattern}               Regex
//	{ref: "$a.f"} | {from, field}  Ref
//
// Any other mapping is a Literal object.
func FromValue(v interface{}) (Matcher, error) {
	switch typed := v.(type) {
	case Matcher:
		return typed, nil
	case string:
		if ref, ok := ParseRef(typed); ok {
			return ref, nil
		}
		return Literal{Value: typed}, nil
	case map[string]interface{}:
		return fromMap(typed)
	default:
		return Literal{Value: v}, nil
	}
}

func fromMap(m map[string]interface{}) (Matcher, error) {
	if ref, ok := refFromMap(m); ok {
		return ref, nil
	}
	if _, isRef := m["ref"]; isRef && len(m) == 1 {
		return nil, fmt.Errorf("invalid ref %v", m["ref"])
	}

	if want, ok := m["exists"]; ok && onlyKeys(m, "exists", "nullIsMissing") {
		b, ok := want.(bool)
		if !ok {
			return nil, fmt.Errorf("exists must be a boolean, got %T", want)
		}
		nullIsMissing := true
		if raw, ok := m["nullIsMissing"]; ok {
			flag, ok := raw.(bool)
			if !ok {
				return nil, fmt.Errorf("nullIsMissing must be a boolean, got %T", raw)
			}
			nullIsMissing = flag
		}
		return Exists{Want: b, NullIsMissing: nullIsMissing}, nil
	}

	if len(m) != 1 {
		return Literal{Value: m}, nil
	}

	for key, value := range m {
		switch key {
		case "contains", "containsAny", "mentions", "mentionsAny":
			keywords, err := toKeywords(value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			return Contains{
				Keywords:  keywords,
				Any:       key == "containsAny" || key == "mentionsAny",
				WholeWord: key == "mentions" || key == "mentionsAny",
			}, nil
		case string(OpGT), string(OpGTE), string(OpLT), string(OpLTE), string(OpNE):
			return Comparison{Op: Op(key), Value: value}, nil
		case "regex":
			pattern, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("regex must be a string, got %T", value)
			}
			return Regex{Pattern: pattern}, nil
		}
	}

	return Literal{Value: m}, nil
}

func toKeywords(v interface{}) ([]string, error) {
	switch typed := v.(type) {
	case string:
		return []string{typed}, nil
	case []interface{}:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("keywords must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return typed, nil
	default:
		return nil, fmt.Errorf("expected string or list of strings, got %T", v)
	}
}

func onlyKeys(m map[string]interface{}, allowed ...string) bool {
	for k := range m {
		if !slices.Contains(allowed, k) {
			return false
		}
	}
	return true
}
