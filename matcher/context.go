package matcher

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mykhaliev/agent-oracle/model"
)

var ErrUnresolvedRef = errors.New("unresolved reference")

const userIDAlias = "userId"

var refPattern = regexp.MustCompile(`^\$([A-Za-z_][\w-]*)(?:\.([\w.-]+))?$`)

// Context is the run-scoped state references resolve against.
type Context struct {
	// Captured holds rows found by created-entity assertions or inserted by setup steps.
	Captured map[string]model.EntityRow
	// Aliases holds arbitrary named values.
	Aliases map[string]interface{}
	UserID  string
	// Vars feed {{var}} interpolation in literal expectations.
	Vars map[string]string
}

func NewContext() *Context {
	return &Context{
		Captured: map[string]model.EntityRow{},
		Aliases:  map[string]interface{}{},
		Vars:     map[string]string{},
	}
}

func (c *Context) Capture(alias string, row model.EntityRow) {
	if alias == "" {
		return
	}
	if c.Captured == nil {
		c.Captured = map[string]model.EntityRow{}
	}
	c.Captured[alias] = row
}

func (c *Context) SetAlias(alias string, value interface{}) {
	if c.Aliases == nil {
		c.Aliases = map[string]interface{}{}
	}
	c.Aliases[alias] = value
}

// Reset drops everything captured during a run; Vars survive.
func (c *Context) Reset() {
	c.Captured = map[string]model.EntityRow{}
	c.Aliases = map[string]interface{}{}
}

// TemplateData exposes vars, captured rows and aliases to {{...}} templates.
func (c *Context) TemplateData() map[string]interface{} {
	data := map[string]interface{}{}
	if c == nil {
		return data
	}
	for k, v := range c.Vars {
		data[k] = v
	}
	for k, v := range c.Aliases {
		data[k] = v
	}
	for k, row := range c.Captured {
		data[k] = map[string]interface{}(row)
	}
	if c.UserID != "" {
		data[userIDAlias] = c.UserID
	}
	return data
}

// ParseRef recognises "$alias" and "$alias.field". Strings like "$5.00" are not refs.
func ParseRef(s string) (Ref, bool) {
	m := refPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Ref{}, false
	}
	return Ref{Alias: m[1], Field: m[2]}, true
}

// Resolve looks the reference up in captured rows, then aliases, then the user id.
// A bare "$alias" pointing at a captured row resolves to that row's id.
func (c *Context) Resolve(ref Ref) (interface{}, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedRef, ref)
	}

	if row, ok := c.Captured[ref.Alias]; ok {
		if ref.Field == "" {
			if id := row.ID(); id != "" {
				return row["id"], nil
			}
			return nil, fmt.Errorf("%w: %s has no id", ErrUnresolvedRef, ref)
		}
		if v, ok := row.Get(ref.Field); ok {
			return v, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedRef, ref)
	}

	if v, ok := c.Aliases[ref.Alias]; ok {
		if ref.Field == "" {
			return v, nil
		}
		if m, ok := v.(map[string]interface{}); ok {
			if nested, ok := model.GetNestedValue(m, ref.Field); ok {
				return nested, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedRef, ref)
	}

	if ref.Alias == userIDAlias && ref.Field == "" && c.UserID != "" {
		return c.UserID, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnresolvedRef, ref)
}

// ResolveValue resolves identifier-like values: literal scalars pass through, while
// "$alias.field", {ref: "$alias.field"} and {from: alias, field: f} are looked up.
func (c *Context) ResolveValue(v interface{}) (interface{}, error) {
	switch typed := v.(type) {
	case string:
		if ref, ok := ParseRef(typed); ok {
			return c.Resolve(ref)
		}
		return typed, nil
	case Ref:
		return c.Resolve(typed)
	case map[string]interface{}:
		if ref, ok := refFromMap(typed); ok {
			return c.Resolve(ref)
		}
		return nil, fmt.Errorf("%w: unsupported reference shape %v", ErrUnresolvedRef, typed)
	default:
		return v, nil
	}
}

func refFromMap(m map[string]interface{}) (Ref, bool) {
	if raw, ok := m["ref"]; ok && len(m) == 1 {
		if s, ok := raw.(string); ok {
			return ParseRef(s)
		}
		return Ref{}, false
	}
	from, hasFrom := m["from"].(string)
	field, hasField := m["field"].(string)
	if hasFrom && hasField && len(m) == 2 {
		return Ref{Alias: strings.TrimPrefix(from, "$"), Field: field}, true
	}
	return Ref{}, false
}
