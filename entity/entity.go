// Package entity asserts on database rows the agent created or changed.
package entity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mykhaliev/agent-oracle/assertion"
	"github.com/mykhaliev/agent-oracle/logger"
	"github.com/mykhaliev/agent-oracle/matcher"
	"github.com/mykhaliev/agent-oracle/model"
	"github.com/mykhaliev/agent-oracle/templates"
)

// ErrNotFound is returned by adapters when a lookup yields no row.
var ErrNotFound = errors.New("entity not found")

// maxReportedCandidates caps how many non-matching rows a failure carries.
const maxReportedCandidates = 3

// Filters are equality filters on top-level row fields.
type Filters map[string]interface{}

// Adapter is the storage the agent under test writes to.
type Adapter interface {
	FindByID(ctx context.Context, entityType, id string) (model.EntityRow, error)
	FindByTitle(ctx context.Context, entityType, title string) (model.EntityRow, error)
	List(ctx context.Context, entityType string, filters Filters) ([]model.EntityRow, error)
	Insert(ctx context.Context, entityType string, row model.EntityRow) (model.EntityRow, error)
	Update(ctx context.Context, entityType, id string, fields map[string]interface{}) (model.EntityRow, error)
	Delete(ctx context.Context, entityType, id string) error
}

// Identifier selects a row by id or by title; exactly one must be set.
type Identifier struct {
	ID    string
	Title string
}

func (i Identifier) String() string {
	if i.ID != "" {
		return i.ID
	}
	return i.Title
}

// CreatedAssertion discovers a row the agent should have created.
type CreatedAssertion struct {
	Type   string         `yaml:"type"`
	As     string         `yaml:"as,omitempty"`
	Fields matcher.Fields `yaml:"fields"`
}

// Verification checks one row. ID and Title accept literals, "$alias.field",
// {ref: "$alias.field"} or {from: alias, field: f}.
type Verification struct {
	Type      string         `yaml:"type"`
	ID        interface{}    `yaml:"id,omitempty"`
	Title     interface{}    `yaml:"title,omitempty"`
	Fields    matcher.Fields `yaml:"fields,omitempty"`
	NotExists bool           `yaml:"notExists,omitempty"`
	As        string         `yaml:"as,omitempty"`
}

// Find looks a row up by identifier. found is false when the adapter reports ErrNotFound.
func Find(ctx context.Context, a Adapter, entityType string, ident Identifier) (model.EntityRow, bool, error) {
	var (
		row model.EntityRow
		err error
	)
	if ident.ID != "" {
		row, err = a.FindByID(ctx, entityType, ident.ID)
	} else {
		row, err = a.FindByTitle(ctx, entityType, ident.Title)
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("failed to look up %s %q: %w", entityType, ident, err)
	case row == nil:
		return nil, false, nil
	}
	return row, true, nil
}

// VerifyEntity resolves one row and matches its fields.
func VerifyEntity(ctx context.Context, a Adapter, entityType string, ident Identifier, fields matcher.Fields, mctx *matcher.Context) (assertion.Result, model.EntityRow, error) {
	if (ident.ID == "") == (ident.Title == "") {
		return assertion.FailWithReason(assertion.ReasonInvalidAssertion,
			fmt.Sprintf("%s: exactly one of id or title must be given", entityType), nil, nil), nil, nil
	}

	row, found, err := Find(ctx, a, entityType, ident)
	if err != nil {
		return assertion.Result{}, nil, err
	}
	if !found {
		return assertion.FailWithReason(assertion.ReasonEntityNotFound,
			fmt.Sprintf("%s not found: %s", entityType, ident), ident.String(), nil), nil, nil
	}

	r := matcher.MatchFields(row, fields, mctx)
	if !r.Passed {
		r.Message = fmt.Sprintf("%s %s: %s", entityType, ident, r.Message)
		return r, row, nil
	}
	return assertion.Passf("%s %s matches %d field(s)", entityType, ident, len(fields)), row, nil
}

// AssertCreatedEntities finds, for each assertion, the first row satisfying every field.
// Plain string fields narrow the adapter query; all fields are re-checked per candidate.
func AssertCreatedEntities(ctx context.Context, a Adapter, assertions []CreatedAssertion, mctx *matcher.Context) (assertion.Result, error) {
	results := make([]assertion.Result, 0, len(assertions))
	for _, ca := range assertions {
		r, err := assertCreated(ctx, a, ca, mctx)
		if err != nil {
			return assertion.Result{}, err
		}
		results = append(results, r)
	}
	return assertion.Combine(results...), nil
}

func assertCreated(ctx context.Context, a Adapter, ca CreatedAssertion, mctx *matcher.Context) (assertion.Result, error) {
	filters := filtersFromFields(ca.Fields, mctx)
	candidates, err := a.List(ctx, ca.Type, filters)
	if err != nil {
		return assertion.Result{}, fmt.Errorf("failed to list %s: %w", ca.Type, err)
	}

	var firstMismatch string
	for _, candidate := range candidates {
		r := matcher.MatchFields(candidate, ca.Fields, mctx)
		if r.Passed {
			if mctx != nil {
				mctx.Capture(ca.As, candidate)
			}
			logger.Logger.Debug("Created entity found", "type", ca.Type, "id", candidate.ID(), "alias", ca.As)
			return assertion.Passf("Found created %s %s", ca.Type, candidate.ID()), nil
		}
		if firstMismatch == "" {
			firstMismatch = r.Message
		}
	}

	shown := candidates
	if len(shown) > maxReportedCandidates {
		shown = shown[:maxReportedCandidates]
	}

	msg := fmt.Sprintf("No created %s matched (examined %d candidate(s), filters %v)", ca.Type, len(candidates), map[string]interface{}(filters))
	if firstMismatch != "" {
		msg += "; first mismatch: " + firstMismatch
	}
	return assertion.FailWithReason(assertion.ReasonEntityNotFound, msg, describeFields(ca.Fields), shown), nil
}

// filtersFromFields turns literal, non-reference string fields into equality filters.
func filtersFromFields(fields matcher.Fields, mctx *matcher.Context) Filters {
	filters := Filters{}
	for key, m := range fields {
		lit, ok := m.(matcher.Literal)
		if !ok || strings.Contains(key, ".") {
			continue
		}
		s, ok := lit.Value.(string)
		if !ok || strings.HasPrefix(s, "$") {
			continue
		}
		filters[key] = templates.Render(s, mctx.TemplateData())
	}
	return filters
}

func describeFields(fields matcher.Fields) map[string]string {
	out := make(map[string]string, len(fields))
	for k, m := range fields {
		out[k] = fmt.Sprintf("%+v", m)
	}
	return out
}

// VerifyEntities runs a batch of verifications and combines them.
func VerifyEntities(ctx context.Context, a Adapter, verifications []Verification, mctx *matcher.Context) (assertion.Result, error) {
	results := make([]assertion.Result, 0, len(verifications))
	for _, v := range verifications {
		r, err := verifyOne(ctx, a, v, mctx)
		if err != nil {
			return assertion.Result{}, err
		}
		results = append(results, r)
	}
	return assertion.Combine(results...), nil
}

func verifyOne(ctx context.Context, a Adapter, v Verification, mctx *matcher.Context) (assertion.Result, error) {
	ident, unresolved := resolveIdentifier(v, mctx)
	if unresolved != nil {
		return *unresolved, nil
	}

	if v.NotExists {
		if (ident.ID == "") == (ident.Title == "") {
			return assertion.FailWithReason(assertion.ReasonInvalidAssertion,
				fmt.Sprintf("%s: exactly one of id or title must be given", v.Type), nil, nil), nil
		}
		row, found, err := Find(ctx, a, v.Type, ident)
		if err != nil {
			return assertion.Result{}, err
		}
		if found {
			return assertion.FailWithReason(assertion.ReasonEntityUnexpected,
				fmt.Sprintf("%s should not exist: %s", v.Type, ident), nil, map[string]interface{}(row)), nil
		}
		return assertion.Passf("%s %s does not exist", v.Type, ident), nil
	}

	r, row, err := VerifyEntity(ctx, a, v.Type, ident, v.Fields, mctx)
	if err != nil {
		return assertion.Result{}, err
	}
	if r.Passed && v.As != "" && mctx != nil {
		mctx.Capture(v.As, row)
	}
	return r, nil
}

func resolveIdentifier(v Verification, mctx *matcher.Context) (Identifier, *assertion.Result) {
	var ident Identifier
	for _, part := range []struct {
		raw    interface{}
		target *string
	}{{v.ID, &ident.ID}, {v.Title, &ident.Title}} {
		if part.raw == nil {
			continue
		}
		resolved, err := mctx.ResolveValue(part.raw)
		if err != nil {
			r := assertion.FailWithReason(assertion.ReasonUnresolvedRef,
				fmt.Sprintf("%s: %v", v.Type, err), part.raw, nil)
			return Identifier{}, &r
		}
		*part.target = fmt.Sprint(resolved)
	}
	return ident, nil
}

// AssertEntityCount checks how many rows of a type (optionally filtered) exist.
func AssertEntityCount(ctx context.Context, a Adapter, entityType string, expected model.CountSpec, filters Filters) (assertion.Result, error) {
	rows, err := a.List(ctx, entityType, filters)
	if err != nil {
		return assertion.Result{}, fmt.Errorf("failed to list %s: %w", entityType, err)
	}
	n := len(rows)

	if expected.Satisfied(n) {
		return assertion.Passf("%s: %d row(s), expected %s", entityType, n, expected), nil
	}

	var msg string
	switch {
	case expected.Exact != nil:
		msg = fmt.Sprintf("%s: expected %d row(s), got %d", entityType, *expected.Exact, n)
	case expected.Min != nil && n < *expected.Min:
		msg = fmt.Sprintf("%s: expected at least %d row(s), got %d", entityType, *expected.Min, n)
	default:
		msg = fmt.Sprintf("%s: expected at most %d row(s), got %d", entityType, *expected.Max, n)
	}
	return assertion.FailWithReason(assertion.ReasonEntityCountMismatch, msg, expected.String(), n), nil
}
