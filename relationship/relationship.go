// Package relationship turns sentences like "Task A belongs to list Inbox" into
// subject/object/foreign-key triples and checks them against stored rows.
package relationship

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/life4/genesis/slices"
	"github.com/mykhaliev/agent-oracle/assertion"
	"github.com/mykhaliev/agent-oracle/entity"
	"github.com/mykhaliev/agent-oracle/logger"
	"github.com/mykhaliev/agent-oracle/matcher"
	"github.com/mykhaliev/agent-oracle/model"
)

// Pattern is a regex with two capture groups: subject, then object.
type Pattern struct {
	Name               string `yaml:"name" json:"name"`
	Pattern            string `yaml:"pattern" json:"pattern"`
	SubjectEntity      string `yaml:"subjectEntity" json:"subjectEntity"`
	ObjectEntity       string `yaml:"objectEntity" json:"objectEntity"`
	ForeignKey         string `yaml:"foreignKey" json:"foreignKey"`
	SubjectLookupField string `yaml:"subjectLookupField,omitempty" json:"subjectLookupField,omitempty"`
	ObjectLookupField  string `yaml:"objectLookupField,omitempty" json:"objectLookupField,omitempty"`
}

// Parsed is one sentence matched against one Pattern.
type Parsed struct {
	PatternName        string `json:"patternName"`
	Subject            string `json:"subject"`
	Object             string `json:"object"`
	SubjectEntity      string `json:"subjectEntity"`
	ObjectEntity       string `json:"objectEntity"`
	ForeignKey         string `json:"foreignKey"`
	SubjectLookupField string `json:"subjectLookupField,omitempty"`
	ObjectLookupField  string `json:"objectLookupField,omitempty"`
}

// GetEntityFunc fetches a row by title (or lookupField when set). found=false means no row.
type GetEntityFunc func(ctx context.Context, entityType, titleOrID, lookupField string) (row model.EntityRow, found bool, err error)

var sentenceTerminators = regexp.MustCompile(`[.!?]`)

// ParseRelationship matches text against patterns in order; the first match wins.
// Every call compiles its own regexp, so no match state is shared between calls.
func ParseRelationship(text string, patterns []Pattern) *Parsed {
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			logger.Logger.Warn("Invalid relationship pattern", "pattern", p.Name, "error", err)
			continue
		}
		if re.NumSubexp() < 2 {
			logger.Logger.Warn("Relationship pattern needs two capture groups", "pattern", p.Name)
			continue
		}

		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		return &Parsed{
			PatternName:        p.Name,
			Subject:            strings.TrimSpace(m[1]),
			Object:             strings.TrimSpace(m[2]),
			SubjectEntity:      p.SubjectEntity,
			ObjectEntity:       p.ObjectEntity,
			ForeignKey:         p.ForeignKey,
			SubjectLookupField: p.SubjectLookupField,
			ObjectLookupField:  p.ObjectLookupField,
		}
	}
	return nil
}

// ExtractRelationships parses every sentence of text independently, keeping order.
func ExtractRelationships(text string, patterns []Pattern) []Parsed {
	if len(patterns) == 0 {
		return nil
	}

	sentences := slices.Filter(sentenceTerminators.Split(text, -1), func(s string) bool {
		return strings.TrimSpace(s) != ""
	})

	var out []Parsed
	for _, sentence := range sentences {
		if p := ParseRelationship(strings.TrimSpace(sentence), patterns); p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// AssertRelationship checks subject[foreignKey] == object.id.
func AssertRelationship(ctx context.Context, parsed Parsed, getEntity GetEntityFunc) (assertion.Result, error) {
	subject, found, err := getEntity(ctx, parsed.SubjectEntity, parsed.Subject, parsed.SubjectLookupField)
	if err != nil {
		return assertion.Result{}, fmt.Errorf("failed to look up subject %q: %w", parsed.Subject, err)
	}
	if !found {
		return assertion.FailWithReason(assertion.ReasonEntityNotFound,
			fmt.Sprintf("Subject entity not found: %s", parsed.Subject), parsed.Subject, nil), nil
	}

	object, found, err := getEntity(ctx, parsed.ObjectEntity, parsed.Object, parsed.ObjectLookupField)
	if err != nil {
		return assertion.Result{}, fmt.Errorf("failed to look up object %q: %w", parsed.Object, err)
	}
	if !found {
		return assertion.FailWithReason(assertion.ReasonEntityNotFound,
			fmt.Sprintf("Object entity not found: %s", parsed.Object), parsed.Object, nil), nil
	}

	actual := subject[parsed.ForeignKey]
	expected := object["id"]
	if actual == nil || !matcher.DeepEqual(expected, actual) {
		return assertion.FailWithReason(assertion.ReasonRelationshipMismatch,
			fmt.Sprintf("%s %q.%s is %v, expected %s %q (id %v)",
				parsed.SubjectEntity, parsed.Subject, parsed.ForeignKey, actual,
				parsed.ObjectEntity, parsed.Object, expected),
			expected, actual), nil
	}

	return assertion.Passf("%s %q %s %s %q", parsed.SubjectEntity, parsed.Subject, parsed.PatternName,
		parsed.ObjectEntity, parsed.Object), nil
}

// ValidateRelationships extracts relationships from text and asserts each one in order.
// getEntity is never called when nothing is extracted.
func ValidateRelationships(ctx context.Context, text string, patterns []Pattern, getEntity GetEntityFunc) ([]assertion.Result, error) {
	parsed := ExtractRelationships(text, patterns)
	if len(parsed) == 0 {
		return nil, nil
	}

	results := make([]assertion.Result, 0, len(parsed))
	for _, p := range parsed {
		r, err := AssertRelationship(ctx, p, getEntity)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// AdapterLookup builds a GetEntityFunc on top of an entity.Adapter. Without a lookup
// field rows are found by title, then by id; "title" and "id" use only that field;
// anything else filters List.
func AdapterLookup(a entity.Adapter) GetEntityFunc {
	return func(ctx context.Context, entityType, value, lookupField string) (model.EntityRow, bool, error) {
		switch lookupField {
		case "":
			row, found, err := entity.Find(ctx, a, entityType, entity.Identifier{Title: value})
			if err != nil || found {
				return row, found, err
			}
			return entity.Find(ctx, a, entityType, entity.Identifier{ID: value})
		case "title":
			return entity.Find(ctx, a, entityType, entity.Identifier{Title: value})
		case "id":
			return entity.Find(ctx, a, entityType, entity.Identifier{ID: value})
		}

		rows, err := a.List(ctx, entityType, entity.Filters{lookupField: value})
		if errors.Is(err, entity.ErrNotFound) || (err == nil && len(rows) == 0) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return rows[0], true, nil
	}
}
