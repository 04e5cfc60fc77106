// Package merge combines user-provided, retrieval-inferred, and schema
// default field values into a complete draft, tracking provenance per field.
// Precedence is strict: user > most-frequent retrieved value > default.
package merge

import (
	"strings"
	"unicode/utf8"

	"github.com/akshay-eng/ITSM-agent/internal/confirm"
	"github.com/akshay-eng/ITSM-agent/internal/logging"
	"github.com/akshay-eng/ITSM-agent/internal/retrieval"
	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// Merger builds draft revisions from the three sources of truth.
type Merger struct {
	registry *ticket.Registry
}

// NewMerger creates a merger over the given schema registry.
func NewMerger(registry *ticket.Registry) *Merger {
	return &Merger{registry: registry}
}

// Merge builds the first revision of a draft for kind.
//
// Per field: a user-stated value wins outright; otherwise the most frequent
// non-empty value across the retrieved records is inferred (ties break in
// first-seen order); otherwise the schema default applies. Required fields
// not marked default-eligible never default; they keep the session
// gathering instead.
func (m *Merger) Merge(kind ticket.Kind, userFields map[string]string, hits []retrieval.Hit) (*ticket.Draft, error) {
	schema, err := m.registry.Schema(kind)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]ticket.FieldValue, len(schema.Fields))

	for _, spec := range schema.Fields {
		if v, ok := userFields[spec.Name]; ok && strings.TrimSpace(v) != "" {
			fields[spec.Name] = ticket.FieldValue{Value: strings.TrimSpace(v), Provenance: ticket.ProvenanceUser}
			continue
		}

		if inferred := mostFrequent(hits, spec.Name); inferred != "" {
			fields[spec.Name] = ticket.FieldValue{Value: inferred, Provenance: ticket.ProvenanceInferred}
			continue
		}

		if spec.Default != "" && (spec.DefaultEligible || !spec.Required) {
			fields[spec.Name] = ticket.FieldValue{Value: spec.Default, Provenance: ticket.ProvenanceDefault}
		}
	}

	// short_description falls back to a truncation of the description when
	// nothing else supplied it.
	if fv, ok := fields["short_description"]; !ok || fv.Value == "" {
		if desc, ok := fields["description"]; ok && schema.Field("short_description") != nil {
			fields["short_description"] = ticket.FieldValue{
				Value:      truncate(desc.Value, 80),
				Provenance: ticket.ProvenanceDefault,
			}
		}
	}

	draft := ticket.NewDraft(kind, fields)
	logging.Merge("Merged draft %s kind=%s: %d fields (%d user, %d inferred, %d default)",
		draft.RevisionID, kind, len(fields),
		countProvenance(fields, ticket.ProvenanceUser),
		countProvenance(fields, ticket.ProvenanceInferred),
		countProvenance(fields, ticket.ProvenanceDefault))

	return draft, nil
}

// ApplyDelta produces a new draft revision with the delta's modifications
// forced to provenance user. This is the only path that narrows provenance
// back to user after initial drafting.
func (m *Merger) ApplyDelta(draft *ticket.Draft, delta confirm.Delta) *ticket.Draft {
	if delta.Intent != confirm.IntentModify || len(delta.Modifications) == 0 {
		return draft
	}

	updates := make(map[string]ticket.FieldValue, len(delta.Modifications))
	for _, mod := range delta.Modifications {
		updates[mod.Field] = ticket.FieldValue{Value: mod.NewValue, Provenance: ticket.ProvenanceUser}
	}

	next := draft.WithFields(updates)
	logging.Merge("Applied %d modification(s): draft %s -> %s", len(updates), draft.RevisionID, next.RevisionID)
	return next
}

// mostFrequent returns the most frequent non-empty value of a field across
// the retrieved records. Ties break toward the value seen first.
func mostFrequent(hits []retrieval.Hit, field string) string {
	counts := make(map[string]int)
	var order []string

	for _, hit := range hits {
		value := strings.TrimSpace(hit.Record[field])
		if value == "" || strings.EqualFold(value, "unknown") {
			continue
		}
		if counts[value] == 0 {
			order = append(order, value)
		}
		counts[value]++
	}

	best := ""
	bestCount := 0
	for _, value := range order {
		if counts[value] > bestCount {
			best = value
			bestCount = counts[value]
		}
	}
	return best
}

func countProvenance(fields map[string]ticket.FieldValue, p ticket.Provenance) int {
	n := 0
	for _, fv := range fields {
		if fv.Provenance == p {
			n++
		}
	}
	return n
}

// truncate shortens s to at most max bytes, backing off to the nearest rune
// boundary so a multi-byte character is never split.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut]) + "..."
}
