package ticket

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldValue is a drafted field with its provenance.
type FieldValue struct {
	Value      string     `json:"value"`
	Provenance Provenance `json:"provenance"`
}

// Draft is the in-progress, not-yet-executed structured ticket payload for a
// session. Drafts are immutable: every modification produces a new revision
// with a fresh RevisionID, so a concurrent reader never observes a
// half-updated draft and the dispatcher can track execution per revision.
type Draft struct {
	// RevisionID identifies this exact revision of the draft.
	RevisionID string `json:"revision_id"`

	Kind      Kind                  `json:"kind"`
	Fields    map[string]FieldValue `json:"fields"`
	CreatedAt time.Time             `json:"created_at"`
}

// NewDraft creates the first revision of a draft.
func NewDraft(kind Kind, fields map[string]FieldValue) *Draft {
	d := &Draft{
		RevisionID: uuid.NewString(),
		Kind:       kind,
		Fields:     make(map[string]FieldValue, len(fields)),
		CreatedAt:  time.Now(),
	}
	for k, v := range fields {
		d.Fields[k] = v
	}
	return d
}

// Value returns the value of a field, or "" when absent.
func (d *Draft) Value(name string) string {
	return d.Fields[name].Value
}

// Field returns the field value and whether it is present.
func (d *Draft) Field(name string) (FieldValue, bool) {
	fv, ok := d.Fields[name]
	return fv, ok
}

// WithFields returns a new revision with the given fields set. The receiver
// is not modified.
func (d *Draft) WithFields(updates map[string]FieldValue) *Draft {
	next := &Draft{
		RevisionID: uuid.NewString(),
		Kind:       d.Kind,
		Fields:     make(map[string]FieldValue, len(d.Fields)+len(updates)),
		CreatedAt:  d.CreatedAt,
	}
	for k, v := range d.Fields {
		next.Fields[k] = v
	}
	for k, v := range updates {
		next.Fields[k] = v
	}
	return next
}

// MissingRequired returns the required fields of the schema that are absent
// or empty, in schema order.
func (d *Draft) MissingRequired(s *Schema) []string {
	var missing []string
	for _, f := range s.Fields {
		if !f.Required {
			continue
		}
		if fv, ok := d.Fields[f.Name]; !ok || strings.TrimSpace(fv.Value) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// Complete reports whether every required field of the schema is present.
func (d *Draft) Complete(s *Schema) bool {
	return len(d.MissingRequired(s)) == 0
}

// Plain returns the fields as a flat name -> value map, for handing to the
// execution adapter.
func (d *Draft) Plain() map[string]string {
	out := make(map[string]string, len(d.Fields))
	for k, v := range d.Fields {
		out[k] = v.Value
	}
	return out
}

// Summary renders the draft's fields one per line in schema order, with the
// provenance of each value, for inclusion in a proposal message.
func (d *Draft) Summary(s *Schema) string {
	var b strings.Builder
	seen := make(map[string]bool, len(d.Fields))

	writeLine := func(name string, fv FieldValue) {
		label := strings.ReplaceAll(name, "_", " ")
		fmt.Fprintf(&b, "- %s: %s", label, fv.Value)
		switch fv.Provenance {
		case ProvenanceInferred:
			b.WriteString(" (inferred from similar records)")
		case ProvenanceDefault:
			b.WriteString(" (default)")
		}
		b.WriteString("\n")
	}

	for _, f := range s.Fields {
		fv, ok := d.Fields[f.Name]
		if !ok || fv.Value == "" {
			continue
		}
		seen[f.Name] = true
		writeLine(f.Name, fv)
	}

	// Fields the schema does not know about still render, sorted, so a
	// schema override never hides drafted data.
	var extra []string
	for name := range d.Fields {
		if !seen[name] && d.Fields[name].Value != "" {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		writeLine(name, d.Fields[name])
	}

	return strings.TrimRight(b.String(), "\n")
}

// ExecutionResult is the outcome of handing a draft to the execution
// adapter.
type ExecutionResult struct {
	ID     string `json:"id"`     // Ticket number, e.g. INC0012345 / CHG0031337
	SysID  string `json:"sys_id"` // Backend record identifier
	Status string `json:"status"`
}

// Attachment is a file the user supplied alongside an utterance. It is held
// on the session until the ticket exists, then uploaded against it.
type Attachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"-"`
}
