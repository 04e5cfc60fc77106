// Package ticket defines the ticket kinds the agent can draft, their field
// schemas, and the immutable Draft payload that moves through the
// confirmation state machine.
package ticket

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies a ticket type with its own field schema.
type Kind string

const (
	KindIncident      Kind = "incident"
	KindChangeRequest Kind = "change_request"
	KindReschedule    Kind = "reschedule"
)

// Provenance records where a field value came from.
type Provenance string

const (
	ProvenanceUser     Provenance = "user"     // Stated by the user
	ProvenanceInferred Provenance = "inferred" // Most frequent value among retrieved records
	ProvenanceDefault  Provenance = "default"  // Schema default
)

// FieldSpec describes one field of a ticket kind.
type FieldSpec struct {
	Name string `yaml:"name"`

	// Required fields must be present before a draft can be proposed.
	Required bool `yaml:"required"`

	// Default is applied when neither the user nor retrieval supplies a
	// value. Empty means no default.
	Default string `yaml:"default"`

	// DefaultEligible marks required fields that may be defaulted without
	// first asking the user for them. Required fields without this flag
	// keep the session in the gathering phase until the user supplies them.
	DefaultEligible bool `yaml:"default_eligible"`

	// Synonyms are alternate names accepted in confirmation replies
	// ("assignment group", "assign"). Matching is case-insensitive.
	Synonyms []string `yaml:"synonyms"`

	// Pattern is the recognizer regex for extracting this field from free
	// text. Group 1 captures the value. Empty means the generic
	// "<name>: <value>" recognizer is used.
	Pattern string `yaml:"pattern"`
}

// Schema is the ordered field set for one ticket kind.
type Schema struct {
	Kind   Kind        `yaml:"kind"`
	Fields []FieldSpec `yaml:"fields"`

	byName map[string]*FieldSpec
}

// Field returns the spec for a field name, or nil.
func (s *Schema) Field(name string) *FieldSpec {
	return s.byName[name]
}

// FieldNames returns all field names in schema order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Required returns the names of required fields in schema order.
func (s *Schema) Required() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// ResolveField maps a user-facing field name or synonym to the canonical
// field name. Matching is case-insensitive and tolerant of underscores vs
// spaces. Returns "" when nothing matches.
func (s *Schema) ResolveField(name string) string {
	normalized := normalizeFieldName(name)
	for _, f := range s.Fields {
		if normalizeFieldName(f.Name) == normalized {
			return f.Name
		}
		for _, syn := range f.Synonyms {
			if normalizeFieldName(syn) == normalized {
				return f.Name
			}
		}
	}
	return ""
}

func normalizeFieldName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", " ")
	return strings.Join(strings.Fields(name), " ")
}

func (s *Schema) index() {
	s.byName = make(map[string]*FieldSpec, len(s.Fields))
	for i := range s.Fields {
		s.byName[s.Fields[i].Name] = &s.Fields[i]
	}
}

// =============================================================================
// BUILT-IN SCHEMAS
// =============================================================================

// builtinSchemas mirrors the ServiceNow field sets used for incident and
// change request creation.
func builtinSchemas() map[Kind]*Schema {
	incident := &Schema{
		Kind: KindIncident,
		Fields: []FieldSpec{
			{Name: "description", Required: true,
				Pattern: `(?:create\s+(?:an?\s+)?incident[^,\n]*?\bdescription[:\s]+|description[:\s]+|create\s+(?:an?\s+)?incident[:\s]+)([^,\n]+)`},
			{Name: "short_description", Default: ""},
			{Name: "priority", Required: true, DefaultEligible: true, Default: "3",
				Pattern:  `priority[:\s]+(\d+|low|medium|high|critical)`,
				Synonyms: []string{"prio"}},
			{Name: "impact", Required: true, DefaultEligible: true, Default: "2",
				Pattern: `impact[:\s]+(\d+|low|medium|high|critical)`},
			{Name: "urgency", Required: true, DefaultEligible: true, Default: "2",
				Pattern: `urgency[:\s]+(\d+|low|medium|high|critical)`},
			{Name: "category", Required: true, DefaultEligible: true, Default: "Inquiry"},
			{Name: "assignment_group", Required: true, DefaultEligible: true, Default: "Service Desk",
				Synonyms: []string{"assignment group", "assign", "group"}},
		},
	}

	change := &Schema{
		Kind: KindChangeRequest,
		Fields: []FieldSpec{
			{Name: "description", Required: true,
				Pattern: `(?:create\s+(?:a\s+)?change(?:\s+request)?[^,\n]*?\bdescription[:\s]+|description[:\s]+|create\s+(?:a\s+)?change(?:\s+request)?[:\s]+)([^,\n]+)`},
			{Name: "short_description", Required: true, DefaultEligible: true,
				Synonyms: []string{"short description", "title"}},
			{Name: "category", Required: true, DefaultEligible: true, Default: "Infrastructure"},
			{Name: "service", Required: true, DefaultEligible: true, Default: "Database Services"},
			{Name: "configuration_item",
				Synonyms: []string{"configuration item", "config item", "ci"}},
			{Name: "priority", Required: true, DefaultEligible: true, Default: "3 - Medium",
				Pattern:  `priority[:\s]+(\d+|low|medium|high|critical)`,
				Synonyms: []string{"prio"}},
			{Name: "risk", Required: true, DefaultEligible: true, Default: "Medium",
				Pattern: `risk[:\s]+(\d+|low|medium|high|critical)`},
			{Name: "impact", Required: true, DefaultEligible: true, Default: "2 - Medium",
				Pattern: `impact[:\s]+(\d+|low|medium|high|critical)`},
			{Name: "type", Required: true, DefaultEligible: true, Default: "Normal"},
			{Name: "model", Required: true, DefaultEligible: true, Default: "Normal"},
			{Name: "assignment_group", Required: true, DefaultEligible: true, Default: "Database Admins",
				Synonyms: []string{"assignment group", "assign", "group"}},
			{Name: "requested_by", Required: true, DefaultEligible: true, Default: "System User",
				Synonyms: []string{"requested by", "requester"}},
			{Name: "justification", Required: true, DefaultEligible: true,
				Default: "Mandatory maintenance as per company policy"},
			{Name: "implementation_plan", Required: true, DefaultEligible: true,
				Default:  "1) Take backup, 2) Apply changes, 3) Verify functionality, 4) Restore service",
				Synonyms: []string{"implementation plan"}},
			{Name: "backout_plan", Required: true, DefaultEligible: true,
				Default:  "Restore from the backup taken before the change and restart with the previous configuration",
				Synonyms: []string{"backout plan", "rollback plan"}},
			{Name: "test_plan", Required: true, DefaultEligible: true,
				Default:  "Execute smoke tests, verify application connectivity, validate business functions",
				Synonyms: []string{"test plan"}},
			{Name: "planned_start_date", Required: true,
				Pattern:  `planned[\s_]start[\s_]date[:\s]+([^,\n]+)|start[\s_]date[:\s]+([^,\n]+)`,
				Synonyms: []string{"planned start date", "start date", "start"}},
			{Name: "planned_end_date", Required: true,
				Pattern:  `planned[\s_]end[\s_]date[:\s]+([^,\n]+)|end[\s_]date[:\s]+([^,\n]+)`,
				Synonyms: []string{"planned end date", "end date", "end"}},
			{Name: "cab_required", Required: true, DefaultEligible: true, Default: "true",
				Pattern:  `cab[\s_]required[:\s]+(yes|no|true|false)`,
				Synonyms: []string{"cab required", "cab"}},
			{Name: "cab_date_time", Synonyms: []string{"cab date", "cab time"}},
			{Name: "cab_delegate", Synonyms: []string{"cab delegate"}},
		},
	}

	reschedule := &Schema{
		Kind: KindReschedule,
		Fields: []FieldSpec{
			{Name: "ticket_number", Required: true,
				Pattern:  `\b(CHG\d{7})\b`,
				Synonyms: []string{"ticket number", "change number", "number"}},
			{Name: "planned_start_date", Required: true,
				Pattern:  `(?:new\s+)?(?:planned\s+)?start(?:\s+date)?[:\s]+([^,\n]+)`,
				Synonyms: []string{"planned start date", "start date", "start"}},
			{Name: "planned_end_date", Required: true,
				Pattern:  `(?:new\s+)?(?:planned\s+)?end(?:\s+date)?[:\s]+([^,\n]+)`,
				Synonyms: []string{"planned end date", "end date", "end"}},
		},
	}

	schemas := map[Kind]*Schema{
		KindIncident:      incident,
		KindChangeRequest: change,
		KindReschedule:    reschedule,
	}
	for _, s := range schemas {
		s.index()
	}
	return schemas
}

// Registry holds the schemas for all known kinds.
type Registry struct {
	schemas map[Kind]*Schema
}

// NewRegistry returns a registry with the built-in schemas.
func NewRegistry() *Registry {
	return &Registry{schemas: builtinSchemas()}
}

// Schema returns the schema for a kind.
func (r *Registry) Schema(kind Kind) (*Schema, error) {
	s, ok := r.schemas[kind]
	if !ok {
		return nil, fmt.Errorf("unknown ticket kind: %q", kind)
	}
	return s, nil
}

// Kinds returns all registered kinds, sorted for deterministic iteration.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.schemas))
	for k := range r.schemas {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
