// Package extract turns free-form utterances into structured signals: a
// classified Intent and a partial field map per ticket kind. Extraction is
// pattern-based, deterministic, and idempotent; a field with no confident
// match is simply absent from the result.
package extract

import (
	"regexp"
	"strings"

	"github.com/akshay-eng/ITSM-agent/internal/logging"
	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// Extractor is the pluggable structured-extraction interface. The pattern
// implementation below can be swapped for a model-based one without touching
// the state machine.
type Extractor interface {
	// Extract returns the fields confidently recognized in text for the
	// given kind. Malformed text yields an empty map, never an error.
	Extract(kind ticket.Kind, text string) map[string]string

	// ClassifyIntent classifies the utterance.
	ClassifyIntent(text string) Intent
}

// =============================================================================
// INTENT
// =============================================================================

// IntentKind is the exhaustive set of utterance classifications.
type IntentKind string

const (
	IntentUnknown          IntentKind = "unknown"
	IntentCreate           IntentKind = "create"            // Mutating: draft a new ticket
	IntentReschedule       IntentKind = "reschedule"        // Mutating: move a change window
	IntentStatusLookup     IntentKind = "status_lookup"     // Read-only
	IntentResolutionLookup IntentKind = "resolution_lookup" // Read-only
	IntentConflictCheck    IntentKind = "conflict_check"    // Read-only
)

// Intent is the tagged classification of one utterance.
type Intent struct {
	Kind IntentKind

	// TicketKind is set for IntentCreate and IntentReschedule.
	TicketKind ticket.Kind

	// TicketNumber is set when the utterance references an existing
	// ticket (lookups, conflict checks, reschedules).
	TicketNumber string
}

// Mutating reports whether acting on this intent changes external state and
// therefore requires draft confirmation.
func (i Intent) Mutating() bool {
	switch i.Kind {
	case IntentCreate, IntentReschedule:
		return true
	default:
		return false
	}
}

// =============================================================================
// PATTERN EXTRACTOR
// =============================================================================

// PatternExtractor recognizes fields with a per-field regex table compiled
// from the ticket schemas. The first matching recognizer per field wins.
type PatternExtractor struct {
	registry    *ticket.Registry
	recognizers map[ticket.Kind][]recognizer
}

type recognizer struct {
	field string
	re    *regexp.Regexp
}

var (
	ticketNumberRe = regexp.MustCompile(`(?i)\b((?:INC|CHG)\d{7,})\b`)
	changeNumberRe = regexp.MustCompile(`(?i)\b(CHG\d{7,})\b`)
)

// NewPatternExtractor compiles recognizers for every schema in the registry.
func NewPatternExtractor(registry *ticket.Registry) (*PatternExtractor, error) {
	e := &PatternExtractor{
		registry:    registry,
		recognizers: make(map[ticket.Kind][]recognizer),
	}

	for _, kind := range registry.Kinds() {
		schema, err := registry.Schema(kind)
		if err != nil {
			return nil, err
		}
		recs := make([]recognizer, 0, len(schema.Fields))
		for _, f := range schema.Fields {
			pattern := f.Pattern
			if pattern == "" {
				pattern = genericPattern(f.Name)
			}
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, err
			}
			recs = append(recs, recognizer{field: f.Name, re: re})
		}
		e.recognizers[kind] = recs
	}

	return e, nil
}

// genericPattern builds the default "<name>: <value>" recognizer, accepting
// spaces or underscores between name words.
func genericPattern(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return strings.Join(words, `[\s_]`) + `[:\s]+([^,\n]+)`
}

// Extract implements Extractor. Evaluation order follows the schema, each
// field independently; re-running on the same text yields the same map.
func (e *PatternExtractor) Extract(kind ticket.Kind, text string) map[string]string {
	fields := make(map[string]string)
	recs, ok := e.recognizers[kind]
	if !ok || strings.TrimSpace(text) == "" {
		return fields
	}

	for _, rec := range recs {
		match := rec.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		value := firstGroup(match)
		if value == "" {
			continue
		}
		fields[rec.field] = normalizeValue(rec.field, value)
	}

	logging.ExtractDebug("Extract kind=%s: %d fields from %d chars", kind, len(fields), len(text))
	return fields
}

// firstGroup returns the first non-empty capture group, trimmed. Patterns
// with alternative groups ("start date" vs "planned start date") capture
// into different positions.
func firstGroup(match []string) string {
	for _, g := range match[1:] {
		if trimmed := strings.TrimSpace(g); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func normalizeValue(field, value string) string {
	value = strings.Trim(value, " \t.\"'")
	if field == "cab_required" {
		switch strings.ToLower(value) {
		case "yes", "true":
			return "true"
		default:
			return "false"
		}
	}
	return value
}

// =============================================================================
// INTENT CLASSIFICATION
// =============================================================================

// ClassifyIntent implements Extractor with a keyword rule table mirroring
// the creation/lookup phrasing the agent is asked to handle. Rules are
// ordered from most to least specific.
func (e *PatternExtractor) ClassifyIntent(text string) Intent {
	lower := strings.ToLower(text)
	number := firstTicketNumber(text)

	switch {
	case containsAny(lower, "reschedule", "move the change", "change the window", "new window"):
		if chg := firstChangeNumber(text); chg != "" {
			return Intent{Kind: IntentReschedule, TicketKind: ticket.KindReschedule, TicketNumber: chg}
		}
		if containsAny(lower, "reschedule") {
			return Intent{Kind: IntentReschedule, TicketKind: ticket.KindReschedule}
		}

	case containsAny(lower, "conflict", "conflicts", "clashes with"):
		return Intent{Kind: IntentConflictCheck, TicketNumber: firstChangeNumber(text)}

	case containsAny(lower, "resolution", "resolution steps", "how to fix", "how do i fix", "troubleshoot"):
		return Intent{Kind: IntentResolutionLookup, TicketNumber: number}

	case containsAny(lower, "status of", "state of", "what is the status", "lookup", "look up") && number != "":
		return Intent{Kind: IntentStatusLookup, TicketNumber: number}

	case isChangeCreation(lower):
		return Intent{Kind: IntentCreate, TicketKind: ticket.KindChangeRequest}

	case isIncidentCreation(lower):
		return Intent{Kind: IntentCreate, TicketKind: ticket.KindIncident}

	case number != "":
		// A bare ticket number reads as a status question.
		return Intent{Kind: IntentStatusLookup, TicketNumber: number}
	}

	return Intent{Kind: IntentUnknown}
}

func isChangeCreation(lower string) bool {
	if strings.Contains(lower, "change request") && containsAny(lower, "create", "raise", "open", "submit", "need") {
		return true
	}
	// Maintenance phrasing implies a change request even without the word.
	return containsAny(lower, "database maintenance", "scheduled maintenance", "maintenance window")
}

func isIncidentCreation(lower string) bool {
	return strings.Contains(lower, "incident") && containsAny(lower, "create", "raise", "open", "report", "log")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstTicketNumber(text string) string {
	if m := ticketNumberRe.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

func firstChangeNumber(text string) string {
	if m := changeNumberRe.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}
