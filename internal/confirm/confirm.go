// Package confirm interprets a user reply against a pending draft. The
// outcome is always one of confirm, modify, cancel, or unclear; the parser
// never errors.
package confirm

import (
	"regexp"
	"strings"

	"github.com/akshay-eng/ITSM-agent/internal/logging"
	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// IntentKind classifies a confirmation reply.
type IntentKind string

const (
	IntentConfirm IntentKind = "confirm"
	IntentModify  IntentKind = "modify"
	IntentCancel  IntentKind = "cancel"
	IntentUnclear IntentKind = "unclear"
)

// Modification is one requested field change.
type Modification struct {
	Field    string
	NewValue string
}

// Delta is the parsed outcome of a confirmation reply.
type Delta struct {
	Intent        IntentKind
	Modifications []Modification // Set when Intent == IntentModify
}

// Parser parses confirmation replies against a draft's schema.
type Parser struct {
	registry *ticket.Registry
}

// NewParser creates a confirmation parser.
func NewParser(registry *ticket.Registry) *Parser {
	return &Parser{registry: registry}
}

var (
	confirmPhrases = []string{
		"yes", "yep", "yeah", "ok", "okay", "proceed", "create it",
		"go ahead", "confirm", "confirmed", "approved", "looks good",
		"do it", "sounds good", "correct",
	}
	cancelPhrases = []string{
		"cancel", "abort", "never mind", "nevermind", "don't create",
		"do not create", "stop", "forget it", "drop it",
	}

	// "change <field> to <value>", "set <field> = <value>",
	// "update <field>: <value>", "make <field> <value>".
	// The field segment is resolved against the schema afterwards, so the
	// grab here is deliberately loose.
	modifyRe = regexp.MustCompile(`(?i)(?:change|set|make|update)\s+(?:the\s+)?([a-z][a-z_ ]{0,40}?)\s*(?:to|=|:|is|be)\s+([^,\n;]+)`)

	// A conjunction followed by a modify verb starts a new clause. Without
	// this boundary the value capture above swallows "and set impact to 1"
	// into the previous value.
	clauseBreakRe = regexp.MustCompile(`(?i)\s+(?:and|then)\s+((?:change|set|make|update)\b)`)
)

// Parse interprets reply against the pending draft. Unknown field names in a
// modify attempt are dropped silently; if every attempted field is unknown
// the reply is unclear, not a modification of nothing.
func (p *Parser) Parse(draft *ticket.Draft, reply string) Delta {
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return Delta{Intent: IntentUnclear}
	}
	lower := strings.ToLower(trimmed)

	// Modifications are checked before bare confirmations: "ok but change
	// priority to 2" is a modify, not a confirm.
	if mods := p.parseModifications(draft, trimmed); len(mods) > 0 {
		logging.Confirm("Parsed %d modification(s) for draft %s", len(mods), draft.RevisionID)
		return Delta{Intent: IntentModify, Modifications: mods}
	}

	for _, phrase := range cancelPhrases {
		if matchesPhrase(lower, phrase) {
			return Delta{Intent: IntentCancel}
		}
	}

	for _, phrase := range confirmPhrases {
		if matchesPhrase(lower, phrase) {
			return Delta{Intent: IntentConfirm}
		}
	}

	return Delta{Intent: IntentUnclear}
}

// parseModifications collects every "(change|set|update) <field> to <value>"
// clause in the reply. Field names resolve case-insensitively through the
// schema's synonym table.
func (p *Parser) parseModifications(draft *ticket.Draft, reply string) []Modification {
	schema, err := p.registry.Schema(draft.Kind)
	if err != nil {
		return nil
	}

	var mods []Modification
	seen := make(map[string]int)

	// "and"-joined clauses get separated before matching so each one
	// captures its own value.
	reply = clauseBreakRe.ReplaceAllString(reply, "\n$1")

	for _, match := range modifyRe.FindAllStringSubmatch(reply, -1) {
		rawField := strings.TrimSpace(match[1])
		rawValue := strings.Trim(strings.TrimSpace(match[2]), `."'`)
		if rawValue == "" {
			continue
		}

		field := schema.ResolveField(rawField)
		if field == "" {
			// Loose grabs pick up trailing words ("change the priority"
			// from "change the priority of it"); retry with suffixes
			// stripped word by word.
			field = resolveShrinking(schema, rawField)
		}
		if field == "" {
			logging.Confirm("Dropping modification for unknown field %q", rawField)
			continue
		}

		value := rawValue
		if spec := schema.Field(field); spec != nil && field == "cab_required" {
			switch strings.ToLower(value) {
			case "yes", "true":
				value = "true"
			default:
				value = "false"
			}
		}

		// Last mention of a field wins within one reply.
		if idx, dup := seen[field]; dup {
			mods[idx].NewValue = value
			continue
		}
		seen[field] = len(mods)
		mods = append(mods, Modification{Field: field, NewValue: value})
	}

	return mods
}

// resolveShrinking drops trailing words from a loose field grab until the
// schema recognizes it.
func resolveShrinking(schema *ticket.Schema, raw string) string {
	words := strings.Fields(raw)
	for len(words) > 1 {
		words = words[:len(words)-1]
		if field := schema.ResolveField(strings.Join(words, " ")); field != "" {
			return field
		}
	}
	return ""
}

// matchesPhrase requires the phrase to appear as a whole word sequence, so
// "okay" in "not okay at all" still matches but "no" inside "know" does not.
func matchesPhrase(lower, phrase string) bool {
	idx := strings.Index(lower, phrase)
	if idx < 0 {
		return false
	}
	before := idx == 0 || !isWordChar(lower[idx-1])
	afterIdx := idx + len(phrase)
	after := afterIdx >= len(lower) || !isWordChar(lower[afterIdx])
	return before && after
}

func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
