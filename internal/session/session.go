// Package session holds per-conversation state: the lifecycle phase, the
// current draft, the pending proposal, and a bounded turn history.
package session

import (
	"time"

	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// Phase is the lifecycle phase of a conversation.
type Phase string

const (
	// PhaseIdle: no draft in progress.
	PhaseIdle Phase = "idle"
	// PhaseGathering: a draft exists but required fields are missing.
	PhaseGathering Phase = "gathering"
	// PhaseAwaitingConfirmation: a complete draft was proposed and the
	// session is waiting for the user's verdict.
	PhaseAwaitingConfirmation Phase = "awaiting_confirmation"
	// PhaseExecuting: the confirmed draft is being handed to the backend.
	// Transient; a session is never left in this phase between turns.
	PhaseExecuting Phase = "executing"
)

// Turn is one exchange entry in a session's history.
type Turn struct {
	Role string    `json:"role"` // "user" or "agent"
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session is the mutable state of one conversation. All access goes through
// Store, which serializes turns on the same session.
type Session struct {
	ID    string
	Phase Phase

	// Draft is the current draft revision, nil when idle.
	Draft *ticket.Draft

	// Proposal is the exact text of the pending confirmation prompt, kept
	// so an unclear reply re-emits it verbatim instead of recomputing it.
	Proposal string

	// PendingIntent records what a confirmation would execute, e.g. a
	// reschedule keeps its ticket number here.
	PendingTicket string

	// Attachment waits here until the ticket exists, then gets uploaded.
	Attachment *ticket.Attachment

	// Executed revision IDs. A revision that already reached the backend
	// is never dispatched again.
	Executed map[string]bool

	History    []Turn
	CreatedAt  time.Time
	LastActive time.Time

	historyLimit int
}

// AddTurn appends a history entry, discarding the oldest entries beyond the
// configured limit.
func (s *Session) AddTurn(role, text string) {
	s.History = append(s.History, Turn{Role: role, Text: text, At: time.Now()})
	if s.historyLimit > 0 && len(s.History) > s.historyLimit {
		s.History = append([]Turn(nil), s.History[len(s.History)-s.historyLimit:]...)
	}
}

// MarkExecuted records that a draft revision reached the backend.
func (s *Session) MarkExecuted(revisionID string) {
	if s.Executed == nil {
		s.Executed = make(map[string]bool)
	}
	s.Executed[revisionID] = true
}

// WasExecuted reports whether a draft revision already reached the backend.
func (s *Session) WasExecuted(revisionID string) bool {
	return s.Executed[revisionID]
}

// ClearDraft drops the draft, proposal, and pending attachment, returning
// the session to idle. The turn history survives.
func (s *Session) ClearDraft() {
	s.Draft = nil
	s.Proposal = ""
	s.PendingTicket = ""
	s.Attachment = nil
	s.Phase = PhaseIdle
}
