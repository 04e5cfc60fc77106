// Package router is the conversational state machine. It classifies each
// utterance, drives the draft through gathering and confirmation, and is the
// only place that may ask the dispatcher to mutate the backend.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/akshay-eng/ITSM-agent/internal/confirm"
	"github.com/akshay-eng/ITSM-agent/internal/execution"
	"github.com/akshay-eng/ITSM-agent/internal/extract"
	"github.com/akshay-eng/ITSM-agent/internal/logging"
	"github.com/akshay-eng/ITSM-agent/internal/merge"
	"github.com/akshay-eng/ITSM-agent/internal/retrieval"
	"github.com/akshay-eng/ITSM-agent/internal/session"
	"github.com/akshay-eng/ITSM-agent/internal/snow"
	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// =============================================================================
// ROUTER
// =============================================================================

// Config wires the router's collaborators.
type Config struct {
	Registry   *ticket.Registry
	Extractor  extract.Extractor
	Merger     *merge.Merger
	Confirmer  *confirm.Parser
	Gateway    retrieval.Gateway // optional; nil means no historical reference
	Dispatcher *execution.Dispatcher
	Sessions   *session.Store

	// TopK bounds the similar-record lookup per draft.
	TopK int
}

// Router drives conversations. Safe for concurrent use; turns on the same
// session serialize through the session store.
type Router struct {
	registry   *ticket.Registry
	extractor  extract.Extractor
	merger     *merge.Merger
	confirmer  *confirm.Parser
	gateway    retrieval.Gateway
	dispatcher *execution.Dispatcher
	sessions   *session.Store
	topK       int
}

// New creates a router.
func New(cfg Config) (*Router, error) {
	if cfg.Registry == nil || cfg.Extractor == nil || cfg.Merger == nil || cfg.Confirmer == nil {
		return nil, fmt.Errorf("router requires registry, extractor, merger, and confirmer")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("router requires a session store")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	return &Router{
		registry:   cfg.Registry,
		extractor:  cfg.Extractor,
		merger:     cfg.Merger,
		confirmer:  cfg.Confirmer,
		gateway:    cfg.Gateway,
		dispatcher: cfg.Dispatcher,
		sessions:   cfg.Sessions,
		topK:       topK,
	}, nil
}

// Handle processes one utterance for a session and returns the agent reply.
// An error return means an internal fault; operational failures (backend
// down, ticket not found) come back as part of the reply.
func (r *Router) Handle(ctx context.Context, sessionID, text string, att *ticket.Attachment) (string, error) {
	timer := logging.StartTimer(logging.CategoryRouter, "Handle")
	defer timer.Stop()

	var reply string
	err := r.sessions.With(sessionID, func(s *session.Session) error {
		s.AddTurn("user", text)
		if att != nil {
			s.Attachment = att
			logging.Router("Session %s holding attachment %s (%d bytes)", sessionID, att.Filename, len(att.Content))
		}

		var err error
		reply, err = r.handleTurn(ctx, s, text)
		if err != nil {
			return err
		}
		s.AddTurn("agent", reply)
		return nil
	})
	return reply, err
}

func (r *Router) handleTurn(ctx context.Context, s *session.Session, text string) (string, error) {
	logging.RouterDebug("Session %s phase=%s: %q", s.ID, s.Phase, text)

	switch s.Phase {
	case session.PhaseAwaitingConfirmation, session.PhaseExecuting:
		return r.handleConfirmation(ctx, s, text)
	case session.PhaseGathering:
		return r.handleGathering(ctx, s, text)
	default:
		return r.handleIdle(ctx, s, text)
	}
}

// ---------------------------------------------------------------------------
// Idle: classify and start something
// ---------------------------------------------------------------------------

func (r *Router) handleIdle(ctx context.Context, s *session.Session, text string) (string, error) {
	intent := r.extractor.ClassifyIntent(text)
	logging.Router("Session %s intent=%s kind=%s ticket=%s", s.ID, intent.Kind, intent.TicketKind, intent.TicketNumber)

	switch intent.Kind {
	case extract.IntentCreate:
		return r.startDraft(ctx, s, intent.TicketKind, text)
	case extract.IntentReschedule:
		return r.startReschedule(ctx, s, intent, text)
	case extract.IntentStatusLookup:
		return r.lookupStatus(ctx, intent.TicketNumber)
	case extract.IntentResolutionLookup:
		return r.lookupResolution(ctx, intent.TicketNumber)
	case extract.IntentConflictCheck:
		return r.checkConflicts(ctx, intent.TicketNumber)
	default:
		return "I can create incidents and change requests, reschedule changes, check ticket status or resolution, and check change schedules for conflicts. What do you need?", nil
	}
}

func (r *Router) startDraft(ctx context.Context, s *session.Session, kind ticket.Kind, text string) (string, error) {
	schema, err := r.registry.Schema(kind)
	if err != nil {
		return "", err
	}

	userFields := r.extractor.Extract(kind, text)
	hits, noHistory := r.retrieve(ctx, kind, text)

	draft, err := r.merger.Merge(kind, userFields, hits)
	if err != nil {
		return "", err
	}
	s.Draft = draft

	if missing := draft.MissingRequired(schema); len(missing) > 0 {
		s.Phase = session.PhaseGathering
		return gatheringPrompt(kind, missing), nil
	}
	return r.propose(s, schema, noHistory), nil
}

func (r *Router) startReschedule(ctx context.Context, s *session.Session, intent extract.Intent, text string) (string, error) {
	schema, err := r.registry.Schema(ticket.KindReschedule)
	if err != nil {
		return "", err
	}

	userFields := r.extractor.Extract(ticket.KindReschedule, text)
	if userFields["ticket_number"] == "" && intent.TicketNumber != "" {
		userFields["ticket_number"] = intent.TicketNumber
	}

	draft, err := r.merger.Merge(ticket.KindReschedule, userFields, nil)
	if err != nil {
		return "", err
	}
	s.Draft = draft
	s.PendingTicket = draft.Value("ticket_number")

	if missing := draft.MissingRequired(schema); len(missing) > 0 {
		s.Phase = session.PhaseGathering
		return gatheringPrompt(ticket.KindReschedule, missing), nil
	}
	return r.propose(s, schema, false), nil
}

// retrieve runs the similarity search, tolerating an unavailable gateway.
// The second return reports whether historical reference was unavailable.
func (r *Router) retrieve(ctx context.Context, kind ticket.Kind, query string) ([]retrieval.Hit, bool) {
	if r.gateway == nil {
		return nil, true
	}
	result, err := r.gateway.Search(ctx, kind, query, r.topK)
	if err != nil {
		if !errors.Is(err, retrieval.ErrUnavailable) {
			logging.Get(logging.CategoryRouter).Error("Retrieval failed: %v", err)
		}
		return nil, true
	}
	return result.Hits, false
}

// ---------------------------------------------------------------------------
// Gathering: collect missing required fields
// ---------------------------------------------------------------------------

func (r *Router) handleGathering(ctx context.Context, s *session.Session, text string) (string, error) {
	if s.Draft == nil {
		s.ClearDraft()
		return r.handleIdle(ctx, s, text)
	}

	// Cancellation works mid-gathering too.
	if delta := r.confirmer.Parse(s.Draft, text); delta.Intent == confirm.IntentCancel {
		s.ClearDraft()
		return "Okay, I've discarded that draft. Let me know if you need anything else.", nil
	}

	// A read-only question mid-gathering gets answered without touching
	// the draft.
	if intent := r.extractor.ClassifyIntent(text); !intent.Mutating() && intent.TicketNumber != "" {
		switch intent.Kind {
		case extract.IntentStatusLookup:
			return r.lookupStatus(ctx, intent.TicketNumber)
		case extract.IntentResolutionLookup:
			return r.lookupResolution(ctx, intent.TicketNumber)
		case extract.IntentConflictCheck:
			return r.checkConflicts(ctx, intent.TicketNumber)
		}
	}

	schema, err := r.registry.Schema(s.Draft.Kind)
	if err != nil {
		return "", err
	}

	fields := r.extractor.Extract(s.Draft.Kind, text)
	if len(fields) == 0 {
		// Free text while exactly one field is missing is taken as its
		// value, so "the DB server is down" answers "what description?".
		if missing := s.Draft.MissingRequired(schema); len(missing) == 1 && strings.TrimSpace(text) != "" {
			fields = map[string]string{missing[0]: strings.TrimSpace(text)}
		}
	}

	if len(fields) > 0 {
		updates := make(map[string]ticket.FieldValue, len(fields))
		for name, value := range fields {
			updates[name] = ticket.FieldValue{Value: value, Provenance: ticket.ProvenanceUser}
		}
		s.Draft = s.Draft.WithFields(updates)
		if s.Draft.Kind == ticket.KindReschedule {
			s.PendingTicket = s.Draft.Value("ticket_number")
		}
	}

	if missing := s.Draft.MissingRequired(schema); len(missing) > 0 {
		return gatheringPrompt(s.Draft.Kind, missing), nil
	}
	return r.propose(s, schema, false), nil
}

// ---------------------------------------------------------------------------
// Awaiting confirmation: confirm / modify / cancel / unclear
// ---------------------------------------------------------------------------

func (r *Router) handleConfirmation(ctx context.Context, s *session.Session, text string) (string, error) {
	if s.Draft == nil {
		s.ClearDraft()
		return r.handleIdle(ctx, s, text)
	}

	delta := r.confirmer.Parse(s.Draft, text)
	logging.Router("Session %s confirmation verdict: %s", s.ID, delta.Intent)

	switch delta.Intent {
	case confirm.IntentConfirm:
		return r.execute(ctx, s)

	case confirm.IntentModify:
		s.Draft = r.merger.ApplyDelta(s.Draft, delta)
		schema, err := r.registry.Schema(s.Draft.Kind)
		if err != nil {
			return "", err
		}
		if missing := s.Draft.MissingRequired(schema); len(missing) > 0 {
			s.Phase = session.PhaseGathering
			return gatheringPrompt(s.Draft.Kind, missing), nil
		}
		return r.propose(s, schema, false), nil

	case confirm.IntentCancel:
		s.ClearDraft()
		return "Okay, nothing was submitted and the draft is discarded.", nil

	default:
		// The stored proposal is re-emitted untouched; no re-extraction,
		// no new retrieval.
		return "I didn't understand that. Please reply \"confirm\", \"cancel\", or ask me to change a field.\n\n" + s.Proposal, nil
	}
}

// execute dispatches the confirmed draft exactly once per revision.
func (r *Router) execute(ctx context.Context, s *session.Session) (string, error) {
	if r.dispatcher == nil {
		return "Ticket execution is not configured on this deployment, so I can't submit this draft.", nil
	}
	if s.WasExecuted(s.Draft.RevisionID) {
		return "This draft has already been submitted. Start a new request if you need another ticket.", nil
	}

	s.Phase = session.PhaseExecuting
	draft := s.Draft

	var result ticket.ExecutionResult
	var err error
	if draft.Kind == ticket.KindReschedule {
		result, err = r.dispatcher.Reschedule(ctx, draft.Value("ticket_number"), draft.Value("planned_start_date"), draft.Value("planned_end_date"))
	} else {
		result, err = r.dispatcher.Execute(ctx, draft)
	}
	if err != nil {
		// The draft survives; the user can retry, modify, or cancel.
		s.Phase = session.PhaseAwaitingConfirmation
		logging.Get(logging.CategoryRouter).Error("Session %s execution failed: %v", s.ID, err)
		return fmt.Sprintf("I couldn't submit this to the ticketing system: %v\nYour draft is unchanged. Reply \"confirm\" to retry, or \"cancel\" to discard it.", err), nil
	}
	s.MarkExecuted(draft.RevisionID)

	var b strings.Builder
	if draft.Kind == ticket.KindReschedule {
		fmt.Fprintf(&b, "%s has been rescheduled to %s - %s.", result.ID, draft.Value("planned_start_date"), draft.Value("planned_end_date"))
	} else {
		fmt.Fprintf(&b, "Created %s.", result.ID)
	}

	if s.Attachment != nil && result.SysID != "" {
		if err := r.dispatcher.Attach(ctx, draft.Kind, result.SysID, *s.Attachment); err != nil {
			fmt.Fprintf(&b, "\nNote: the attachment %q could not be uploaded: %v", s.Attachment.Filename, err)
		} else {
			fmt.Fprintf(&b, "\nAttachment %q uploaded.", s.Attachment.Filename)
		}
	}

	// A fresh change request gets an immediate schedule check, best effort.
	if draft.Kind == ticket.KindChangeRequest {
		ci := draft.Value("configuration_item")
		start, end := draft.Value("planned_start_date"), draft.Value("planned_end_date")
		if ci != "" && start != "" && end != "" {
			conflicts, cerr := r.dispatcher.ConflictCheck(ctx, ci, start, end, result.ID)
			switch {
			case cerr != nil:
				logging.RouterDebug("Post-create conflict check failed: %v", cerr)
			case len(conflicts) > 0:
				fmt.Fprintf(&b, "\nHeads up: %d other change(s) overlap this window on %s:", len(conflicts), ci)
				for _, c := range conflicts {
					fmt.Fprintf(&b, "\n- %s (%s to %s): %s", c.Number, c.StartDate, c.EndDate, c.ShortDescription)
				}
				writeSlotSuggestions(&b, conflicts, start, end)
				b.WriteString("\nYou can reschedule with e.g. \"reschedule " + result.ID + " to <new window>\".")
			default:
				b.WriteString("\nNo schedule conflicts on " + ci + " for this window.")
			}
		}
	}

	s.ClearDraft()
	return b.String(), nil
}

// ---------------------------------------------------------------------------
// Read-only operations
// ---------------------------------------------------------------------------

func (r *Router) lookupStatus(ctx context.Context, number string) (string, error) {
	if r.dispatcher == nil {
		return "Ticket lookups are not configured on this deployment.", nil
	}
	if number == "" {
		return "Which ticket? Give me its number, e.g. INC0012345 or CHG0031337.", nil
	}
	st, err := r.dispatcher.StatusLookup(ctx, number)
	if err != nil {
		return fmt.Sprintf("I couldn't look up %s: %v", number, err), nil
	}
	reply := fmt.Sprintf("%s is %s", st.Number, orUnknown(st.State))
	if st.AssignedTo != "" {
		reply += ", assigned to " + st.AssignedTo
	}
	if st.ShortDescription != "" {
		reply += fmt.Sprintf(" (%s)", st.ShortDescription)
	}
	if st.UpdatedAt != "" {
		reply += ", last updated " + st.UpdatedAt
	}
	return reply + ".", nil
}

func (r *Router) lookupResolution(ctx context.Context, number string) (string, error) {
	if r.dispatcher == nil {
		return "Ticket lookups are not configured on this deployment.", nil
	}
	if number == "" {
		return "Which ticket? Give me its number, e.g. INC0012345.", nil
	}
	res, err := r.dispatcher.ResolutionLookup(ctx, number)
	if err != nil {
		return fmt.Sprintf("I couldn't look up %s: %v", number, err), nil
	}
	if res.CloseNotes == "" && res.CloseCode == "" {
		return fmt.Sprintf("%s is %s and has no resolution recorded yet.", res.Number, orUnknown(res.State)), nil
	}
	reply := fmt.Sprintf("%s was resolved", res.Number)
	if res.CloseCode != "" {
		reply += " (" + res.CloseCode + ")"
	}
	if res.CloseNotes != "" {
		reply += ": " + res.CloseNotes
	}
	return reply, nil
}

func (r *Router) checkConflicts(ctx context.Context, number string) (string, error) {
	if r.dispatcher == nil {
		return "Ticket lookups are not configured on this deployment.", nil
	}
	if number == "" {
		return "Which change should I check? Give me its number, e.g. CHG0031337.", nil
	}
	conflicts, start, end, err := r.dispatcher.ConflictCheckChange(ctx, number)
	if err != nil {
		return fmt.Sprintf("I couldn't check conflicts for %s: %v", number, err), nil
	}
	window := start + " to " + end
	if len(conflicts) == 0 {
		return fmt.Sprintf("No conflicts: %s has a clear schedule (%s).", number, window), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d change(s) conflict with %s's window (%s):", len(conflicts), number, window)
	for _, c := range conflicts {
		fmt.Fprintf(&b, "\n- %s (%s to %s): %s", c.Number, c.StartDate, c.EndDate, c.ShortDescription)
	}
	writeSlotSuggestions(&b, conflicts, start, end)
	fmt.Fprintf(&b, "\nYou can reschedule with e.g. \"reschedule %s to <new window>\".", number)
	return b.String(), nil
}

// writeSlotSuggestions appends free alternative windows, when any can be
// computed from the known conflicts.
func writeSlotSuggestions(b *strings.Builder, conflicts []snow.Conflict, start, end string) {
	slots := execution.SuggestSlots(conflicts, start, end, 3)
	if len(slots) == 0 {
		return
	}
	b.WriteString("\nFree alternative windows:")
	for i, slot := range slots {
		fmt.Fprintf(b, "\n%d. %s to %s", i+1, slot.Start, slot.End)
	}
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// propose renders and stores the confirmation prompt for the current draft.
func (r *Router) propose(s *session.Session, schema *ticket.Schema, noHistory bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here's the %s I'm ready to submit:\n", kindLabel(s.Draft.Kind))
	b.WriteString(s.Draft.Summary(schema))
	if noHistory && s.Draft.Kind != ticket.KindReschedule {
		b.WriteString("\n\nNote: no historical reference data was available, so defaults were used where you didn't specify a value.")
	}
	b.WriteString("\n\nReply \"confirm\" to submit, \"change <field> to <value>\" to adjust, or \"cancel\" to discard.")

	s.Proposal = b.String()
	s.Phase = session.PhaseAwaitingConfirmation
	return s.Proposal
}

func gatheringPrompt(kind ticket.Kind, missing []string) string {
	labels := make([]string, len(missing))
	for i, name := range missing {
		labels[i] = strings.ReplaceAll(name, "_", " ")
	}
	return fmt.Sprintf("To draft this %s I still need: %s.", kindLabel(kind), strings.Join(labels, ", "))
}

func kindLabel(kind ticket.Kind) string {
	switch kind {
	case ticket.KindIncident:
		return "incident"
	case ticket.KindChangeRequest:
		return "change request"
	case ticket.KindReschedule:
		return "reschedule"
	default:
		return string(kind)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "in an unknown state"
	}
	return s
}
