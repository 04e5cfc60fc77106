package router

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/akshay-eng/ITSM-agent/internal/confirm"
	"github.com/akshay-eng/ITSM-agent/internal/execution"
	"github.com/akshay-eng/ITSM-agent/internal/extract"
	"github.com/akshay-eng/ITSM-agent/internal/merge"
	"github.com/akshay-eng/ITSM-agent/internal/retrieval"
	"github.com/akshay-eng/ITSM-agent/internal/session"
	"github.com/akshay-eng/ITSM-agent/internal/snow"
	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// fakeAdapter is an in-memory execution.Adapter recording every call.
type fakeAdapter struct {
	createCalls  int
	createErr    error
	createResult ticket.ExecutionResult
	lastKind     ticket.Kind
	lastFields   map[string]string

	attachCalls []string
	attachErr   error

	record    snow.Record
	recordErr error

	conflicts    []snow.Conflict
	conflictsErr error

	rescheduleCalls int
	rescheduleErr   error
	lastRescheduled string
	lastWindowStart string
	lastWindowEnd   string
}

func (f *fakeAdapter) CreateTicket(ctx context.Context, kind ticket.Kind, fields map[string]string) (ticket.ExecutionResult, error) {
	f.createCalls++
	f.lastKind = kind
	f.lastFields = fields
	if f.createErr != nil {
		return ticket.ExecutionResult{}, f.createErr
	}
	return f.createResult, nil
}

func (f *fakeAdapter) Attach(ctx context.Context, kind ticket.Kind, sysID string, att ticket.Attachment) error {
	f.attachCalls = append(f.attachCalls, att.Filename)
	return f.attachErr
}

func (f *fakeAdapter) GetTicket(ctx context.Context, number string) (snow.Record, error) {
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	if f.record == nil {
		return nil, fmt.Errorf("ticket %s not found", number)
	}
	return f.record, nil
}

func (f *fakeAdapter) CheckConflicts(ctx context.Context, ci, start, end, excludeNumber string) ([]snow.Conflict, error) {
	return f.conflicts, f.conflictsErr
}

func (f *fakeAdapter) Reschedule(ctx context.Context, number, newStart, newEnd string) (ticket.ExecutionResult, error) {
	f.rescheduleCalls++
	f.lastRescheduled = number
	f.lastWindowStart = newStart
	f.lastWindowEnd = newEnd
	if f.rescheduleErr != nil {
		return ticket.ExecutionResult{}, f.rescheduleErr
	}
	return ticket.ExecutionResult{ID: number, SysID: "sys-chg", Status: "Scheduled"}, nil
}

// recordingGateway counts searches so tests can assert no re-retrieval
// happened on re-presented proposals.
type recordingGateway struct {
	calls int
	hits  []retrieval.Hit
}

func (g *recordingGateway) Search(ctx context.Context, kind ticket.Kind, query string, topK int) (retrieval.Result, error) {
	g.calls++
	return retrieval.Result{Hits: g.hits}, nil
}

type env struct {
	router *Router
	store  *session.Store
}

func newEnv(t *testing.T, fa *fakeAdapter, gw *recordingGateway) *env {
	t.Helper()

	registry := ticket.NewRegistry()
	extractor, err := extract.NewPatternExtractor(registry)
	if err != nil {
		t.Fatalf("NewPatternExtractor() error = %v", err)
	}

	cfg := Config{
		Registry:  registry,
		Extractor: extractor,
		Merger:    merge.NewMerger(registry),
		Confirmer: confirm.NewParser(registry),
		Sessions:  session.NewStore(session.DefaultConfig()),
	}
	if fa != nil {
		cfg.Dispatcher = execution.NewDispatcher(fa)
	}
	if gw != nil {
		cfg.Gateway = gw
	}

	rt, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &env{router: rt, store: cfg.Sessions}
}

func (e *env) say(t *testing.T, sessionID, text string) string {
	t.Helper()
	reply, err := e.router.Handle(context.Background(), sessionID, text, nil)
	if err != nil {
		t.Fatalf("Handle(%q) error = %v", text, err)
	}
	return reply
}

func (e *env) phase(t *testing.T, sessionID string) session.Phase {
	t.Helper()
	snap, ok := e.store.Snapshot(sessionID)
	if !ok {
		t.Fatalf("session %s does not exist", sessionID)
	}
	return snap.Phase
}

const incidentUtterance = "Create an incident, description: database server down, priority: 1, impact: 1"

func TestUnknownIntentGetsHelp(t *testing.T) {
	e := newEnv(t, &fakeAdapter{}, nil)

	reply := e.say(t, "s1", "good morning")
	if !strings.Contains(reply, "I can create incidents and change requests") {
		t.Errorf("reply = %q, want capability summary", reply)
	}
	if got := e.phase(t, "s1"); got != session.PhaseIdle {
		t.Errorf("phase = %s, want idle", got)
	}
}

func TestIncidentCreateAndConfirm(t *testing.T) {
	fa := &fakeAdapter{createResult: ticket.ExecutionResult{ID: "INC0012345", SysID: "sys-inc", Status: "New"}}
	e := newEnv(t, fa, nil)

	reply := e.say(t, "s1", incidentUtterance)
	if !strings.Contains(reply, "Here's the incident I'm ready to submit:") {
		t.Fatalf("reply = %q, want proposal", reply)
	}
	if got := e.phase(t, "s1"); got != session.PhaseAwaitingConfirmation {
		t.Fatalf("phase = %s, want awaiting_confirmation", got)
	}
	if fa.createCalls != 0 {
		t.Fatalf("createCalls before confirmation = %d, want 0", fa.createCalls)
	}

	reply = e.say(t, "s1", "confirm")
	if !strings.Contains(reply, "Created INC0012345.") {
		t.Errorf("reply = %q, want creation confirmation", reply)
	}
	if fa.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", fa.createCalls)
	}
	if fa.lastKind != ticket.KindIncident {
		t.Errorf("kind = %s, want incident", fa.lastKind)
	}
	if fa.lastFields["description"] != "database server down" {
		t.Errorf("description = %q", fa.lastFields["description"])
	}
	if fa.lastFields["priority"] != "1" {
		t.Errorf("priority = %q, want 1", fa.lastFields["priority"])
	}
	if got := e.phase(t, "s1"); got != session.PhaseIdle {
		t.Errorf("phase after execution = %s, want idle", got)
	}
}

func TestGatheringFreeTextFillsSingleMissingField(t *testing.T) {
	fa := &fakeAdapter{createResult: ticket.ExecutionResult{ID: "INC0012346", SysID: "sys-inc"}}
	e := newEnv(t, fa, nil)

	reply := e.say(t, "s1", "please open an incident")
	if reply != "To draft this incident I still need: description." {
		t.Fatalf("reply = %q, want gathering prompt for description", reply)
	}
	if got := e.phase(t, "s1"); got != session.PhaseGathering {
		t.Fatalf("phase = %s, want gathering", got)
	}

	reply = e.say(t, "s1", "the payroll database is unreachable")
	if !strings.Contains(reply, "Here's the incident I'm ready to submit:") {
		t.Fatalf("reply = %q, want proposal after free-text answer", reply)
	}
	if !strings.Contains(reply, "description: the payroll database is unreachable") {
		t.Errorf("reply = %q, want free text taken as the description", reply)
	}
}

func TestGatheringCancelDiscardsDraft(t *testing.T) {
	fa := &fakeAdapter{}
	e := newEnv(t, fa, nil)

	e.say(t, "s1", "please open an incident")
	reply := e.say(t, "s1", "never mind, cancel that")
	if !strings.Contains(reply, "discarded") {
		t.Errorf("reply = %q, want cancellation", reply)
	}
	if got := e.phase(t, "s1"); got != session.PhaseIdle {
		t.Errorf("phase = %s, want idle", got)
	}
	if fa.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0", fa.createCalls)
	}
}

func TestStatusLookupDuringGatheringLeavesDraftIntact(t *testing.T) {
	fa := &fakeAdapter{record: snow.Record{
		"number": "INC0099999", "state": "In Progress", "assigned_to": "Dana Ops",
	}}
	e := newEnv(t, fa, nil)

	e.say(t, "s1", "please open an incident")
	reply := e.say(t, "s1", "what is the status of INC0099999?")
	if !strings.Contains(reply, "INC0099999 is In Progress") {
		t.Errorf("reply = %q, want status answer", reply)
	}
	if got := e.phase(t, "s1"); got != session.PhaseGathering {
		t.Errorf("phase = %s, want gathering preserved across lookup", got)
	}

	// The interrupted draft picks up where it left off.
	reply = e.say(t, "s1", "the payroll database is unreachable")
	if !strings.Contains(reply, "Here's the incident I'm ready to submit:") {
		t.Errorf("reply = %q, want proposal", reply)
	}
}

func TestExecutionFailurePreservesDraftAndRetrySucceeds(t *testing.T) {
	fa := &fakeAdapter{
		createErr:    fmt.Errorf("503 from instance"),
		createResult: ticket.ExecutionResult{ID: "INC0012347", SysID: "sys-inc"},
	}
	e := newEnv(t, fa, nil)

	e.say(t, "s1", incidentUtterance)
	reply := e.say(t, "s1", "confirm")
	if !strings.Contains(reply, "I couldn't submit this to the ticketing system") {
		t.Fatalf("reply = %q, want failure report", reply)
	}
	if !strings.Contains(reply, "Your draft is unchanged.") {
		t.Errorf("reply = %q, want draft-preserved notice", reply)
	}
	if got := e.phase(t, "s1"); got != session.PhaseAwaitingConfirmation {
		t.Fatalf("phase = %s, want awaiting_confirmation after failure", got)
	}

	fa.createErr = nil
	reply = e.say(t, "s1", "confirm")
	if !strings.Contains(reply, "Created INC0012347.") {
		t.Errorf("reply = %q, want success on retry", reply)
	}
	if fa.createCalls != 2 {
		t.Errorf("createCalls = %d, want 2 (failed attempt plus retry)", fa.createCalls)
	}
}

func TestModifyThenConfirmExecutesModifiedRevision(t *testing.T) {
	fa := &fakeAdapter{createResult: ticket.ExecutionResult{ID: "INC0012348", SysID: "sys-inc"}}
	e := newEnv(t, fa, nil)

	e.say(t, "s1", incidentUtterance)
	reply := e.say(t, "s1", "change priority to 2")
	if !strings.Contains(reply, "priority: 2") {
		t.Fatalf("reply = %q, want re-proposal with priority 2", reply)
	}
	if fa.createCalls != 0 {
		t.Fatalf("createCalls = %d, modification must not execute", fa.createCalls)
	}

	e.say(t, "s1", "confirm")
	if fa.lastFields["priority"] != "2" {
		t.Errorf("executed priority = %q, want the modified value 2", fa.lastFields["priority"])
	}
}

func TestCancelFromConfirmation(t *testing.T) {
	fa := &fakeAdapter{}
	e := newEnv(t, fa, nil)

	e.say(t, "s1", incidentUtterance)
	reply := e.say(t, "s1", "cancel")
	if !strings.Contains(reply, "nothing was submitted") {
		t.Errorf("reply = %q, want cancellation", reply)
	}
	if fa.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0", fa.createCalls)
	}

	// With the draft gone, "confirm" is just an unrecognized request.
	reply = e.say(t, "s1", "confirm")
	if fa.createCalls != 0 {
		t.Errorf("createCalls after late confirm = %d, want 0", fa.createCalls)
	}
	if !strings.Contains(reply, "What do you need?") {
		t.Errorf("reply = %q, want help text", reply)
	}
}

func TestUnclearReemitsProposalWithoutNewRetrieval(t *testing.T) {
	gw := &recordingGateway{}
	fa := &fakeAdapter{}
	e := newEnv(t, fa, gw)

	proposal := e.say(t, "s1", incidentUtterance)
	if gw.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1 for the initial draft", gw.calls)
	}

	reply := e.say(t, "s1", "what does priority 3 mean?")
	if !strings.Contains(reply, "I didn't understand that.") {
		t.Errorf("reply = %q, want clarification request", reply)
	}
	if !strings.Contains(reply, proposal) {
		t.Errorf("reply does not re-emit the stored proposal verbatim")
	}
	if gw.calls != 1 {
		t.Errorf("gateway calls = %d, want no re-retrieval on unclear input", gw.calls)
	}
	if fa.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0", fa.createCalls)
	}
}

func TestRetrievedValuesAnnotatedAsInferred(t *testing.T) {
	gw := &recordingGateway{hits: []retrieval.Hit{
		{Score: 0.9, Record: map[string]string{"assignment_group": "Network Ops"}},
		{Score: 0.8, Record: map[string]string{"assignment_group": "Network Ops"}},
		{Score: 0.7, Record: map[string]string{"assignment_group": "Service Desk"}},
	}}
	e := newEnv(t, &fakeAdapter{}, gw)

	reply := e.say(t, "s1", "report an incident, description: switch port flapping")
	if !strings.Contains(reply, "assignment group: Network Ops (inferred from similar records)") {
		t.Errorf("reply = %q, want majority retrieved value marked inferred", reply)
	}
}

func TestNoHistoryNoteWithoutGateway(t *testing.T) {
	e := newEnv(t, &fakeAdapter{}, nil)

	reply := e.say(t, "s1", incidentUtterance)
	if !strings.Contains(reply, "no historical reference data was available") {
		t.Errorf("reply = %q, want no-history note", reply)
	}
}

func TestAttachmentUploadedAfterCreate(t *testing.T) {
	fa := &fakeAdapter{createResult: ticket.ExecutionResult{ID: "INC0012349", SysID: "sys-inc"}}
	e := newEnv(t, fa, nil)

	att := &ticket.Attachment{Filename: "error.log", Content: []byte("stack trace")}
	if _, err := e.router.Handle(context.Background(), "s1", incidentUtterance, att); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if fa.attachCalls != nil {
		t.Fatalf("attachment uploaded before the ticket exists")
	}

	reply := e.say(t, "s1", "confirm")
	if !strings.Contains(reply, `Attachment "error.log" uploaded.`) {
		t.Errorf("reply = %q, want attachment confirmation", reply)
	}
	if len(fa.attachCalls) != 1 || fa.attachCalls[0] != "error.log" {
		t.Errorf("attachCalls = %v", fa.attachCalls)
	}
}

func TestAttachmentFailureDoesNotUndoCreation(t *testing.T) {
	fa := &fakeAdapter{
		createResult: ticket.ExecutionResult{ID: "INC0012350", SysID: "sys-inc"},
		attachErr:    fmt.Errorf("attachment API disabled"),
	}
	e := newEnv(t, fa, nil)

	att := &ticket.Attachment{Filename: "error.log", Content: []byte("x")}
	if _, err := e.router.Handle(context.Background(), "s1", incidentUtterance, att); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	reply := e.say(t, "s1", "confirm")

	if !strings.Contains(reply, "Created INC0012350.") {
		t.Errorf("reply = %q, want creation despite attachment failure", reply)
	}
	if !strings.Contains(reply, "could not be uploaded") {
		t.Errorf("reply = %q, want upload failure noted", reply)
	}
}

const changeUtterance = "We need to schedule database maintenance, description: patch payroll db, configuration item: srv-db-01, start date: 2026-09-06 02:00:00, end date: 2026-09-06 04:00:00"

func TestChangeRequestPostCreateConflictWarning(t *testing.T) {
	fa := &fakeAdapter{
		createResult: ticket.ExecutionResult{ID: "CHG0031337", SysID: "sys-chg"},
		conflicts: []snow.Conflict{{
			Number:           "CHG0020001",
			ShortDescription: "os patching",
			StartDate:        "2026-09-06 01:00:00",
			EndDate:          "2026-09-06 03:00:00",
		}},
	}
	e := newEnv(t, fa, nil)

	reply := e.say(t, "s1", changeUtterance)
	if !strings.Contains(reply, "Here's the change request I'm ready to submit:") {
		t.Fatalf("reply = %q, want change request proposal", reply)
	}

	reply = e.say(t, "s1", "confirm")
	if !strings.Contains(reply, "Created CHG0031337.") {
		t.Errorf("reply = %q, want creation", reply)
	}
	if !strings.Contains(reply, "Heads up: 1 other change(s) overlap this window on srv-db-01:") {
		t.Errorf("reply = %q, want conflict warning", reply)
	}
	if !strings.Contains(reply, "CHG0020001") {
		t.Errorf("reply = %q, want conflicting change listed", reply)
	}
	// changeUtterance asks for 02:00-04:00 and the conflict holds 01:00-03:00,
	// so the first free two-hour window starts at 04:00.
	if !strings.Contains(reply, "Free alternative windows:") {
		t.Errorf("reply = %q, want alternative slot suggestions", reply)
	}
	if !strings.Contains(reply, "1. 2026-09-06 04:00:00 to 2026-09-06 06:00:00") {
		t.Errorf("reply = %q, want first free slot at 04:00", reply)
	}
	if !strings.Contains(reply, `"reschedule CHG0031337 to <new window>"`) {
		t.Errorf("reply = %q, want reschedule hint", reply)
	}
}

func TestChangeRequestCleanScheduleNoted(t *testing.T) {
	fa := &fakeAdapter{createResult: ticket.ExecutionResult{ID: "CHG0031338", SysID: "sys-chg"}}
	e := newEnv(t, fa, nil)

	e.say(t, "s1", changeUtterance)
	reply := e.say(t, "s1", "confirm")
	if !strings.Contains(reply, "No schedule conflicts on srv-db-01 for this window.") {
		t.Errorf("reply = %q, want clean-schedule note", reply)
	}
}

func TestRescheduleFlow(t *testing.T) {
	fa := &fakeAdapter{}
	e := newEnv(t, fa, nil)

	reply := e.say(t, "s1", "reschedule CHG0031337, new start: 2026-09-13 01:00:00, new end: 2026-09-13 03:00:00")
	if !strings.Contains(reply, "Here's the reschedule I'm ready to submit:") {
		t.Fatalf("reply = %q, want reschedule proposal", reply)
	}
	if !strings.Contains(reply, "ticket number: CHG0031337") {
		t.Errorf("reply = %q, want ticket number in proposal", reply)
	}
	if fa.rescheduleCalls != 0 {
		t.Fatalf("rescheduleCalls before confirmation = %d, want 0", fa.rescheduleCalls)
	}

	reply = e.say(t, "s1", "confirm")
	if !strings.Contains(reply, "CHG0031337 has been rescheduled to 2026-09-13 01:00:00 - 2026-09-13 03:00:00.") {
		t.Errorf("reply = %q, want reschedule confirmation", reply)
	}
	if fa.rescheduleCalls != 1 {
		t.Errorf("rescheduleCalls = %d, want 1", fa.rescheduleCalls)
	}
	if fa.lastRescheduled != "CHG0031337" || fa.lastWindowStart != "2026-09-13 01:00:00" || fa.lastWindowEnd != "2026-09-13 03:00:00" {
		t.Errorf("reschedule args = %q %q %q", fa.lastRescheduled, fa.lastWindowStart, fa.lastWindowEnd)
	}
}

func TestRescheduleFailurePreservesDraft(t *testing.T) {
	fa := &fakeAdapter{rescheduleErr: fmt.Errorf("change CHG0031337 not found")}
	e := newEnv(t, fa, nil)

	e.say(t, "s1", "reschedule CHG0031337, new start: 2026-09-13 01:00:00, new end: 2026-09-13 03:00:00")
	reply := e.say(t, "s1", "confirm")
	if !strings.Contains(reply, "I couldn't submit this to the ticketing system") {
		t.Errorf("reply = %q, want failure report", reply)
	}
	if got := e.phase(t, "s1"); got != session.PhaseAwaitingConfirmation {
		t.Errorf("phase = %s, want awaiting_confirmation after failure", got)
	}
}

func TestRescheduleWithoutWindowGathers(t *testing.T) {
	e := newEnv(t, &fakeAdapter{}, nil)

	reply := e.say(t, "s1", "reschedule CHG0031337")
	if reply != "To draft this reschedule I still need: planned start date, planned end date." {
		t.Errorf("reply = %q, want gathering prompt for the window", reply)
	}
}

func TestStatusLookupBypassesConfirmation(t *testing.T) {
	fa := &fakeAdapter{record: snow.Record{
		"number":            "INC0012345",
		"state":             "In Progress",
		"short_description": "database server down",
		"assigned_to":       "Dana Ops",
		"sys_updated_on":    "2026-09-01 10:00:00",
	}}
	e := newEnv(t, fa, nil)

	reply := e.say(t, "s1", "what is the status of INC0012345?")
	if !strings.Contains(reply, "INC0012345 is In Progress, assigned to Dana Ops") {
		t.Errorf("reply = %q", reply)
	}
	if got := e.phase(t, "s1"); got != session.PhaseIdle {
		t.Errorf("phase = %s, read-only lookup must not enter confirmation", got)
	}
	if fa.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0", fa.createCalls)
	}
}

func TestStatusLookupBackendError(t *testing.T) {
	fa := &fakeAdapter{recordErr: fmt.Errorf("instance unreachable")}
	e := newEnv(t, fa, nil)

	reply := e.say(t, "s1", "what is the status of INC0000001?")
	if !strings.Contains(reply, "I couldn't look up INC0000001") {
		t.Errorf("reply = %q, want lookup failure in the reply, not an error", reply)
	}
}

func TestResolutionLookup(t *testing.T) {
	fa := &fakeAdapter{record: snow.Record{
		"number":      "INC0012345",
		"state":       "Resolved",
		"close_code":  "Solved (Permanently)",
		"close_notes": "Restarted the database service and verified connectivity.",
	}}
	e := newEnv(t, fa, nil)

	reply := e.say(t, "s1", "what was the resolution for INC0012345?")
	if !strings.Contains(reply, "INC0012345 was resolved (Solved (Permanently)): Restarted the database service") {
		t.Errorf("reply = %q", reply)
	}
}

func TestConflictCheckForExistingChange(t *testing.T) {
	fa := &fakeAdapter{
		record: snow.Record{
			"number":     "CHG0031337",
			"cmdb_ci":    "srv-db-01",
			"start_date": "2026-09-06 02:00:00",
			"end_date":   "2026-09-06 04:00:00",
		},
		conflicts: []snow.Conflict{{
			Number:           "CHG0020001",
			ShortDescription: "os patching",
			StartDate:        "2026-09-06 01:00:00",
			EndDate:          "2026-09-06 03:00:00",
		}},
	}
	e := newEnv(t, fa, nil)

	reply := e.say(t, "s1", "does CHG0031337 have any schedule conflicts?")
	if !strings.Contains(reply, "1 change(s) conflict with CHG0031337's window (2026-09-06 02:00:00 to 2026-09-06 04:00:00):") {
		t.Errorf("reply = %q", reply)
	}
	if !strings.Contains(reply, "CHG0020001") {
		t.Errorf("reply = %q, want conflicting change listed", reply)
	}
	if !strings.Contains(reply, "1. 2026-09-06 04:00:00 to 2026-09-06 06:00:00") {
		t.Errorf("reply = %q, want first free slot at 04:00", reply)
	}
	if !strings.Contains(reply, `"reschedule CHG0031337 to <new window>"`) {
		t.Errorf("reply = %q, want reschedule hint", reply)
	}
}

func TestDraftOnlyModeRefusesExecution(t *testing.T) {
	e := newEnv(t, nil, nil)

	e.say(t, "s1", incidentUtterance)
	reply := e.say(t, "s1", "confirm")
	if !strings.Contains(reply, "Ticket execution is not configured") {
		t.Errorf("reply = %q, want draft-only refusal", reply)
	}
	// The draft survives; nothing was submitted and nothing was lost.
	snap, _ := e.store.Snapshot("s1")
	if snap.Draft == nil {
		t.Errorf("draft dropped in draft-only mode")
	}
}

func TestConversationHistoryRecordsBothRoles(t *testing.T) {
	e := newEnv(t, &fakeAdapter{}, nil)

	e.say(t, "s1", "good morning")
	snap, ok := e.store.Snapshot("s1")
	if !ok {
		t.Fatal("session missing")
	}
	if len(snap.History) != 2 {
		t.Fatalf("history length = %d, want user and agent turns", len(snap.History))
	}
	if snap.History[0].Role != "user" || snap.History[1].Role != "agent" {
		t.Errorf("roles = %s, %s", snap.History[0].Role, snap.History[1].Role)
	}
}
