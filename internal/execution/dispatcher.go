// Package execution hands confirmed drafts to the ticketing backend and
// exposes the read-only lookups. Nothing here fabricates success: when the
// backend says no, the caller hears no.
package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/akshay-eng/ITSM-agent/internal/logging"
	"github.com/akshay-eng/ITSM-agent/internal/snow"
	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// ErrExecutionFailed wraps any backend failure during a mutating operation.
// The draft that triggered it stays intact on the session.
var ErrExecutionFailed = errors.New("execution failed")

// Adapter is the backend surface the dispatcher needs. *snow.Client
// implements it.
type Adapter interface {
	CreateTicket(ctx context.Context, kind ticket.Kind, fields map[string]string) (ticket.ExecutionResult, error)
	Attach(ctx context.Context, kind ticket.Kind, sysID string, att ticket.Attachment) error
	GetTicket(ctx context.Context, number string) (snow.Record, error)
	CheckConflicts(ctx context.Context, ci, start, end, excludeNumber string) ([]snow.Conflict, error)
	Reschedule(ctx context.Context, number, newStart, newEnd string) (ticket.ExecutionResult, error)
}

// Dispatcher routes confirmed intents to the adapter.
type Dispatcher struct {
	adapter Adapter
}

// NewDispatcher creates a dispatcher over the given adapter.
func NewDispatcher(adapter Adapter) *Dispatcher {
	return &Dispatcher{adapter: adapter}
}

// Execute creates the ticket described by a confirmed draft. Failures come
// back wrapped in ErrExecutionFailed so the caller can preserve the draft.
func (d *Dispatcher) Execute(ctx context.Context, draft *ticket.Draft) (ticket.ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategoryExecution, "Execute")
	defer timer.Stop()

	logging.Execution("Executing %s draft revision %s", draft.Kind, draft.RevisionID)
	result, err := d.adapter.CreateTicket(ctx, draft.Kind, draft.Plain())
	if err != nil {
		logging.Get(logging.CategoryExecution).Error("Create failed for revision %s: %v", draft.RevisionID, err)
		return ticket.ExecutionResult{}, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	logging.Execution("Created %s from revision %s", result.ID, draft.RevisionID)
	return result, nil
}

// Attach uploads a held attachment against a just-created ticket. An upload
// failure does not undo the creation; the caller reports it alongside the
// ticket number.
func (d *Dispatcher) Attach(ctx context.Context, kind ticket.Kind, sysID string, att ticket.Attachment) error {
	if err := d.adapter.Attach(ctx, kind, sysID, att); err != nil {
		logging.Get(logging.CategoryExecution).Error("Attachment %s upload failed: %v", att.Filename, err)
		return err
	}
	logging.Execution("Attached %s to %s", att.Filename, sysID)
	return nil
}

// Reschedule moves an existing change request's window.
func (d *Dispatcher) Reschedule(ctx context.Context, number, newStart, newEnd string) (ticket.ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategoryExecution, "Reschedule")
	defer timer.Stop()

	result, err := d.adapter.Reschedule(ctx, number, newStart, newEnd)
	if err != nil {
		return ticket.ExecutionResult{}, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
	}
	return result, nil
}

// Status is the answer to a status lookup.
type Status struct {
	Number           string
	State            string
	ShortDescription string
	AssignedTo       string
	UpdatedAt        string
}

// StatusLookup fetches the live state of a ticket. Read-only; no
// confirmation gate applies.
func (d *Dispatcher) StatusLookup(ctx context.Context, number string) (Status, error) {
	rec, err := d.adapter.GetTicket(ctx, number)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Number:           rec["number"],
		State:            rec["state"],
		ShortDescription: rec["short_description"],
		AssignedTo:       rec["assigned_to"],
		UpdatedAt:        rec["sys_updated_on"],
	}, nil
}

// Resolution is the answer to a resolution lookup.
type Resolution struct {
	Number     string
	State      string
	CloseCode  string
	CloseNotes string
}

// ResolutionLookup fetches how a ticket was resolved.
func (d *Dispatcher) ResolutionLookup(ctx context.Context, number string) (Resolution, error) {
	rec, err := d.adapter.GetTicket(ctx, number)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Number:     rec["number"],
		State:      rec["state"],
		CloseCode:  rec["close_code"],
		CloseNotes: rec["close_notes"],
	}, nil
}

// ConflictCheck lists changes overlapping a window on a configuration item.
func (d *Dispatcher) ConflictCheck(ctx context.Context, ci, start, end, excludeNumber string) ([]snow.Conflict, error) {
	return d.adapter.CheckConflicts(ctx, ci, start, end, excludeNumber)
}

// ConflictCheckChange looks up an existing change request and checks its own
// window for overlaps on its configuration item. Returns the window it
// checked alongside any conflicts.
func (d *Dispatcher) ConflictCheckChange(ctx context.Context, number string) ([]snow.Conflict, string, string, error) {
	rec, err := d.adapter.GetTicket(ctx, number)
	if err != nil {
		return nil, "", "", err
	}
	ci := rec["cmdb_ci"]
	start, end := rec["start_date"], rec["end_date"]
	if ci == "" || start == "" || end == "" {
		return nil, "", "", fmt.Errorf("change %s has no configuration item or schedule to check", number)
	}
	conflicts, err := d.adapter.CheckConflicts(ctx, ci, start, end, number)
	if err != nil {
		return nil, "", "", err
	}
	return conflicts, start, end, nil
}
