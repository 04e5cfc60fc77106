package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/akshay-eng/ITSM-agent/internal/snow"
	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

type stubAdapter struct {
	createResult ticket.ExecutionResult
	createErr    error

	record    snow.Record
	recordErr error

	conflicts []snow.Conflict

	lastConflictArgs []string
}

func (s *stubAdapter) CreateTicket(ctx context.Context, kind ticket.Kind, fields map[string]string) (ticket.ExecutionResult, error) {
	if s.createErr != nil {
		return ticket.ExecutionResult{}, s.createErr
	}
	return s.createResult, nil
}

func (s *stubAdapter) Attach(ctx context.Context, kind ticket.Kind, sysID string, att ticket.Attachment) error {
	return nil
}

func (s *stubAdapter) GetTicket(ctx context.Context, number string) (snow.Record, error) {
	return s.record, s.recordErr
}

func (s *stubAdapter) CheckConflicts(ctx context.Context, ci, start, end, excludeNumber string) ([]snow.Conflict, error) {
	s.lastConflictArgs = []string{ci, start, end, excludeNumber}
	return s.conflicts, nil
}

func (s *stubAdapter) Reschedule(ctx context.Context, number, newStart, newEnd string) (ticket.ExecutionResult, error) {
	return ticket.ExecutionResult{ID: number}, nil
}

func newDraft(kind ticket.Kind, fields map[string]string) *ticket.Draft {
	fv := make(map[string]ticket.FieldValue, len(fields))
	for k, v := range fields {
		fv[k] = ticket.FieldValue{Value: v, Provenance: ticket.ProvenanceUser}
	}
	return ticket.NewDraft(kind, fv)
}

func TestExecuteWrapsFailure(t *testing.T) {
	d := NewDispatcher(&stubAdapter{createErr: fmt.Errorf("503 from instance")})

	_, err := d.Execute(context.Background(), newDraft(ticket.KindIncident, map[string]string{"description": "x"}))
	if !errors.Is(err, ErrExecutionFailed) {
		t.Errorf("error = %v, want ErrExecutionFailed", err)
	}
}

func TestExecuteSuccess(t *testing.T) {
	d := NewDispatcher(&stubAdapter{createResult: ticket.ExecutionResult{ID: "INC0012345", SysID: "sys-1"}})

	result, err := d.Execute(context.Background(), newDraft(ticket.KindIncident, map[string]string{"description": "x"}))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.ID != "INC0012345" {
		t.Errorf("result.ID = %q", result.ID)
	}
}

func TestStatusLookupMapsRecord(t *testing.T) {
	d := NewDispatcher(&stubAdapter{record: snow.Record{
		"number":            "INC0012345",
		"state":             "In Progress",
		"short_description": "db down",
		"assigned_to":       "Dana Ops",
		"sys_updated_on":    "2026-09-01 10:00:00",
	}})

	st, err := d.StatusLookup(context.Background(), "INC0012345")
	if err != nil {
		t.Fatalf("StatusLookup() error = %v", err)
	}
	if st.Number != "INC0012345" || st.State != "In Progress" || st.AssignedTo != "Dana Ops" {
		t.Errorf("status = %+v", st)
	}
}

func TestResolutionLookupMapsRecord(t *testing.T) {
	d := NewDispatcher(&stubAdapter{record: snow.Record{
		"number":      "INC0012345",
		"state":       "Resolved",
		"close_code":  "Solved (Permanently)",
		"close_notes": "restarted the service",
	}})

	res, err := d.ResolutionLookup(context.Background(), "INC0012345")
	if err != nil {
		t.Fatalf("ResolutionLookup() error = %v", err)
	}
	if res.CloseCode != "Solved (Permanently)" || res.CloseNotes != "restarted the service" {
		t.Errorf("resolution = %+v", res)
	}
}

func TestConflictCheckChangeUsesOwnWindow(t *testing.T) {
	stub := &stubAdapter{
		record: snow.Record{
			"number":     "CHG0031337",
			"cmdb_ci":    "srv-db-01",
			"start_date": "2026-09-06 02:00:00",
			"end_date":   "2026-09-06 04:00:00",
		},
		conflicts: []snow.Conflict{{Number: "CHG0020001"}},
	}
	d := NewDispatcher(stub)

	conflicts, start, end, err := d.ConflictCheckChange(context.Background(), "CHG0031337")
	if err != nil {
		t.Fatalf("ConflictCheckChange() error = %v", err)
	}
	if start != "2026-09-06 02:00:00" || end != "2026-09-06 04:00:00" {
		t.Errorf("window = %q to %q", start, end)
	}
	if len(conflicts) != 1 {
		t.Errorf("conflicts = %+v", conflicts)
	}

	want := []string{"srv-db-01", "2026-09-06 02:00:00", "2026-09-06 04:00:00", "CHG0031337"}
	for i, arg := range want {
		if stub.lastConflictArgs[i] != arg {
			t.Errorf("conflict arg %d = %q, want %q", i, stub.lastConflictArgs[i], arg)
		}
	}
}

func TestConflictCheckChangeRequiresSchedule(t *testing.T) {
	d := NewDispatcher(&stubAdapter{record: snow.Record{"number": "CHG0031337"}})

	if _, _, _, err := d.ConflictCheckChange(context.Background(), "CHG0031337"); err == nil {
		t.Error("error = nil, want missing schedule error")
	}
}
