// Package snow is the ServiceNow Table API adapter: ticket creation,
// attachment upload, schedule conflict checks, and record lookup.
package snow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/akshay-eng/ITSM-agent/internal/config"
	"github.com/akshay-eng/ITSM-agent/internal/logging"
	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// =============================================================================
// SERVICENOW REST CLIENT
// =============================================================================

// Client talks to one ServiceNow instance over the Table API with basic auth.
type Client struct {
	instanceURL string
	username    string
	password    string
	httpClient  *http.Client
}

// NewClient creates a ServiceNow client from configuration.
func NewClient(cfg config.SnowConfig) (*Client, error) {
	if cfg.InstanceURL == "" {
		return nil, fmt.Errorf("ServiceNow instance URL is required")
	}
	timeout := cfg.HTTPTimeout()
	return &Client{
		instanceURL: strings.TrimRight(cfg.InstanceURL, "/"),
		username:    cfg.Username,
		password:    cfg.Password,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// apiError is a non-2xx response from the instance.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("servicenow returned status %d: %s", e.Status, e.Body)
}

// tableFor maps a ticket kind to its Table API table. Reschedules operate on
// existing change requests.
func tableFor(kind ticket.Kind) string {
	switch kind {
	case ticket.KindIncident:
		return "incident"
	case ticket.KindChangeRequest, ticket.KindReschedule:
		return "change_request"
	default:
		return string(kind)
	}
}

// tableForNumber derives the table from a ticket number prefix.
func tableForNumber(number string) string {
	switch {
	case strings.HasPrefix(strings.ToUpper(number), "CHG"):
		return "change_request"
	default:
		return "incident"
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) ([]byte, error) {
	u := c.instanceURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("servicenow request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read servicenow response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &apiError{Status: resp.StatusCode, Body: truncate(string(data), 300)}
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// tableResult is the envelope the Table API wraps every response in.
type tableResult struct {
	Result json.RawMessage `json:"result"`
}

func decodeResult(data []byte, v interface{}) error {
	var env tableResult
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode servicenow envelope: %w", err)
	}
	if err := json.Unmarshal(env.Result, v); err != nil {
		return fmt.Errorf("failed to decode servicenow result: %w", err)
	}
	return nil
}

// CreateTicket inserts a record and returns its number and sys_id. Change
// request planned dates map onto the table's start_date/end_date columns.
func (c *Client) CreateTicket(ctx context.Context, kind ticket.Kind, fields map[string]string) (ticket.ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategorySnow, "CreateTicket")
	defer timer.Stop()

	payload := make(map[string]string, len(fields))
	for k, v := range fields {
		switch k {
		case "planned_start_date":
			payload["start_date"] = v
		case "planned_end_date":
			payload["end_date"] = v
		default:
			payload[k] = v
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ticket.ExecutionResult{}, fmt.Errorf("failed to serialize ticket payload: %w", err)
	}

	table := tableFor(kind)
	logging.Snow("Creating %s record", table)
	data, err := c.do(ctx, http.MethodPost, "/api/now/table/"+table, nil, bytes.NewReader(body), "application/json")
	if err != nil {
		return ticket.ExecutionResult{}, err
	}

	var rec struct {
		Number string `json:"number"`
		SysID  string `json:"sys_id"`
		State  string `json:"state"`
	}
	if err := decodeResult(data, &rec); err != nil {
		return ticket.ExecutionResult{}, err
	}
	if rec.Number == "" {
		return ticket.ExecutionResult{}, fmt.Errorf("servicenow create returned no ticket number")
	}

	logging.Snow("Created %s (%s)", rec.Number, rec.SysID)
	return ticket.ExecutionResult{ID: rec.Number, SysID: rec.SysID, Status: rec.State}, nil
}

// Attach uploads a file against an existing record.
func (c *Client) Attach(ctx context.Context, kind ticket.Kind, sysID string, att ticket.Attachment) error {
	timer := logging.StartTimer(logging.CategorySnow, "Attach")
	defer timer.Stop()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("table_name", tableFor(kind)); err != nil {
		return err
	}
	if err := w.WriteField("table_sys_id", sysID); err != nil {
		return err
	}
	part, err := w.CreateFormFile("uploadFile", att.Filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(att.Content); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	logging.Snow("Uploading attachment %s (%d bytes) to %s", att.Filename, len(att.Content), sysID)
	_, err = c.do(ctx, http.MethodPost, "/api/now/attachment/upload", nil, &buf, w.FormDataContentType())
	if err != nil {
		return fmt.Errorf("attachment upload failed: %w", err)
	}
	return nil
}

// Record is a ticket fetched from the instance, display values only.
type Record map[string]string

// GetTicket fetches one record by its number.
func (c *Client) GetTicket(ctx context.Context, number string) (Record, error) {
	timer := logging.StartTimer(logging.CategorySnow, "GetTicket")
	defer timer.Stop()

	table := tableForNumber(number)
	q := url.Values{}
	q.Set("sysparm_query", "number="+number)
	q.Set("sysparm_limit", "1")
	q.Set("sysparm_display_value", "true")
	q.Set("sysparm_exclude_reference_link", "true")

	data, err := c.do(ctx, http.MethodGet, "/api/now/table/"+table, q, nil, "")
	if err != nil {
		return nil, err
	}

	var recs []Record
	if err := decodeResult(data, &recs); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("ticket %s not found", number)
	}
	return recs[0], nil
}

// Conflict is a change request overlapping a proposed maintenance window on
// the same configuration item.
type Conflict struct {
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	State            string `json:"state"`
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	SysID            string `json:"sys_id"`
}

// CheckConflicts lists other open change requests whose window overlaps
// [start, end] on the given configuration item. Closed, canceled, and
// review-state changes are excluded, as is excludeNumber itself.
func (c *Client) CheckConflicts(ctx context.Context, ci, start, end, excludeNumber string) ([]Conflict, error) {
	timer := logging.StartTimer(logging.CategorySnow, "CheckConflicts")
	defer timer.Stop()

	query := fmt.Sprintf("cmdb_ci.name=%s^stateNOT IN3,4,7^start_date<=%s^end_date>=%s", ci, end, start)
	if excludeNumber != "" {
		query += "^numberNOT LIKE" + excludeNumber
	}

	q := url.Values{}
	q.Set("sysparm_query", query)
	q.Set("sysparm_display_value", "true")
	q.Set("sysparm_fields", "number,short_description,state,start_date,end_date,cmdb_ci,sys_id")

	data, err := c.do(ctx, http.MethodGet, "/api/now/table/change_request", q, nil, "")
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	if err := decodeResult(data, &conflicts); err != nil {
		return nil, err
	}
	logging.Snow("Conflict check on %s found %d overlaps", ci, len(conflicts))
	return conflicts, nil
}

// Reschedule updates an existing change request's window and returns its
// number.
func (c *Client) Reschedule(ctx context.Context, number, newStart, newEnd string) (ticket.ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategorySnow, "Reschedule")
	defer timer.Stop()

	rec, err := c.GetTicket(ctx, number)
	if err != nil {
		return ticket.ExecutionResult{}, err
	}
	sysID := rec["sys_id"]
	if sysID == "" {
		return ticket.ExecutionResult{}, fmt.Errorf("change %s has no sys_id", number)
	}

	payload, err := json.Marshal(map[string]string{
		"start_date": newStart,
		"end_date":   newEnd,
	})
	if err != nil {
		return ticket.ExecutionResult{}, err
	}

	logging.Snow("Rescheduling %s to %s - %s", number, newStart, newEnd)
	data, err := c.do(ctx, http.MethodPatch, "/api/now/table/change_request/"+sysID, nil, bytes.NewReader(payload), "application/json")
	if err != nil {
		return ticket.ExecutionResult{}, err
	}

	var updated struct {
		Number string `json:"number"`
		State  string `json:"state"`
	}
	if err := decodeResult(data, &updated); err != nil {
		return ticket.ExecutionResult{}, err
	}
	if updated.Number == "" {
		updated.Number = number
	}
	return ticket.ExecutionResult{ID: updated.Number, SysID: sysID, Status: updated.State}, nil
}

// Ping verifies connectivity and credentials with a tiny read.
func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("sysparm_limit", "1")
	q.Set("sysparm_fields", "number")
	_, err := c.do(ctx, http.MethodGet, "/api/now/table/incident", q, nil, "")
	return err
}
