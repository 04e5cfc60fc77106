package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

// stubEngine embeds by keyword lookup so similarity is predictable: texts
// sharing a keyword get identical vectors.
type stubEngine struct{}

func (stubEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 4)
	lower := strings.ToLower(text)
	if strings.Contains(lower, "database") {
		vec[0] = 1
	}
	if strings.Contains(lower, "email") {
		vec[1] = 1
	}
	if strings.Contains(lower, "vpn") {
		vec[2] = 1
	}
	vec[3] = 0.1
	return vec, nil
}

func (e stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (stubEngine) Dimensions() int { return 4 }
func (stubEngine) Name() string    { return "stub" }

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := NewHistoryStore(filepath.Join(t.TempDir(), "history.db"), stubEngine{})
	if err != nil {
		t.Fatalf("NewHistoryStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAddBatchAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	recs := []HistoryRecord{
		{Kind: ticket.KindIncident, Text: "database connection refused", Fields: map[string]string{"priority": "2"}},
		{Kind: ticket.KindIncident, Text: "email delivery delayed", Fields: map[string]string{"priority": "3"}},
		{Kind: ticket.KindChangeRequest, Text: "database index rebuild", Fields: map[string]string{"risk": "Low"}},
	}
	if err := store.AddBatch(ctx, recs); err != nil {
		t.Fatalf("AddBatch() error = %v", err)
	}

	if n, _ := store.Count(ticket.KindIncident); n != 2 {
		t.Errorf("Count(incident) = %d, want 2", n)
	}
	if n, _ := store.Count(""); n != 3 {
		t.Errorf("Count(all) = %d, want 3", n)
	}
}

func TestSearchRanksBySimilarity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.AddBatch(ctx, []HistoryRecord{
		{Kind: ticket.KindIncident, Text: "database server unreachable", Fields: map[string]string{"assignment_group": "DB Ops"}},
		{Kind: ticket.KindIncident, Text: "email queue stuck", Fields: map[string]string{"assignment_group": "Messaging"}},
		{Kind: ticket.KindIncident, Text: "vpn tunnel flapping", Fields: map[string]string{"assignment_group": "Network"}},
	})
	if err != nil {
		t.Fatalf("AddBatch() error = %v", err)
	}

	result, err := store.Search(ctx, ticket.KindIncident, "the database is down again", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 2 {
		t.Fatalf("got %d hits, want 2 (topK)", len(result.Hits))
	}
	if got := result.Hits[0].Record["assignment_group"]; got != "DB Ops" {
		t.Errorf("top hit assignment_group = %q, want DB Ops", got)
	}
	if result.Hits[0].Score < result.Hits[1].Score {
		t.Error("hits not sorted by descending score")
	}
	for _, h := range result.Hits {
		if h.Score < 0 || h.Score > 1 {
			t.Errorf("score %v outside [0, 1]", h.Score)
		}
	}
}

func TestSearchFiltersByKind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.AddBatch(ctx, []HistoryRecord{
		{Kind: ticket.KindIncident, Text: "database down", Fields: map[string]string{"number": "INC0000001"}},
		{Kind: ticket.KindChangeRequest, Text: "database upgrade", Fields: map[string]string{"number": "CHG0000001"}},
	})
	if err != nil {
		t.Fatalf("AddBatch() error = %v", err)
	}

	result, err := store.Search(ctx, ticket.KindChangeRequest, "database work", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, h := range result.Hits {
		if !strings.HasPrefix(h.Record["number"], "CHG") {
			t.Errorf("change search returned %q", h.Record["number"])
		}
	}
}

func TestSearchWithoutEngineIsUnavailable(t *testing.T) {
	store, err := NewHistoryStore(filepath.Join(t.TempDir(), "history.db"), nil)
	if err != nil {
		t.Fatalf("NewHistoryStore() error = %v", err)
	}
	defer store.Close()

	_, err = store.Search(context.Background(), ticket.KindIncident, "anything", 3)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Search() error = %v, want ErrUnavailable", err)
	}
}

func TestAddBatchEmpty(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddBatch(context.Background(), nil); err != nil {
		t.Errorf("AddBatch(nil) error = %v", err)
	}
}

func TestSearchDefaultTopK(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var recs []HistoryRecord
	for i := 0; i < 6; i++ {
		recs = append(recs, HistoryRecord{
			Kind:   ticket.KindIncident,
			Text:   fmt.Sprintf("database issue %d", i),
			Fields: map[string]string{},
		})
	}
	if err := store.AddBatch(ctx, recs); err != nil {
		t.Fatalf("AddBatch() error = %v", err)
	}

	result, err := store.Search(ctx, ticket.KindIncident, "database", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 3 {
		t.Errorf("got %d hits with topK=0, want default 3", len(result.Hits))
	}
}
