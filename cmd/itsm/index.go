package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/akshay-eng/ITSM-agent/internal/retrieval"
	"github.com/akshay-eng/ITSM-agent/internal/ticket"
)

var (
	indexKind      string
	indexBatchSize int
	indexWorkers   int
)

// indexCmd ingests a historical ticket export into the retrieval store.
var indexCmd = &cobra.Command{
	Use:   "index [export-file]",
	Short: "Ingest a CSV or JSON ticket export into the history store",
	Long: `Reads an exported set of resolved tickets and indexes them for
similarity retrieval. CSV files need a header row; JSON files hold an array
of flat objects. Every record should carry at least a description.

Example:
  itsm index --kind incident resolved_incidents.csv
  itsm index --kind change_request changes.json`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexKind, "kind", "incident", "Ticket kind of the export (incident or change_request)")
	indexCmd.Flags().IntVar(&indexBatchSize, "batch-size", 32, "Records per embedding batch")
	indexCmd.Flags().IntVar(&indexWorkers, "workers", 4, "Concurrent embedding batches")
}

func runIndex(cmd *cobra.Command, args []string) error {
	kind := ticket.Kind(indexKind)

	ag, err := buildAgent(workspace)
	if err != nil {
		return err
	}
	defer ag.Close()

	if ag.history == nil {
		return fmt.Errorf("no embedding backend available; indexing needs one (check the embedding section of the config)")
	}
	if _, err := ag.registry.Schema(kind); err != nil {
		return err
	}

	records, err := loadExport(args[0], kind)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no records found in %s", args[0])
	}
	logger.Info("indexing", zap.Int("records", len(records)), zap.String("kind", indexKind))

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(indexWorkers)
	for start := 0; start < len(records); start += indexBatchSize {
		end := start + indexBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		g.Go(func() error {
			return ag.history.AddBatch(ctx, batch)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	total, err := ag.history.Count(kind)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d records; %d %s records now stored.\n", len(records), total, indexKind)
	return nil
}

// loadExport parses an export file into history records.
func loadExport(path string, kind ticket.Kind) ([]retrieval.HistoryRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return parseCSV(f, kind)
	case ".json":
		return parseJSON(f, kind)
	default:
		return nil, fmt.Errorf("unsupported export format %q (want .csv or .json)", filepath.Ext(path))
	}
}

func parseCSV(r io.Reader, kind ticket.Kind) ([]retrieval.HistoryRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var records []retrieval.HistoryRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		fields := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(row) {
				fields[col] = strings.TrimSpace(row[i])
			}
		}
		if rec, ok := toRecord(kind, fields); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func parseJSON(r io.Reader, kind ticket.Kind) ([]retrieval.HistoryRecord, error) {
	var rows []map[string]interface{}
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse JSON export: %w", err)
	}

	var records []retrieval.HistoryRecord
	for _, row := range rows {
		fields := make(map[string]string, len(row))
		for k, v := range row {
			fields[strings.ToLower(k)] = strings.TrimSpace(fmt.Sprintf("%v", v))
		}
		if rec, ok := toRecord(kind, fields); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// toRecord builds the embeddable text for a row. Rows without a description
// are skipped.
func toRecord(kind ticket.Kind, fields map[string]string) (retrieval.HistoryRecord, bool) {
	text := fields["description"]
	if text == "" {
		text = fields["short_description"]
	}
	if text == "" {
		return retrieval.HistoryRecord{}, false
	}
	if sd := fields["short_description"]; sd != "" && sd != text {
		text = sd + ". " + text
	}
	return retrieval.HistoryRecord{Kind: kind, Text: text, Fields: fields}, true
}
