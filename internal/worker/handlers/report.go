package handlers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nadmax/neurosched/internal/task"
	"github.com/rs/zerolog"
)

type reportPayload struct {
	Format string `json:"format"`
	// Status restricts the snapshot to one task status when set.
	Status string `json:"status"`
}

var reportHeader = []string{
	"ID", "Name", "Type", "Status", "Priority", "Weight",
	"Created", "Started", "Ended", "Duration (ms)", "Error",
}

// ReportWriter snapshots the scheduler's tasks into a file under dir.
type ReportWriter struct {
	lister TaskLister
	dir    string
	logger zerolog.Logger
	now    func() time.Time
}

func NewReportWriter(lister TaskLister, dir string, logger zerolog.Logger) *ReportWriter {
	if dir == "" {
		dir = "./reports"
	}

	return &ReportWriter{
		lister: lister,
		dir:    dir,
		logger: logger,
		now:    time.Now,
	}
}

func (rw *ReportWriter) Factory(payload json.RawMessage) (task.WorkFunc, error) {
	var p reportPayload
	if err := decodePayload(payload, &p); err != nil {
		return nil, err
	}
	if p.Format == "" {
		p.Format = "csv"
	}
	if p.Format != "csv" && p.Format != "json" {
		return nil, fmt.Errorf("unsupported format: %s", p.Format)
	}
	if p.Status != "" && !task.Status(p.Status).IsValid() {
		return nil, fmt.Errorf("unknown status: %s", p.Status)
	}

	return func() error {
		path, rows, err := rw.Write(p.Format, task.Status(p.Status))
		if err != nil {
			return fmt.Errorf("failed to save report: %w", err)
		}
		rw.logger.Info().Str("path", path).Int("rows", rows).Msg("report generated")
		return nil
	}, nil
}

// Write renders the current task list and returns the file path and the
// number of data rows written.
func (rw *ReportWriter) Write(format string, status task.Status) (string, int, error) {
	data := [][]string{reportHeader}
	for _, t := range rw.lister.Tasks() {
		if status != "" && t.Status != status {
			continue
		}
		data = append(data, reportRow(t))
	}

	if err := os.MkdirAll(rw.dir, 0755); err != nil {
		return "", 0, err
	}

	timestamp := rw.now().Format("20060102_150405.000")
	filename := fmt.Sprintf("neurosched_tasks_%s.%s", timestamp, format)
	fullPath := filepath.Join(rw.dir, filename)

	var err error
	switch format {
	case "csv":
		err = saveAsCSV(fullPath, data)
	case "json":
		err = saveAsJSON(fullPath, data, rw.now())
	default:
		err = fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return "", 0, err
	}

	return fullPath, len(data) - 1, nil
}

func reportRow(t task.Task) []string {
	return []string{
		strconv.FormatInt(t.ID, 10),
		t.Name,
		string(t.Type),
		string(t.Status),
		strconv.Itoa(t.Priority),
		strconv.Itoa(t.Weight),
		t.CreatedAt.Format(time.RFC3339),
		formatTime(t.StartedAt),
		formatTime(t.EndedAt),
		strconv.FormatInt(t.Duration.Milliseconds(), 10),
		t.Error,
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}

	return t.Format(time.RFC3339)
}

func saveAsCSV(path string, data [][]string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(data); err != nil {
		return err
	}

	return writer.Error()
}

func saveAsJSON(path string, data [][]string, generatedAt time.Time) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	headers := data[0]
	records := make([]map[string]string, 0, len(data)-1)
	for _, row := range data[1:] {
		record := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				record[header] = row[i]
			}
		}
		records = append(records, record)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]any{
		"generated_at": generatedAt.Format(time.RFC3339),
		"data":         records,
		"total_rows":   len(records),
	})
}
