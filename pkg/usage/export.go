package usage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// CSVHeader is the first row written by ExportCSV.
var CSVHeader = []string{
	"timestamp", "provider", "model",
	"promptTokens", "completionTokens", "totalTokens",
	"estimatedCostUSD", "success", "latencyMs", "contextIncluded",
}

// ExportCSV writes the events within r as CSV.
func (l *Ledger) ExportCSV(w io.Writer, r Range) error {
	return WriteCSV(w, l.Events(r))
}

// WriteCSV writes events as CSV with a header row.
func WriteCSV(w io.Writer, events []Event) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(CSVHeader); err != nil {
		return &ExportError{Format: "csv", Cause: err}
	}
	for i, e := range events {
		if err := writer.Write(eventToRow(e)); err != nil {
			return &ExportError{Format: "csv", Row: i + 2, Cause: err}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return &ExportError{Format: "csv", Cause: err}
	}
	return nil
}

func eventToRow(e Event) []string {
	cost := ""
	if e.EstimatedCostUSD != nil {
		cost = fmt.Sprintf("%.6f", *e.EstimatedCostUSD)
	}
	return []string{
		e.Timestamp.UTC().Format(time.RFC3339),
		e.ProviderID,
		e.ModelID,
		strconv.Itoa(e.PromptTokens),
		strconv.Itoa(e.CompletionTokens),
		strconv.Itoa(e.TotalTokens),
		cost,
		strconv.FormatBool(e.Success),
		strconv.FormatInt(e.LatencyMs, 10),
		strconv.FormatBool(e.ContextIncluded),
	}
}

// ParseCSV reads events written by ExportCSV. Parsed events have no ID.
func ParseCSV(r io.Reader) ([]Event, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(CSVHeader)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ExportError{Format: "csv", Cause: errors.New("missing header")}
	}
	if err != nil {
		return nil, &ExportError{Format: "csv", Row: 1, Cause: err}
	}
	for i, name := range CSVHeader {
		if header[i] != name {
			return nil, &ExportError{Format: "csv", Row: 1, Cause: fmt.Errorf("unexpected column %q, want %q", header[i], name)}
		}
	}

	var events []Event
	for row := 2; ; row++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, &ExportError{Format: "csv", Row: row, Cause: err}
		}
		e, err := rowToEvent(rec)
		if err != nil {
			return nil, &ExportError{Format: "csv", Row: row, Cause: err}
		}
		events = append(events, e)
	}
}

func rowToEvent(rec []string) (Event, error) {
	var (
		e   Event
		err error
	)
	if e.Timestamp, err = time.Parse(time.RFC3339, rec[0]); err != nil {
		return e, fmt.Errorf("timestamp: %w", err)
	}
	e.ProviderID = rec[1]
	e.ModelID = rec[2]
	if e.PromptTokens, err = strconv.Atoi(rec[3]); err != nil {
		return e, fmt.Errorf("promptTokens: %w", err)
	}
	if e.CompletionTokens, err = strconv.Atoi(rec[4]); err != nil {
		return e, fmt.Errorf("completionTokens: %w", err)
	}
	if e.TotalTokens, err = strconv.Atoi(rec[5]); err != nil {
		return e, fmt.Errorf("totalTokens: %w", err)
	}
	if rec[6] != "" {
		cost, err := strconv.ParseFloat(rec[6], 64)
		if err != nil {
			return e, fmt.Errorf("estimatedCostUSD: %w", err)
		}
		e.EstimatedCostUSD = &cost
	}
	if e.Success, err = strconv.ParseBool(rec[7]); err != nil {
		return e, fmt.Errorf("success: %w", err)
	}
	if e.LatencyMs, err = strconv.ParseInt(rec[8], 10, 64); err != nil {
		return e, fmt.Errorf("latencyMs: %w", err)
	}
	if e.ContextIncluded, err = strconv.ParseBool(rec[9]); err != nil {
		return e, fmt.Errorf("contextIncluded: %w", err)
	}
	return e, nil
}

// ExportJSON writes the events within r as a JSON array.
func (l *Ledger) ExportJSON(w io.Writer, r Range, pretty bool) error {
	return WriteJSON(w, l.Events(r), pretty)
}

// WriteJSON writes events as a JSON array. An empty list is written as [].
func WriteJSON(w io.Writer, events []Event, pretty bool) error {
	if events == nil {
		events = []Event{}
	}
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(events); err != nil {
		return &ExportError{Format: "json", Cause: err}
	}
	return nil
}
