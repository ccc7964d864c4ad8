package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/taper/internal/domain"
)

// ResultArchiver writes settled markets to object storage as JSONL, one file
// per calendar month.
type ResultArchiver struct {
	writer domain.BlobWriter
}

// NewResultArchiver creates a ResultArchiver.
func NewResultArchiver(writer domain.BlobWriter) *ResultArchiver {
	return &ResultArchiver{writer: writer}
}

// archivedResult is one JSONL line.
type archivedResult struct {
	MarketID  string    `json:"market_id"`
	MeetID    string    `json:"meet_id"`
	Swimmer   string    `json:"swimmer"`
	Event     string    `json:"event"`
	TimeLabel string    `json:"time_label"`
	Result    string    `json:"result"`
	At        time.Time `json:"archived_at"`
}

// ArchiveResults uploads every settled market in markets to
// archive/results/YYYY-MM.jsonl and returns the path and record count.
// Nothing is written when no market is settled.
func (a *ResultArchiver) ArchiveResults(ctx context.Context, markets []domain.Market, at time.Time) (string, int, error) {
	var records []archivedResult
	for _, m := range markets {
		if !m.IsSettled() {
			continue
		}
		records = append(records, archivedResult{
			MarketID:  m.ID,
			MeetID:    m.MeetID,
			Swimmer:   m.Swimmer,
			Event:     m.Event,
			TimeLabel: m.TimeLabel,
			Result:    *m.Result,
			At:        at.UTC(),
		})
	}
	if len(records) == 0 {
		return "", 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive results marshal: %w", err)
	}

	path := archivePath("results", at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", 0, fmt.Errorf("s3blob: archive results upload: %w", err)
	}
	return path, len(records), nil
}

// archivePath builds the key for an archive file partitioned by month.
//
//	archive/results/2026-03.jsonl
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, at.UTC().Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
