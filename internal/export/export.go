// Package export writes stored detail records as CSV or JSON lines.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/catalog"
)

// Format names an output encoding.
type Format string

// Supported formats.
const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a user supplied format name.
func ParseFormat(v string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(v))); f {
	case FormatCSV, FormatJSONL:
		return f, nil
	case "":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown export format %q", v)
	}
}

var baseColumns = []string{
	"source", "key", "parent_key", "name", "url", "content_hash", "blob_uri", "fetched_at",
}

// Records streams records matching filter to w and returns how many were written.
func Records(ctx context.Context, store catalog.RecordStore, filter catalog.RecordFilter, format Format, w io.Writer) (int, error) {
	switch format {
	case FormatCSV:
		return writeCSV(ctx, store, filter, w)
	case FormatJSONL:
		return writeJSONL(ctx, store, filter, w)
	default:
		return 0, fmt.Errorf("unknown export format %q", format)
	}
}

func writeJSONL(ctx context.Context, store catalog.RecordStore, filter catalog.RecordFilter, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	n := 0
	for rec, err := range store.StreamRecords(ctx, filter) {
		if err != nil {
			return n, fmt.Errorf("stream records: %w", err)
		}
		if err := enc.Encode(rec); err != nil {
			return n, fmt.Errorf("encode record %s: %w", rec.Key, err)
		}
		n++
	}
	return n, nil
}

// writeCSV reads the stream twice: once to collect the descriptive field
// names for the header, once to write rows.
func writeCSV(ctx context.Context, store catalog.RecordStore, filter catalog.RecordFilter, w io.Writer) (int, error) {
	fields, err := fieldNames(ctx, store, filter)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	header := append(append([]string(nil), baseColumns...), fields...)
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	n := 0
	for rec, err := range store.StreamRecords(ctx, filter) {
		if err != nil {
			cw.Flush()
			return n, fmt.Errorf("stream records: %w", err)
		}
		if err := cw.Write(row(rec, fields)); err != nil {
			return n, fmt.Errorf("write csv row %s: %w", rec.Key, err)
		}
		n++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("flush csv: %w", err)
	}
	return n, nil
}

func fieldNames(ctx context.Context, store catalog.RecordStore, filter catalog.RecordFilter) ([]string, error) {
	seen := make(map[string]struct{})
	for rec, err := range store.StreamRecords(ctx, filter) {
		if err != nil {
			return nil, fmt.Errorf("stream records: %w", err)
		}
		for k := range rec.Fields {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func row(rec catalog.DetailRecord, fields []string) []string {
	fetched := ""
	if !rec.FetchedAt.IsZero() {
		fetched = rec.FetchedAt.UTC().Format(time.RFC3339)
	}
	out := []string{
		rec.Source, rec.Key, rec.ParentKey, rec.Name, rec.URL, rec.ContentHash, rec.BlobURI, fetched,
	}
	for _, f := range fields {
		out = append(out, rec.Field(f))
	}
	return out
}
