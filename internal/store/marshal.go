package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/queryir"
)

// Record is a stored document together with its key.
type Record struct {
	Key string
	Doc ir.Document
}

// encodeDoc converts a document to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON so equal documents are stored byte-identical.
func encodeDoc(doc ir.Document) (string, error) {
	if doc == nil {
		doc = ir.Document{}
	}
	data, err := ir.MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

// decodeDoc parses stored JSON TEXT back into a document.
func decodeDoc(text string) (ir.Document, error) {
	doc, err := ir.DecodeDocument([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

// scanRecords drains (key, doc) rows and closes them.
// Returns an empty slice (not nil) when there are no rows.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var key, text string
		if err := rows.Scan(&key, &text); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		doc, err := decodeDoc(text)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", key, err)
		}
		records = append(records, Record{Key: key, Doc: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// insertIndexRows writes one index row per declared index whose field holds
// an indexable value.
func insertIndexRows(ctx context.Context, q querier, c Collection, key string, doc ir.Document) error {
	for _, idx := range c.Indexes {
		value, ok := queryir.IndexValue(doc[idx.Field])
		if !ok {
			continue
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO record_index (collection, index_name, value, key)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, c.Name, idx.Name, value, key); err != nil {
			return fmt.Errorf("index %s: %w", idx.Name, err)
		}
	}
	return nil
}
