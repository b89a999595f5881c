package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Ingestor turns uploaded CSV bytes into recipient records.
type Ingestor struct {
	decoder *Decoder
}

// NewIngestor creates an ingestor using d for text decoding.
func NewIngestor(d *Decoder) *Ingestor {
	return &Ingestor{decoder: d}
}

// Parse decodes raw and returns one Record per data row that has an email.
//
// The first row is the header. Header names and cell values are trimmed and
// header names are lower-cased. Rows shorter than the header get empty
// values; cells beyond the header are ignored. When a header name repeats,
// the rightmost column wins. Source order is kept.
//
// Returns ErrEmptyInput for zero bytes and ErrNoValidRows when no row has
// an email.
func (in *Ingestor) Parse(raw []byte) ([]Record, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyInput
	}

	text := in.decoder.Decode(raw)

	reader := csv.NewReader(NewBOMSkippingReader(strings.NewReader(text)))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoValidRows
	}
	if err != nil {
		return nil, fmt.Errorf("invalid csv header: %w", err)
	}
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var records []Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}

		rec := make(Record, len(keys))
		for i, key := range keys {
			var v string
			if i < len(row) {
				v = strings.TrimSpace(row[i])
			}
			rec[key] = v
		}
		if rec.Email() == "" {
			continue
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, ErrNoValidRows
	}
	return records, nil
}
