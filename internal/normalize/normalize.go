// Package normalize turns raw tabular payloads into canonical readings.
package normalize

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"energy-recon/internal/reading"
)

// Result is the outcome of normalizing one payload. Row errors are
// collected alongside the readings that did parse.
type Result struct {
	SourceID  string
	Readings  []reading.Reading
	RowErrors []RowError
}

// Normalize parses a raw payload under its descriptor. It is a pure
// transform: the payload is owned transiently and nothing is retained.
//
// Failure modes: ErrSchemaMismatch when a required column is absent,
// ErrUnitMismatch when the declared unit has no conversion, ErrEmptyPayload
// when no row yields a reading. Individual bad rows become RowErrors.
func Normalize(d Descriptor, payload []byte) (Result, error) {
	if err := d.Validate(); err != nil {
		return Result{}, err
	}

	rows, err := tableRows(d.Format, payload)
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{SourceID: d.SourceID}, ErrEmptyPayload
	}

	header := rows[0]
	tsCol, err := columnIndex(header, d.TimestampColumn)
	if err != nil {
		return Result{}, err
	}
	valCol, err := columnIndex(header, d.ValueColumn)
	if err != nil {
		return Result{}, err
	}
	entityCol := -1
	if d.EntityColumn != "" {
		entityCol, err = columnIndex(header, d.EntityColumn)
		if err != nil {
			return Result{}, err
		}
	}

	res := Result{SourceID: d.SourceID}
	for i, row := range rows[1:] {
		rowNum := i + 2 // 1-based, after header
		if entityCol >= 0 {
			if entityCol >= len(row) || strings.TrimSpace(row[entityCol]) != d.EntityID {
				continue
			}
		}
		if tsCol >= len(row) || valCol >= len(row) {
			res.RowErrors = append(res.RowErrors, RowError{Row: rowNum, Column: d.ValueColumn, Reason: "short row"})
			continue
		}

		ts, err := ParseTimestamp(row[tsCol])
		if err != nil {
			res.RowErrors = append(res.RowErrors, RowError{Row: rowNum, Column: d.TimestampColumn, Reason: err.Error()})
			continue
		}
		raw, err := strconv.ParseFloat(strings.TrimSpace(row[valCol]), 64)
		if err != nil {
			res.RowErrors = append(res.RowErrors, RowError{Row: rowNum, Column: d.ValueColumn, Reason: "not numeric"})
			continue
		}
		value, err := convertValue(d, raw)
		if err != nil {
			return Result{}, err
		}
		r, err := reading.New(d.SourceID, d.Metric, ts, value)
		if err != nil {
			res.RowErrors = append(res.RowErrors, RowError{Row: rowNum, Column: d.TimestampColumn, Reason: err.Error()})
			continue
		}
		res.Readings = append(res.Readings, r)
	}

	if len(res.Readings) == 0 {
		return res, ErrEmptyPayload
	}
	return res, nil
}

func tableRows(format Format, payload []byte) ([][]string, error) {
	switch format {
	case FormatCSV:
		reader := csv.NewReader(bytes.NewReader(payload))
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true
		var rows [][]string
		for {
			record, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("normalize: csv: %w", err)
			}
			rows = append(rows, record)
		}
		return rows, nil
	case FormatXLSX:
		f, err := excelize.OpenReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("normalize: xlsx: %w", err)
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptyPayload
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, fmt.Errorf("normalize: xlsx: %w", err)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
}

func columnIndex(header []string, name string) (int, error) {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), name) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrSchemaMismatch, name)
}

// timestampLayouts covers the stamp shapes seen across sensor exports and
// ledgers. Layouts with an offset are trusted; naive layouts are parsed as
// civil time in UTC and reinterpreted by the timezone aligner.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// ParseTimestamp parses one cell into an instant.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
