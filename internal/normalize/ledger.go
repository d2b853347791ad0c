package normalize

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"energy-recon/internal/reading"
)

// LedgerDescriptor maps a purchase-ledger payload onto PurchaseEvents.
type LedgerDescriptor struct {
	Format          Format
	TimestampColumn string
	LitersColumn    string
	PriceColumn     string
	LocationColumn  string
}

// LedgerResult is the outcome of normalizing a purchase ledger.
type LedgerResult struct {
	Events    []reading.PurchaseEvent
	RowErrors []RowError
}

// NormalizeLedger parses the fuel purchase ledger. Volumes and prices come
// only from the ledger; rows that do not parse are collected, not fatal.
func NormalizeLedger(d LedgerDescriptor, payload []byte) (LedgerResult, error) {
	if d.TimestampColumn == "" || d.LitersColumn == "" || d.PriceColumn == "" || d.LocationColumn == "" {
		return LedgerResult{}, ErrSchemaMismatch
	}

	rows, err := tableRows(d.Format, payload)
	if err != nil {
		return LedgerResult{}, err
	}
	if len(rows) == 0 {
		return LedgerResult{}, ErrEmptyPayload
	}

	header := rows[0]
	tsCol, err := columnIndex(header, d.TimestampColumn)
	if err != nil {
		return LedgerResult{}, err
	}
	litersCol, err := columnIndex(header, d.LitersColumn)
	if err != nil {
		return LedgerResult{}, err
	}
	priceCol, err := columnIndex(header, d.PriceColumn)
	if err != nil {
		return LedgerResult{}, err
	}
	locCol, err := columnIndex(header, d.LocationColumn)
	if err != nil {
		return LedgerResult{}, err
	}

	var res LedgerResult
	for i, row := range rows[1:] {
		rowNum := i + 2
		need := max(tsCol, litersCol, priceCol, locCol)
		if need >= len(row) {
			res.RowErrors = append(res.RowErrors, RowError{Row: rowNum, Column: d.LitersColumn, Reason: "short row"})
			continue
		}

		ts, err := ParseTimestamp(row[tsCol])
		if err != nil {
			res.RowErrors = append(res.RowErrors, RowError{Row: rowNum, Column: d.TimestampColumn, Reason: err.Error()})
			continue
		}
		liters, err := strconv.ParseFloat(strings.TrimSpace(row[litersCol]), 64)
		if err != nil {
			res.RowErrors = append(res.RowErrors, RowError{Row: rowNum, Column: d.LitersColumn, Reason: "not numeric"})
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(row[priceCol]))
		if err != nil {
			res.RowErrors = append(res.RowErrors, RowError{Row: rowNum, Column: d.PriceColumn, Reason: "not numeric"})
			continue
		}
		location := strings.TrimSpace(row[locCol])

		ev, err := reading.NewPurchaseEvent(ts, liters, price, location)
		if err != nil {
			res.RowErrors = append(res.RowErrors, RowError{Row: rowNum, Column: d.LitersColumn, Reason: err.Error()})
			continue
		}
		res.Events = append(res.Events, ev)
	}

	if len(res.Events) == 0 {
		return res, ErrEmptyPayload
	}
	return res, nil
}
