package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	"github.com/shopspring/decimal"
)

// textPtr converts a nullable text column to *string
func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

// toNumeric converts decimal.Decimal to pgtype.Numeric
func toNumeric(d decimal.Decimal) (pgtype.Numeric, error) {
	n := pgtype.Numeric{}
	if err := n.Scan(d.String()); err != nil {
		return n, fmt.Errorf("convert decimal %s: %w", d.String(), err)
	}
	return n, nil
}

// pgNumericToDecimal converts pgtype.Numeric to decimal.Decimal
func pgNumericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	var dec decimal.Decimal
	str, err := n.MarshalJSON()
	if err != nil {
		return dec, fmt.Errorf("marshal numeric: %w", err)
	}
	// Remove quotes from JSON string
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	return decimal.NewFromString(string(str))
}

// pgNumericToDecimalPtr converts a nullable numeric column, NULL becomes nil
func pgNumericToDecimalPtr(n pgtype.Numeric) (*decimal.Decimal, error) {
	if !n.Valid {
		return nil, nil
	}
	d, err := pgNumericToDecimal(n)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// timestampPtr converts a nullable timestamptz column to *time.Time
func timestampPtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time.UTC()
	return &t
}

// isNoRows reports whether err is pgx.ErrNoRows
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// executor picks the caller's transaction or falls back to the pool
func executor(db ports.DBTX, pool ports.DBTX) ports.DBTX {
	if db != nil {
		return db
	}
	return pool
}
