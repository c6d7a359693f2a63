package store

// convert.go turns validated cell values into pgtype values. Parsing rules
// live in the schema package so the analyzer, validator, and store agree on
// what counts as a date or a number; here the parsed value just gets its
// database shape. All ToPg* functions return Valid=false for empty input,
// which the driver writes as NULL.

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dmarsh-dev/crm-migrate/internal/schema"
)

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgDate converts a spreadsheet date string to pgtype.Date.
func ToPgDate(s string) pgtype.Date {
	t, ok := schema.ParseDate(s)
	if !ok {
		return pgtype.Date{Valid: false}
	}
	return pgtype.Date{Time: t, Valid: true}
}

// ToPgNumeric converts a string to pgtype.Numeric, tolerating currency
// symbols, thousands separators, and accounting-style parentheses.
func ToPgNumeric(s string) pgtype.Numeric {
	f, ok := schema.ParseNumber(s)
	if !ok {
		return pgtype.Numeric{Valid: false}
	}

	var n pgtype.Numeric
	if err := n.Scan(strconv.FormatFloat(f, 'f', -1, 64)); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return n
}

// ToPgBool converts yes/no, true/false, y/n, and 1/0 to pgtype.Bool.
func ToPgBool(s string) pgtype.Bool {
	b, ok := schema.ParseBool(s)
	if !ok {
		return pgtype.Bool{Valid: false}
	}
	return pgtype.Bool{Bool: b, Valid: true}
}

// ToPgUUID converts a string to pgtype.UUID.
// Returns invalid if the string is empty or not a valid UUID.
func ToPgUUID(s string) pgtype.UUID {
	if s == "" {
		return pgtype.UUID{Valid: false}
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

// PgUUIDToString converts a pgtype.UUID to its string representation.
// Returns empty string if the UUID is invalid.
func PgUUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}

// fieldValue converts a raw cell value to the database value for a target
// field. Enum values are stored lower-cased so case variants collapse to
// one canonical form.
func fieldValue(f schema.Field, raw string) any {
	switch f.Type {
	case schema.FieldDate:
		return ToPgDate(raw)
	case schema.FieldNumeric:
		return ToPgNumeric(raw)
	case schema.FieldBool:
		return ToPgBool(raw)
	case schema.FieldEnum:
		return ToPgText(strings.ToLower(raw))
	default:
		return ToPgText(raw)
	}
}
