// Package schema defines the fixed target CRM schema that spreadsheet
// columns are mapped onto: tables, fields, synonyms, value patterns,
// enum domains, and the foreign-key dependency order used during import.
package schema

import (
	"regexp"
	"strings"
)

// FieldType is the declared data type of a target field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEmail
	FieldPhone
	FieldEnum
	FieldDate
	FieldNumeric
	FieldBool
	FieldURL
)

// FieldTypeName returns a human-readable name for a field type.
func FieldTypeName(ft FieldType) string {
	switch ft {
	case FieldText:
		return "text"
	case FieldEmail:
		return "email"
	case FieldPhone:
		return "phone"
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldNumeric:
		return "numeric"
	case FieldBool:
		return "bool"
	case FieldURL:
		return "url"
	default:
		return "value"
	}
}

// Field describes one target column.
type Field struct {
	Name       string         // Database column name (snake_case)
	Type       FieldType      // Declared data type
	Required   bool           // Rows missing this value are rejected
	Synonyms   []string       // Normalized source-header names that mean this field
	Pattern    *regexp.Regexp // Optional value-format check (postal code, currency, ...)
	EnumValues []string       // Valid values for FieldEnum
}

// Reference describes a foreign key carried as a natural-key value in the
// source data. The mapped source column holds the parent's natural key
// (e.g. an organization name on a contacts sheet); during import the value
// is resolved to the parent's id and stored in IDColumn instead.
type Reference struct {
	Field    string // Target field holding the parent natural key
	IDColumn string // Database column receiving the resolved parent id
	Table    string // Referenced table
	Required bool   // Unresolvable parents fail the row when true
}

// Table describes one target table.
type Table struct {
	Name       string      // Database table name
	Aliases    []string    // Alternate sheet names that mean this table
	Fields     []Field     // Mappable columns
	NaturalKey []string    // Field(s) forming the duplicate-suppression key
	References []Reference // Foreign keys, resolved by parent natural key
}

// Field returns the field with the given name.
func (t Table) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// Reference returns the reference anchored on the given field, if any.
func (t Table) Reference(field string) (Reference, bool) {
	for _, r := range t.References {
		if strings.EqualFold(r.Field, field) {
			return r, true
		}
	}
	return Reference{}, false
}

// Tables returns all target tables in dependency order: tables that other
// tables reference come first, so an import that walks this slice in order
// never inserts a child before its parent table has been processed.
func Tables() []Table {
	return targetTables
}

// Lookup returns a table by name (case-insensitive).
func Lookup(name string) (Table, bool) {
	for _, t := range targetTables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// NormalizeName lower-cases a source header or sheet name and strips
// punctuation and whitespace so "E-Mail Address" and "email_address"
// compare equal.
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
