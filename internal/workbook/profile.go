package workbook

// profile.go infers a per-column data-type signature from sampled rows.
//
// Classification order matters: specific shapes (email, phone) are checked
// before general ones (number, date, bool), and enum-likeness is a fallback
// for low-cardinality string columns.

import (
	"fmt"
	"strings"

	"github.com/dmarsh-dev/crm-migrate/internal/schema"
)

// DefaultSampleRows is the number of data rows sampled per sheet.
var DefaultSampleRows = 100

// patternThreshold is the share of non-empty samples that must match a
// shape (email, phone, date, ...) for the column to take that type.
const patternThreshold = 0.8

// enumMaxDistinct caps how many distinct values an enum-like column may
// have; enumDistinctRatio caps distinct values relative to sample count.
const (
	enumMaxDistinct   = 12
	enumDistinctRatio = 0.5
	enumMinSamples    = 4
)

// ColumnType is the inferred shape of a source column.
type ColumnType string

const (
	TypeString ColumnType = "string"
	TypeNumber ColumnType = "number"
	TypeDate   ColumnType = "date"
	TypeBool   ColumnType = "bool"
	TypeEmail  ColumnType = "email"
	TypePhone  ColumnType = "phone"
	TypeEnum   ColumnType = "enum"
)

// ColumnProfile is one source column's inferred shape. Immutable once
// computed; re-analysis builds new profiles.
type ColumnProfile struct {
	Name          string     `json:"name"`
	Type          ColumnType `json:"type"`
	Samples       []string   `json:"samples"`
	NullRatio     float64    `json:"nullRatio"`
	DistinctRatio float64    `json:"distinctRatio"`
}

// SheetProfile is the analyzer output for one sheet.
type SheetProfile struct {
	Name     string          `json:"name"`
	Headers  []string        `json:"headers"`
	Columns  []ColumnProfile `json:"columns"`
	RowCount int             `json:"rowCount"`
}

// AnalysisError marks a sheet that could not be analyzed. It is fatal for
// that sheet only; other sheets continue.
type AnalysisError struct {
	Sheet  string `json:"sheet"`
	Reason string `json:"reason"`
}

func (e AnalysisError) Error() string {
	return fmt.Sprintf("sheet %q: %s", e.Sheet, e.Reason)
}

// Analyze profiles every sheet in the workbook, sampling up to sampleRows
// data rows per sheet. Sheets without a header or data rows are reported
// as AnalysisErrors and skipped.
func Analyze(wb *Workbook, sampleRows int) ([]SheetProfile, []AnalysisError) {
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}

	var profiles []SheetProfile
	var errs []AnalysisError

	for _, sheet := range wb.Sheets {
		if len(sheet.Header) == 0 {
			errs = append(errs, AnalysisError{Sheet: sheet.Name, Reason: "sheet could not be read or has no header row"})
			continue
		}
		if len(sheet.Rows) == 0 {
			errs = append(errs, AnalysisError{Sheet: sheet.Name, Reason: "no data rows after header"})
			continue
		}
		profiles = append(profiles, profileSheet(sheet, sampleRows))
	}

	return profiles, errs
}

func profileSheet(sheet Sheet, sampleRows int) SheetProfile {
	sampled := sheet.Rows
	if len(sampled) > sampleRows {
		sampled = sampled[:sampleRows]
	}

	p := SheetProfile{
		Name:     sheet.Name,
		Headers:  sheet.Header,
		RowCount: len(sheet.Rows),
		Columns:  make([]ColumnProfile, len(sheet.Header)),
	}

	for col, header := range sheet.Header {
		values := make([]string, 0, len(sampled))
		for _, row := range sampled {
			values = append(values, sheet.Cell(row, col))
		}
		p.Columns[col] = profileColumn(header, values)
	}

	return p
}

// maxProfileSamples bounds how many sample values a profile retains for
// downstream pattern and business-rule matching.
const maxProfileSamples = 20

func profileColumn(name string, values []string) ColumnProfile {
	var nonEmpty []string
	distinct := make(map[string]int)

	for _, v := range values {
		if v == "" {
			continue
		}
		nonEmpty = append(nonEmpty, v)
		distinct[strings.ToLower(v)]++
	}

	profile := ColumnProfile{
		Name: name,
		Type: TypeString,
	}
	if len(values) > 0 {
		profile.NullRatio = float64(len(values)-len(nonEmpty)) / float64(len(values))
	}

	// Type inference needs at least one non-empty sample.
	if len(nonEmpty) == 0 {
		return profile
	}

	profile.DistinctRatio = float64(len(distinct)) / float64(len(nonEmpty))
	profile.Samples = nonEmpty
	if len(profile.Samples) > maxProfileSamples {
		profile.Samples = profile.Samples[:maxProfileSamples]
	}

	profile.Type = inferType(nonEmpty, len(distinct))
	return profile
}

func inferType(nonEmpty []string, distinctCount int) ColumnType {
	switch {
	case matchRatio(nonEmpty, func(v string) bool { return schema.EmailPattern.MatchString(v) }) >= patternThreshold:
		return TypeEmail
	case matchRatio(nonEmpty, func(v string) bool { return schema.PhonePattern.MatchString(v) }) >= patternThreshold:
		return TypePhone
	case matchRatio(nonEmpty, func(v string) bool { _, ok := schema.ParseBool(v); return ok }) >= patternThreshold:
		return TypeBool
	case matchRatio(nonEmpty, func(v string) bool { _, ok := schema.ParseNumber(v); return ok }) >= patternThreshold:
		return TypeNumber
	case matchRatio(nonEmpty, func(v string) bool { _, ok := schema.ParseDate(v); return ok }) >= patternThreshold:
		return TypeDate
	case isEnumLike(len(nonEmpty), distinctCount):
		return TypeEnum
	default:
		return TypeString
	}
}

// isEnumLike reports whether a column's values recur enough to look like a
// closed domain: few distinct values, both absolutely and relative to the
// sample count.
func isEnumLike(sampleCount, distinctCount int) bool {
	if sampleCount < enumMinSamples {
		return false
	}
	return distinctCount <= enumMaxDistinct &&
		float64(distinctCount) <= enumDistinctRatio*float64(sampleCount)
}

func matchRatio(values []string, match func(string) bool) float64 {
	if len(values) == 0 {
		return 0
	}
	matched := 0
	for _, v := range values {
		if match(v) {
			matched++
		}
	}
	return float64(matched) / float64(len(values))
}
