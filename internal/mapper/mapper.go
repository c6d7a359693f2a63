// Package mapper proposes how source spreadsheet columns map onto the
// fixed target schema, scoring each proposal so a reviewer can accept,
// edit, or reject it before migration runs.
package mapper

import (
	"sort"

	"github.com/dmarsh-dev/crm-migrate/internal/schema"
	"github.com/dmarsh-dev/crm-migrate/internal/workbook"
)

// Confidence tiers. Each of the four match signals contributes
// signalWeight, so scores land on 0, 2.5, 5, 7.5, or 10.
const (
	signalWeight = 2.5

	// AutoAcceptThreshold marks mappings safe to accept without review.
	AutoAcceptThreshold = 8.0

	// ReviewThreshold marks mappings that need human review.
	ReviewThreshold = 5.0

	// tableMatchFloor is the minimum sheet-name similarity for a sheet to
	// be assigned a target table at all.
	tableMatchFloor = 0.5
)

// FieldMapping is a proposed mapping of one source column onto one target
// field, with the four boolean signals that produced its confidence.
type FieldMapping struct {
	SourceField       string   `json:"sourceField"`
	TargetField       string   `json:"targetField"`
	Confidence        float64  `json:"confidence"`
	Reasons           []string `json:"reasons"`
	DataTypeMatch     bool     `json:"dataTypeMatch"`
	SemanticMatch     bool     `json:"semanticMatch"`
	PatternMatch      bool     `json:"patternMatch"`
	BusinessRuleMatch bool     `json:"businessRuleMatch"`
}

// NeedsReview reports whether the mapping falls below the review threshold.
func (m FieldMapping) NeedsReview() bool {
	return m.Confidence < ReviewThreshold
}

// TableMapping is the proposed mapping of one source sheet onto one target
// table. Within a TableMapping no two FieldMappings share a target field.
type TableMapping struct {
	SourceSheet          string         `json:"sourceSheet"`
	TargetTable          string         `json:"targetTable"`
	Confidence           float64        `json:"confidence"`
	FieldMappings        []FieldMapping `json:"fieldMappings"`
	UnmappedSourceFields []string       `json:"unmappedSourceFields"`
	UnmappedTargetFields []string       `json:"unmappedTargetFields"`
}

// MapWorkbook proposes a TableMapping per analyzed sheet. Output is
// deterministic: the same profiles and schema always produce the same
// mappings.
func MapWorkbook(profiles []workbook.SheetProfile) []TableMapping {
	mappings := make([]TableMapping, 0, len(profiles))
	for _, p := range profiles {
		mappings = append(mappings, MapSheet(p))
	}
	return mappings
}

// MapSheet proposes a mapping for one sheet. A sheet whose name resembles
// no target table above the similarity floor comes back with an empty
// TargetTable and every column in UnmappedSourceFields.
func MapSheet(p workbook.SheetProfile) TableMapping {
	table, ok := matchTable(p.Name)
	if !ok {
		unmapped := make([]string, 0, len(p.Columns))
		for _, col := range p.Columns {
			unmapped = append(unmapped, col.Name)
		}
		return TableMapping{
			SourceSheet:          p.Name,
			UnmappedSourceFields: unmapped,
		}
	}

	m := TableMapping{
		SourceSheet: p.Name,
		TargetTable: table.Name,
	}

	// Score every (column, field) pair, then assign greedily by confidence
	// so each target field is claimed at most once.
	type candidate struct {
		col   int
		field int
		fm    FieldMapping
	}
	var candidates []candidate

	for ci, col := range p.Columns {
		for fi, field := range table.Fields {
			fm := scoreField(col, field)
			if fm.Confidence > 0 {
				candidates = append(candidates, candidate{col: ci, field: fi, fm: fm})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].fm.Confidence != candidates[j].fm.Confidence {
			return candidates[i].fm.Confidence > candidates[j].fm.Confidence
		}
		if candidates[i].col != candidates[j].col {
			return candidates[i].col < candidates[j].col
		}
		return candidates[i].field < candidates[j].field
	})

	claimedCols := make(map[int]bool)
	claimedFields := make(map[int]bool)
	for _, c := range candidates {
		if claimedCols[c.col] || claimedFields[c.field] {
			continue
		}
		claimedCols[c.col] = true
		claimedFields[c.field] = true
		m.FieldMappings = append(m.FieldMappings, c.fm)
	}

	// Keep source-column order for stable presentation.
	sort.SliceStable(m.FieldMappings, func(i, j int) bool {
		return columnIndex(p, m.FieldMappings[i].SourceField) < columnIndex(p, m.FieldMappings[j].SourceField)
	})

	for ci, col := range p.Columns {
		if !claimedCols[ci] {
			m.UnmappedSourceFields = append(m.UnmappedSourceFields, col.Name)
		}
	}
	for fi, field := range table.Fields {
		if !claimedFields[fi] {
			m.UnmappedTargetFields = append(m.UnmappedTargetFields, field.Name)
		}
	}

	if len(m.FieldMappings) > 0 {
		var sum float64
		for _, fm := range m.FieldMappings {
			sum += fm.Confidence
		}
		m.Confidence = sum / float64(len(m.FieldMappings))
	}

	return m
}

// scoreField evaluates one source column against one target field using the
// four independent signals and combines them into a 0-10 confidence.
func scoreField(col workbook.ColumnProfile, field schema.Field) FieldMapping {
	fm := FieldMapping{
		SourceField: col.Name,
		TargetField: field.Name,
	}

	var reason string
	if fm.DataTypeMatch, reason = dataTypeMatch(col, field); fm.DataTypeMatch {
		fm.Reasons = append(fm.Reasons, reason)
	}
	if fm.SemanticMatch, reason = semanticMatch(col, field); fm.SemanticMatch {
		fm.Reasons = append(fm.Reasons, reason)
	}
	if fm.PatternMatch, reason = patternMatch(col, field); fm.PatternMatch {
		fm.Reasons = append(fm.Reasons, reason)
	}
	if fm.BusinessRuleMatch, reason = businessRuleMatch(col, field); fm.BusinessRuleMatch {
		fm.Reasons = append(fm.Reasons, reason)
	}

	for _, hit := range []bool{fm.DataTypeMatch, fm.SemanticMatch, fm.PatternMatch, fm.BusinessRuleMatch} {
		if hit {
			fm.Confidence += signalWeight
		}
	}

	return fm
}

// NeedsReviewRatio returns the proportion of field mappings across all
// table mappings that fall below the review threshold. Migration is gated
// on this ratio staying at or below 0.5 unless the approval overrides it.
func NeedsReviewRatio(mappings []TableMapping) float64 {
	total, below := 0, 0
	for _, tm := range mappings {
		for _, fm := range tm.FieldMappings {
			total++
			if fm.NeedsReview() {
				below++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(below) / float64(total)
}

// matchTable picks the target table whose name or alias best resembles the
// sheet name, requiring similarity above the floor.
func matchTable(sheetName string) (schema.Table, bool) {
	var best schema.Table
	bestScore := 0.0

	for _, table := range schema.Tables() {
		names := append([]string{table.Name}, table.Aliases...)
		for _, name := range names {
			if score := nameSimilarity(sheetName, name); score > bestScore {
				bestScore = score
				best = table
			}
		}
	}

	if bestScore < tableMatchFloor {
		return schema.Table{}, false
	}
	return best, true
}

func columnIndex(p workbook.SheetProfile, name string) int {
	for i, col := range p.Columns {
		if col.Name == name {
			return i
		}
	}
	return len(p.Columns)
}
