package mapper

import (
	"reflect"
	"testing"

	"github.com/dmarsh-dev/crm-migrate/internal/workbook"
)

func orgSheetProfile() workbook.SheetProfile {
	return workbook.SheetProfile{
		Name:    "Companies",
		Headers: []string{"Company Name", "E-mail", "Segment", "Annual Revenue"},
		Columns: []workbook.ColumnProfile{
			{Name: "Company Name", Type: workbook.TypeString,
				Samples: []string{"Acme Corp", "Globex", "Initech"}},
			{Name: "E-mail", Type: workbook.TypeEmail,
				Samples: []string{"info@acme.com", "hello@globex.com", "sales@initech.io"}},
			{Name: "Segment", Type: workbook.TypeEnum,
				Samples: []string{"enterprise", "smb", "enterprise"}},
			{Name: "Annual Revenue", Type: workbook.TypeNumber,
				Samples: []string{"$2,500,000", "750000", "$1,200,000"}},
		},
	}
}

func TestMapSheet_Organizations(t *testing.T) {
	m := MapSheet(orgSheetProfile())

	if m.TargetTable != "organizations" {
		t.Fatalf("target table = %q, want organizations", m.TargetTable)
	}

	byTarget := make(map[string]FieldMapping)
	for _, fm := range m.FieldMappings {
		byTarget[fm.TargetField] = fm
	}

	tests := []struct {
		target     string
		source     string
		confidence float64
	}{
		// type + synonym
		{"name", "Company Name", 5.0},
		// type + name + sample format
		{"email", "E-mail", 7.5},
		// type + name + enum domain
		{"segment", "Segment", 7.5},
		// type + synonym
		{"annual_revenue", "Annual Revenue", 5.0},
	}

	for _, tt := range tests {
		fm, ok := byTarget[tt.target]
		if !ok {
			t.Errorf("no mapping for target %q", tt.target)
			continue
		}
		if fm.SourceField != tt.source {
			t.Errorf("%s mapped from %q, want %q", tt.target, fm.SourceField, tt.source)
		}
		if fm.Confidence != tt.confidence {
			t.Errorf("%s confidence = %v, want %v", tt.target, fm.Confidence, tt.confidence)
		}
		if len(fm.Reasons) == 0 {
			t.Errorf("%s has no reasons", tt.target)
		}
	}

	// Aggregate confidence is the mean of field confidences.
	want := (5.0 + 7.5 + 7.5 + 5.0) / 4
	if m.Confidence != want {
		t.Errorf("aggregate confidence = %v, want %v", m.Confidence, want)
	}
}

func TestMapSheet_NoTableMatch(t *testing.T) {
	p := workbook.SheetProfile{
		Name:    "Quarterly Budget",
		Columns: []workbook.ColumnProfile{{Name: "Line Item", Type: workbook.TypeString}},
	}

	m := MapSheet(p)
	if m.TargetTable != "" {
		t.Errorf("target table = %q, want empty", m.TargetTable)
	}
	if len(m.FieldMappings) != 0 {
		t.Errorf("field mappings = %d, want 0", len(m.FieldMappings))
	}
	if !reflect.DeepEqual(m.UnmappedSourceFields, []string{"Line Item"}) {
		t.Errorf("unmapped source fields = %v", m.UnmappedSourceFields)
	}
}

func TestMapSheet_NoDuplicateTargetFields(t *testing.T) {
	p := workbook.SheetProfile{
		Name: "Contacts",
		Columns: []workbook.ColumnProfile{
			{Name: "Email", Type: workbook.TypeEmail, Samples: []string{"a@x.com", "b@y.com"}},
			{Name: "Work Email", Type: workbook.TypeEmail, Samples: []string{"c@z.com", "d@w.com"}},
		},
	}

	m := MapSheet(p)
	claimed := make(map[string]string)
	for _, fm := range m.FieldMappings {
		if prev, dup := claimed[fm.TargetField]; dup {
			t.Fatalf("target %q claimed by both %q and %q", fm.TargetField, prev, fm.SourceField)
		}
		claimed[fm.TargetField] = fm.SourceField
	}
}

func TestMapWorkbook_Deterministic(t *testing.T) {
	profiles := []workbook.SheetProfile{orgSheetProfile()}

	first := MapWorkbook(profiles)
	for i := 0; i < 10; i++ {
		if got := MapWorkbook(profiles); !reflect.DeepEqual(got, first) {
			t.Fatal("MapWorkbook is not deterministic")
		}
	}
}

func TestScoreField_ConfidenceRange(t *testing.T) {
	p := orgSheetProfile()
	for _, tm := range MapWorkbook([]workbook.SheetProfile{p}) {
		for _, fm := range tm.FieldMappings {
			if fm.Confidence < 0 || fm.Confidence > 10 {
				t.Errorf("confidence %v out of range for %s", fm.Confidence, fm.SourceField)
			}
		}
	}
}

func TestNeedsReview(t *testing.T) {
	if (FieldMapping{Confidence: 5.0}).NeedsReview() {
		t.Error("confidence at the threshold should not need review")
	}
	if !(FieldMapping{Confidence: 2.5}).NeedsReview() {
		t.Error("confidence below the threshold should need review")
	}
}

func TestNeedsReviewRatio(t *testing.T) {
	mappings := []TableMapping{
		{FieldMappings: []FieldMapping{
			{Confidence: 7.5},
			{Confidence: 2.5},
			{Confidence: 2.5},
			{Confidence: 5.0},
		}},
	}

	if got := NeedsReviewRatio(mappings); got != 0.5 {
		t.Errorf("NeedsReviewRatio = %v, want 0.5", got)
	}
	if got := NeedsReviewRatio(nil); got != 0 {
		t.Errorf("NeedsReviewRatio(nil) = %v, want 0", got)
	}
}

func TestNameSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"Organizations", "organizations", 1},
		{"organization", "organizations", 1}, // plural
		{"Companies", "company", 1},          // ies plural
		{"All Contacts", "contacts", 0.8},    // containment
		{"Budget", "deals", 0},
	}

	for _, tt := range tests {
		got := nameSimilarity(tt.a, tt.b)
		if tt.want == 0 {
			if got >= tableMatchFloor {
				t.Errorf("nameSimilarity(%q, %q) = %v, want below floor", tt.a, tt.b, got)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("nameSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMatchTable_Aliases(t *testing.T) {
	tests := []struct {
		sheet string
		table string
	}{
		{"Companies", "organizations"},
		{"Accounts", "organizations"},
		{"People", "contacts"},
		{"Opportunities", "deals"},
		{"Tasks", "activities"},
	}

	for _, tt := range tests {
		table, ok := matchTable(tt.sheet)
		if !ok {
			t.Errorf("matchTable(%q) found no table", tt.sheet)
			continue
		}
		if table.Name != tt.table {
			t.Errorf("matchTable(%q) = %s, want %s", tt.sheet, table.Name, tt.table)
		}
	}
}
