package store

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dmarsh-dev/crm-migrate/internal/schema"
)

func TestToPgText(t *testing.T) {
	tests := []struct {
		input string
		want  pgtype.Text
	}{
		{"Acme Corp", pgtype.Text{String: "Acme Corp", Valid: true}},
		{"  padded  ", pgtype.Text{String: "padded", Valid: true}},
		{"", pgtype.Text{Valid: false}},
		{"   ", pgtype.Text{Valid: false}},
	}

	for _, tt := range tests {
		if got := ToPgText(tt.input); got != tt.want {
			t.Errorf("ToPgText(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

func TestToPgDate(t *testing.T) {
	tests := []struct {
		input string
		valid bool
		want  time.Time
	}{
		{"2024-03-15", true, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"3/15/2024", true, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"not a date", false, time.Time{}},
		{"", false, time.Time{}},
	}

	for _, tt := range tests {
		got := ToPgDate(tt.input)
		if got.Valid != tt.valid {
			t.Errorf("ToPgDate(%q).Valid = %v, want %v", tt.input, got.Valid, tt.valid)
			continue
		}
		if tt.valid && !got.Time.Equal(tt.want) {
			t.Errorf("ToPgDate(%q) = %v, want %v", tt.input, got.Time, tt.want)
		}
	}
}

func TestToPgNumeric(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"1234.56", true},
		{"$2,500,000", true},
		{"(123.45)", true},
		{"abc", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ToPgNumeric(tt.input); got.Valid != tt.valid {
			t.Errorf("ToPgNumeric(%q).Valid = %v, want %v", tt.input, got.Valid, tt.valid)
		}
	}
}

func TestToPgBool(t *testing.T) {
	tests := []struct {
		input string
		valid bool
		want  bool
	}{
		{"yes", true, true},
		{"No", true, false},
		{"TRUE", true, true},
		{"0", true, false},
		{"maybe", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		got := ToPgBool(tt.input)
		if got.Valid != tt.valid {
			t.Errorf("ToPgBool(%q).Valid = %v, want %v", tt.input, got.Valid, tt.valid)
			continue
		}
		if tt.valid && got.Bool != tt.want {
			t.Errorf("ToPgBool(%q) = %v, want %v", tt.input, got.Bool, tt.want)
		}
	}
}

func TestToPgUUID(t *testing.T) {
	valid := "a1b2c3d4-e5f6-7890-abcd-ef1234567890"

	got := ToPgUUID(valid)
	if !got.Valid {
		t.Errorf("ToPgUUID(%q) should be valid", valid)
	}
	if s := PgUUIDToString(got); s != valid {
		t.Errorf("round trip = %q, want %q", s, valid)
	}

	for _, bad := range []string{"", "not-a-uuid", "12345"} {
		if ToPgUUID(bad).Valid {
			t.Errorf("ToPgUUID(%q) should be invalid", bad)
		}
	}
	if s := PgUUIDToString(pgtype.UUID{}); s != "" {
		t.Errorf("PgUUIDToString(invalid) = %q, want empty", s)
	}
}

func TestFieldValue(t *testing.T) {
	tests := []struct {
		name  string
		field schema.Field
		raw   string
		want  any
	}{
		{
			"enum lower-cased",
			schema.Field{Name: "segment", Type: schema.FieldEnum},
			"Enterprise",
			pgtype.Text{String: "enterprise", Valid: true},
		},
		{
			"text preserved",
			schema.Field{Name: "name", Type: schema.FieldText},
			"Acme Corp",
			pgtype.Text{String: "Acme Corp", Valid: true},
		},
		{
			"empty becomes null",
			schema.Field{Name: "industry", Type: schema.FieldText},
			"",
			pgtype.Text{Valid: false},
		},
		{
			"date parsed",
			schema.Field{Name: "close_date", Type: schema.FieldDate},
			"2024-06-30",
			pgtype.Date{Time: time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), Valid: true},
		},
		{
			"bool parsed",
			schema.Field{Name: "completed", Type: schema.FieldBool},
			"yes",
			pgtype.Bool{Bool: true, Valid: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fieldValue(tt.field, tt.raw)
			switch want := tt.want.(type) {
			case pgtype.Text:
				if got != want {
					t.Errorf("fieldValue = %+v, want %+v", got, want)
				}
			case pgtype.Date:
				d, ok := got.(pgtype.Date)
				if !ok || d.Valid != want.Valid || !d.Time.Equal(want.Time) {
					t.Errorf("fieldValue = %+v, want %+v", got, want)
				}
			case pgtype.Bool:
				if got != want {
					t.Errorf("fieldValue = %+v, want %+v", got, want)
				}
			}
		})
	}
}

func TestNaturalKeyExpr(t *testing.T) {
	orgs, _ := schema.Lookup("organizations")
	if got, want := naturalKeyExpr(orgs), `LOWER(COALESCE("name", ''))`; got != want {
		t.Errorf("organizations key expr = %s, want %s", got, want)
	}

	// Composite key with a date component: the date column is compared in
	// its ISO text form, not lower-cased.
	activities, _ := schema.Lookup("activities")
	want := `LOWER(COALESCE("subject", '')) || '|' || COALESCE("occurred_at"::text, '')`
	if got := naturalKeyExpr(activities); got != want {
		t.Errorf("activities key expr = %s, want %s", got, want)
	}
}

func TestInsertColumns(t *testing.T) {
	contacts, _ := schema.Lookup("contacts")
	fields, idColumns := insertColumns(contacts)

	for _, f := range fields {
		if f.Name == "organization" {
			t.Error("reference field should not be a stored column")
		}
	}
	if len(idColumns) != 1 || idColumns[0] != "organization_id" {
		t.Errorf("idColumns = %v, want [organization_id]", idColumns)
	}
}

func TestInsertStatement(t *testing.T) {
	orgs, _ := schema.Lookup("organizations")
	fields, idColumns := insertColumns(orgs)
	stmt := insertStatement(orgs, fields, idColumns)

	want := `INSERT INTO "organizations" ("name", "email", "phone", "website", "industry", "segment", "annual_revenue", "postal_code", "country") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if stmt != want {
		t.Errorf("insertStatement =\n%s\nwant\n%s", stmt, want)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"name", `"name"`},
		{`evil"col`, `"evil""col"`},
	}

	for _, tt := range tests {
		if got := quoteIdentifier(tt.input); got != tt.want {
			t.Errorf("quoteIdentifier(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}
