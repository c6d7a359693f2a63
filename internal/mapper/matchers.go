package mapper

// matchers.go holds the four independent match signals. Each returns a
// boolean plus a human-readable reason so the review surface can explain
// why a mapping was proposed. The scoring formula lives in scoreField.

import (
	"fmt"

	"github.com/dmarsh-dev/crm-migrate/internal/schema"
	"github.com/dmarsh-dev/crm-migrate/internal/workbook"
)

// patternSampleThreshold is the share of samples that must satisfy a target
// field's format regex for patternMatch to fire.
const patternSampleThreshold = 0.8

// typeCompat lists which inferred column types are compatible with each
// declared target field type. String columns are compatible with text-ish
// targets only; specific shapes must line up.
var typeCompat = map[schema.FieldType][]workbook.ColumnType{
	schema.FieldText:    {workbook.TypeString, workbook.TypeEnum},
	schema.FieldEmail:   {workbook.TypeEmail},
	schema.FieldPhone:   {workbook.TypePhone},
	schema.FieldEnum:    {workbook.TypeEnum, workbook.TypeString},
	schema.FieldDate:    {workbook.TypeDate},
	schema.FieldNumeric: {workbook.TypeNumber},
	schema.FieldBool:    {workbook.TypeBool},
	schema.FieldURL:     {workbook.TypeString},
}

// dataTypeMatch reports whether the column's inferred type is compatible
// with the target field's declared type.
func dataTypeMatch(col workbook.ColumnProfile, field schema.Field) (bool, string) {
	for _, t := range typeCompat[field.Type] {
		if col.Type == t {
			return true, fmt.Sprintf("inferred type %s is compatible with %s field %q",
				col.Type, schema.FieldTypeName(field.Type), field.Name)
		}
	}
	return false, ""
}

// semanticMatch reports whether the normalized column name equals the
// target field name or one of its known synonyms.
func semanticMatch(col workbook.ColumnProfile, field schema.Field) (bool, string) {
	name := schema.NormalizeName(col.Name)
	if name == "" {
		return false, ""
	}

	if name == schema.NormalizeName(field.Name) {
		return true, fmt.Sprintf("column name %q matches field %q", col.Name, field.Name)
	}
	for _, syn := range field.Synonyms {
		if name == syn {
			return true, fmt.Sprintf("column name %q is a known synonym of %q", col.Name, field.Name)
		}
	}
	return false, ""
}

// patternMatch reports whether the column's sample values satisfy the
// format regex associated with the target field. Fields without a pattern
// fall back to the shape regex implied by their type (email, phone).
func patternMatch(col workbook.ColumnProfile, field schema.Field) (bool, string) {
	pattern := field.Pattern
	if pattern == nil {
		switch field.Type {
		case schema.FieldEmail:
			pattern = schema.EmailPattern
		case schema.FieldPhone:
			pattern = schema.PhonePattern
		default:
			return false, ""
		}
	}
	if len(col.Samples) == 0 {
		return false, ""
	}

	matched := 0
	for _, v := range col.Samples {
		if pattern.MatchString(v) {
			matched++
		}
	}
	if float64(matched)/float64(len(col.Samples)) >= patternSampleThreshold {
		return true, fmt.Sprintf("%d of %d sampled values match the %q format", matched, len(col.Samples), field.Name)
	}
	return false, ""
}

// businessRuleMatch reports whether the column's sample values are a subset
// of the target field's enumerated domain.
func businessRuleMatch(col workbook.ColumnProfile, field schema.Field) (bool, string) {
	if len(field.EnumValues) == 0 || len(col.Samples) == 0 {
		return false, ""
	}

	for _, v := range col.Samples {
		if !schema.InEnum(v, field.EnumValues) {
			return false, ""
		}
	}
	return true, fmt.Sprintf("all sampled values belong to the %q domain", field.Name)
}
