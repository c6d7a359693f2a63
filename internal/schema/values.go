package schema

// values.go provides value parsing shared by the workbook analyzer (type
// inference), the batch importer (row validation), and the target store
// (conversion to database types). Keeping one parser set means a value the
// analyzer classifies as a date is also a date at validation time.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EmailPattern matches typical mailbox addresses. Intentionally loose:
// it classifies messy CRM exports, it does not enforce RFC 5322.
var EmailPattern = regexp.MustCompile(`^[\w.+\-]+@[\w\-]+(\.[\w\-]+)+$`)

// PhonePattern matches common phone formats: optional +country code,
// digits with separators, 7-15 digits overall.
var PhonePattern = regexp.MustCompile(`^\+?[0-9][0-9()\-. ]{5,18}[0-9]$`)

// numericPattern validates numbers after currency/thousand-separator cleanup.
var numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot controls 2-digit year interpretation: parsed years more
// than this many years in the future roll back a century.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
)

// ParseDate parses a spreadsheet date in any supported layout.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}

	return time.Time{}, false
}

// ParseNumber parses a number, tolerating currency symbols, thousand
// separators, percent signs, and accounting-style parentheses negatives.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", "%", "", " ", "").Replace(s)
	if !numericPattern.MatchString(s) {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		f = -f
	}
	return f, true
}

// ParseBool parses yes/no, true/false, y/n, and 1/0.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "t":
		return true, true
	case "false", "no", "n", "0", "f":
		return false, true
	default:
		return false, false
	}
}

// InEnum reports whether a value belongs to an enum domain, ignoring case
// and surrounding whitespace.
func InEnum(value string, domain []string) bool {
	value = strings.TrimSpace(value)
	for _, d := range domain {
		if strings.EqualFold(value, d) {
			return true
		}
	}
	return false
}

// ValidateValue checks a single cell value against a target field's rules.
// Empty values pass unless the field is required; they become NULLs.
func ValidateValue(f Field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		if f.Required {
			return fmt.Errorf("required field %q is empty", f.Name)
		}
		return nil
	}

	switch f.Type {
	case FieldEmail:
		if !EmailPattern.MatchString(value) {
			return fmt.Errorf("invalid email for %q: %q", f.Name, value)
		}
	case FieldPhone:
		if !PhonePattern.MatchString(value) {
			return fmt.Errorf("invalid phone for %q: %q", f.Name, value)
		}
	case FieldNumeric:
		if _, ok := ParseNumber(value); !ok {
			return fmt.Errorf("invalid number for %q: %q", f.Name, value)
		}
	case FieldDate:
		if _, ok := ParseDate(value); !ok {
			return fmt.Errorf("invalid date for %q: %q", f.Name, value)
		}
	case FieldBool:
		if _, ok := ParseBool(value); !ok {
			return fmt.Errorf("invalid bool for %q: %q (use yes/no, true/false, or 1/0)", f.Name, value)
		}
	case FieldEnum:
		if len(f.EnumValues) > 0 && !InEnum(value, f.EnumValues) {
			return fmt.Errorf("value for %q must be one of: %s", f.Name, strings.Join(f.EnumValues, ", "))
		}
	}

	if f.Pattern != nil && !f.Pattern.MatchString(value) {
		return fmt.Errorf("invalid format for %q: %q", f.Name, value)
	}

	return nil
}
