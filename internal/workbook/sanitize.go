package workbook

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, a UTF-8 BOM, Excel formula prefixes (="value"),
// and stray surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with the Unicode
// replacement character so the CSV reader never chokes on exports from
// legacy Windows encodings.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
