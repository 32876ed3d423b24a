package accessors

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Stats summarizes the content. A zero file count is omitted when encoded,
// and so are the severity counts when both are zero.
type Stats struct {
	TotalChars    int `json:"total_chars"`
	TotalLines    int `json:"total_lines"`
	NonEmptyLines int `json:"non_empty_lines"`
	AvgLineLength int `json:"avg_line_length"`
	FilesLoaded   int `json:"files_loaded,omitempty"`
	ErrorCount    int `json:"error_count,omitempty"`
	WarningCount  int `json:"warning_count,omitempty"`
}

var (
	errorToken   = regexp.MustCompile(`(?i)\b(ERROR|FATAL|CRITICAL)\b`)
	warningToken = regexp.MustCompile(`(?i)\bWARN(ING)?\b`)
)

// MarshalJSON encodes the severity counts as a pair.
func (s Stats) MarshalJSON() ([]byte, error) {
	type plain Stats
	out := struct {
		plain
		ErrorCount   *int `json:"error_count,omitempty"`
		WarningCount *int `json:"warning_count,omitempty"`
	}{plain: plain(s)}
	if s.ErrorCount != 0 || s.WarningCount != 0 {
		out.ErrorCount, out.WarningCount = &s.ErrorCount, &s.WarningCount
	}
	return json.Marshal(out)
}

// Stats counts characters (runes), lines and severity tokens.
func (a *Accessors) Stats() Stats {
	content := a.content()
	lines := splitLines(content)

	st := Stats{
		TotalChars: utf8.RuneCountInString(content),
		TotalLines: len(lines),
	}
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			st.NonEmptyLines++
		}
	}
	denom := st.TotalLines
	if denom < 1 {
		denom = 1
	}
	st.AvgLineLength = st.TotalChars / denom
	st.FilesLoaded = len(a.files())
	st.ErrorCount = len(errorToken.FindAllStringIndex(content, -1))
	st.WarningCount = len(warningToken.FindAllStringIndex(content, -1))
	return st
}
