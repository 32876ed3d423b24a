package accessors

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"rlm/internal/logging"
)

// ExtractJSONObjects parses each trimmed line that starts with "{" as a JSON
// object and returns up to Limit (default 50) of them. Lines that do not
// parse are skipped.
func (a *Accessors) ExtractJSONObjects(opts ...Option) ([]map[string]interface{}, error) {
	o, err := buildOptions(DefaultExtractLimit, opts)
	if err != nil {
		return nil, err
	}

	out := []map[string]interface{}{}
	skipped := 0
	for _, line := range splitLines(a.content()) {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		if !gjson.Valid(line) {
			skipped++
			continue
		}
		obj, ok := gjson.Parse(line).Value().(map[string]interface{})
		if !ok {
			skipped++
			continue
		}
		out = append(out, obj)
		if len(out) >= o.limit {
			break
		}
	}
	logging.AccessorsDebug("ExtractJSONObjects: %d objects, %d skipped", len(out), skipped)
	return out, nil
}

var yamlSeparator = regexp.MustCompile(`(?m)^---[ \t\r]*$`)

// ExtractYAMLDocuments splits content on whole-line "---" separators and
// returns up to Limit (default 50) trimmed, non-empty documents.
func (a *Accessors) ExtractYAMLDocuments(opts ...Option) ([]string, error) {
	o, err := buildOptions(DefaultExtractLimit, opts)
	if err != nil {
		return nil, err
	}
	return yamlDocuments(a.content(), o.limit), nil
}

func yamlDocuments(content string, limit int) []string {
	docs := []string{}
	for _, part := range yamlSeparator.Split(content, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		docs = append(docs, part)
		if len(docs) >= limit {
			break
		}
	}
	return docs
}

// ParseYAMLDocuments is ExtractYAMLDocuments followed by decoding each
// document. Documents that fail to decode are skipped.
func (a *Accessors) ParseYAMLDocuments(opts ...Option) ([]interface{}, error) {
	o, err := buildOptions(DefaultExtractLimit, opts)
	if err != nil {
		return nil, err
	}

	out := []interface{}{}
	for _, doc := range yamlDocuments(a.content(), o.limit) {
		var v interface{}
		if err := yaml.Unmarshal([]byte(doc), &v); err != nil {
			logging.AccessorsDebug("ParseYAMLDocuments: skipping document: %v", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// TimeRange holds the first and last timestamp literals found. Both are nil
// when no known format matched.
type TimeRange struct {
	First  *string `json:"first"`
	Last   *string `json:"last"`
	Format string  `json:"format,omitempty"`
}

var timestampFormats = []struct {
	name string
	re   *regexp.Regexp
}{
	{"iso", regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`)},
	{"apache", regexp.MustCompile(`\d{2}/\w{3}/\d{4}:\d{2}:\d{2}:\d{2}`)},
	{"syslog", regexp.MustCompile(`\w{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}`)},
}

// TimeRange returns the first and last timestamps of the first format, in
// iso, apache, syslog order, that matches anywhere. Formats are never mixed.
func (a *Accessors) TimeRange() TimeRange {
	content := a.content()
	for _, f := range timestampFormats {
		all := f.re.FindAllString(content, -1)
		if len(all) == 0 {
			continue
		}
		first, last := all[0], all[len(all)-1]
		return TimeRange{First: &first, Last: &last, Format: f.name}
	}
	return TimeRange{}
}
