package spreadsheet

import "strings"

// Canonical column identifiers produced by header resolution.
const (
	ColumnStudentName = "studentName"
	ColumnStartDate   = "startDate"
	ColumnClassName   = "className"
	ColumnEndDate     = "endDate"
	ColumnFlag        = "flag"
)

type columnSpec struct {
	canonical string
	required  bool
	synonyms  []string
}

// The whitelist is fixed: unmapped headers are ignored, missing required
// columns fail the whole parse.
var columnSpecs = []columnSpec{
	{
		canonical: ColumnStudentName,
		required:  true,
		synonyms:  []string{"student name", "student", "name", "full name", "student full name", "pupil name", "learner name"},
	},
	{
		canonical: ColumnStartDate,
		required:  true,
		synonyms:  []string{"start date", "start", "date started", "enrolment start", "enrollment start", "commencement date"},
	},
	{
		canonical: ColumnClassName,
		required:  true,
		synonyms:  []string{"class name", "class", "class group", "course", "course name", "group"},
	},
	{
		canonical: ColumnEndDate,
		required:  false,
		synonyms:  []string{"end date", "end", "date ended", "finish date", "expected end date", "leaving date"},
	},
	{
		canonical: ColumnFlag,
		required:  false,
		synonyms:  []string{"register flag", "flag", "on register", "register", "include in register"},
	},
}

// normalizeHeader lowercases and strips whitespace and punctuation so that
// "Start-Date ", "start_date" and "START DATE" all resolve alike.
func normalizeHeader(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var synonymIndex = buildSynonymIndex()

func buildSynonymIndex() map[string]string {
	idx := make(map[string]string)
	for _, spec := range columnSpecs {
		for _, syn := range spec.synonyms {
			idx[normalizeHeader(syn)] = spec.canonical
		}
	}
	return idx
}

// resolveHeaders maps each header cell to a canonical column. It returns the
// column index mapping, the original text of headers that matched nothing, and
// the list of required columns with no mapped header.
func resolveHeaders(headerRow []string) (mapping map[int]string, ignored []string, missing []string) {
	mapping = make(map[int]string, len(headerRow))
	seen := make(map[string]bool, len(columnSpecs))
	for i, raw := range headerRow {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		canonical, ok := synonymIndex[normalizeHeader(trimmed)]
		if !ok || seen[canonical] {
			ignored = append(ignored, trimmed)
			continue
		}
		mapping[i] = canonical
		seen[canonical] = true
	}
	for _, spec := range columnSpecs {
		if spec.required && !seen[spec.canonical] {
			missing = append(missing, spec.canonical)
		}
	}
	return mapping, ignored, missing
}
