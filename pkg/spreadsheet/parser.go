// Package spreadsheet turns a raw workbook upload into validated, typed rows.
// It performs no I/O beyond the single in-memory parse pass and is fully
// deterministic, so the whole pipeline above it can be tested offline.
package spreadsheet

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// ValidationError describes one field-level problem on a row.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ParsedFields holds the typed values of the whitelisted columns. Every field
// is nullable; validation decides which absences matter.
type ParsedFields struct {
	StudentName *string    `json:"student_name,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	ClassName   *string    `json:"class_name,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Flag        *bool      `json:"flag,omitempty"`
}

// ParsedRow is one spreadsheet line, immutable once produced. Invalid rows are
// kept in the result so reviewers can see and fix them.
type ParsedRow struct {
	RowNumber int               `json:"row_number"`
	RawFields map[string]string `json:"raw_fields"`
	Fields    ParsedFields      `json:"fields"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

// IsValid reports whether the row carries no validation errors.
func (r ParsedRow) IsValid() bool {
	return len(r.Errors) == 0
}

// ParseResult aggregates the outcome of parsing one workbook.
type ParseResult struct {
	Rows           []ParsedRow `json:"rows"`
	TotalRows      int         `json:"total_rows"`
	ValidRows      int         `json:"valid_rows"`
	InvalidRows    int         `json:"invalid_rows"`
	IgnoredColumns []string    `json:"ignored_columns,omitempty"`
}

// Parse reads a single-worksheet workbook from raw bytes. Structural problems
// (unreadable file, wrong sheet count, missing required columns) fail the
// whole parse with no rows; row-level problems never do.
func Parse(data []byte) (*ParseResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	if len(sheets) != 1 {
		return nil, fmt.Errorf("workbook must contain exactly one worksheet, found %d", len(sheets))
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read worksheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("worksheet %q is empty", sheets[0])
	}

	mapping, ignored, missing := resolveHeaders(rows[0])
	if len(missing) > 0 {
		return nil, fmt.Errorf("required columns not found: %s", strings.Join(missing, ", "))
	}

	result := &ParseResult{IgnoredColumns: ignored}
	for i, cells := range rows[1:] {
		if blankRow(cells) {
			continue
		}
		row := parseRow(i+2, rows[0], cells, mapping)
		result.Rows = append(result.Rows, row)
		result.TotalRows++
		if row.IsValid() {
			result.ValidRows++
		} else {
			result.InvalidRows++
		}
	}
	return result, nil
}

func parseRow(rowNumber int, headers, cells []string, mapping map[int]string) ParsedRow {
	row := ParsedRow{
		RowNumber: rowNumber,
		RawFields: make(map[string]string, len(cells)),
	}

	for i, raw := range cells {
		if i < len(headers) && strings.TrimSpace(headers[i]) != "" {
			row.RawFields[strings.TrimSpace(headers[i])] = raw
		}
		canonical, ok := mapping[i]
		if !ok {
			continue
		}
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		switch canonical {
		case ColumnStudentName:
			row.Fields.StudentName = &value
		case ColumnClassName:
			row.Fields.ClassName = &value
		case ColumnStartDate:
			row.Fields.StartDate = parseDate(value)
		case ColumnEndDate:
			row.Fields.EndDate = parseDate(value)
		case ColumnFlag:
			row.Fields.Flag = parseFlag(value)
		}
	}

	row.Errors = validateFields(row.Fields)
	return row
}

func validateFields(fields ParsedFields) []ValidationError {
	var errs []ValidationError
	if fields.StudentName == nil {
		errs = append(errs, ValidationError{Field: ColumnStudentName, Message: "student name is required"})
	}
	if fields.StartDate == nil {
		errs = append(errs, ValidationError{Field: ColumnStartDate, Message: "start date is required or unparseable"})
	}
	if fields.ClassName == nil {
		errs = append(errs, ValidationError{Field: ColumnClassName, Message: "class name is required"})
	}
	if fields.StartDate != nil && fields.EndDate != nil && fields.EndDate.Before(*fields.StartDate) {
		errs = append(errs, ValidationError{Field: ColumnEndDate, Message: "end date precedes start date"})
	}
	return errs
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
