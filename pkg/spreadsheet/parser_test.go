package spreadsheet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, headers []string, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, cell, h))
	}
	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, value))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

var standardHeaders = []string{"Student Name", "Start Date", "Class Name", "End Date"}

func TestParseValidRows(t *testing.T) {
	data := buildWorkbook(t, standardHeaders, [][]interface{}{
		{"Ada Lovelace", "2024-01-15", "Year 3 Robins", "2024-07-20"},
		{"Grace Hopper", "15/01/2024", "Year 4 Owls", ""},
	})

	result, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalRows)
	require.Equal(t, 2, result.ValidRows)
	require.Equal(t, 0, result.InvalidRows)

	first := result.Rows[0]
	require.Equal(t, 2, first.RowNumber)
	require.True(t, first.IsValid())
	require.Equal(t, "Ada Lovelace", *first.Fields.StudentName)
	require.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), *first.Fields.StartDate)
	require.Equal(t, time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC), *first.Fields.EndDate)

	second := result.Rows[1]
	require.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), *second.Fields.StartDate)
	require.Nil(t, second.Fields.EndDate)
}

func TestParseHeaderSynonymsAndIgnoredColumns(t *testing.T) {
	data := buildWorkbook(t,
		[]string{" STUDENT ", "start", "Class-Group", "Favourite Colour"},
		[][]interface{}{{"Ada Lovelace", "2024-01-15", "Year 3 Robins", "blue"}},
	)

	result, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, 1, result.ValidRows)
	require.Equal(t, []string{"Favourite Colour"}, result.IgnoredColumns)
	require.Equal(t, "blue", result.Rows[0].RawFields["Favourite Colour"])
}

func TestParseMissingRequiredColumnFails(t *testing.T) {
	data := buildWorkbook(t,
		[]string{"Student Name", "End Date"},
		[][]interface{}{{"Ada Lovelace", "2024-07-20"}},
	)

	result, err := Parse(data)
	require.Error(t, err)
	require.Nil(t, result)
	require.Contains(t, err.Error(), "required columns not found")
}

func TestParseMultipleSheetsFails(t *testing.T) {
	f := excelize.NewFile()
	_, err := f.NewSheet("Extra")
	require.NoError(t, err)
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	result, err := Parse(buf.Bytes())
	require.Error(t, err)
	require.Nil(t, result)
	require.Contains(t, err.Error(), "exactly one worksheet")
}

func TestParseGarbageBytesFails(t *testing.T) {
	_, err := Parse([]byte("not a workbook"))
	require.Error(t, err)
}

func TestParseExcelSerialDate(t *testing.T) {
	// 45306 days after 1899-12-30 is 2024-01-15.
	data := buildWorkbook(t, standardHeaders, [][]interface{}{
		{"Ada Lovelace", 45306, "Year 3 Robins", ""},
	})

	result, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), *result.Rows[0].Fields.StartDate)
}

func TestParseInvalidRowsAreKept(t *testing.T) {
	data := buildWorkbook(t, standardHeaders, [][]interface{}{
		{"", "2024-01-15", "Year 3 Robins", ""},
		{"Ada Lovelace", "not a date", "Year 3 Robins", ""},
		{"Grace Hopper", "2024-01-15", "", ""},
	})

	result, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, 3, result.TotalRows)
	require.Equal(t, 0, result.ValidRows)
	require.Equal(t, 3, result.InvalidRows)
	require.Equal(t, result.TotalRows, result.ValidRows+result.InvalidRows)

	require.Equal(t, ColumnStudentName, result.Rows[0].Errors[0].Field)
	require.Equal(t, ColumnStartDate, result.Rows[1].Errors[0].Field)
	require.Equal(t, ColumnClassName, result.Rows[2].Errors[0].Field)
}

func TestParseEndDateBeforeStartDateIsOnlyError(t *testing.T) {
	data := buildWorkbook(t, standardHeaders, [][]interface{}{
		{"Ada Lovelace", "2024-07-20", "Year 3 Robins", "2024-01-15"},
	})

	result, err := Parse(data)
	require.NoError(t, err)
	row := result.Rows[0]
	require.False(t, row.IsValid())
	require.Len(t, row.Errors, 1)
	require.Equal(t, ColumnEndDate, row.Errors[0].Field)
}

func TestParseFlagColumn(t *testing.T) {
	data := buildWorkbook(t,
		append(standardHeaders, "Register Flag"),
		[][]interface{}{
			{"Ada Lovelace", "2024-01-15", "Year 3 Robins", "", "yes"},
			{"Grace Hopper", "2024-01-15", "Year 4 Owls", "", "N"},
			{"Alan Turing", "2024-01-15", "Year 4 Owls", "", "perhaps"},
		},
	)

	result, err := Parse(data)
	require.NoError(t, err)
	require.True(t, *result.Rows[0].Fields.Flag)
	require.False(t, *result.Rows[1].Fields.Flag)
	require.Nil(t, result.Rows[2].Fields.Flag)
}

func TestParseSkipsBlankRows(t *testing.T) {
	data := buildWorkbook(t, standardHeaders, [][]interface{}{
		{"Ada Lovelace", "2024-01-15", "Year 3 Robins", ""},
		{"", "", "", ""},
		{"Grace Hopper", "2024-01-15", "Year 4 Owls", ""},
	})

	result, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalRows)
	require.Equal(t, 2, result.Rows[0].RowNumber)
	require.Equal(t, 4, result.Rows[1].RowNumber)
}

func TestParseDateFormats(t *testing.T) {
	cases := map[string]time.Time{
		"2024-01-15":   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		"15/01/2024":   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		"2/1/2024":     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		"45306":        time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		"15-01-2024":   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		"15 Jan 2024":  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		"Jan 15, 2024": time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		"2024/01/15":   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	}
	for raw, want := range cases {
		got := parseDate(raw)
		require.NotNil(t, got, "parseDate(%q)", raw)
		require.Equal(t, want, *got, "parseDate(%q)", raw)
	}

	require.Nil(t, parseDate(""))
	require.Nil(t, parseDate("not a date"))
	require.Nil(t, parseDate("-5"))
}
