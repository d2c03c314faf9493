package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Headers: []string{"Row", "Student", "Action"},
		Rows: []map[string]string{
			{"Row": "2", "Student": "Jane Smith", "Action": "UPDATE"},
			{"Row": "3", "Student": "Bob Brown", "Action": "INSERT"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	payload, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	require.Equal(t, "Row,Student,Action\n2,Jane Smith,UPDATE\n3,Bob Brown,INSERT\n", string(payload))
}

func TestCSVExporterFillsMissingCells(t *testing.T) {
	data := Dataset{
		Headers: []string{"Row", "Student"},
		Rows:    []map[string]string{{"Row": "2"}},
	}
	payload, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	require.Equal(t, "Row,Student\n2,\n", string(payload))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	payload, err := NewPDFExporter().Render(sampleDataset(), "Import b1")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(payload, []byte("%PDF")))

	_, err = NewPDFExporter().Render(Dataset{}, "")
	require.Error(t, err)
}
