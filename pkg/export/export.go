package export

import "fmt"

// Table is the tabular content handed to an exporter.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Exporter renders a table into a downloadable document.
type Exporter interface {
	Render(Table) ([]byte, error)
	ContentType() string
	Extension() string
}

// ForFormat returns the exporter registered for a format name.
func ForFormat(format string) (Exporter, error) {
	switch format {
	case "", "csv":
		return NewCSVExporter(), nil
	case "pdf":
		return NewPDFExporter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func (t Table) validate() error {
	if len(t.Headers) == 0 {
		return fmt.Errorf("table requires at least one header")
	}
	for i, row := range t.Rows {
		if len(row) > len(t.Headers) {
			return fmt.Errorf("row %d has %d cells for %d headers", i, len(row), len(t.Headers))
		}
	}
	return nil
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}
