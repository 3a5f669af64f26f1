package profile

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// readCSV reads the header and up to sampleRows data rows.
func readCSV(path string, delimiter rune, sampleRows int) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "profile: open %s", path)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1 // allow ragged rows
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, eris.Wrapf(err, "profile: read header %s", path)
	}

	var rows [][]string
	for sampleRows <= 0 || len(rows) < sampleRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrapf(err, "profile: read row %s", path)
		}
		rows = append(rows, record)
	}

	return header, rows, nil
}

// readXLSX reads the first sheet's header and up to sampleRows data rows.
func readXLSX(path string, sampleRows int) ([]string, [][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "profile: open xlsx %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, nil, nil
	}

	sheet := f.Sheets[0]
	var header []string
	var rows [][]string

	for i, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if i == 0 {
			header = cells
			continue
		}
		rows = append(rows, cells)
		if sampleRows > 0 && len(rows) >= sampleRows {
			break
		}
	}

	return header, rows, nil
}

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
}

// inferType picks the dominant scalar type among non-empty values.
// Empty input and all-empty columns infer "string".
func inferType(values []string) string {
	counts := map[string]int{}
	total := 0

	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		total++
		counts[scalarType(v)]++
	}

	if total == 0 {
		return "string"
	}

	// A column is typed only if every non-null value agrees; mixed columns
	// degrade to string.
	for _, t := range []string{"integer", "float", "boolean", "datetime"} {
		if counts[t] == total {
			return t
		}
	}
	// Integers embedded in a float column still make it a float column.
	if counts["integer"]+counts["float"] == total && counts["float"] > 0 {
		return "float"
	}
	return "string"
}

func scalarType(v string) string {
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return "integer"
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return "float"
	}
	switch strings.ToLower(v) {
	case "true", "false":
		return "boolean"
	}
	for _, layout := range datetimeLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return "datetime"
		}
	}
	return "string"
}
