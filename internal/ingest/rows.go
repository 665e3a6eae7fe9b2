package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/medisight/healthdata-platform/internal/validate"
)

// ReadCSV parses a delimited-text upload into raw rows. The first record is
// the header; every following record becomes one RawRow keyed by header
// column. Row order is preserved — it determines ingestion order.
func ReadCSV(r io.Reader) ([]validate.RawRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	// Ragged rows are tolerated: missing cells surface as missing fields in
	// validation rather than killing the whole file.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty file: missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	// Excel exports prepend a UTF-8 BOM to the first column name.
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []validate.RawRow
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(rows)+1, err)
		}
		row := make(validate.RawRow, len(header))
		for i, col := range header {
			if i < len(fields) {
				row[col] = fields[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// RowsFromJSON converts decoded JSON objects into raw rows. Callers must
// decode with json.Decoder.UseNumber so numeric values survive as their
// original text instead of float64 round-trips.
func RowsFromJSON(objects []map[string]any) []validate.RawRow {
	rows := make([]validate.RawRow, 0, len(objects))
	for _, obj := range objects {
		row := make(validate.RawRow, len(obj))
		for k, v := range obj {
			row[k] = scalarText(v)
		}
		rows = append(rows, row)
	}
	return rows
}

func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
