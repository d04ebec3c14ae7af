package datasource

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seenimoa/fraudlens/pkg/models"
)

// Format is an input file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
}

// LoadFile reads one FinancialData record from path.
func LoadFile(path string) (*models.FinancialData, error) {
	records, err := LoadAll(path)
	if err != nil {
		return nil, err
	}
	if len(records) != 1 {
		return nil, fmt.Errorf("%s: expected one record, found %d", path, len(records))
	}
	return &records[0], nil
}

// LoadAll reads every record in path. JSON files may hold an object or an
// array of objects, YAML files may hold several documents, and CSV files hold
// exactly one record.
func LoadAll(path string) ([]models.FinancialData, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	records, err := DecodeAll(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Decode reads exactly one record from r.
func Decode(r io.Reader, format Format) (*models.FinancialData, error) {
	records, err := DecodeAll(r, format)
	if err != nil {
		return nil, err
	}
	if len(records) != 1 {
		return nil, fmt.Errorf("expected one record, found %d", len(records))
	}
	return &records[0], nil
}

// DecodeAll reads every record from r.
func DecodeAll(r io.Reader, format Format) ([]models.FinancialData, error) {
	switch format {
	case FormatJSON:
		return decodeJSON(r)
	case FormatYAML:
		return decodeYAML(r)
	case FormatCSV:
		d, err := decodeCSV(r)
		if err != nil {
			return nil, err
		}
		return []models.FinancialData{*d}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

func decodeJSON(r io.Reader) ([]models.FinancialData, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	raw = bytes.TrimSpace(raw)

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	if len(raw) > 0 && raw[0] == '[' {
		var list []models.FinancialData
		if err := dec.Decode(&list); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return list, nil
	}
	var d models.FinancialData
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return []models.FinancialData{d}, nil
}

func decodeYAML(r io.Reader) ([]models.FinancialData, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out []models.FinancialData
	for {
		var d models.FinancialData
		err := dec.Decode(&d)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, errors.New("decode yaml: no documents")
	}
	return out, nil
}

// decodeCSV reads the two-column layout spreadsheets export:
//
//	field,current,prior
//	company_name,Acme Industrial,
//	financial_year,2024,
//	sales,"100,000","90,000"
//	operating_income,15000,
//
// Amounts go through ParseAmount; blank cells leave the field unset.
func decodeCSV(r io.Reader) (*models.FinancialData, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var d models.FinancialData
	line := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode csv: %w", err)
		}
		line++
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(row[0]))
		if line == 1 && name == "field" {
			continue
		}
		if err := applyCSVRow(&d, name, row[1:]); err != nil {
			return nil, fmt.Errorf("decode csv: line %d: %w", line, err)
		}
	}
	return &d, nil
}

func applyCSVRow(d *models.FinancialData, name string, cells []string) error {
	cell := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}

	switch name {
	case "company_name":
		d.CompanyName = cell(0)
		return nil
	case "currency":
		d.Currency = cell(0)
		return nil
	case "unit":
		d.Unit = cell(0)
		return nil
	case "financial_year":
		y, err := strconv.Atoi(cell(0))
		if err != nil {
			return fmt.Errorf("financial_year: %w", err)
		}
		d.FinancialYear = y
		return nil
	}

	if f, ok := lookupRecordField(name); ok {
		v, set, err := ParseAmount(cell(0))
		if err != nil {
			return err
		}
		if set {
			*f.ptr(d) = v
		}
		return nil
	}

	if _, ok := periodFieldsByName[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	for i, period := range []string{"current", "prior"} {
		v, set, err := ParseAmount(cell(i))
		if err != nil {
			return fmt.Errorf("%s.%s: %w", period, name, err)
		}
		if set {
			if err := SetField(d, period+"."+name, v); err != nil {
				return err
			}
		}
	}
	return nil
}
