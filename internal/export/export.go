// Package export reads and writes payroll configurations as portable JSON
// documents, and decodes employee records from JSON or YAML.
package export

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/paygrid/internal/domain"
)

// Record formats accepted by DecodeRecord.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Encode renders a configuration as indented JSON.
func Encode(cfg *domain.PayrollConfiguration) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("encode configuration: %w", domain.Configf("", "configuration is required"))
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode configuration: %w", err)
	}
	return append(out, '\n'), nil
}

// Decode parses a configuration document. Unknown fields are rejected so
// a misspelled key does not silently drop a rule.
func Decode(data []byte) (*domain.PayrollConfiguration, error) {
	return DecodeFrom(bytes.NewReader(data))
}

// DecodeFrom is Decode over a reader.
func DecodeFrom(r io.Reader) (*domain.PayrollConfiguration, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var cfg domain.PayrollConfiguration
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	return &cfg, nil
}

// FileName is the download name of an exported configuration.
func FileName(cfg *domain.PayrollConfiguration) string {
	country := "default"
	if cfg != nil && cfg.Country != "" {
		country = strings.ToLower(strings.ReplaceAll(cfg.Country, " ", "-"))
	}
	return "payroll-config-" + country + ".json"
}

// ReadFile loads a configuration document from disk.
func ReadFile(path string) (*domain.PayrollConfiguration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := DecodeFrom(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// WriteFile writes cfg into dir under its FileName and returns the path.
func WriteFile(dir string, cfg *domain.PayrollConfiguration) (string, error) {
	data, err := Encode(cfg)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(cfg))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// FormatOf guesses a record format from a file name.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	}
	return ""
}

// DecodeRecord parses one employee record. An empty format is sniffed
// from the first non-blank byte.
func DecodeRecord(data []byte, format string) (domain.Record, error) {
	var m map[string]any
	if err := unmarshal(data, format, &m); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	rec, err := domain.RecordFromMap(m)
	if err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// DecodeRecords parses a list of records, or a single record as a list of one.
func DecodeRecords(data []byte, format string) ([]domain.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if resolve(trimmed, format) == FormatJSON && (len(trimmed) == 0 || trimmed[0] != '[') {
		rec, err := DecodeRecord(data, FormatJSON)
		if err != nil {
			return nil, err
		}
		return []domain.Record{rec}, nil
	}

	var raw []map[string]any
	if err := unmarshal(data, format, &raw); err != nil {
		// A YAML mapping is a single record.
		rec, recErr := DecodeRecord(data, format)
		if recErr != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return []domain.Record{rec}, nil
	}

	out := make([]domain.Record, 0, len(raw))
	for i, m := range raw {
		rec, err := domain.RecordFromMap(m)
		if err != nil {
			return nil, fmt.Errorf("decode records: [%d]: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func resolve(data []byte, format string) string {
	switch f := strings.ToLower(format); f {
	case FormatJSON:
		return FormatJSON
	case FormatYAML, "yml":
		return FormatYAML
	case "":
		if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
			return FormatJSON
		}
		return FormatYAML
	default:
		return f
	}
}

func unmarshal(data []byte, format string, v any) error {
	trimmed := bytes.TrimSpace(data)
	switch f := resolve(trimmed, format); f {
	case FormatJSON:
		return json.Unmarshal(trimmed, v)
	case FormatYAML:
		return yaml.Unmarshal(trimmed, v)
	default:
		return fmt.Errorf("unsupported format %q", f)
	}
}
