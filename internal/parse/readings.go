// Package parse decodes telemetry uploads into reading records.
package parse

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrEmpty          = errors.New("upload contains no readings")
	ErrTooManyRows    = errors.New("upload exceeds the row limit")
	ErrMissingColumn  = errors.New("missing required column deviceId")
	ErrMixedDevices   = errors.New("all readings in one upload must belong to the same device")
	ErrUnknownFormat  = errors.New("unsupported upload format")
	ErrNoMeasurements = errors.New("reading has no measurements")
)

// Record is one decoded reading.
type Record struct {
	DeviceID       string    `json:"deviceId"`
	Timestamp      time.Time `json:"timestamp"`
	Moisture       *float64  `json:"moisture,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty"`
	Humidity       *float64  `json:"humidity,omitempty"`
	BatteryVoltage *float64  `json:"batteryVoltage,omitempty"`
}

// RowError points at the offending row of an upload. Rows are 1-based and
// count the CSV header.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

type field int

const (
	fieldDeviceID field = iota
	fieldTimestamp
	fieldMoisture
	fieldTemperature
	fieldHumidity
	fieldBattery
)

// aliases maps normalised header names to fields.
var aliases = map[string]field{
	"deviceid":       fieldDeviceID,
	"device":         fieldDeviceID,
	"id":             fieldDeviceID,
	"timestamp":      fieldTimestamp,
	"time":           fieldTimestamp,
	"recordedat":     fieldTimestamp,
	"date":           fieldTimestamp,
	"moisture":       fieldMoisture,
	"soilmoisture":   fieldMoisture,
	"temperature":    fieldTemperature,
	"temp":           fieldTemperature,
	"humidity":       fieldHumidity,
	"batteryvoltage": fieldBattery,
	"battery":        fieldBattery,
	"voltage":        fieldBattery,
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(h)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp accepts RFC 3339, a few common local layouts (read as UTC)
// and unix seconds or milliseconds. An empty string yields the zero time.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

func parseNumber(name, raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return &v, nil
}

func (r Record) validate() error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return errors.New("deviceId is required")
	}
	if r.Moisture == nil && r.Temperature == nil && r.Humidity == nil && r.BatteryVoltage == nil {
		return ErrNoMeasurements
	}
	return nil
}

// CSV decodes a CSV upload with a header row. Header names are matched
// case-insensitively against known aliases; unknown columns are ignored.
func CSV(r io.Reader, maxRows int) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, &RowError{Row: 1, Err: err}
	}

	columns := make(map[field]int, len(header))
	for i, h := range header {
		if f, ok := aliases[normalizeHeader(h)]; ok {
			if _, dup := columns[f]; !dup {
				columns[f] = i
			}
		}
	}
	if _, ok := columns[fieldDeviceID]; !ok {
		return nil, ErrMissingColumn
	}

	cell := func(row []string, f field) string {
		i, ok := columns[f]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var records []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &RowError{Row: pe.StartLine, Err: pe.Err}
			}
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if isBlank(row) {
			continue
		}
		if maxRows > 0 && len(records) == maxRows {
			return nil, ErrTooManyRows
		}

		rec := Record{DeviceID: strings.TrimSpace(cell(row, fieldDeviceID))}
		if rec.Timestamp, err = ParseTimestamp(cell(row, fieldTimestamp)); err != nil {
			return nil, &RowError{Row: line, Err: err}
		}
		for _, m := range []struct {
			f    field
			name string
			dst  **float64
		}{
			{fieldMoisture, "moisture", &rec.Moisture},
			{fieldTemperature, "temperature", &rec.Temperature},
			{fieldHumidity, "humidity", &rec.Humidity},
			{fieldBattery, "batteryVoltage", &rec.BatteryVoltage},
		} {
			if *m.dst, err = parseNumber(m.name, cell(row, m.f)); err != nil {
				return nil, &RowError{Row: line, Err: err}
			}
		}
		if err := rec.validate(); err != nil {
			return nil, &RowError{Row: line, Err: err}
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, ErrEmpty
	}
	return records, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// jsonRecord accepts numbers or numeric strings and the same aliases as CSV.
type jsonRecord map[string]json.RawMessage

func (j jsonRecord) record() (Record, error) {
	var rec Record
	for key, raw := range j {
		f, ok := aliases[normalizeHeader(key)]
		if !ok {
			continue
		}
		text, err := rawText(raw)
		if err != nil {
			return rec, fmt.Errorf("invalid %s: %w", key, err)
		}
		switch f {
		case fieldDeviceID:
			rec.DeviceID = strings.TrimSpace(text)
		case fieldTimestamp:
			if rec.Timestamp, err = ParseTimestamp(text); err != nil {
				return rec, err
			}
		case fieldMoisture:
			rec.Moisture, err = parseNumber("moisture", text)
		case fieldTemperature:
			rec.Temperature, err = parseNumber("temperature", text)
		case fieldHumidity:
			rec.Humidity, err = parseNumber("humidity", text)
		case fieldBattery:
			rec.BatteryVoltage, err = parseNumber("batteryVoltage", text)
		}
		if err != nil {
			return rec, err
		}
	}
	return rec, rec.validate()
}

func rawText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// JSON decodes a single reading object or an array of them. Array rows are
// numbered from 1.
func JSON(data []byte, maxRows int) ([]Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	var rows []jsonRecord
	switch data[0] {
	case '{':
		var one jsonRecord
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, errors.Wrap(err, "invalid JSON body")
		}
		rows = []jsonRecord{one}
	case '[':
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, errors.Wrap(err, "invalid JSON body")
		}
	default:
		return nil, ErrUnknownFormat
	}

	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	if maxRows > 0 && len(rows) > maxRows {
		return nil, ErrTooManyRows
	}

	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, &RowError{Row: i + 1, Err: err}
		}
		records = append(records, rec)
	}
	return records, nil
}

// Upload picks the decoder from the file name or content type, falling back
// to sniffing the first byte.
func Upload(name, contentType string, data []byte, maxRows int) ([]Record, error) {
	lowerName := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lowerName, ".csv"), strings.Contains(contentType, "csv"):
		return CSV(bytes.NewReader(data), maxRows)
	case strings.HasSuffix(lowerName, ".json"), strings.Contains(contentType, "json"):
		return JSON(data, maxRows)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return JSON(data, maxRows)
	}
	return CSV(bytes.NewReader(data), maxRows)
}

// SingleDevice returns the one device id shared by every record.
func SingleDevice(records []Record) (string, error) {
	if len(records) == 0 {
		return "", ErrEmpty
	}
	id := records[0].DeviceID
	for i, r := range records[1:] {
		if r.DeviceID != id {
			return "", &RowError{Row: i + 2, Err: ErrMixedDevices}
		}
	}
	return id, nil
}
