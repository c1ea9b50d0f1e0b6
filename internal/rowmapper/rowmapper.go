// Package rowmapper converts protocol-level cells into native typed Go
// values using a column's Presto type signature (spec §4.E). It mirrors
// original_source/prestodb/client.py's PrestoResult._map_to_python_type
// dispatch order and formats, fixing the undefined-symbol bug on the error
// path (spec §9) by returning a *prestoerr.TypeMappingError.
package rowmapper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prestodb/presto-go-client/internal/prestoerr"
	"github.com/prestodb/presto-go-client/internal/protocol"
)

// timeWithZonePattern matches a trailing fixed UTC offset, e.g.
// "12:34:56.789000+02:00" → ("12:34:56.789000", "+", "02", "00").
var timeWithZonePattern = regexp.MustCompile(`^(.*)([+-])(\d{2}):(\d{2})$`)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05.999999"
	timeLayout      = "15:04:05.999999"
)

// Map converts value using column's type signature. A nil value always
// maps to nil, for any type (spec property #7).
func Map(value any, column protocol.Column) (any, error) {
	if value == nil {
		return nil, nil
	}

	rawType := column.TypeSignature.RawType

	if items, ok := value.([]any); ok {
		return mapList(items, column)
	}

	switch {
	case strings.Contains(rawType, "decimal"):
		return mapDecimal(value, rawType)
	case rawType == "date":
		return mapDate(value, rawType)
	case rawType == "timestamp with time zone":
		return mapTimestampWithZone(value, rawType)
	case strings.Contains(rawType, "timestamp"):
		return mapTimestamp(value, rawType)
	case strings.Contains(rawType, "time with time zone"):
		return mapTimeWithZone(value, rawType)
	case strings.Contains(rawType, "time"):
		return mapTime(value, rawType)
	default:
		return value, nil
	}
}

// MapRow converts every cell of row using columns, positionally.
func MapRow(row []any, columns []protocol.Column) ([]any, error) {
	out := make([]any, len(row))
	for i, v := range row {
		var col protocol.Column
		if i < len(columns) {
			col = columns[i]
		}
		mapped, err := Map(v, col)
		if err != nil {
			return nil, err
		}
		out[i] = mapped
	}
	return out, nil
}

func mapList(items []any, column protocol.Column) ([]any, error) {
	var elementSig protocol.TypeSignature
	if len(column.TypeSignature.Arguments) > 0 {
		elementSig = column.TypeSignature.Arguments[0].Value
	}
	elementColumn := protocol.Column{TypeSignature: elementSig}

	out := make([]any, len(items))
	for i, item := range items {
		mapped, err := Map(item, elementColumn)
		if err != nil {
			return nil, err
		}
		out[i] = mapped
	}
	return out, nil
}

func mapDecimal(value any, rawType string) (any, error) {
	s, err := asString(value)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}
	return d, nil
}

func mapDate(value any, rawType string) (any, error) {
	s, err := asString(value)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}
	return t, nil
}

// mapTimestampWithZone splits on the LAST space: if the trailing token
// starts with '+' or '-' it is a fixed offset (+HH:MM or +HHMM) and the
// whole string is parsed with an offset layout; otherwise the head is parsed
// as a naive timestamp and a named zone is attached via time.LoadLocation.
func mapTimestampWithZone(value any, rawType string) (any, error) {
	s, err := asString(value)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}

	idx := strings.LastIndex(s, " ")
	if idx < 0 {
		return nil, typeErr(value, rawType, fmt.Errorf("no zone component in %q", s))
	}
	head, tz := s[:idx], s[idx+1:]

	if strings.HasPrefix(tz, "+") || strings.HasPrefix(tz, "-") {
		t, err := time.Parse("2006-01-02 15:04:05.999999 -07:00", s)
		if err != nil {
			t, err = time.Parse("2006-01-02 15:04:05.999999 -0700", s)
		}
		if err != nil {
			return nil, typeErr(value, rawType, err)
		}
		return t, nil
	}

	naive, err := time.Parse(timestampLayout, head)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}
	return time.Date(naive.Year(), naive.Month(), naive.Day(), naive.Hour(), naive.Minute(), naive.Second(), naive.Nanosecond(), loc), nil
}

func mapTimestamp(value any, rawType string) (any, error) {
	s, err := asString(value)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}
	return t, nil
}

func mapTimeWithZone(value any, rawType string) (any, error) {
	s, err := asString(value)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}

	m := timeWithZonePattern.FindStringSubmatch(s)
	if m == nil {
		return nil, typeErr(value, rawType, fmt.Errorf("no offset suffix in %q", s))
	}
	clock, sign, hh, mm := m[1], m[2], m[3], m[4]

	t, err := time.Parse(timeLayout, clock)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}
	hours, err := strconv.Atoi(hh)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}
	offsetSecs := hours*3600 + minutes*60
	if sign == "-" {
		offsetSecs = -offsetSecs
	}

	loc := time.FixedZone(fmt.Sprintf("%s%s:%s", sign, hh, mm), offsetSecs)
	return time.Date(0, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
}

func mapTime(value any, rawType string) (any, error) {
	s, err := asString(value)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return nil, typeErr(value, rawType, err)
	}
	return t, nil
}

func asString(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("expected string cell, got %T", value)
	}
	return s, nil
}

func typeErr(value any, rawType string, cause error) error {
	return &prestoerr.TypeMappingError{Value: value, RawType: rawType, Cause: cause}
}
