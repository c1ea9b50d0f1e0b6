package rowmapper

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prestodb/presto-go-client/internal/prestoerr"
	"github.com/prestodb/presto-go-client/internal/protocol"
)

func column(rawType string) protocol.Column {
	return protocol.Column{Type: rawType, TypeSignature: protocol.TypeSignature{RawType: rawType}}
}

func TestMapNilAlwaysReturnsNil(t *testing.T) {
	for _, rawType := range []string{"bigint", "decimal(10,2)", "date", "timestamp", "timestamp with time zone"} {
		got, err := Map(nil, column(rawType))
		if err != nil {
			t.Fatalf("map nil (%s): %v", rawType, err)
		}
		if got != nil {
			t.Fatalf("map nil (%s) = %v, want nil", rawType, got)
		}
	}
}

func TestMapDefaultPassesValueThrough(t *testing.T) {
	got, err := Map(float64(42), column("bigint"))
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if got != float64(42) {
		t.Fatalf("got %v, want 42", got)
	}
}

func TestMapDecimal(t *testing.T) {
	got, err := Map("123.450", column("decimal(10,3)"))
	if err != nil {
		t.Fatalf("map decimal: %v", err)
	}
	d, ok := got.(decimal.Decimal)
	if !ok {
		t.Fatalf("expected decimal.Decimal, got %T", got)
	}
	if !d.Equal(decimal.RequireFromString("123.450")) {
		t.Fatalf("decimal = %s", d.String())
	}
}

func TestMapDate(t *testing.T) {
	got, err := Map("2024-01-15", column("date"))
	if err != nil {
		t.Fatalf("map date: %v", err)
	}
	tm, ok := got.(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, got %T", got)
	}
	if tm.Year() != 2024 || tm.Month() != time.January || tm.Day() != 15 {
		t.Fatalf("date = %v", tm)
	}
}

func TestMapTimestamp(t *testing.T) {
	got, err := Map("2024-01-15 10:30:00.000", column("timestamp"))
	if err != nil {
		t.Fatalf("map timestamp: %v", err)
	}
	tm := got.(time.Time)
	if tm.Hour() != 10 || tm.Minute() != 30 {
		t.Fatalf("timestamp = %v", tm)
	}
}

func TestMapTimestampWithTimeZoneOffsetForm(t *testing.T) {
	got, err := Map("2024-01-15 10:30:00.000 +02:00", column("timestamp with time zone"))
	if err != nil {
		t.Fatalf("map timestamp with zone: %v", err)
	}
	tm := got.(time.Time)
	_, offset := tm.Zone()
	if offset != 2*3600 {
		t.Fatalf("offset = %d, want 7200", offset)
	}
}

func TestMapTimestampWithTimeZoneNamedZoneForm(t *testing.T) {
	got, err := Map("2024-01-15 10:30:00.000 UTC", column("timestamp with time zone"))
	if err != nil {
		t.Fatalf("map timestamp with named zone: %v", err)
	}
	tm := got.(time.Time)
	if tm.Location().String() != "UTC" {
		t.Fatalf("location = %v", tm.Location())
	}
}

func TestMapTimeWithTimeZoneCheckedBeforeBareTime(t *testing.T) {
	got, err := Map("10:30:00.000-05:00", column("time with time zone"))
	if err != nil {
		t.Fatalf("map time with zone: %v", err)
	}
	tm := got.(time.Time)
	_, offset := tm.Zone()
	if offset != -5*3600 {
		t.Fatalf("offset = %d, want -18000", offset)
	}
}

func TestMapBareTime(t *testing.T) {
	got, err := Map("10:30:00.000", column("time"))
	if err != nil {
		t.Fatalf("map time: %v", err)
	}
	tm := got.(time.Time)
	if tm.Hour() != 10 || tm.Minute() != 30 {
		t.Fatalf("time = %v", tm)
	}
}

func TestMapListRecursesIntoElementType(t *testing.T) {
	col := protocol.Column{
		TypeSignature: protocol.TypeSignature{
			RawType: "array(decimal(10,2))",
			Arguments: []protocol.TypeSignatureArgument{
				{Kind: "TYPE", Value: protocol.TypeSignature{RawType: "decimal(10,2)"}},
			},
		},
	}
	got, err := Map([]any{"1.50", "2.50"}, col)
	if err != nil {
		t.Fatalf("map list: %v", err)
	}
	items := got.([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if _, ok := items[0].(decimal.Decimal); !ok {
		t.Fatalf("expected decimal element, got %T", items[0])
	}
}

func TestMapUnparsableValueReturnsTypeMappingError(t *testing.T) {
	_, err := Map("not-a-date", column("date"))
	if err == nil {
		t.Fatalf("expected error")
	}
	var tme *prestoerr.TypeMappingError
	if !errors.As(err, &tme) {
		t.Fatalf("expected *TypeMappingError, got %T: %v", err, err)
	}
}

func TestMapRowAppliesColumnsPositionally(t *testing.T) {
	row := []any{"123.40", "2024-01-15"}
	cols := []protocol.Column{column("decimal(10,2)"), column("date")}
	got, err := MapRow(row, cols)
	if err != nil {
		t.Fatalf("map row: %v", err)
	}
	if _, ok := got[0].(decimal.Decimal); !ok {
		t.Fatalf("expected decimal at index 0, got %T", got[0])
	}
	if _, ok := got[1].(time.Time); !ok {
		t.Fatalf("expected time.Time at index 1, got %T", got[1])
	}
}
