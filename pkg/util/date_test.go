package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeBareDate(t *testing.T) {
	got, ok := ParseTime("2025-03-14")
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Year() != 2025 || got.Month() != time.March || got.Day() != 14 {
		t.Fatalf("unexpected date %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestFromUnixFlexibleMillis(t *testing.T) {
	want := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := FromUnixFlexible(want.UnixMilli())
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNormalizeSymbols(t *testing.T) {
	got := NormalizeSymbols([]string{" aapl", "AAPL", "spy ", ""})
	if len(got) != 2 || got[0] != "AAPL" || got[1] != "SPY" {
		t.Fatalf("unexpected %v", got)
	}
}

func TestWireSymbols(t *testing.T) {
	got := WireSymbols([]string{"AAPL", "MSFT"})
	if got[0] != "aapl" || got[1] != "msft" {
		t.Fatalf("unexpected %v", got)
	}
}
