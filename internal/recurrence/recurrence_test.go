package recurrence

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Spec
		secs uint64
	}{
		{raw: "00:00:00:00:30", want: Spec{Seconds: 30}, secs: 30},
		{raw: "0:0:0:1:0", want: Spec{Minutes: 1}, secs: 60},
		{raw: "0:0:2:0:0", want: Spec{Hours: 2}, secs: 7200},
		{raw: "0:1:0:0:0", want: Spec{Days: 1}, secs: 86400},
		{raw: "1:0:0:0:0", want: Spec{Months: 1}, secs: 2592000},
		{raw: " 1 : 2 : 3 : 4 : 5 ", want: Spec{1, 2, 3, 4, 5}, secs: 2592000 + 2*86400 + 3*3600 + 4*60 + 5},
		{raw: "255:255:255:255:255", want: Spec{255, 255, 255, 255, 255}, secs: 255 * (2592000 + 86400 + 3600 + 60 + 1)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
			if got.TotalSeconds() != tt.secs {
				t.Fatalf("TotalSeconds() = %d, want %d", got.TotalSeconds(), tt.secs)
			}
		})
	}
}

func TestTotalSecondsFormula(t *testing.T) {
	t.Parallel()
	for _, v := range []uint8{0, 1, 7, 59, 128, 255} {
		s := Spec{Months: v, Days: 255 - v, Hours: v / 2, Minutes: v / 3, Seconds: 255 - v/4}
		want := uint64(s.Months)*2592000 + uint64(s.Days)*86400 + uint64(s.Hours)*3600 + uint64(s.Minutes)*60 + uint64(s.Seconds)
		if got := s.TotalSeconds(); got != want {
			t.Fatalf("%v.TotalSeconds() = %d, want %d", s, got, want)
		}
		back, err := Parse(s.String())
		if err != nil || back != s {
			t.Fatalf("Parse(%q) = %+v, %v", s.String(), back, err)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"",
		"30",
		"0:0:0:30",
		"0:0:0:0:0:30",
		"0:0:0:0:x",
		"0:0:0:0:-1",
		"0:0:0:0:256",
		"0:0:0::30",
		"0:0:0:0:1.5",
	} {
		raw := raw
		t.Run(fmt.Sprintf("%q", raw), func(t *testing.T) {
			_, err := Parse(raw)
			if err == nil {
				t.Fatalf("Parse(%q) expected error", raw)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Parse(%q) error %v does not wrap ErrInvalid", raw, err)
			}
		})
	}
}

func TestDue(t *testing.T) {
	t.Parallel()
	s := MustParse("0:0:0:0:5")
	if !s.Due(0, 1000) {
		t.Fatal("never-run stage should be due")
	}
	if s.Due(1000, 1004) {
		t.Fatal("stage should not be due 4s after last run")
	}
	if !s.Due(1000, 1005) {
		t.Fatal("stage should be due 5s after last run")
	}
	zero := Spec{}
	if !zero.Due(1000, 1000) {
		t.Fatal("zero spec is always due")
	}
}

func TestGranularity(t *testing.T) {
	t.Parallel()
	sec := MustParse("0:0:0:0:9")
	if !sec.SecondsOnly() || !sec.MinutesOnly() || !sec.HoursOnly() || !sec.DaysOnly() {
		t.Fatalf("%v should satisfy every lower-order predicate", sec)
	}
	mins := MustParse("0:0:0:3:9")
	if mins.SecondsOnly() || !mins.MinutesOnly() {
		t.Fatalf("%v granularity wrong", mins)
	}
	day := MustParse("0:2:0:0:0")
	if day.HoursOnly() || !day.DaysOnly() || day.MonthsOnly() {
		t.Fatalf("%v granularity wrong", day)
	}
	month := MustParse("3:0:0:0:0")
	if month.DaysOnly() || !month.MonthsOnly() {
		t.Fatalf("%v granularity wrong", month)
	}
}
