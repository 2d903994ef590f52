package trigger

import (
	"errors"
	"testing"
	"time"
)

func TestBuildWorkedExamples(t *testing.T) {
	t.Parallel()
	tests := []struct {
		day    string
		at     string
		offset int
		want   Spec
	}{
		{day: "sun", at: "10:00", offset: 0, want: Spec{Weekday: 0, Hour: 10}},
		{day: "sun", at: "20:00", offset: -2, want: Spec{Weekday: 0, Hour: 18}},
		{day: "sun", at: "01:00", offset: -2, want: Spec{Weekday: 6, Hour: 23}},
		{day: "sat", at: "23:00", offset: 2, want: Spec{Weekday: 0, Hour: 1}},
		{day: "mon", at: "01:00", offset: -2, want: Spec{Weekday: 0, Hour: 23}},
		{day: "wed", at: "9:05", offset: 0, want: Spec{Weekday: 3, Hour: 9, Minute: 5}},
		{day: "FRI", at: "18:30", offset: 24, want: Spec{Weekday: 6, Hour: 18, Minute: 30}},
		{day: "thu", at: "12:00", offset: -50, want: Spec{Weekday: 2, Hour: 10}},
		{day: "sat", at: "12:00", offset: 36, want: Spec{Weekday: 1, Hour: 0}},
		{day: "tue", at: "08:15", offset: 168, want: Spec{Weekday: 2, Hour: 8, Minute: 15}},
		{day: "tue", at: "08:15", offset: -169, want: Spec{Weekday: 2, Hour: 7, Minute: 15}},
	}
	for _, tt := range tests {
		got, err := Build(tt.day, tt.at, tt.offset)
		if err != nil {
			t.Fatalf("Build(%s, %s, %d) error: %v", tt.day, tt.at, tt.offset, err)
		}
		if got != tt.want {
			t.Fatalf("Build(%s, %s, %d) = %v, want %v", tt.day, tt.at, tt.offset, got, tt.want)
		}
		if !got.Valid() {
			t.Fatalf("Build(%s, %s, %d) produced invalid spec %+v", tt.day, tt.at, tt.offset, got)
		}
	}
}

func TestNormalizeAlwaysValid(t *testing.T) {
	t.Parallel()
	for wd := 0; wd < 7; wd++ {
		for off := -400; off <= 400; off += 7 {
			s := Normalize(wd, 23, 59, off)
			if !s.Valid() {
				t.Fatalf("Normalize(%d, 23, 59, %d) = %+v", wd, off, s)
			}
		}
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		h, m    int
		wantErr error
	}{
		{in: "00:00"},
		{in: "7:45", h: 7, m: 45},
		{in: "23:59", h: 23, m: 59},
		{in: "25:00", wantErr: ErrInvalidTimeRange},
		{in: "12:60", wantErr: ErrInvalidTimeRange},
		{in: "1030", wantErr: ErrInvalidTimeFormat},
		{in: "10:5", wantErr: ErrInvalidTimeFormat},
		{in: "100:00", wantErr: ErrInvalidTimeFormat},
		{in: "aa:bb", wantErr: ErrInvalidTimeFormat},
		{in: "", wantErr: ErrInvalidTimeFormat},
	}
	for _, tt := range tests {
		h, m, err := ParseTimeOfDay(tt.in)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseTimeOfDay(%q) err = %v, want %v", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil || h != tt.h || m != tt.m {
			t.Fatalf("ParseTimeOfDay(%q) = %d:%d, %v", tt.in, h, m, err)
		}
	}
}

func TestWeekdayIndex(t *testing.T) {
	t.Parallel()
	for i, d := range []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"} {
		got, err := WeekdayIndex(d)
		if err != nil || got != i {
			t.Fatalf("WeekdayIndex(%q) = %d, %v", d, got, err)
		}
	}
	if _, err := WeekdayIndex("invalid"); !errors.Is(err, ErrInvalidWeekday) {
		t.Fatalf("err = %v, want ErrInvalidWeekday", err)
	}
	if _, err := Build("funday", "10:00", 0); !errors.Is(err, ErrInvalidWeekday) {
		t.Fatalf("Build err = %v, want ErrInvalidWeekday", err)
	}
}

func TestSpecCronAndNext(t *testing.T) {
	t.Parallel()
	s := Spec{Weekday: 0, Hour: 18, Minute: 30}
	if got := s.Cron(); got != "30 18 * * 0" {
		t.Fatalf("Cron = %q", got)
	}
	if got := s.String(); got != "sun 18:30" {
		t.Fatalf("String = %q", got)
	}
	// Wednesday 2025-01-08 -> Sunday 2025-01-12 18:30.
	from := time.Date(2025, time.January, 8, 12, 0, 0, 0, time.UTC)
	want := time.Date(2025, time.January, 12, 18, 30, 0, 0, time.UTC)
	if got := s.Next(from, time.UTC); !got.Equal(want) {
		t.Fatalf("Next = %s, want %s", got, want)
	}
	// Exactly at the firing time the next occurrence is a week later.
	if got := s.Next(want, time.UTC); !got.Equal(want.AddDate(0, 0, 7)) {
		t.Fatalf("Next(at) = %s", got)
	}
}
