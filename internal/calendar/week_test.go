package calendar

import (
	"testing"
	"time"

	"github.com/jmhodges/clock"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestWeekNumberBoundaries(t *testing.T) {
	t.Parallel()
	tests := []struct {
		day  time.Time
		week int
		year int
	}{
		{day: date(2025, time.January, 6), week: 2, year: 2025},
		{day: date(2024, time.December, 30), week: 1, year: 2025},
		{day: date(2025, time.January, 5), week: 1, year: 2025},
		{day: date(2021, time.January, 3), week: 53, year: 2020},
		{day: date(2021, time.January, 4), week: 1, year: 2021},
		{day: date(2026, time.December, 31), week: 53, year: 2026},
		{day: date(2027, time.January, 1), week: 53, year: 2026},
		{day: date(2023, time.January, 1), week: 52, year: 2022},
	}
	for _, tt := range tests {
		if got := WeekNumber(tt.day); got != tt.week {
			t.Fatalf("WeekNumber(%s) = %d, want %d", tt.day.Format("2006-01-02"), got, tt.week)
		}
		if got := WeekYear(tt.day); got != tt.year {
			t.Fatalf("WeekYear(%s) = %d, want %d", tt.day.Format("2006-01-02"), got, tt.year)
		}
	}
}

func TestWeekDateRange2025W01(t *testing.T) {
	t.Parallel()
	start, end := WeekDateRange(2025, 1, time.UTC)
	if !start.Equal(date(2024, time.December, 30)) {
		t.Fatalf("start = %s, want 2024-12-30", start)
	}
	wantEnd := time.Date(2025, time.January, 5, 23, 59, 59, 0, time.UTC)
	if !end.Equal(wantEnd) {
		t.Fatalf("end = %s, want %s", end, wantEnd)
	}
	if start.Weekday() != time.Monday || end.Weekday() != time.Sunday {
		t.Fatalf("range weekdays = %s..%s", start.Weekday(), end.Weekday())
	}
}

func TestWeekDateRangeContainsEveryDate(t *testing.T) {
	t.Parallel()
	locs := []*time.Location{time.UTC, time.FixedZone("UTC+7", 7*3600), time.FixedZone("UTC-11", -11*3600)}
	for _, loc := range locs {
		d := time.Date(2015, time.December, 20, 13, 30, 0, 0, loc)
		stop := time.Date(2032, time.January, 10, 0, 0, 0, 0, loc)
		for d.Before(stop) {
			y, n := WeekYear(d), WeekNumber(d)
			start, end := WeekDateRange(y, n, loc)
			if d.Before(start) || d.After(end) {
				t.Fatalf("%s: %s not within %s..%s", loc, d, start, end)
			}
			if start.Weekday() != time.Monday {
				t.Fatalf("%s: week %d/%d starts on %s", loc, n, y, start.Weekday())
			}
			if got := WeekOf(start); got != (Week{Number: n, Year: y}) {
				t.Fatalf("WeekOf(start) = %v, want %d/%d", got, n, y)
			}
			if !(Week{Number: n, Year: y}).Contains(d) {
				t.Fatalf("Contains(%s) = false", d)
			}
			d = d.AddDate(0, 0, 1)
		}
	}
}

func TestWeeksInYear(t *testing.T) {
	t.Parallel()
	long := map[int]bool{2015: true, 2020: true, 2026: true, 2032: true}
	for y := 2014; y <= 2033; y++ {
		want := 52
		if long[y] {
			want = 53
		}
		if got := WeeksInYear(y); got != want {
			t.Fatalf("WeeksInYear(%d) = %d, want %d", y, got, want)
		}
	}
}

func TestWeekOrderingAndStepping(t *testing.T) {
	t.Parallel()
	a := Week{Number: 53, Year: 2020}
	b := Week{Number: 1, Year: 2021}
	if !a.Before(b) || b.Before(a) || a.Compare(a) != 0 {
		t.Fatal("unexpected ordering")
	}
	if a.Next() != b || b.Prev() != a {
		t.Fatalf("Next/Prev across year: %v %v", a.Next(), b.Prev())
	}
	if got := (Week{Number: 52, Year: 2025}).Next(); got != (Week{Number: 1, Year: 2026}) {
		t.Fatalf("Next(2025-W52) = %v", got)
	}
	if s := (Week{Number: 1, Year: 2025}).String(); s != "2025-W01" {
		t.Fatalf("String = %q", s)
	}
}

func TestCurrentWeek(t *testing.T) {
	t.Parallel()
	clk := clock.NewFake()
	clk.Set(time.Date(2024, time.December, 31, 12, 0, 0, 0, time.UTC))
	if got := CurrentWeek(clk, time.UTC); got != (Week{Number: 1, Year: 2025}) {
		t.Fatalf("CurrentWeek = %v", got)
	}
}
