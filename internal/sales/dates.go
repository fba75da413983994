package sales

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

var brazilianLayouts = []string{
	"2/1/2006 15:04:05",
	"2/1/2006 15:04",
	"2/1/2006",
}

var fallbackLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2/1/06 15:04",
	"2/1/06",
}

// ParseDate accepts dd/MM/yyyy[ HH:mm[:ss]] first, then ISO-like layouts.
// Values without an offset are read in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if loc == nil {
		loc = time.UTC
	}

	for _, layout := range brazilianLayouts {
		if at, err := time.ParseInLocation(layout, value, loc); err == nil {
			return at, nil
		}
	}
	for _, layout := range fallbackLayouts {
		if at, err := time.ParseInLocation(layout, value, loc); err == nil {
			return at, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

// serialDateText rewrites a spreadsheet serial day number (1900 date system)
// as dd/MM/yyyy HH:mm:ss wall-clock text. Other values are returned as is.
func serialDateText(value string) string {
	serial, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || serial <= 1 || serial >= 2958466 {
		return value
	}
	at, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return value
	}
	return at.Format("02/01/2006 15:04:05")
}

// DayBounds returns 00:00:00.000 and 23:59:59.999 of the calendar day of t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = t.Location()
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, int(999*time.Millisecond), loc)
	return start, end
}
