package transform

import (
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"github.com/franz/sparkify-lake/internal/engine"
)

// SQL functions registered for the transforms
const (
	FuncEpochMillisToTimestamp = "epoch_ms_to_timestamp"
	FuncCalendarPart           = "calendar_part"
)

func init() {
	engine.MustRegisterFunction(FuncEpochMillisToTimestamp, 1, epochMillisToTimestampFunc)
	engine.MustRegisterFunction(FuncCalendarPart, 3, calendarPartFunc)
}

// EpochMillisToTimestamp converts an event's epoch-millisecond ts to the
// instant it denotes, expressed in loc
func EpochMillisToTimestamp(ms int64, loc *time.Location) time.Time {
	return time.UnixMilli(ms).In(loc)
}

// CalendarParts are the wall-clock parts of a start time
type CalendarParts struct {
	Hour  int
	Day   int
	Week  int // ISO-8601 week of year
	Month int
	Year  int

	// Weekday counts from 1 = Sunday to 7 = Saturday
	Weekday int
}

// CalendarPartsOf derives the calendar parts of t in t's location
func CalendarPartsOf(t time.Time) CalendarParts {
	_, week := t.ISOWeek()
	return CalendarParts{
		Hour:    t.Hour(),
		Day:     t.Day(),
		Week:    week,
		Month:   int(t.Month()),
		Year:    t.Year(),
		Weekday: int(t.Weekday()) + 1,
	}
}

// Part returns one part by its column name
func (p CalendarParts) Part(name string) (int, error) {
	switch name {
	case "hour":
		return p.Hour, nil
	case "day":
		return p.Day, nil
	case "week":
		return p.Week, nil
	case "month":
		return p.Month, nil
	case "year":
		return p.Year, nil
	case "weekday":
		return p.Weekday, nil
	default:
		return 0, fmt.Errorf("unknown calendar part %q", name)
	}
}

var zones sync.Map // zone name -> *time.Location

func loadZone(name string) (*time.Location, error) {
	if loc, ok := zones.Load(name); ok {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	zones.Store(name, loc)
	return loc, nil
}

// epoch_ms_to_timestamp(ts) returns the start time as epoch milliseconds
func epochMillisToTimestampFunc(args []driver.Value) (driver.Value, error) {
	ms, ok, err := engine.Int64Arg(args[0])
	if err != nil || !ok {
		return nil, err
	}
	return EpochMillisToTimestamp(ms, time.UTC).UnixMilli(), nil
}

// calendar_part(part, start_time, zone) returns one calendar part of
// start_time in the named zone
func calendarPartFunc(args []driver.Value) (driver.Value, error) {
	part, ok, err := engine.StringArg(args[0])
	if err != nil || !ok {
		return nil, err
	}
	ms, ok, err := engine.Int64Arg(args[1])
	if err != nil || !ok {
		return nil, err
	}
	zone, ok, err := engine.StringArg(args[2])
	if err != nil {
		return nil, err
	}
	if !ok {
		zone = "UTC"
	}

	loc, err := loadZone(zone)
	if err != nil {
		return nil, err
	}
	v, err := CalendarPartsOf(EpochMillisToTimestamp(ms, loc)).Part(part)
	if err != nil {
		return nil, err
	}
	return int64(v), nil
}
