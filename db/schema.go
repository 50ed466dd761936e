// Copyright 2022 Stock Parfait

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package db

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"github.com/stockparfait/errors"
)

// lessLex is a lexicographic ordering on the slices of int.
func lessLex(x, y []int) bool {
	l := len(x)
	if len(y) < l {
		l = len(y)
	}
	for i := 0; i < l; i++ {
		if x[i] < y[i] {
			return true
		}
		if x[i] > y[i] {
			return false
		}
	}
	return len(x) < len(y)
}

func parseTime(s string) (time.Time, error) {
	if s == "0000-00-00" || s == "0000-00-00T00:00:00.000" {
		return time.Time{}, nil
	}
	formats := []string{
		"2006-01-02",
		"2006-01-02 15:04:05.999",
		"2006-01-02T15:04:05.999",
		"2006-01-02T15:04:05.999Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006/01/02",
		"01/02/2006",
	}
	var err error
	for _, f := range formats {
		var tm time.Time
		tm, err = time.Parse(f, s)
		if err == nil {
			return tm, nil
		}
	}
	return time.Time{}, err
}

// Date records a calendar date as year, month and day. The struct is designed
// to fit into 4 bytes.
type Date struct {
	YearVal  uint16
	MonthVal uint8
	DayVal   uint8
}

var (
	_ json.Marshaler           = Date{}
	_ json.Unmarshaler         = &Date{}
	_ encoding.TextMarshaler   = Date{}
	_ encoding.TextUnmarshaler = &Date{}
	_ driver.Valuer            = Date{}
	_ sql.Scanner              = &Date{}
)

// NewDate is the constructor for Date.
func NewDate(year uint16, month, day uint8) Date {
	return Date{year, month, day}
}

// NewDateFromTime creates a Date instance from a time.Time value, using the
// calendar date in the value's own location.
func NewDateFromTime(t time.Time) Date {
	return Date{
		YearVal:  uint16(t.Year()),
		MonthVal: uint8(t.Month()),
		DayVal:   uint8(t.Day()),
	}
}

// NewDateFromString creates a Date instance from a string representation.
func NewDateFromString(s string) (Date, error) {
	t, err := parseTime(strings.TrimSpace(s))
	if err != nil {
		return Date{}, errors.Annotate(err, "failed to parse a Date string: '%s'", s)
	}
	return NewDateFromTime(t), nil
}

// DateInNY returns today's date in New York timezone.
func DateInNY(now time.Time) Date {
	tz := "America/New_York"
	location, err := time.LoadLocation(tz)
	if err != nil {
		panic(errors.Annotate(err, "failed to load timezone %s", tz))
	}
	t := now.In(location)
	return NewDateFromTime(t)
}

func (d Date) Year() uint16 { return d.YearVal }
func (d Date) Month() uint8 { return d.MonthVal }
func (d Date) Day() uint8   { return d.DayVal }

// String representation of the value.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year(), d.Month(), d.Day())
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler. NOTE: unlike other methods, this
// is a pointer method.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Annotate(err, "Date JSON must be a string")
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, which makes Date usable
// in TOML configs. An empty string is the zero Date.
func (d *Date) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Date{}
		return nil
	}
	date, err := NewDateFromString(string(text))
	if err != nil {
		return errors.Annotate(err, "failed to parse Date string")
	}
	*d = date
	return nil
}

// Set implements flag.Value.
func (d *Date) Set(s string) error {
	return d.UnmarshalText([]byte(s))
}

// Value implements driver.Valuer. Dates are sent as ISO strings, which both
// PostgreSQL DATE columns and SQLite accept.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan implements sql.Scanner.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
	case time.Time:
		*d = NewDateFromTime(v)
	case string:
		return d.UnmarshalText([]byte(v))
	case []byte:
		return d.UnmarshalText(v)
	default:
		return errors.Reason("cannot scan %T into Date", src)
	}
	return nil
}

// ToTime converts Date to Time in UTC.
func (d Date) ToTime() time.Time {
	return time.Date(int(d.Year()), time.Month(d.Month()), int(d.Day()), 0, 0, 0, 0, time.UTC)
}

// In returns noon of the date in the given location. Noon keeps the calendar
// date stable under any UTC offset.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(int(d.Year()), time.Month(d.Month()), int(d.Day()), 12, 0, 0, 0, loc)
}

// AddDays returns the date n days later (earlier, for negative n).
func (d Date) AddDays(n int) Date {
	return NewDateFromTime(d.ToTime().AddDate(0, 0, n))
}

// AddYears returns the date n years later (earlier, for negative n).
func (d Date) AddYears(n int) Date {
	return NewDateFromTime(d.ToTime().AddDate(n, 0, 0))
}

// Before compares two Date objects for strict inequality (self < d2).
func (d Date) Before(d2 Date) bool {
	return lessLex([]int{int(d.Year()), int(d.Month()), int(d.Day())},
		[]int{int(d2.Year()), int(d2.Month()), int(d2.Day())})
}

// After compares two Date objects for strict inequality, self > d2.
func (d Date) After(d2 Date) bool {
	return d2.Before(d)
}

// IsZero checks whether the date has a zero value.
func (d Date) IsZero() bool {
	return d.Year() == 0 && d.Month() == 0 && d.Day() == 0
}

// InRange checks if d is in the inclusive date range. Any of the bounds may be
// zero value, in which case it's ignored.
func (d Date) InRange(start, end Date) bool {
	if d.IsZero() {
		return false
	}
	if !start.IsZero() && start.After(d) {
		return false
	}
	if !end.IsZero() && end.Before(d) {
		return false
	}
	return true
}

// PriceRow is a single daily OHLCV bar as returned by a price source.
type PriceRow struct {
	Date   Date
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64 // in shares
}

// TestPrice creates a PriceRow with all of OHLC set to close, for use in tests.
func TestPrice(date Date, close float64, volume int64) PriceRow {
	c := decimal.NewFromFloat(close)
	return PriceRow{
		Date:   date,
		Open:   c,
		High:   c,
		Low:    c,
		Close:  c,
		Volume: volume,
	}
}

// Validate the values of the price bar. The date must be set, the close must be
// strictly positive, the other prices and the volume non-negative.
func (p PriceRow) Validate() error {
	if p.Date.IsZero() {
		return errors.Reason("missing date")
	}
	if !p.Close.IsPositive() {
		return errors.Reason("%s: close = %s must be positive", p.Date, p.Close)
	}
	for _, v := range []decimal.Decimal{p.Open, p.High, p.Low} {
		if v.IsNegative() {
			return errors.Reason("%s: negative price %s", p.Date, v)
		}
	}
	if p.Volume < 0 {
		return errors.Reason("%s: negative volume %d", p.Date, p.Volume)
	}
	return nil
}

// Scale multiplies all of OHLC by the factor, rounding to 6 decimal places.
// Volume is left intact.
func (p PriceRow) Scale(factor decimal.Decimal) PriceRow {
	mult := func(x decimal.Decimal) decimal.Decimal { return x.Mul(factor).Round(6) }
	p.Open = mult(p.Open)
	p.High = mult(p.High)
	p.Low = mult(p.Low)
	p.Close = mult(p.Close)
	return p
}

// Record is a row of the output table: a daily price bar of a ticker with its
// derived metrics. MovingAverage is null until the window fills up, and
// DailyReturn is null for the first bar of the ticker.
type Record struct {
	Ticker string
	PriceRow
	MovingAverage null.Float
	DailyReturn   null.Float
}

// Column names of the output table, in the order of Record.CSV().
const (
	ColTicker        = "ticker"
	ColDate          = "date"
	ColOpen          = "open"
	ColHigh          = "high"
	ColLow           = "low"
	ColClose         = "close"
	ColVolume        = "volume"
	ColMovingAverage = "moving_average"
	ColDailyReturn   = "daily_return"
)

// RecordHeader is the list of the output table columns.
func RecordHeader() []string {
	return []string{
		ColTicker,
		ColDate,
		ColOpen,
		ColHigh,
		ColLow,
		ColClose,
		ColVolume,
		ColMovingAverage,
		ColDailyReturn,
	}
}

func nullStr(f null.Float) string {
	if !f.Valid {
		return ""
	}
	return strconv.FormatFloat(f.Float64, 'g', -1, 64)
}

// CSV implements table.Row. Null values are empty strings.
func (r Record) CSV() []string {
	return []string{
		r.Ticker,
		r.Date.String(),
		r.Open.String(),
		r.High.String(),
		r.Low.String(),
		r.Close.String(),
		strconv.FormatInt(r.Volume, 10),
		nullStr(r.MovingAverage),
		nullStr(r.DailyReturn),
	}
}

// Values of the Record in the order of RecordHeader(), suitable as SQL
// arguments.
func (r Record) Values() []any {
	return []any{
		r.Ticker,
		r.Date,
		r.Open,
		r.High,
		r.Low,
		r.Close,
		r.Volume,
		r.MovingAverage,
		r.DailyReturn,
	}
}

// NormalizeColumn converts a free-form column name into a lower case
// identifier with words separated by underscores, e.g. "Adj Close" becomes
// "adj_close".
func NormalizeColumn(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '/':
			return '_'
		}
		return r
	}, s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}
