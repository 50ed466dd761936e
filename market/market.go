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

// Package market answers trading calendar questions for the US equity market.
package market

import (
	"time"

	"github.com/scmhub/calendar"
	"github.com/stockparfait/sp500etl/db"
)

// FirstYear is the earliest year covered by the exchange calendars by default.
const FirstYear = 1980

// Calendar of trading sessions. When the exchange calendar is not available,
// or the date is outside of its years, every weekday is a trading day.
type Calendar struct {
	cal *calendar.Calendar
	loc *time.Location
}

// NYSE returns the New York Stock Exchange calendar from FirstYear through
// a few years ahead of today.
func NYSE() *Calendar {
	return NewCalendar("xnys", FirstYear, time.Now().Year()+calendar.YearsAhead)
}

// NewCalendar for the exchange MIC code, e.g. "xnys", covering the inclusive
// range of years.
func NewCalendar(mic string, startYear, endYear int) *Calendar {
	c := &Calendar{cal: calendar.GetCalendar(mic, startYear, endYear), loc: time.UTC}
	if c.cal != nil && c.cal.Loc != nil {
		c.loc = c.cal.Loc
	} else if loc, err := time.LoadLocation("America/New_York"); err == nil {
		c.loc = loc
	}
	return c
}

// Weekdays returns a calendar where every weekday is a trading day.
func Weekdays() *Calendar {
	return &Calendar{loc: time.UTC}
}

// Years covered by the exchange holidays. Both are 0 for a weekday calendar.
func (c *Calendar) Years() (start, end int) {
	if c.cal == nil {
		return 0, 0
	}
	return c.cal.Years()
}

// IsTradingDay checks whether the exchange holds a session on the date.
func (c *Calendar) IsTradingDay(d db.Date) bool {
	t := d.In(c.loc)
	if start, end := c.Years(); c.cal == nil || t.Year() < start || t.Year() > end {
		return t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
	}
	return c.cal.IsBusinessDay(t)
}

// TradingDays counts the sessions in the inclusive date range. It is 0 when
// start is after end.
func (c *Calendar) TradingDays(start, end db.Date) int {
	n := 0
	for d := start; !d.After(end); d = d.AddDays(1) {
		if c.IsTradingDay(d) {
			n++
		}
	}
	return n
}

// LastTradingDay returns the latest session date on or before d. It gives up
// after two weeks of closures and returns d itself.
func (c *Calendar) LastTradingDay(d db.Date) db.Date {
	for i := 0; i < 14; i++ {
		if day := d.AddDays(-i); c.IsTradingDay(day) {
			return day
		}
	}
	return d
}
