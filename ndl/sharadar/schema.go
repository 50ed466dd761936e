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

package sharadar

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/sp500etl/db"
	"github.com/stockparfait/sp500etl/ndl"
)

// Price is a row in the SEP/SFP table.
type Price struct {
	Ticker string
	Date   db.Date
	// All OHLCV values are adjusted for stock splits and stock dividends, but not
	// for cash dividends or spinoffs.
	Open            float64
	High            float64
	Low             float64
	Close           float64
	Volume          float64
	CloseUnadjusted float64
	// Adjusted for stock splits, cash dividends and spinoffs.
	CloseAdjusted float64
	LastUpdated   db.Date
}

var _ ndl.ValueLoader = &Price{}

// PriceSchema is the expected schema for the SEP table.
var PriceSchema = ndl.Schema{
	{Name: "ticker", Type: "text"},
	{Name: "date", Type: "Date"},
	{Name: "open", Type: "double"},
	{Name: "high", Type: "double"},
	{Name: "low", Type: "double"},
	{Name: "close", Type: "double"},
	{Name: "volume", Type: "double"},
	{Name: "closeadj", Type: "double"},
	{Name: "closeunadj", Type: "double"},
	{Name: "lastupdated", Type: "Date"},
}

// Load implements ndl.ValueLoader.
func (r *Price) Load(v []ndl.Value, s ndl.Schema) error {
	if !PriceSchema.SubsetOf(s) {
		return errors.Reason("unexpected schema: %s", s.String())
	}
	if len(v) != len(s) {
		return errors.Reason("expected %d values, received %d: %v", len(s), len(v), v)
	}
	m := s.MapFields()
	var err error

	if r.Ticker, err = ndl.ValueString(v[m["ticker"]]); err != nil {
		return errors.Annotate(err, "ticker should be a string")
	}
	dates := []struct {
		name string
		dst  *db.Date
	}{
		{"date", &r.Date},
		{"lastupdated", &r.LastUpdated},
	}
	for _, d := range dates {
		if *d.dst, err = ndl.ValueDate(v[m[d.name]]); err != nil {
			return errors.Annotate(err, "%s should be a date string", d.name)
		}
	}
	nums := []struct {
		name string
		dst  *float64
	}{
		{"open", &r.Open},
		{"high", &r.High},
		{"low", &r.Low},
		{"close", &r.Close},
		{"volume", &r.Volume},
		{"closeadj", &r.CloseAdjusted},
		{"closeunadj", &r.CloseUnadjusted},
	}
	for _, n := range nums {
		if *n.dst, err = ndl.ValueFloat(v[m[n.name]]); err != nil {
			return errors.Annotate(err, "%s should be a number", n.name)
		}
	}
	return nil
}

// PriceRow converts the SEP row into a daily bar. When adjusted, OHLC are
// scaled to the fully adjusted close, otherwise they remain split-adjusted.
func (r *Price) PriceRow(adjusted bool) db.PriceRow {
	p := db.PriceRow{
		Date:   r.Date,
		Open:   decimal.NewFromFloat(r.Open),
		High:   decimal.NewFromFloat(r.High),
		Low:    decimal.NewFromFloat(r.Low),
		Close:  decimal.NewFromFloat(r.Close),
		Volume: int64(math.Round(r.Volume)),
	}
	if adjusted && r.Close > 0 && r.CloseAdjusted > 0 {
		p = p.Scale(decimal.NewFromFloat(r.CloseAdjusted).Div(p.Close))
	}
	return p
}
