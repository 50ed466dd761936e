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

// Package transform turns per-ticker price series into the rows of the output
// table, with the moving average and the daily return of the closing price.
package transform

import (
	"context"
	"sort"

	"github.com/guregu/null/v6"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/sp500etl/db"
	"github.com/stockparfait/sp500etl/stats"
	"github.com/stockparfait/sp500etl/table"
)

// DefaultWindow of the moving average, in trading days.
const DefaultWindow = 50

// Params of the transformation.
type Params struct {
	Window int // moving average window, >= 1
}

// Check the parameters for consistency.
func (p Params) Check() error {
	if p.Window < 1 {
		return errors.Reason("window=%d must be >= 1", p.Window)
	}
	return nil
}

// Ticker computes the records of a single ticker. The prices must be sorted by
// strictly increasing dates and pass PriceRow.Validate(), otherwise it is an
// error.
func Ticker(ticker string, prices []db.PriceRow, p Params) ([]db.Record, error) {
	if err := p.Check(); err != nil {
		return nil, errors.Annotate(err, "invalid parameters")
	}
	for _, r := range prices {
		if err := r.Validate(); err != nil {
			return nil, errors.Annotate(err, "invalid price for %s", ticker)
		}
	}
	ts := stats.NewTimeseriesFromPrices(prices)
	if err := ts.Check(); err != nil {
		return nil, errors.Annotate(err, "prices for %s are not in date order", ticker)
	}
	// Both derived series end at the last date, so their offsets from the start
	// of the prices are the warm-up lengths.
	ma := ts.MovingAverage(p.Window)
	maStart := len(prices) - ma.Len()
	ret := ts.PercentChange()
	retStart := len(prices) - ret.Len()

	res := make([]db.Record, len(prices))
	for i, r := range prices {
		res[i] = db.Record{Ticker: ticker, PriceRow: r}
		if i >= maStart {
			res[i].MovingAverage = null.FloatFrom(ma.Data()[i-maStart])
		}
		if i >= retStart {
			res[i].DailyReturn = null.FloatFrom(ret.Data()[i-retStart])
		}
	}
	return res, nil
}

// Transform concatenates the records of all the tickers, ordered by ticker and
// then by date. Any invalid series aborts the whole transformation.
func Transform(ctx context.Context, prices map[string][]db.PriceRow, p Params) ([]db.Record, error) {
	if err := p.Check(); err != nil {
		return nil, errors.Annotate(err, "invalid parameters")
	}
	tickers := make([]string, 0, len(prices))
	for t := range prices {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	var res []db.Record
	for _, t := range tickers {
		recs, err := Ticker(t, prices[t], p)
		if err != nil {
			return nil, errors.Annotate(err, "failed to transform %s", t)
		}
		logging.Debugf(ctx, "%s: %d records", t, len(recs))
		res = append(res, recs...)
	}
	logging.Infof(ctx, "transformed %d tickers into %d records", len(tickers), len(res))
	return res, nil
}

// Table of the records with the output column names as the header.
func Table(records []db.Record) *table.Table {
	t := table.NewTable(db.RecordHeader()...)
	for _, r := range records {
		t.AddRow(r)
	}
	return t
}
