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

// Package pipeline runs the ETL once: load the tickers, fetch their prices,
// compute the derived columns and load the result into the warehouse.
package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/sp500etl/db"
	"github.com/stockparfait/sp500etl/fetcher"
	"github.com/stockparfait/sp500etl/market"
	"github.com/stockparfait/sp500etl/tickers"
	"github.com/stockparfait/sp500etl/transform"
	"github.com/stockparfait/sp500etl/warehouse"
)

// DefaultTable is the name of the output table.
const DefaultTable = "sp500_daily_prices"

// Config of a pipeline run. Zero values are replaced by the defaults in
// InitDefaults.
type Config struct {
	TickersFile string        // empty: the built-in S&P 500 list
	Tickers     []string      // when set, used instead of TickersFile
	Start       db.Date       // default: End minus Years
	End         db.Date       // default: the last NYSE session up to today
	Years       int           // default: 20
	Window      int           // moving average window; default: 50
	Table       string        // "name" or "schema.name"; default: DefaultTable
	Mode        string        // replace (default) or append
	Retries     int           // extra fetch attempts per ticker
	Backoff     time.Duration // first retry delay; default: 1s
	Workers     int           // concurrent fetches; default: 1
	Calendar    *market.Calendar
	Now         func() time.Time // for tests; default: time.Now
}

// InitDefaults fills in the unset fields.
func (c *Config) InitDefaults() {
	if c.Years <= 0 {
		c.Years = 20
	}
	if c.Window == 0 {
		c.Window = transform.DefaultWindow
	}
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.Mode == "" {
		c.Mode = string(warehouse.Replace)
	}
	if c.Backoff == 0 {
		c.Backoff = time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Calendar == nil {
		c.Calendar = market.NYSE()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// DateRange resolves the requested date range. The end defaults to the last
// trading day, the start to Years before the end.
func (c *Config) DateRange() (start, end db.Date) {
	end = c.End
	if end.IsZero() {
		end = c.Calendar.LastTradingDay(db.DateInNY(c.Now()))
	}
	start = c.Start
	if start.IsZero() {
		start = end.AddYears(-c.Years)
	}
	return
}

// Sink receives the final batch. *warehouse.Warehouse implements it.
type Sink interface {
	Load(ctx context.Context, b *warehouse.Batch) (*warehouse.Result, error)
}

var _ Sink = &warehouse.Warehouse{}

// Summary of a completed run.
type Summary struct {
	Start     db.Date
	End       db.Date
	Requested int
	Loaded    []string
	Failed    map[string]error
	Rows      int
	RunID     string
}

// FailedTickers in alphabetical order.
func (s *Summary) FailedTickers() []string {
	res := make([]string, 0, len(s.Failed))
	for t := range s.Failed {
		res = append(res, t)
	}
	sort.Strings(res)
	return res
}

// Run the pipeline once. Failed tickers are skipped, but if every ticker fails
// over a range with trading days, nothing is loaded and the existing table is
// kept. An error means nothing was loaded by this run.
func Run(ctx context.Context, c *Config, src fetcher.Source, sink Sink) (*Summary, error) {
	c.InitDefaults()
	table, err := warehouse.ParseTable(c.Table)
	if err != nil {
		return nil, errors.Annotate(err, "invalid table")
	}
	mode, err := warehouse.ParseMode(c.Mode)
	if err != nil {
		return nil, errors.Annotate(err, "invalid mode")
	}
	params := transform.Params{Window: c.Window}
	if err := params.Check(); err != nil {
		return nil, errors.Annotate(err, "invalid transform parameters")
	}

	list := c.Tickers
	if len(list) == 0 {
		if list, err = tickers.Load(ctx, c.TickersFile); err != nil {
			return nil, errors.Annotate(err, "failed to load tickers")
		}
	}
	list = tickers.Normalize(list)

	start, end := c.DateRange()
	f := &fetcher.Fetcher{
		Source:   src,
		Retries:  c.Retries,
		Backoff:  c.Backoff,
		Workers:  c.Workers,
		Calendar: c.Calendar,
	}
	ds := f.Fetch(ctx, list, start, end)
	if ds.Sessions > 0 && len(list) > 0 && len(ds.Prices) == 0 {
		return nil, errors.Reason("all %d tickers failed to fetch for [%s, %s]",
			len(list), start, end)
	}

	records, err := transform.Transform(ctx, ds.Prices, params)
	if err != nil {
		return nil, errors.Annotate(err, "failed to transform prices")
	}

	batch := &warehouse.Batch{
		Table:   table,
		Mode:    mode,
		Records: records,
		Tickers: len(ds.Prices),
		Start:   start,
		End:     end,
	}
	res, err := sink.Load(ctx, batch)
	if err != nil {
		return nil, errors.Annotate(err, "failed to load %s", table)
	}

	s := &Summary{
		Start:     start,
		End:       end,
		Requested: len(list),
		Loaded:    ds.Loaded(),
		Failed:    ds.Failed,
		Rows:      res.Rows,
		RunID:     res.RunID,
	}
	if len(s.Failed) > 0 {
		logging.Warningf(ctx, "skipped %d tickers: %v", len(s.Failed), s.FailedTickers())
	}
	logging.Infof(ctx, "run %s: %d of %d tickers, %d rows in %s",
		s.RunID, len(s.Loaded), s.Requested, s.Rows, table)
	return s, nil
}
