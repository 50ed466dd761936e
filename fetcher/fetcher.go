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

// Package fetcher downloads daily prices for a list of tickers from a price
// source. A failure of one ticker never fails the others.
package fetcher

import (
	"context"
	"sort"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/fetch"
	"github.com/stockparfait/iterator"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/sp500etl/db"
	"github.com/stockparfait/sp500etl/market"
)

// MaxBackoff caps the delay between retries, unless Backoff is larger.
const MaxBackoff = time.Minute

// Source of daily prices. Implemented by yahoo.Source, sharadar.Source and
// localcsv.Source.
type Source interface {
	// Prices of the ticker in the inclusive date range.
	Prices(ctx context.Context, ticker string, start, end db.Date) ([]db.PriceRow, error)
}

// Fetcher of the prices for multiple tickers.
type Fetcher struct {
	Source  Source
	Retries int           // extra attempts after a failure
	Backoff time.Duration // delay before the first retry, doubled up to MaxBackoff
	Workers int           // concurrent fetches; <= 1 is sequential
	// Trading calendar for the coverage check; default: market.NYSE().
	Calendar *market.Calendar
}

// Dataset is the result of fetching a list of tickers.
type Dataset struct {
	Prices   map[string][]db.PriceRow // successfully fetched, sorted by date
	Failed   map[string]error         // tickers skipped and the reason
	Order    []string                 // tickers as requested
	Sessions int                      // trading days in the requested range
}

func newDataset(tickers []string) *Dataset {
	return &Dataset{
		Prices: make(map[string][]db.PriceRow),
		Failed: make(map[string]error),
		Order:  tickers,
	}
}

// Loaded returns the successfully fetched tickers in the requested order.
func (d *Dataset) Loaded() []string {
	var res []string
	for _, t := range d.Order {
		if _, ok := d.Prices[t]; ok {
			res = append(res, t)
		}
	}
	return res
}

// Rows is the total number of price rows in the dataset.
func (d *Dataset) Rows() int {
	n := 0
	for _, p := range d.Prices {
		n += len(p)
	}
	return n
}

type result struct {
	ticker string
	prices []db.PriceRow
	err    error
}

func (f *Fetcher) calendar() *market.Calendar {
	if f.Calendar == nil {
		return market.NYSE()
	}
	return f.Calendar
}

// clean filters the prices to the date range, sorts them by date and collapses
// duplicate dates, keeping the last bar of each date.
func clean(ctx context.Context, ticker string, prices []db.PriceRow, start, end db.Date) []db.PriceRow {
	prices = db.NewConstraints().StartAt(start).EndAt(end).FilterPrices(prices)
	sort.SliceStable(prices, func(i, j int) bool {
		return prices[i].Date.Before(prices[j].Date)
	})
	res := make([]db.PriceRow, 0, len(prices))
	for _, p := range prices {
		if n := len(res); n > 0 && res[n-1].Date == p.Date {
			logging.Debugf(ctx, "%s: duplicate bar for %s", ticker, p.Date)
			res[n-1] = p
			continue
		}
		res = append(res, p)
	}
	if dups := len(prices) - len(res); dups > 0 {
		logging.Warningf(ctx, "%s: dropped %d duplicate bars", ticker, dups)
	}
	return res
}

// retryParams of the source calls: every error is retried until the attempts
// run out or the context is canceled.
func (f *Fetcher) retryParams(ctx context.Context, attempt *int) *fetch.Params {
	maxWait := MaxBackoff
	if f.Backoff > maxWait {
		maxWait = f.Backoff
	}
	return fetch.NewParams().Retries(f.Retries).MinWait(f.Backoff).MaxWait(maxWait).
		IsRetriableFn(func(error) bool {
			// No wait after the last attempt.
			return *attempt < f.Retries && ctx.Err() == nil
		})
}

// Ticker fetches the prices of one ticker, retrying on failures. Zero rows in
// the range is an error.
func (f *Fetcher) Ticker(ctx context.Context, ticker string, start, end db.Date) ([]db.PriceRow, error) {
	var prices []db.PriceRow
	var attempt int
	err := fetch.Retry(ctx, f.retryParams(ctx, &attempt), func(i int) (err error) {
		attempt = i
		if i > 0 {
			logging.Debugf(ctx, "%s: retry %d of %d", ticker, i, f.Retries)
		}
		if err = ctx.Err(); err != nil {
			return
		}
		prices, err = f.Source.Prices(ctx, ticker, start, end)
		return
	})
	if err != nil {
		return nil, errors.Annotate(err, "failed to fetch %s after %d attempt(s)",
			ticker, attempt+1)
	}
	prices = clean(ctx, ticker, prices, start, end)
	if len(prices) == 0 {
		return nil, errors.Reason("no data for %s in [%s, %s]", ticker, start, end)
	}
	return prices, nil
}

// Fetch the prices of all the tickers in the inclusive date range. Failed
// tickers are logged and recorded in Dataset.Failed. If the range contains no
// trading days, the source is not called and the dataset is empty.
func (f *Fetcher) Fetch(ctx context.Context, tickers []string, start, end db.Date) *Dataset {
	ds := newDataset(tickers)
	cal := f.calendar()
	sessions := cal.TradingDays(start, end)
	ds.Sessions = sessions
	if sessions == 0 {
		logging.Warningf(ctx, "no trading days in [%s, %s], nothing to fetch", start, end)
		return ds
	}
	logging.Infof(ctx, "fetching %d tickers for [%s, %s] (%d sessions)",
		len(tickers), start, end, sessions)

	get := func(ticker string) result {
		prices, err := f.Ticker(ctx, ticker, start, end)
		return result{ticker: ticker, prices: prices, err: err}
	}
	add := func(r result, ds *Dataset) *Dataset {
		if r.err != nil {
			logging.Warningf(ctx, "skipping %s: %s", r.ticker, r.err.Error())
			ds.Failed[r.ticker] = r.err
			return ds
		}
		if n := len(r.prices); n < sessions {
			logging.Debugf(ctx, "%s: %d bars for %d sessions", r.ticker, n, sessions)
		}
		logging.Infof(ctx, "fetched %s: %d bars", r.ticker, len(r.prices))
		ds.Prices[r.ticker] = r.prices
		return ds
	}

	if f.Workers <= 1 {
		for _, t := range tickers {
			ds = add(get(t), ds)
		}
	} else {
		pm := iterator.ParallelMap(ctx, f.Workers, iterator.FromSlice(tickers), get)
		defer pm.Close()
		ds = iterator.Reduce[result, *Dataset](pm, ds, add)
	}
	logging.Infof(ctx, "fetched %d of %d tickers, %d failed",
		len(ds.Prices), len(tickers), len(ds.Failed))
	return ds
}
