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

package pipeline

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/sp500etl/db"
	"github.com/stockparfait/sp500etl/market"
	"github.com/stockparfait/sp500etl/warehouse"

	. "github.com/smartystreets/goconvey/convey"
)

// testSource generates a deterministic price series for every weekday.
type testSource struct {
	mu    sync.Mutex
	fail  map[string]bool
	bad   map[string]bool
	calls int
}

func (s *testSource) Prices(ctx context.Context, ticker string, start, end db.Date) ([]db.PriceRow, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fail[ticker] {
		return nil, errors.Reason("connection reset by peer")
	}
	cal := market.Weekdays()
	var res []db.PriceRow
	base := float64(10 + len(ticker))
	for d, i := start, 0; !d.After(end); d = d.AddDays(1) {
		if !cal.IsTradingDay(d) {
			continue
		}
		c := base + float64(i%7) - 0.5*float64(i%3)
		if s.bad[ticker] && i == 3 {
			c = 0
		}
		res = append(res, db.TestPrice(d, c, int64(1000+i)))
		i++
	}
	return res, nil
}

type recordingSink struct {
	batch *warehouse.Batch
	err   error
}

func (s *recordingSink) Load(ctx context.Context, b *warehouse.Batch) (*warehouse.Result, error) {
	s.batch = b
	if s.err != nil {
		return nil, s.err
	}
	return &warehouse.Result{RunID: "test", Rows: len(b.Records)}, nil
}

func TestPipeline(t *testing.T) {
	t.Parallel()

	tmpdir, tmpdirErr := os.MkdirTemp("", "test_pipeline")
	defer os.RemoveAll(tmpdir)

	Convey("Setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	ctx := logging.Use(context.Background(), logging.DefaultGoLogger(logging.Info))
	tickers := []string{"AAPL", "MSFT", "AMZN", "GOOGL", "META", "TSLA", "NVDA", "JPM", "V", "XOM"}
	start := db.NewDate(2021, 1, 4)
	end := db.NewDate(2021, 2, 26)
	newConfig := func() *Config {
		return &Config{
			Tickers:  tickers,
			Start:    start,
			End:      end,
			Window:   5,
			Calendar: market.Weekdays(),
			Backoff:  time.Millisecond,
		}
	}

	Convey("Pipeline loads into SQLite", t, func() {
		w, err := warehouse.Open(ctx, warehouse.Config{
			Driver: warehouse.SQLite, DSN: filepath.Join(tmpdir, "pipeline.db")})
		So(err, ShouldBeNil)
		defer w.Close()
		tb := warehouse.Table{Name: DefaultTable}
		src := &testSource{fail: map[string]bool{"TSLA": true}}

		Convey("one failed ticker is skipped", func() {
			s, err := Run(ctx, newConfig(), src, w)
			So(err, ShouldBeNil)
			So(s.Requested, ShouldEqual, 10)
			So(len(s.Loaded), ShouldEqual, 9)
			So(s.FailedTickers(), ShouldResemble, []string{"TSLA"})
			So(s.RunID, ShouldNotBeEmpty)

			records, err := w.ReadAll(ctx, tb)
			So(err, ShouldBeNil)
			So(s.Rows, ShouldEqual, len(records))
			So(len(records), ShouldEqual, 9*40)

			byTicker := make(map[string][]db.Record)
			for _, r := range records {
				So(r.Ticker, ShouldNotEqual, "TSLA")
				byTicker[r.Ticker] = append(byTicker[r.Ticker], r)
			}
			So(len(byTicker), ShouldEqual, 9)

			for _, recs := range byTicker {
				for i, r := range recs {
					if i > 0 {
						So(recs[i-1].Date.Before(r.Date), ShouldBeTrue)
					}
					So(r.MovingAverage.Valid, ShouldEqual, i >= 4)
					So(r.DailyReturn.Valid, ShouldEqual, i >= 1)
					if i >= 1 {
						c := r.Close.InexactFloat64()
						prev := recs[i-1].Close.InexactFloat64()
						So(math.Abs(r.DailyReturn.Float64-(c-prev)/prev), ShouldBeLessThan, 1e-9)
					}
				}
			}
		})

		Convey("replace twice is the same as once", func() {
			_, err := Run(ctx, newConfig(), src, w)
			So(err, ShouldBeNil)
			first, err := w.ReadAll(ctx, tb)
			So(err, ShouldBeNil)

			_, err = Run(ctx, newConfig(), src, w)
			So(err, ShouldBeNil)
			second, err := w.ReadAll(ctx, tb)
			So(err, ShouldBeNil)
			So(second, ShouldResemble, first)
		})

		Convey("parallel fetch gives the same table", func() {
			_, err := Run(ctx, newConfig(), src, w)
			So(err, ShouldBeNil)
			first, err := w.ReadAll(ctx, tb)
			So(err, ShouldBeNil)

			c := newConfig()
			c.Workers = 3
			_, err = Run(ctx, c, &testSource{fail: src.fail}, w)
			So(err, ShouldBeNil)
			second, err := w.ReadAll(ctx, tb)
			So(err, ShouldBeNil)
			So(second, ShouldResemble, first)
		})

		Convey("an outage keeps the existing table", func() {
			_, err := Run(ctx, newConfig(), src, w)
			So(err, ShouldBeNil)
			before, err := w.ReadAll(ctx, tb)
			So(err, ShouldBeNil)

			down := &testSource{fail: make(map[string]bool)}
			for _, t := range tickers {
				down.fail[t] = true
			}
			_, err = Run(ctx, newConfig(), down, w)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "all 10 tickers failed")
			after, err := w.ReadAll(ctx, tb)
			So(err, ShouldBeNil)
			So(after, ShouldResemble, before)
		})

		Convey("empty date range writes an empty table", func() {
			_, err := Run(ctx, newConfig(), src, w)
			So(err, ShouldBeNil)

			c := newConfig()
			c.Start, c.End = end, start
			src.calls = 0
			s, err := Run(ctx, c, src, w)
			So(err, ShouldBeNil)
			So(s.Rows, ShouldEqual, 0)
			So(src.calls, ShouldEqual, 0)
			records, err := w.ReadAll(ctx, tb)
			So(err, ShouldBeNil)
			So(records, ShouldBeEmpty)
		})
	})

	Convey("Pipeline errors", t, func() {
		sink := &recordingSink{}

		Convey("bad data aborts before loading", func() {
			src := &testSource{bad: map[string]bool{"MSFT": true}}
			_, err := Run(ctx, newConfig(), src, sink)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "MSFT")
			So(sink.batch, ShouldBeNil)
		})

		Convey("load failure is fatal", func() {
			sink.err = errors.Reason("password authentication failed")
			_, err := Run(ctx, newConfig(), &testSource{}, sink)
			So(err, ShouldNotBeNil)
			So(sink.batch, ShouldNotBeNil)
		})

		Convey("invalid settings", func() {
			c := newConfig()
			c.Table = "bad-name"
			_, err := Run(ctx, c, &testSource{}, sink)
			So(err, ShouldNotBeNil)

			c = newConfig()
			c.Mode = "merge"
			_, err = Run(ctx, c, &testSource{}, sink)
			So(err, ShouldNotBeNil)

			c = newConfig()
			c.Window = -1
			_, err = Run(ctx, c, &testSource{}, sink)
			So(err, ShouldNotBeNil)
			So(sink.batch, ShouldBeNil)
		})

		Convey("batch carries the run parameters", func() {
			c := newConfig()
			c.Mode = "append"
			c.Table = "analytics.prices"
			s, err := Run(ctx, c, &testSource{}, sink)
			So(err, ShouldBeNil)
			So(s.Rows, ShouldEqual, 10*40)
			So(sink.batch.Mode, ShouldEqual, warehouse.Append)
			So(sink.batch.Table, ShouldResemble, warehouse.Table{Schema: "analytics", Name: "prices"})
			So(sink.batch.Tickers, ShouldEqual, 10)
			So(sink.batch.Start, ShouldResemble, start)
			So(sink.batch.End, ShouldResemble, end)
		})
	})

	Convey("Default settings with the NYSE calendar", t, func() {
		sink := &recordingSink{}
		c := &Config{
			Tickers: []string{"AAPL"},
			Backoff: time.Millisecond,
			Now: func() time.Time {
				return time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC) // Friday
			},
		}
		s, err := Run(ctx, c, &testSource{}, sink)
		So(err, ShouldBeNil)
		So(s.End, ShouldResemble, db.NewDate(2026, 10, 16))
		So(s.Start, ShouldResemble, db.NewDate(2006, 10, 16))
		So(s.Loaded, ShouldResemble, []string{"AAPL"})
		So(s.Rows, ShouldBeGreaterThan, 20*250)
		So(sink.batch.Start, ShouldResemble, s.Start)
		So(sink.batch.Records[49].MovingAverage.Valid, ShouldBeTrue)
		So(sink.batch.Records[48].MovingAverage.Valid, ShouldBeFalse)
	})

	Convey("Default date range", t, func() {
		c := &Config{
			Calendar: market.Weekdays(),
			Now: func() time.Time {
				return time.Date(2024, 1, 7, 15, 0, 0, 0, time.UTC) // Sunday
			},
		}
		c.InitDefaults()
		s, e := c.DateRange()
		So(e, ShouldResemble, db.NewDate(2024, 1, 5))
		So(s, ShouldResemble, db.NewDate(2004, 1, 5))
		So(c.Window, ShouldEqual, 50)
		So(c.Table, ShouldEqual, DefaultTable)
		So(c.Mode, ShouldEqual, "replace")
	})
}
