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

// Package yahoo fetches daily price bars from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/sp500etl/db"
	"github.com/stockparfait/sp500etl/fetcher"
)

// URL is the base URL of the chart API. It may be overwritten in tests.
var URL = "https://query1.finance.yahoo.com"

// Symbol converts a ticker to Yahoo symbology, e.g. BRK.B becomes BRK-B.
func Symbol(ticker string) string {
	return strings.ReplaceAll(strings.ToUpper(ticker), ".", "-")
}

// ChartResponse is the JSON schema of the chart API response. Missing values
// are JSON nulls, hence the pointers.
type ChartResponse struct {
	Chart struct {
		Result []ChartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// ChartResult is the data of a single symbol.
type ChartResult struct {
	Meta struct {
		Currency             string `json:"currency"`
		Symbol               string `json:"symbol"`
		ExchangeName         string `json:"exchangeName"`
		Gmtoffset            int    `json:"gmtoffset"`
		ExchangeTimezoneName string `json:"exchangeTimezoneName"`
		DataGranularity      string `json:"dataGranularity"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// location of the exchange, by its time zone name or else its UTC offset.
func (r *ChartResult) location() *time.Location {
	if r.Meta.ExchangeTimezoneName != "" {
		if loc, err := time.LoadLocation(r.Meta.ExchangeTimezoneName); err == nil {
			return loc
		}
	}
	return time.FixedZone("exchange", r.Meta.Gmtoffset)
}

// Bars converts the result into daily bars sorted by date. Bars with a missing
// or non-positive close are dropped, and so are repeated dates (the last one
// wins). When adjusted, OHLC are scaled to the adjusted close.
func (r *ChartResult) Bars(adjusted bool) ([]db.PriceRow, error) {
	n := len(r.Timestamp)
	if n == 0 {
		return nil, nil
	}
	if len(r.Indicators.Quote) == 0 {
		return nil, errors.Reason("no quote data")
	}
	q := r.Indicators.Quote[0]
	if len(q.Close) != n || len(q.Open) != n || len(q.High) != n ||
		len(q.Low) != n || len(q.Volume) != n {
		return nil, errors.Reason("misaligned quote data: %d timestamps", n)
	}
	var adj []*float64
	if adjusted {
		if len(r.Indicators.AdjClose) == 0 || len(r.Indicators.AdjClose[0].AdjClose) != n {
			return nil, errors.Reason("missing or misaligned adjusted close")
		}
		adj = r.Indicators.AdjClose[0].AdjClose
	}
	loc := r.location()
	num := func(p *float64) decimal.Decimal {
		if p == nil || math.IsNaN(*p) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(*p)
	}
	byDate := make(map[db.Date]db.PriceRow, n)
	for i, ts := range r.Timestamp {
		if q.Close[i] == nil || !(*q.Close[i] > 0) {
			continue
		}
		p := db.PriceRow{
			Date:  db.NewDateFromTime(time.Unix(ts, 0).In(loc)),
			Open:  num(q.Open[i]),
			High:  num(q.High[i]),
			Low:   num(q.Low[i]),
			Close: num(q.Close[i]),
		}
		if q.Volume[i] != nil {
			p.Volume = int64(math.Round(*q.Volume[i]))
		}
		if adjusted {
			if adj[i] == nil || !(*adj[i] > 0) {
				continue
			}
			p = p.Scale(decimal.NewFromFloat(*adj[i]).Div(p.Close))
		}
		byDate[p.Date] = p
	}
	res := make([]db.PriceRow, 0, len(byDate))
	for _, p := range byDate {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date.Before(res[j].Date) })
	return res, nil
}

// Source of daily prices from Yahoo Finance.
type Source struct {
	Adjusted bool // scale OHLC to the split and dividend adjusted close
}

// Query returns the chart API query for the inclusive date range.
func Query(start, end db.Date) url.Values {
	v := make(url.Values)
	v.Set("period1", fmt.Sprintf("%d", start.ToTime().Unix()))
	// period2 is exclusive.
	v.Set("period2", fmt.Sprintf("%d", end.AddDays(1).ToTime().Unix()))
	v.Set("interval", "1d")
	v.Set("events", "div,splits")
	v.Set("includeAdjustedClose", "true")
	return v
}

// Prices of the ticker in the inclusive date range, sorted by date.
func (s *Source) Prices(ctx context.Context, ticker string, start, end db.Date) ([]db.PriceRow, error) {
	symbol := Symbol(ticker)
	uri := URL + "/v8/finance/chart/" + url.PathEscape(symbol)
	var resp ChartResponse
	if err := fetcher.GetJSON(ctx, uri, Query(start, end), &resp); err != nil {
		return nil, errors.Annotate(err, "failed to fetch chart for %s", symbol)
	}
	if e := resp.Chart.Error; e != nil {
		return nil, errors.Reason("Yahoo Finance error for %s: %s - %s",
			symbol, e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, errors.Reason("no result for %s", symbol)
	}
	bars, err := resp.Chart.Result[0].Bars(s.Adjusted)
	if err != nil {
		return nil, errors.Annotate(err, "bad chart data for %s", symbol)
	}
	logging.Debugf(ctx, "Yahoo Finance: %d bars for %s", len(bars), symbol)
	return bars, nil
}
