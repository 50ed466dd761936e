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
	"encoding/csv"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stockparfait/errors"
)

// TickerRowConfig sets the custom headers of input CSV file for ticker lists.
// Column names are compared after NormalizeColumn, so "Symbol" matches
// "symbol".
type TickerRowConfig struct {
	Ticker []string `toml:"ticker"` // any of these columns holds the symbol
	Header []string `toml:"header"` // for headless CSV
}

// NewTickerRowConfig creates the default config, which recognizes "ticker" and
// "symbol" columns.
func NewTickerRowConfig() *TickerRowConfig {
	return &TickerRowConfig{Ticker: []string{"ticker", "symbol"}}
}

// tickerColumn returns the index of the ticker column in the header, or -1.
func (c *TickerRowConfig) tickerColumn(header []string) int {
	for i, h := range header {
		h = NormalizeColumn(h)
		for _, t := range c.Ticker {
			if h == NormalizeColumn(t) {
				return i
			}
		}
	}
	return -1
}

// ReadCSVTickers reads the list of ticker symbols from CSV in the order of
// appearance.
//
// When config defines a header, CSV is assumed to be headless; otherwise the
// CSV file must have a header. In either case, the header must contain a
// ticker column. Other columns are ignored, and so are rows with an empty
// ticker.
func ReadCSVTickers(r io.Reader, c *TickerRowConfig) ([]string, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true
	rows, err := csvReader.ReadAll()
	if err != nil {
		return nil, errors.Annotate(err, "failed to read tickers from CSV")
	}
	header := c.Header
	if len(header) == 0 {
		if len(rows) == 0 {
			return nil, nil
		}
		header = rows[0]
		rows = rows[1:]
	}
	col := c.tickerColumn(header)
	if col < 0 {
		return nil, errors.Reason("tickers CSV requires one of the columns %s",
			strings.Join(c.Ticker, ", "))
	}
	tickers := []string{}
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		if t := strings.TrimSpace(row[col]); t != "" {
			tickers = append(tickers, t)
		}
	}
	return tickers, nil
}

// PriceRowConfig sets the custom headers of input CSV file for price rows.
// Column names are compared after NormalizeColumn, so the default "adj_close"
// matches a CSV column "Adj Close".
type PriceRowConfig struct {
	Date     string   `toml:"date"`
	Open     string   `toml:"open"`
	High     string   `toml:"high"`
	Low      string   `toml:"low"`
	Close    string   `toml:"close"`
	AdjClose string   `toml:"adj_close"` // optional, fully adjusted close
	Volume   string   `toml:"volume"`
	Header   []string `toml:"header"` // for headless CSV
	// Adjust scales OHLC by adj_close/close when the adjusted close column is
	// present.
	Adjust bool `toml:"adjust"`
}

// NewPriceRowConfig creates the default config matching the usual OHLCV export
// format: Date, Open, High, Low, Close, Adj Close, Volume.
func NewPriceRowConfig() *PriceRowConfig {
	return &PriceRowConfig{
		Date:     "date",
		Open:     "open",
		High:     "high",
		Low:      "low",
		Close:    "close",
		AdjClose: "adj_close",
		Volume:   "volume",
	}
}

const (
	priceDate int = iota
	priceOpen
	priceHigh
	priceLow
	priceClose
	priceAdjClose
	priceVolume
	priceLast // keep it last; not a real value.
)

// MapColumns maps each PriceRow field to its header column index, or -1 when
// the column is missing.
func (c *PriceRowConfig) MapColumns(header []string) []int {
	cols := make([]string, priceLast)
	cols[priceDate] = c.Date
	cols[priceOpen] = c.Open
	cols[priceHigh] = c.High
	cols[priceLow] = c.Low
	cols[priceClose] = c.Close
	cols[priceAdjClose] = c.AdjClose
	cols[priceVolume] = c.Volume
	m := make([]int, priceLast)
	for j, n := range cols {
		m[j] = -1
		if n == "" {
			continue
		}
		n = NormalizeColumn(n)
		for i, h := range header {
			if NormalizeColumn(h) == n {
				m[j] = i
				break
			}
		}
	}
	return m
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// Parse a single CSV row according to the column map. Missing OHL default to
// the close price, missing volume is 0.
func (c *PriceRowConfig) Parse(row []string, colMap []int) (PriceRow, error) {
	var pr PriceRow
	cell := func(field int) (string, bool) {
		i := colMap[field]
		if i < 0 || i >= len(row) {
			return "", false
		}
		return row[i], true
	}
	s, ok := cell(priceDate)
	if !ok {
		return pr, errors.Reason("missing date")
	}
	var err error
	if pr.Date, err = NewDateFromString(s); err != nil {
		return pr, errors.Annotate(err, "failed to parse date")
	}
	prices := []struct {
		field int
		name  string
		dst   *decimal.Decimal
	}{
		{priceClose, "Close", &pr.Close},
		{priceOpen, "Open", &pr.Open},
		{priceHigh, "High", &pr.High},
		{priceLow, "Low", &pr.Low},
	}
	for _, p := range prices {
		s, ok := cell(p.field)
		if !ok || strings.TrimSpace(s) == "" {
			*p.dst = pr.Close
			continue
		}
		if *p.dst, err = parseDecimal(s); err != nil {
			return pr, errors.Annotate(err, "failed to parse %s: %s", p.name, s)
		}
	}
	if s, ok := cell(priceVolume); ok && strings.TrimSpace(s) != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return pr, errors.Annotate(err, "failed to parse Volume: %s", s)
		}
		pr.Volume = int64(math.Round(v))
	}
	if s, ok := cell(priceAdjClose); c.Adjust && ok && strings.TrimSpace(s) != "" {
		adj, err := parseDecimal(s)
		if err != nil {
			return pr, errors.Annotate(err, "failed to parse adjusted Close: %s", s)
		}
		if pr.Close.IsPositive() {
			pr = pr.Scale(adj.Div(pr.Close))
		}
	}
	return pr, nil
}

// ReadCSVPrices reads raw CSV and creates a price series sorted by date.
//
// When config defines a header, CSV is assumed to be headless; otherwise the
// CSV file must have a header. In either case, the header must contain the
// date and close columns. Columns with an unrecognized header are ignored.
func ReadCSVPrices(r io.Reader, c *PriceRowConfig) ([]PriceRow, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1
	rows, err := csvReader.ReadAll()
	if err != nil {
		return nil, errors.Annotate(err, "failed to read prices from CSV")
	}
	header := c.Header
	if len(header) == 0 {
		if len(rows) == 0 {
			return nil, nil
		}
		header = rows[0]
		rows = rows[1:]
	}
	colMap := c.MapColumns(header)
	if colMap[priceDate] < 0 || colMap[priceClose] < 0 {
		return nil, errors.Reason("prices CSV requires '%s' and '%s' columns",
			c.Date, c.Close)
	}
	prices := []PriceRow{}
	for i, r := range rows {
		pr, err := c.Parse(r, colMap)
		if err != nil {
			return nil, errors.Annotate(err, "failed to parse row %d", i)
		}
		prices = append(prices, pr)
	}
	sort.SliceStable(prices, func(i, j int) bool { return prices[i].Date.Before(prices[j].Date) })
	return prices, nil
}
