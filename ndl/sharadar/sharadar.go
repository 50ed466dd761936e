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

// Package sharadar fetches daily equity prices from the Sharadar SEP table of
// Nasdaq Data Link.
package sharadar

import (
	"context"
	"sort"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/sp500etl/db"
	"github.com/stockparfait/sp500etl/ndl"
)

type TableName = string

// EquitiesTable holds the daily prices of US stocks.
const EquitiesTable = TableName("SEP")

func FullTableName(table TableName) string {
	return "SHARADAR/" + string(table)
}

// PriceQuery builds the query for a single ticker's prices in the inclusive
// date range. Zero dates are not filtered on.
func PriceQuery(table TableName, ticker string, start, end db.Date) *ndl.TableQuery {
	q := ndl.NewTableQuery(FullTableName(table)).Equal("ticker", ticker)
	return q.Between("date", start, end).Columns(PriceSchema.Names()...).PerPage(10000)
}

// Source of daily prices from Sharadar. It expects an NDL client in the
// context, see ndl.UseClient.
type Source struct {
	Table    TableName // default: EquitiesTable
	Adjusted bool      // scale OHLC to the fully adjusted close
}

// Prices of the ticker in the inclusive date range, sorted by date.
func (s *Source) Prices(ctx context.Context, ticker string, start, end db.Date) ([]db.PriceRow, error) {
	table := s.Table
	if table == "" {
		table = EquitiesTable
	}
	rows, err := ndl.ReadAll[Price](PriceQuery(table, ticker, start, end).Read(ctx))
	if err != nil {
		return nil, errors.Annotate(err, "failed to read %s prices for %s",
			FullTableName(table), ticker)
	}
	prices := make([]db.PriceRow, 0, len(rows))
	for _, r := range rows {
		if r.Ticker != ticker {
			return nil, errors.Reason("requested %s, received a row for %s", ticker, r.Ticker)
		}
		prices = append(prices, r.PriceRow(s.Adjusted))
	}
	sort.SliceStable(prices, func(i, j int) bool { return prices[i].Date.Before(prices[j].Date) })
	return prices, nil
}
