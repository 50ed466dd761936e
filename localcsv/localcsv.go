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

// Package localcsv reads daily prices from a directory of per-ticker CSV
// files, for offline runs.
package localcsv

import (
	"context"
	"os"
	"path/filepath"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/sp500etl/db"
)

// Source reads <Dir>/<TICKER>.csv. A missing file fails that ticker only.
type Source struct {
	Dir    string
	Config *db.PriceRowConfig // default: db.NewPriceRowConfig()
}

// Path of the ticker's CSV file.
func (s *Source) Path(ticker string) string {
	return filepath.Join(s.Dir, ticker+".csv")
}

// Prices of the ticker in the inclusive date range, sorted by date.
func (s *Source) Prices(ctx context.Context, ticker string, start, end db.Date) ([]db.PriceRow, error) {
	c := s.Config
	if c == nil {
		c = db.NewPriceRowConfig()
	}
	f, err := os.Open(s.Path(ticker))
	if err != nil {
		return nil, errors.Annotate(err, "no price file for %s", ticker)
	}
	defer f.Close()

	prices, err := db.ReadCSVPrices(f, c)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read prices for %s", ticker)
	}
	return db.NewConstraints().StartAt(start).EndAt(end).FilterPrices(prices), nil
}
