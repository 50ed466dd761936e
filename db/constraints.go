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

// Constraints to filter the tickers and their price series.  Zero value means
// no constraints.
type Constraints struct {
	ExcludeTickers map[string]struct{}
	Start          Date
	End            Date
}

// NewConstraints creates a new Constraints with no constraints.
func NewConstraints() *Constraints {
	return &Constraints{ExcludeTickers: make(map[string]struct{})}
}

// ExcludeTicker adds tickers to be ignored.
func (c *Constraints) ExcludeTicker(tickers ...string) *Constraints {
	if c.ExcludeTickers == nil {
		c.ExcludeTickers = make(map[string]struct{})
	}
	for _, tk := range tickers {
		c.ExcludeTickers[tk] = struct{}{}
	}
	return c
}

// StartAt adds start date to the Constraints.
func (c *Constraints) StartAt(dt Date) *Constraints {
	c.Start = dt
	return c
}

// EndAt adds end date to the Constraints.
func (c *Constraints) EndAt(dt Date) *Constraints {
	c.End = dt
	return c
}

// CheckTicker whether it satisfies the constraints.
func (c *Constraints) CheckTicker(ticker string) bool {
	_, excluded := c.ExcludeTickers[ticker]
	return !excluded
}

// CheckPrice whether its date is within the inclusive date range.
func (c *Constraints) CheckPrice(r PriceRow) bool {
	if !c.Start.IsZero() && r.Date.Before(c.Start) {
		return false
	}
	return c.End.IsZero() || !r.Date.After(c.End)
}

// FilterTickers returns the tickers satisfying the constraints, preserving
// their order.
func (c *Constraints) FilterTickers(tickers []string) []string {
	res := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if c.CheckTicker(t) {
			res = append(res, t)
		}
	}
	return res
}

// FilterPrices returns the price rows within the date range, preserving their
// order.
func (c *Constraints) FilterPrices(prices []PriceRow) []PriceRow {
	res := make([]PriceRow, 0, len(prices))
	for _, p := range prices {
		if c.CheckPrice(p) {
			res = append(res, p)
		}
	}
	return res
}
