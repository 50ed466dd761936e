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

package stats

import (
	"github.com/stockparfait/errors"
	"github.com/stockparfait/sp500etl/db"

	"gonum.org/v1/gonum/stat"
)

// Timeseries stores numeric values along with timestamps. The timestamps are
// always sorted in ascending order.
type Timeseries struct {
	dates []db.Date
	data  []float64
}

// NewTimeseries creates a new Timeseries. The dates are expected to be sorted
// in ascending order (not checked). It panics if dates and data have different
// lengths.  Note, that the argument slices are used as is, not copied.
func NewTimeseries(dates []db.Date, data []float64) *Timeseries {
	if len(dates) != len(data) {
		panic(errors.Reason("len(dates) [%d] != len(data) [%d]",
			len(dates), len(data)))
	}
	return &Timeseries{dates: dates, data: data}
}

// NewTimeseriesFromPrices creates a Timeseries of the closing prices.
func NewTimeseriesFromPrices(prices []db.PriceRow) *Timeseries {
	dates := make([]db.Date, len(prices))
	data := make([]float64, len(prices))
	for i, p := range prices {
		dates[i] = p.Date
		data[i] = p.Close.InexactFloat64()
	}
	return NewTimeseries(dates, data)
}

// Dates of the Timeseries.
func (t *Timeseries) Dates() []db.Date { return t.dates }

// Data of the Timeseries.
func (t *Timeseries) Data() []float64 { return t.data }

// Len is the number of samples.
func (t *Timeseries) Len() int { return len(t.dates) }

// Check that Timeseries is consistent: the lengths of dates and data are the
// same and the dates are strictly increasing.
func (t *Timeseries) Check() error {
	if len(t.dates) != len(t.data) {
		return errors.Reason("len(dates) [%d] != len(data) [%d]",
			len(t.dates), len(t.data))
	}
	for i := 1; i < len(t.dates); i++ {
		if !t.dates[i-1].Before(t.dates[i]) {
			return errors.Reason("dates[%d] = %s >= dates[%d] = %s",
				i-1, t.dates[i-1], i, t.dates[i])
		}
	}
	return nil
}

// Shift the timeseries in time.  A positive shift moves the values into the
// future, negative - into the past. The values outside of the date range are
// dropped. It may return an empty Timeseries, but never nil.
func (t *Timeseries) Shift(shift int) *Timeseries {
	if shift == 0 {
		return t
	}
	absShift := shift
	if absShift < 0 {
		absShift = -shift
	}
	l := len(t.dates)
	if absShift >= l {
		return NewTimeseries(nil, nil)
	}
	if shift > 0 {
		return NewTimeseries(t.dates[shift:], t.data[:l-shift])
	}
	return NewTimeseries(t.dates[:l+shift], t.data[-shift:])
}

// Tail drops the first n samples. It may return an empty Timeseries, but never
// nil.
func (t *Timeseries) Tail(n int) *Timeseries {
	if n <= 0 {
		return t
	}
	if n >= len(t.dates) {
		return NewTimeseries(nil, nil)
	}
	return NewTimeseries(t.dates[n:], t.data[n:])
}

// BinaryOp applies f to the two Timeseries element-wise. It panics if the
// lengths or dates (pointwise) differ.
func (t *Timeseries) BinaryOp(f func(x, y float64) float64, t2 *Timeseries) *Timeseries {
	if len(t.Data()) != len(t2.Data()) {
		panic(errors.Reason("len(t1)=%d != len(t2)=%d", len(t.Data()), len(t2.Data())))
	}
	data := make([]float64, len(t.Data()))
	for i := range t.Data() {
		if t.Dates()[i] != t2.Dates()[i] {
			panic(errors.Reason("t.Dates[%d] = %s != t2.Dates[%d] = %s",
				i, t.Dates()[i], i, t2.Dates()[i]))
		}
		data[i] = f(t.Data()[i], t2.Data()[i])
	}
	return NewTimeseries(t.Dates(), data)
}

// MovingAverage computes the trailing simple moving average over n samples.
// The value at dates[i] is the mean of data[i-n+1..i], hence the result starts
// at dates[n-1] and is empty when there are fewer than n samples.
func (t *Timeseries) MovingAverage(n int) *Timeseries {
	if n < 1 {
		panic(errors.Reason("n=%d must be >= 1", n))
	}
	if n > len(t.data) {
		return NewTimeseries(nil, nil)
	}
	data := make([]float64, len(t.data)-n+1)
	for i := range data {
		data[i] = stat.Mean(t.data[i:i+n], nil)
	}
	return NewTimeseries(t.dates[n-1:], data)
}

// PercentChange computes {(x[t] - x[t-1]) / x[t-1]} dated at t, starting at
// dates[1].
func (t *Timeseries) PercentChange() *Timeseries {
	return t.Tail(1).BinaryOp(func(x, prev float64) float64 {
		return (x - prev) / prev
	}, t.Shift(1))
}
