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

package table

import (
	"bytes"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stockparfait/sp500etl/db"

	. "github.com/smartystreets/goconvey/convey"
)

type priceRow struct {
	Ticker string
	Close  string
}

func (r priceRow) CSV() []string { return []string{r.Ticker, r.Close} }

func TestTable(t *testing.T) {
	t.Parallel()

	Convey("Table methods work", t, func() {
		tb := NewTable("ticker", "close")
		headless := NewTable()
		tb.AddRow(priceRow{"AAPL", "129.41"}, priceRow{"BRK.B", "231.87"}, priceRow{"T", "28.8"})
		headless.AddRow(priceRow{"AAPL", "129.41"}, priceRow{"BRK.B", "231.87"})

		So(len(tb.Rows), ShouldEqual, 3)
		So(len(headless.Rows), ShouldEqual, 2)

		Convey("WriteCSV", func() {
			var buf bytes.Buffer

			Convey("all rows", func() {
				So(tb.WriteCSV(&buf, Params{}), ShouldBeNil)
				So("\n"+buf.String(), ShouldEqual, `
ticker,close
AAPL,129.41
BRK.B,231.87
T,28.8
`)
			})

			Convey("headless", func() {
				So(headless.WriteCSV(&buf, Params{}), ShouldBeNil)
				So("\n"+buf.String(), ShouldEqual, `
AAPL,129.41
BRK.B,231.87
`)
			})

			Convey("limited rows, no header", func() {
				So(tb.WriteCSV(&buf, Params{Rows: 1, NoHeader: true}), ShouldBeNil)
				So(buf.String(), ShouldEqual, "AAPL,129.41\n")
			})
		})

		Convey("WriteText", func() {
			var buf bytes.Buffer

			Convey("all rows", func() {
				So(tb.WriteText(&buf, Params{}), ShouldBeNil)
				So("\n"+buf.String(), ShouldEqual, `
ticker |  close
------ | ------
  AAPL | 129.41
 BRK.B | 231.87
     T |   28.8
`)
			})

			Convey("limited rows with footer", func() {
				So(tb.WriteText(&buf, Params{Rows: 2, Footer: true}), ShouldBeNil)
				So("\n"+buf.String(), ShouldEqual, `
ticker |  close
------ | ------
  AAPL | 129.41
 BRK.B | 231.87
... 1 more rows
`)
			})

			Convey("capped width, no header", func() {
				So(tb.WriteText(&buf, Params{Rows: 2, NoHeader: true, MaxColWidth: 4}), ShouldBeNil)
				So("\n"+buf.String(), ShouldEqual, `
AAPL | 12..
BR.. | 23..
`)
			})

			Convey("bad width", func() {
				So(tb.WriteText(&buf, Params{MaxColWidth: 3}), ShouldNotBeNil)
			})

			Convey("mismatched row", func() {
				bad := NewTable("a", "b", "c")
				bad.AddRow(priceRow{"AAPL", "1"})
				So(bad.WriteText(&buf, Params{}), ShouldNotBeNil)
			})
		})

		Convey("Records are rows", func() {
			r := db.Record{
				Ticker:        "AAPL",
				PriceRow:      db.TestPrice(db.NewDate(2021, 1, 4), 2.5, 100),
				MovingAverage: null.FloatFrom(2.0),
			}
			rt := NewTable(db.RecordHeader()...)
			rt.AddRow(r)
			var buf bytes.Buffer
			So(rt.WriteCSV(&buf, Params{NoHeader: true}), ShouldBeNil)
			So(buf.String(), ShouldEqual, "AAPL,2021-01-04,2.5,2.5,2.5,2.5,100,2,\n")
		})
	})
}
