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

package warehouse

import (
	"context"
	"database/sql/driver"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/guregu/null/v6"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/sp500etl/db"

	. "github.com/smartystreets/goconvey/convey"
)

func testRecords(ticker string, start db.Date, closes ...float64) []db.Record {
	res := make([]db.Record, len(closes))
	for i, c := range closes {
		res[i] = db.Record{
			Ticker:   ticker,
			PriceRow: db.TestPrice(start.AddDays(i), c, int64(100*(i+1))),
		}
		if i > 0 {
			res[i].DailyReturn = null.FloatFrom(c/closes[i-1] - 1)
			res[i].MovingAverage = null.FloatFrom((c + closes[i-1]) / 2)
		}
	}
	return res
}

func driverArgs(r db.Record) []driver.Value {
	vals := r.Values()
	res := make([]driver.Value, len(vals))
	for i, v := range vals {
		res[i] = v
	}
	return res
}

func countRuns(ctx context.Context, w *Warehouse) int {
	var n int
	if err := w.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM etl_runs").Scan(&n); err != nil {
		panic(err)
	}
	return n
}

func TestIdentifiers(t *testing.T) {
	t.Parallel()

	Convey("ParseTable", t, func() {
		tb, err := ParseTable("sp500_daily_prices")
		So(err, ShouldBeNil)
		So(tb, ShouldResemble, Table{Name: "sp500_daily_prices"})
		So(tb.Quoted(), ShouldEqual, `"sp500_daily_prices"`)

		tb, err = ParseTable("analytics.prices")
		So(err, ShouldBeNil)
		So(tb, ShouldResemble, Table{Schema: "analytics", Name: "prices"})
		So(tb.String(), ShouldEqual, "analytics.prices")
		So(tb.Quoted(), ShouldEqual, `"analytics"."prices"`)

		for _, bad := range []string{"", "a.b.c", "1abc", "prices; DROP TABLE x", `a"b`, "x."} {
			_, err = ParseTable(bad)
			So(err, ShouldNotBeNil)
		}
	})

	Convey("ParseMode and ParseDriver", t, func() {
		m, err := ParseMode("Append")
		So(err, ShouldBeNil)
		So(m, ShouldEqual, Append)
		_, err = ParseMode("upsert")
		So(err, ShouldNotBeNil)

		d, err := ParseDriver("sqlite")
		So(err, ShouldBeNil)
		So(d, ShouldEqual, SQLite)
		_, err = ParseDriver("bigquery")
		So(err, ShouldNotBeNil)
	})

	Convey("CreateTableSQL", t, func() {
		w := New(nil, SQLite)
		q := w.CreateTableSQL(Table{Name: "p"}, true)
		So(q, ShouldStartWith, `CREATE TABLE IF NOT EXISTS "p" (`)
		So(q, ShouldContainSubstring, `"close" REAL NOT NULL`)
		So(q, ShouldContainSubstring, `PRIMARY KEY ("ticker", "date")`)

		w = New(nil, Postgres)
		q = w.CreateTableSQL(Table{Name: "p"}, false)
		So(q, ShouldStartWith, `CREATE TABLE "p" (`)
		So(q, ShouldContainSubstring, `"close" NUMERIC NOT NULL`)
		So(q, ShouldContainSubstring, `"daily_return" DOUBLE PRECISION`)
	})
}

func TestSQLite(t *testing.T) {
	t.Parallel()

	tmpdir, tmpdirErr := os.MkdirTemp("", "test_warehouse")
	defer os.RemoveAll(tmpdir)

	Convey("Setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	ctx := logging.Use(context.Background(), logging.DefaultGoLogger(logging.Info))
	d0 := db.NewDate(2021, 1, 4)
	tb := Table{Name: "sp500_daily_prices"}

	Convey("SQLite warehouse works", t, func() {
		w, err := Open(ctx, Config{Driver: SQLite, DSN: filepath.Join(tmpdir, "replace.db")})
		So(err, ShouldBeNil)
		defer w.Close()

		So(w.Migrate(ctx), ShouldBeNil) // repeated migration is a no-op

		records := append(testRecords("AAPL", d0, 129.41, 131.01, 126.6),
			testRecords("MSFT", d0, 217.69, 217.9)...)
		batch := &Batch{Table: tb, Mode: Replace, Records: records, Tickers: 2,
			Start: d0, End: d0.AddDays(2)}

		Convey("replace is idempotent", func() {
			runs := countRuns(ctx, w)
			res, err := w.Load(ctx, batch)
			So(err, ShouldBeNil)
			So(res.Rows, ShouldEqual, 5)
			So(res.RunID, ShouldNotBeEmpty)
			first, err := w.ReadAll(ctx, tb)
			So(err, ShouldBeNil)
			So(len(first), ShouldEqual, 5)

			res2, err := w.Load(ctx, batch)
			So(err, ShouldBeNil)
			So(res2.RunID, ShouldNotEqual, res.RunID)
			second, err := w.ReadAll(ctx, tb)
			So(err, ShouldBeNil)
			So(second, ShouldResemble, first)
			So(countRuns(ctx, w), ShouldEqual, runs+2)

			So(first[0].Ticker, ShouldEqual, "AAPL")
			So(first[0].Date, ShouldResemble, d0)
			So(first[0].Close.Equal(records[0].Close), ShouldBeTrue)
			So(first[0].Volume, ShouldEqual, 100)
			So(first[0].MovingAverage.Valid, ShouldBeFalse)
			So(first[0].DailyReturn.Valid, ShouldBeFalse)
			So(first[1].DailyReturn.Valid, ShouldBeTrue)
			So(first[1].DailyReturn.Float64, ShouldAlmostEqual, records[1].DailyReturn.Float64)
			So(first[3].Ticker, ShouldEqual, "MSFT")
		})

		Convey("append adds new rows and rejects overlaps", func() {
			_, err := w.Load(ctx, batch)
			So(err, ShouldBeNil)

			more := &Batch{Table: tb, Mode: Append,
				Records: testRecords("AAPL", d0.AddDays(3), 130.0, 131.0)}
			_, err = w.Load(ctx, more)
			So(err, ShouldBeNil)
			all, err := w.ReadAll(ctx, tb)
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 7)

			runs := countRuns(ctx, w)
			overlap := &Batch{Table: tb, Mode: Append,
				Records: testRecords("MSFT", d0.AddDays(2), 219.0, 220.0)}
			overlap.Records = append(overlap.Records, testRecords("MSFT", d0, 217.69)...)
			_, err = w.Load(ctx, overlap)
			So(err, ShouldNotBeNil)
			all, err = w.ReadAll(ctx, tb)
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 7) // nothing committed
			So(countRuns(ctx, w), ShouldEqual, runs)
		})

		Convey("empty batch writes an empty table", func() {
			_, err := w.Load(ctx, batch)
			So(err, ShouldBeNil)
			res, err := w.Load(ctx, &Batch{Table: tb, Mode: Replace})
			So(err, ShouldBeNil)
			So(res.Rows, ShouldEqual, 0)
			all, err := w.ReadAll(ctx, tb)
			So(err, ShouldBeNil)
			So(all, ShouldBeEmpty)
		})

		Convey("append creates a missing table", func() {
			t2 := Table{Name: "appended"}
			_, err := w.Load(ctx, &Batch{Table: t2, Mode: Append, Records: records[:2]})
			So(err, ShouldBeNil)
			all, err := w.ReadAll(ctx, t2)
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 2)
		})

		Convey("invalid batch", func() {
			_, err := w.Load(ctx, &Batch{Table: tb, Mode: "upsert"})
			So(err, ShouldNotBeNil)
			_, err = w.Load(ctx, &Batch{Mode: Replace})
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Open fails without a file name", t, func() {
		_, err := Open(ctx, Config{Driver: SQLite})
		So(err, ShouldNotBeNil)
	})
}

func TestPostgresCopy(t *testing.T) {
	t.Parallel()

	ctx := logging.Use(context.Background(), logging.DefaultGoLogger(logging.Info))
	d0 := db.NewDate(2021, 1, 4)
	records := testRecords("AAPL", d0, 129.41, 131.01)

	Convey("Postgres load uses COPY in one transaction", t, func() {
		sqlDB, mock, err := sqlmock.New()
		So(err, ShouldBeNil)
		defer sqlDB.Close()
		w := New(sqlDB, Postgres)
		batch := &Batch{Table: Table{Schema: "public", Name: "prices"}, Mode: Replace,
			Records: records, Tickers: 1, Start: d0, End: d0.AddDays(1)}

		Convey("success", func() {
			mock.ExpectBegin()
			mock.ExpectExec(`DROP TABLE IF EXISTS "public"."prices"`).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(`CREATE TABLE "public"."prices"`).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectPrepare(`COPY "public"."prices"`).ExpectExec().
				WithArgs(driverArgs(records[0])...).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`COPY "public"."prices"`).
				WithArgs(driverArgs(records[1])...).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec(`COPY "public"."prices"`).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(`INSERT INTO etl_runs`).
				WithArgs(sqlmock.AnyArg(), "public.prices", "replace", 1, 2,
					"2021-01-04", "2021-01-05", sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			res, err := w.Load(ctx, batch)
			So(err, ShouldBeNil)
			So(res.Rows, ShouldEqual, 2)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("append skips the drop", func() {
			batch.Mode = Append
			batch.Records = nil
			mock.ExpectBegin()
			mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "public"."prices"`).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(`INSERT INTO etl_runs`).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			_, err := w.Load(ctx, batch)
			So(err, ShouldBeNil)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("copy failure rolls back", func() {
			mock.ExpectBegin()
			mock.ExpectExec(`DROP TABLE`).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(`CREATE TABLE`).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectPrepare(`COPY`).ExpectExec().
				WillReturnError(errors.Reason("permission denied for schema public"))
			mock.ExpectRollback()

			_, err := w.Load(ctx, batch)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "permission denied")
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("begin failure is fatal", func() {
			mock.ExpectBegin().WillReturnError(errors.Reason("password authentication failed"))
			_, err := w.Load(ctx, batch)
			So(err, ShouldNotBeNil)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})
	})
}
