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
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/sp500etl/db"
)

// Batch of records to load into a table.
type Batch struct {
	Table   Table
	Mode    Mode
	Records []db.Record
	Tickers int     // number of loaded tickers, for the run log
	Start   db.Date // requested date range, for the run log
	End     db.Date
}

// Result of a successful load.
type Result struct {
	RunID string
	Rows  int
}

type column struct {
	name     string
	postgres string
	sqlite   string
}

var columns = []column{
	{db.ColTicker, "TEXT NOT NULL", "TEXT NOT NULL"},
	{db.ColDate, "DATE NOT NULL", "DATE NOT NULL"},
	{db.ColOpen, "NUMERIC", "REAL"},
	{db.ColHigh, "NUMERIC", "REAL"},
	{db.ColLow, "NUMERIC", "REAL"},
	{db.ColClose, "NUMERIC NOT NULL", "REAL NOT NULL"},
	{db.ColVolume, "BIGINT", "INTEGER"},
	{db.ColMovingAverage, "DOUBLE PRECISION", "REAL"},
	{db.ColDailyReturn, "DOUBLE PRECISION", "REAL"},
}

func quotedColumns() string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = pq.QuoteIdentifier(c.name)
	}
	return strings.Join(names, ", ")
}

// CreateTableSQL is the statement creating the output table.
func (w *Warehouse) CreateTableSQL(t Table, ifNotExists bool) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(t.Quoted())
	b.WriteString(" (\n")
	for _, c := range columns {
		tp := c.postgres
		if w.driver == SQLite {
			tp = c.sqlite
		}
		fmt.Fprintf(&b, "  %s %s,\n", pq.QuoteIdentifier(c.name), tp)
	}
	fmt.Fprintf(&b, "  PRIMARY KEY (%s, %s)\n)", pq.QuoteIdentifier(db.ColTicker),
		pq.QuoteIdentifier(db.ColDate))
	return b.String()
}

func (w *Warehouse) copyRecords(ctx context.Context, tx *sql.Tx, t Table, records []db.Record) error {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.name
	}
	var query string
	if t.Schema == "" {
		query = pq.CopyIn(t.Name, names...)
	} else {
		query = pq.CopyInSchema(t.Schema, t.Name, names...)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return errors.Annotate(err, "failed to prepare COPY")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Values()...); err != nil {
			return errors.Annotate(err, "failed to copy %s %s", r.Ticker, r.Date)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return errors.Annotate(err, "failed to flush COPY")
	}
	return nil
}

func (w *Warehouse) insertRecords(ctx context.Context, tx *sql.Tx, t Table, records []db.Record) error {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Quoted(), quotedColumns(), w.driver.placeholders(len(columns)))
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return errors.Annotate(err, "failed to prepare INSERT")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Values()...); err != nil {
			return errors.Annotate(err, "failed to insert %s %s", r.Ticker, r.Date)
		}
	}
	return nil
}

func (w *Warehouse) logRun(ctx context.Context, tx *sql.Tx, id string, b *Batch, started time.Time) error {
	query := fmt.Sprintf(`INSERT INTO etl_runs
  (id, table_name, mode, tickers, row_count, start_date, end_date, started_at, finished_at)
  VALUES (%s)`, w.driver.placeholders(9))
	_, err := tx.ExecContext(ctx, query, id, b.Table.String(), string(b.Mode),
		b.Tickers, len(b.Records), b.Start, b.End, started.UTC(), time.Now().UTC())
	return err
}

// Load the batch into its table in a single transaction. In the Replace mode
// the table is dropped and created anew; in the Append mode it is created if
// missing, and a record with an existing (ticker, date) key fails the whole
// batch. An empty batch still creates (or, with Replace, empties) the table.
func (w *Warehouse) Load(ctx context.Context, b *Batch) (res *Result, err error) {
	started := time.Now()
	if b.Table.Name == "" {
		return nil, errors.Reason("table name is required")
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Annotate(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Warningf(ctx, "rollback failed: %s", rbErr.Error())
			}
		}
	}()

	switch b.Mode {
	case Replace:
		if _, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+b.Table.Quoted()); err != nil {
			return nil, errors.Annotate(err, "failed to drop %s", b.Table)
		}
		if _, err = tx.ExecContext(ctx, w.CreateTableSQL(b.Table, false)); err != nil {
			return nil, errors.Annotate(err, "failed to create %s", b.Table)
		}
	case Append:
		if _, err = tx.ExecContext(ctx, w.CreateTableSQL(b.Table, true)); err != nil {
			return nil, errors.Annotate(err, "failed to create %s", b.Table)
		}
	default:
		err = errors.Reason("unsupported mode '%s'", b.Mode)
		return nil, err
	}

	if len(b.Records) > 0 {
		if w.driver == Postgres {
			err = w.copyRecords(ctx, tx, b.Table, b.Records)
		} else {
			err = w.insertRecords(ctx, tx, b.Table, b.Records)
		}
		if err != nil {
			return nil, errors.Annotate(err, "failed to load %s", b.Table)
		}
	}

	id := uuid.NewString()
	if err = w.logRun(ctx, tx, id, b, started); err != nil {
		return nil, errors.Annotate(err, "failed to record the run")
	}
	if err = tx.Commit(); err != nil {
		return nil, errors.Annotate(err, "failed to commit %s", b.Table)
	}
	logging.Infof(ctx, "loaded %d rows into %s (%s), run %s",
		len(b.Records), b.Table, b.Mode, id)
	return &Result{RunID: id, Rows: len(b.Records)}, nil
}

// ReadAll reads the table back, ordered by ticker and date.
func (w *Warehouse) ReadAll(ctx context.Context, t Table) ([]db.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s, %s", quotedColumns(),
		t.Quoted(), pq.QuoteIdentifier(db.ColTicker), pq.QuoteIdentifier(db.ColDate))
	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Annotate(err, "failed to query %s", t)
	}
	defer rows.Close()

	var res []db.Record
	for rows.Next() {
		var r db.Record
		err := rows.Scan(&r.Ticker, &r.Date, &r.Open, &r.High, &r.Low, &r.Close,
			&r.Volume, &r.MovingAverage, &r.DailyReturn)
		if err != nil {
			return nil, errors.Annotate(err, "failed to scan a row of %s", t)
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Annotate(err, "failed to read %s", t)
	}
	return res, nil
}
