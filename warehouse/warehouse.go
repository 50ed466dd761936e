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

// Package warehouse loads the daily price records into a SQL table, replacing
// or appending to it in a single transaction.
//
// Two drivers are supported: PostgreSQL (bulk load via COPY) and SQLite. Every
// load is recorded in the etl_runs table, created by the embedded migrations.
package warehouse

import (
	"context"
	"database/sql"
	"embed"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

// Driver of the warehouse database.
type Driver string

const (
	Postgres Driver = "postgres"
	SQLite   Driver = "sqlite"
)

// ParseDriver checks the driver name.
func ParseDriver(s string) (Driver, error) {
	switch d := Driver(strings.ToLower(s)); d {
	case Postgres, SQLite:
		return d, nil
	}
	return "", errors.Reason("unsupported driver '%s', want postgres or sqlite", s)
}

// placeholder for the i'th argument, starting from 1.
func (d Driver) placeholder(i int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

func (d Driver) placeholders(n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = d.placeholder(i + 1)
	}
	return strings.Join(p, ", ")
}

// Mode of writing the batch to the table.
type Mode string

const (
	// Replace drops the table and creates it anew with the batch.
	Replace Mode = "replace"
	// Append adds the batch to the table, creating it if necessary.
	Append Mode = "append"
)

// ParseMode checks the mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case Replace, Append:
		return m, nil
	}
	return "", errors.Reason("unsupported mode '%s', want replace or append", s)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Table identifier, optionally qualified by a schema.
type Table struct {
	Schema string // may be empty
	Name   string
}

// ParseTable parses "name" or "schema.name". Both parts must be plain SQL
// identifiers.
func ParseTable(s string) (Table, error) {
	var t Table
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 1:
		t.Name = parts[0]
	case 2:
		t.Schema, t.Name = parts[0], parts[1]
		if !identRe.MatchString(t.Schema) {
			return Table{}, errors.Reason("invalid schema name '%s'", t.Schema)
		}
	default:
		return Table{}, errors.Reason("invalid table name '%s'", s)
	}
	if !identRe.MatchString(t.Name) {
		return Table{}, errors.Reason("invalid table name '%s'", t.Name)
	}
	return t, nil
}

// String is the unquoted "schema.name" or "name".
func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Quoted is the table identifier for SQL statements.
func (t Table) Quoted() string {
	if t.Schema == "" {
		return pq.QuoteIdentifier(t.Name)
	}
	return pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(t.Name)
}

// Config of the warehouse connection.
type Config struct {
	Driver Driver `toml:"driver"` // default: postgres
	// PostgreSQL connection string or URL, or the SQLite file name. An empty
	// PostgreSQL DSN uses the standard PG* environment variables.
	DSN string `toml:"dsn"`
}

// Warehouse is a connection to the target database.
type Warehouse struct {
	db     *sql.DB
	driver Driver
}

// New wraps an open database handle.
func New(db *sql.DB, driver Driver) *Warehouse {
	return &Warehouse{db: db, driver: driver}
}

// Open connects to the warehouse, checks the connection (surfacing
// authentication errors early) and applies the migrations.
func Open(ctx context.Context, c Config) (*Warehouse, error) {
	driver := c.Driver
	if driver == "" {
		driver = Postgres
	}
	if driver == SQLite && c.DSN == "" {
		return nil, errors.Reason("sqlite requires a database file name")
	}
	db, err := sql.Open(string(driver), c.DSN)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open %s database", driver)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Annotate(err, "failed to connect to %s database", driver)
	}
	w := New(db, driver)
	if err := w.Migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Annotate(err, "failed to migrate the warehouse")
	}
	return w, nil
}

// DB is the underlying database handle.
func (w *Warehouse) DB() *sql.DB { return w.db }

// Driver of the warehouse.
func (w *Warehouse) Driver() Driver { return w.driver }

// Close the database connection.
func (w *Warehouse) Close() error { return w.db.Close() }

// Migrate applies the embedded schema migrations for the driver.
func (w *Warehouse) Migrate(ctx context.Context) error {
	src, err := iofs.New(migrations, "migrations/"+string(w.driver))
	if err != nil {
		return errors.Annotate(err, "failed to load migrations for %s", w.driver)
	}
	var drv database.Driver
	switch w.driver {
	case Postgres:
		drv, err = postgres.WithInstance(w.db, &postgres.Config{})
	case SQLite:
		drv, err = sqlite.WithInstance(w.db, &sqlite.Config{})
	default:
		return errors.Reason("unsupported driver '%s'", w.driver)
	}
	if err != nil {
		return errors.Annotate(err, "failed to create the migration driver")
	}
	// Closing the migrator would close w.db as well, so it is left open.
	m, err := migrate.NewWithInstance("iofs", src, string(w.driver), drv)
	if err != nil {
		return errors.Annotate(err, "failed to create the migrator")
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Annotate(err, "failed to apply migrations")
	}
	v, _, _ := m.Version()
	logging.Debugf(ctx, "warehouse schema at version %d", v)
	return nil
}
