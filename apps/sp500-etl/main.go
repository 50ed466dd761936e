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

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // New York time zone for the default date range

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/sp500etl/db"
	"github.com/stockparfait/sp500etl/fetcher"
	"github.com/stockparfait/sp500etl/localcsv"
	"github.com/stockparfait/sp500etl/ndl"
	"github.com/stockparfait/sp500etl/ndl/sharadar"
	"github.com/stockparfait/sp500etl/pipeline"
	"github.com/stockparfait/sp500etl/table"
	"github.com/stockparfait/sp500etl/transform"
	"github.com/stockparfait/sp500etl/warehouse"
	"github.com/stockparfait/sp500etl/yahoo"

	toml "github.com/pelletier/go-toml/v2"
)

// Rows of the text table printed by -dry-run. CSV output has all the rows.
const dryRunRows = 40

type Flags struct {
	Config   string // default: ~/.stockparfait/sp500etl.toml
	LogLevel logging.Level
	Source   string
	Tickers  string
	Start    db.Date
	End      db.Date
	Window   int
	Table    string
	Mode     string
	Driver   string
	DSN      string
	Workers  int
	Retries  int
	DryRun   bool
	CSV      bool
	// Names of the flags present on the command line.
	set map[string]bool
}

func defaultConfigPath() string {
	return filepath.Join(os.Getenv("HOME"), ".stockparfait", "sp500etl.toml")
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("sp500-etl", flag.ExitOnError)
	fs.StringVar(&flags.Config, "config", defaultConfigPath(), "TOML config file")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")
	fs.StringVar(&flags.Source, "source", "", "price source: yahoo, sharadar or csv")
	fs.StringVar(&flags.Tickers, "tickers", "",
		"ticker file (.yaml, .csv or text); default: built-in S&P 500 list")
	fs.Var(&flags.Start, "start", "first date YYYY-MM-DD; default: 20 years before -end")
	fs.Var(&flags.End, "end", "last date YYYY-MM-DD; default: the last trading day")
	fs.IntVar(&flags.Window, "window", 0, "moving average window in trading days")
	fs.StringVar(&flags.Table, "table", "", "target table, [schema.]name")
	fs.StringVar(&flags.Mode, "mode", "", "write mode: replace or append")
	fs.StringVar(&flags.Driver, "driver", "", "warehouse driver: postgres or sqlite")
	fs.StringVar(&flags.DSN, "dsn", "", "warehouse connection string or SQLite file")
	fs.IntVar(&flags.Workers, "workers", 0, "number of concurrent fetches")
	fs.IntVar(&flags.Retries, "retries", 0, "extra fetch attempts per ticker")
	fs.BoolVar(&flags.DryRun, "dry-run", false, "print the table instead of loading it")
	fs.BoolVar(&flags.CSV, "csv", false, "with -dry-run, print CSV; default: text")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, errors.Reason("unexpected arguments: %v", fs.Args())
	}
	flags.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { flags.set[f.Name] = true })
	return &flags, nil
}

type WarehouseConfig struct {
	Driver string `toml:"driver"` // postgres (default) or sqlite
	DSN    string `toml:"dsn"`    // default: $DATABASE_URL
	Table  string `toml:"table"`  // default: sp500_daily_prices
	Mode   string `toml:"mode"`   // replace (default) or append
}

type Config struct {
	Source      string          `toml:"source"`  // yahoo (default), sharadar or csv
	Key         string          `toml:"key"`     // Nasdaq Data Link key; default: $NDL_API_KEY
	CSVDir      string          `toml:"csv_dir"` // for the csv source
	TickersFile string          `toml:"tickers_file"`
	Start       db.Date         `toml:"start"`
	End         db.Date         `toml:"end"`
	Years       int             `toml:"years"`
	Window      int             `toml:"window"`
	Adjusted    bool            `toml:"adjusted"`
	Retries     int             `toml:"retries"`
	Backoff     string          `toml:"backoff"` // e.g. "1s"
	Workers     int             `toml:"workers"`
	Warehouse   WarehouseConfig `toml:"warehouse"`
}

func newConfig() *Config {
	return &Config{
		Source:   "yahoo",
		Years:    20,
		Window:   transform.DefaultWindow,
		Adjusted: true,
		Retries:  1,
		Backoff:  "1s",
		Workers:  1,
		Warehouse: WarehouseConfig{
			Driver: string(warehouse.Postgres),
			Table:  pipeline.DefaultTable,
			Mode:   string(warehouse.Replace),
		},
	}
}

// parseConfig reads the config file over the defaults. A missing file is not
// an error unless it was explicitly required.
func parseConfig(filePath string, required bool) (*Config, error) {
	c := newConfig()
	if _, err := os.Stat(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return c, nil
		}
		return nil, errors.Annotate(err, "cannot read config file '%s'", filePath)
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open config file %s", filePath)
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(c); err != nil {
		return nil, errors.Annotate(err, "failed to read config file %s", filePath)
	}
	return c, nil
}

// merge the command line flags and the environment into the config.
func (c *Config) merge(flags *Flags) {
	if flags.set["source"] {
		c.Source = flags.Source
	}
	if flags.set["tickers"] {
		c.TickersFile = flags.Tickers
	}
	if flags.set["start"] {
		c.Start = flags.Start
	}
	if flags.set["end"] {
		c.End = flags.End
	}
	if flags.set["window"] {
		c.Window = flags.Window
	}
	if flags.set["table"] {
		c.Warehouse.Table = flags.Table
	}
	if flags.set["mode"] {
		c.Warehouse.Mode = flags.Mode
	}
	if flags.set["driver"] {
		c.Warehouse.Driver = flags.Driver
	}
	if flags.set["dsn"] {
		c.Warehouse.DSN = flags.DSN
	}
	if flags.set["workers"] {
		c.Workers = flags.Workers
	}
	if flags.set["retries"] {
		c.Retries = flags.Retries
	}
	if c.Warehouse.DSN == "" {
		c.Warehouse.DSN = os.Getenv("DATABASE_URL")
	}
	if c.Key == "" {
		c.Key = os.Getenv("NDL_API_KEY")
	}
}

func (c *Config) pipelineConfig() (*pipeline.Config, error) {
	backoff, err := time.ParseDuration(c.Backoff)
	if err != nil {
		return nil, errors.Annotate(err, "invalid backoff '%s'", c.Backoff)
	}
	if c.Retries < 0 {
		return nil, errors.Reason("retries=%d must be >= 0", c.Retries)
	}
	return &pipeline.Config{
		TickersFile: c.TickersFile,
		Start:       c.Start,
		End:         c.End,
		Years:       c.Years,
		Window:      c.Window,
		Table:       c.Warehouse.Table,
		Mode:        c.Warehouse.Mode,
		Retries:     c.Retries,
		Backoff:     backoff,
		Workers:     c.Workers,
	}, nil
}

// source of the prices, and the context it needs.
func source(ctx context.Context, c *Config) (context.Context, fetcher.Source, error) {
	switch c.Source {
	case "", "yahoo":
		return ctx, &yahoo.Source{Adjusted: c.Adjusted}, nil
	case "sharadar":
		if c.Key == "" {
			return nil, nil, errors.Reason(
				"sharadar requires a Nasdaq Data Link key in the config or NDL_API_KEY")
		}
		ctx = ndl.UseClient(ctx, c.Key)
		return ctx, &sharadar.Source{Table: sharadar.EquitiesTable, Adjusted: c.Adjusted}, nil
	case "csv":
		if c.CSVDir == "" {
			return nil, nil, errors.Reason("csv source requires csv_dir in the config")
		}
		rc := db.NewPriceRowConfig()
		rc.Adjust = c.Adjusted
		return ctx, &localcsv.Source{Dir: c.CSVDir, Config: rc}, nil
	}
	return nil, nil, errors.Reason("unknown source '%s'", c.Source)
}

// printSink prints the batch instead of loading it.
type printSink struct {
	w   io.Writer
	csv bool
}

var _ pipeline.Sink = &printSink{}

func (s *printSink) Load(ctx context.Context, b *warehouse.Batch) (*warehouse.Result, error) {
	tbl := transform.Table(b.Records)
	if s.csv {
		if err := tbl.WriteCSV(s.w, table.Params{}); err != nil {
			return nil, errors.Annotate(err, "failed to print CSV")
		}
	} else {
		p := table.Params{Rows: dryRunRows, Footer: true}
		if err := tbl.WriteText(s.w, p); err != nil {
			return nil, errors.Annotate(err, "failed to print text")
		}
	}
	return &warehouse.Result{RunID: "dry-run", Rows: len(b.Records)}, nil
}

func run(ctx context.Context, flags *Flags, stdout io.Writer) error {
	config, err := parseConfig(flags.Config, flags.set["config"])
	if err != nil {
		return errors.Annotate(err, "failed to parse config")
	}
	config.merge(flags)

	pc, err := config.pipelineConfig()
	if err != nil {
		return errors.Annotate(err, "invalid config")
	}
	ctx, src, err := source(ctx, config)
	if err != nil {
		return errors.Annotate(err, "failed to set up the price source")
	}

	var sink pipeline.Sink = &printSink{w: stdout, csv: flags.CSV}
	if !flags.DryRun {
		driver, err := warehouse.ParseDriver(config.Warehouse.Driver)
		if err != nil {
			return errors.Annotate(err, "invalid warehouse config")
		}
		w, err := warehouse.Open(ctx, warehouse.Config{Driver: driver, DSN: config.Warehouse.DSN})
		if err != nil {
			return errors.Annotate(err, "failed to open the warehouse")
		}
		defer w.Close()
		sink = w
	}

	s, err := pipeline.Run(ctx, pc, src, sink)
	if err != nil {
		return errors.Annotate(err, "ETL run failed")
	}
	if !flags.DryRun {
		fmt.Fprintf(stdout, "loaded %d rows for %d of %d tickers [%s, %s] into %s, run %s\n",
			s.Rows, len(s.Loaded), s.Requested, s.Start, s.End, pc.Table, s.RunID)
	}
	return nil
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags: %s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))

	if err := run(ctx, flags, os.Stdout); err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
}
