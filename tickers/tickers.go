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

// Package tickers supplies the list of ticker symbols to process: either the
// built-in S&P 500 list or a small reference file.
package tickers

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/sp500etl/db"

	"gopkg.in/yaml.v3"
)

// File is the schema of a YAML ticker file:
//
//	tickers:
//	  - AAPL
//	  - MSFT
//	exclude:
//	  - TSLA
type File struct {
	Tickers []string `yaml:"tickers"`
	Exclude []string `yaml:"exclude"`
}

// Normalize trims and upper-cases the symbols, drops empty ones and removes
// duplicates, preserving the order of the first occurrence.
func Normalize(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	res := make([]string, 0, len(list))
	for _, t := range list {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		res = append(res, t)
	}
	return res
}

// ReadYAML parses a YAML ticker file. An empty tickers list means the built-in
// S&P 500 list, so a file may consist of the exclusions only.
func ReadYAML(r io.Reader) ([]string, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, errors.Annotate(err, "failed to decode YAML")
	}
	list := f.Tickers
	if len(list) == 0 {
		list = SP500()
	}
	c := db.NewConstraints().ExcludeTicker(Normalize(f.Exclude)...)
	return c.FilterTickers(Normalize(list)), nil
}

// ReadText reads one symbol per line. Empty lines and lines starting with '#'
// are ignored, and so is anything after the first whitespace or comma.
func ReadText(r io.Reader) ([]string, error) {
	var res []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexAny(line, " \t,"); i >= 0 {
			line = line[:i]
		}
		res = append(res, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Annotate(err, "failed to read tickers")
	}
	return Normalize(res), nil
}

// Load the ticker list. An empty path means the built-in S&P 500 list.
// Otherwise the format is chosen by the file extension: .yaml / .yml, .csv
// (with a "ticker" or "symbol" column), or plain text with one symbol per line.
func Load(ctx context.Context, path string) ([]string, error) {
	if path == "" {
		list := SP500()
		logging.Infof(ctx, "using the built-in list of %d S&P 500 tickers", len(list))
		return list, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open ticker file '%s'", path)
	}
	defer f.Close()

	var list []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		list, err = ReadYAML(f)
	case ".csv":
		list, err = db.ReadCSVTickers(f, db.NewTickerRowConfig())
		list = Normalize(list)
	default:
		list, err = ReadText(f)
	}
	if err != nil {
		return nil, errors.Annotate(err, "failed to read ticker file '%s'", path)
	}
	if len(list) == 0 {
		return nil, errors.Reason("no tickers in '%s'", path)
	}
	logging.Infof(ctx, "loaded %d tickers from %s", len(list), path)
	return list, nil
}
