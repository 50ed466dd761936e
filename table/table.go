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

// Package table renders rows of strings as CSV or as an aligned text table.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/stockparfait/errors"
)

// Row of a table. db.Record implements it.
type Row interface {
	CSV() []string
}

// Table with an optional header. When present, the header must have as many
// columns as every row.
type Table struct {
	Header []string
	Rows   []Row
}

// NewTable creates an empty Table with the given header.
func NewTable(header ...string) *Table {
	return &Table{Header: header}
}

// AddRow appends rows to the table.
func (t *Table) AddRow(rows ...Row) {
	t.Rows = append(t.Rows, rows...)
}

// Params of the table output.
type Params struct {
	Rows        int  // max. number of rows to write; 0 = all
	NoHeader    bool // omit the header
	MaxColWidth int  // text only; 0 = unlimited, otherwise >= 4
	Footer      bool // text only; report the number of omitted rows
}

// cells returns the header (unless disabled) and the first p.Rows rows, and
// the number of rows omitted.
func (t *Table) cells(p Params) (header []string, rows [][]string, omitted int) {
	if !p.NoHeader && len(t.Header) > 0 {
		header = t.Header
	}
	n := len(t.Rows)
	if p.Rows > 0 && p.Rows < n {
		n = p.Rows
	}
	rows = make([][]string, n)
	for i := 0; i < n; i++ {
		rows[i] = t.Rows[i].CSV()
	}
	return header, rows, len(t.Rows) - n
}

// WriteCSV writes the table to w in CSV format.
func (t *Table) WriteCSV(w io.Writer, p Params) error {
	header, rows, _ := t.cells(p)
	cw := csv.NewWriter(w)
	if header != nil {
		if err := cw.Write(header); err != nil {
			return errors.Annotate(err, "failed to write header")
		}
	}
	if err := cw.WriteAll(rows); err != nil {
		return errors.Annotate(err, "failed to write rows")
	}
	return nil
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-2]) + ".."
}

// WriteText writes the table as right-aligned columns separated by " | ", with
// a dashed line under the header.
func (t *Table) WriteText(w io.Writer, p Params) error {
	if p.MaxColWidth != 0 && p.MaxColWidth < 4 {
		return errors.Reason("MaxColWidth [%d] must be 0 or >= 4", p.MaxColWidth)
	}
	header, rows, omitted := t.cells(p)
	all := rows
	if header != nil {
		all = append([][]string{header}, rows...)
	}
	var widths []int
	for i, row := range all {
		if len(row) == 0 {
			return errors.Reason("row %d is empty", i)
		}
		if widths == nil {
			widths = make([]int, len(row))
		}
		if len(row) != len(widths) {
			return errors.Reason("row %d has %d columns, expected %d",
				i, len(row), len(widths))
		}
		for j, s := range row {
			l := len([]rune(s))
			if p.MaxColWidth > 0 && l > p.MaxColWidth {
				l = p.MaxColWidth
			}
			if l > widths[j] {
				widths[j] = l
			}
		}
	}

	line := func(row []string) error {
		parts := make([]string, len(row))
		for j, s := range row {
			parts[j] = fmt.Sprintf("%*s", widths[j], truncate(s, widths[j]))
		}
		_, err := fmt.Fprintln(w, strings.Join(parts, " | "))
		return err
	}

	if header != nil {
		if err := line(header); err != nil {
			return errors.Annotate(err, "failed to write header")
		}
		dashes := make([]string, len(widths))
		for j, n := range widths {
			dashes[j] = strings.Repeat("-", n)
		}
		if err := line(dashes); err != nil {
			return errors.Annotate(err, "failed to write header separator")
		}
	}
	for _, row := range rows {
		if err := line(row); err != nil {
			return errors.Annotate(err, "failed to write row")
		}
	}
	if p.Footer && omitted > 0 {
		if _, err := fmt.Fprintf(w, "... %d more rows\n", omitted); err != nil {
			return errors.Annotate(err, "failed to write footer")
		}
	}
	return nil
}
