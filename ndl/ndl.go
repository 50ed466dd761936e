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

package ndl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/sp500etl/db"
	"github.com/stockparfait/sp500etl/fetcher"
)

type contextKey int

const (
	clientContextKey contextKey = iota
)

// URL is the default base URL of the server. It may be overwritten in tests
// before creating a new client.
var URL = "https://data.nasdaq.com/api/v3"

// Client for querying NDL tables.
type Client struct {
	baseURL string // the base URL of the server
	apiKey  string // your very own secret key
}

// GetClient extracts the Client from the context, if any.
func GetClient(ctx context.Context) *Client {
	c, ok := ctx.Value(clientContextKey).(*Client)
	if !ok {
		return nil
	}
	return c
}

// UseClient creates a new client based on the API key and injects it into the
// context.
func UseClient(ctx context.Context, apiKey string) context.Context {
	return context.WithValue(ctx, clientContextKey, &Client{baseURL: URL, apiKey: apiKey})
}

// ValueLoader is the interface that a row type of a specific table must
// implement.
type ValueLoader interface {
	Load(v []Value, s Schema) error
}

// RowIterator iterates over query results row by row. Paging is handled
// transparently.
type RowIterator struct {
	context   context.Context
	query     *TableQuery
	page      tablePage
	index     int  // the data element for Next() to return
	pageCount int  // which page number we're on, for logging
	started   bool // if at least one Next call was ever made
}

// nextPage fetches the next page of data. The first return value is false when
// there are no more pages or the page failed to load.
func (it *RowIterator) nextPage() (bool, error) {
	if it.started && it.page.Meta.Cursor == "" {
		return false, nil
	}
	if it.started {
		it.query = it.query.Cursor(it.page.Meta.Cursor)
	}
	it.started = true
	it.page = tablePage{}
	if err := it.query.readPage(it.context, &it.page); err != nil {
		return false, errors.Annotate(err, "failed to query page %d", it.pageCount+1)
	}
	it.index = 0
	it.pageCount++
	logging.Debugf(it.context,
		"Nasdaq Data Link: %s page %d with %d rows; cursor: '%s'",
		it.query.Path(), it.pageCount, len(it.page.Datatable.Data), it.page.Meta.Cursor)
	return true, nil
}

// Next loads the next row. If there are no more rows, the first value is
// false. Note, that error may be non-nil regardless of the end of iterator.
func (it *RowIterator) Next(row ValueLoader) (bool, error) {
	if it.query == nil {
		return false, nil
	}
	// A page may legitimately be empty while still carrying a cursor.
	for !it.started || it.index >= len(it.page.Datatable.Data) {
		if ok, err := it.nextPage(); !ok {
			return false, err
		}
	}
	err := row.Load(it.page.Datatable.Data[it.index], it.page.Datatable.Schema)
	it.index++
	if err != nil {
		return true, errors.Annotate(err, "failed to parse row %d in page %d",
			it.index, it.pageCount)
	}
	return true, nil
}

// ReadAll drains the iterator into a slice, stopping at the first error.
func ReadAll[T any, PT interface {
	*T
	ValueLoader
}](it *RowIterator) ([]T, error) {
	var res []T
	for {
		var row T
		ok, err := it.Next(PT(&row))
		if err != nil {
			return nil, err
		}
		if !ok {
			return res, nil
		}
		res = append(res, row)
	}
}

// TableQuery is a builder for a table query.
type TableQuery struct {
	table   string // a fully qualified table name, e.g. SHARADAR/SEP
	filters []queryFilter
	options queryOptions
}

// Copy creates a deep copy of the query. It is primarily used in its builder
// methods.
func (q *TableQuery) Copy() *TableQuery {
	q2 := TableQuery{table: q.table, options: q.options}
	q2.filters = append([]queryFilter(nil), q.filters...)
	if q.options.Columns != nil {
		q2.options.Columns = append([]string{}, q.options.Columns...)
	}
	return &q2
}

// queryFilterKind is the enum for different filters.
type queryFilterKind string

// Values for the queryFilterKind.
const (
	queryFilterEq = queryFilterKind("")
	queryFilterLe = queryFilterKind(".lte")
	queryFilterGe = queryFilterKind(".gte")
)

type queryFilter struct {
	Kind   queryFilterKind
	Column string
	Values []string // only the equality filter can have multiple values
}

type queryOptions struct {
	Columns  []string // if non-nil, return only these columns
	PerPage  int      // number of results per page, up to 10000 max (0 = default size)
	CursorID string   // next page cursor
}

// NewTableQuery creates a new query.
func NewTableQuery(table string) *TableQuery {
	return &TableQuery{table: table}
}

// Value is an arbitrary value of a table cell.
type Value any

// SchemaField is the schema definition for a single table column.
type SchemaField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema definition for a table.
type Schema []SchemaField

// Equal tests two schemas for exact equality, including the field ordering.
func (s Schema) Equal(s2 Schema) bool {
	if len(s) != len(s2) {
		return false
	}
	for i, f := range s {
		if f != s2[i] {
			return false
		}
	}
	return true
}

// SubsetOf tests if self is a subset of the other schema. This is useful for
// robust ValueLoader's that can continue to work when the schema adds new
// fields.
func (s Schema) SubsetOf(s2 Schema) bool {
	m := make(map[string]string)
	for _, f := range s2 {
		m[f.Name] = f.Type
	}
	for _, f := range s {
		if tp2, ok := m[f.Name]; !ok || f.Type != tp2 {
			return false
		}
	}
	return true
}

// MapFields creates a map of {field name -> field index} in the schema.
func (s Schema) MapFields() map[string]int {
	res := make(map[string]int)
	for i, f := range s {
		res[f.Name] = i
	}
	return res
}

// Names of the schema fields, in order.
func (s Schema) Names() []string {
	res := make([]string, len(s))
	for i, f := range s {
		res[i] = f.Name
	}
	return res
}

// String prints a string representation of the schema.
func (s Schema) String() string {
	fields := []string{}
	for _, f := range s {
		fields = append(fields, fmt.Sprintf("%s: %s", f.Name, f.Type))
	}
	return "{" + strings.Join(fields, ", ") + "}"
}

type datatable struct {
	Data   [][]Value `json:"data"`
	Schema Schema    `json:"columns"`
}

type metadata struct {
	Cursor string `json:"next_cursor_id,omitempty"`
}

// tablePage is the format of a single page of table data.
type tablePage struct {
	Datatable datatable `json:"datatable"`
	Meta      metadata  `json:"meta,omitempty"`
}

// TestTablePage generates the JSON string in a format as returned by the NDL
// Table API. For use in tests.
func TestTablePage(data [][]Value, schema Schema, cursor string) (string, error) {
	bytes, err := json.Marshal(&tablePage{
		Datatable: datatable{Data: data, Schema: schema},
		Meta:      metadata{Cursor: cursor},
	})
	return string(bytes), err
}

// readPage executes the query using the Client from the context and downloads
// one page of data.
func (q *TableQuery) readPage(ctx context.Context, page *tablePage) error {
	client := GetClient(ctx)
	if client == nil {
		return errors.Reason("no Nasdaq Data Link client in context")
	}
	uri := client.baseURL + "/datatables/" + q.Path() + ".json"
	query := q.Values()
	query["api_key"] = []string{client.apiKey}

	if err := fetcher.GetJSON(ctx, uri, query, page); err != nil {
		return errors.Annotate(err, "failed to fetch %s", q.Path())
	}
	return nil
}

// Read sets up the iterator over the result rows, which will execute the query
// as needed and handle paging transparently.
func (q *TableQuery) Read(ctx context.Context) *RowIterator {
	return &RowIterator{context: ctx, query: q}
}

// Equal adds an equality filter: the value of the column must equal one of the
// given values. This and other builder methods always create a deep copy of the
// query, leaving the original intact.
func (q *TableQuery) Equal(column string, values ...string) *TableQuery {
	q2 := q.Copy()
	q2.filters = append(q2.filters, queryFilter{queryFilterEq, column, values})
	return q2
}

func compare(q *TableQuery, column string, kind queryFilterKind, value string) *TableQuery {
	q2 := q.Copy()
	q2.filters = append(q2.filters, queryFilter{kind, column, []string{value}})
	return q2
}

// Between adds an inclusive date range filter on the column. Zero dates are
// not filtered on.
func (q *TableQuery) Between(column string, start, end db.Date) *TableQuery {
	if !start.IsZero() {
		q = compare(q, column, queryFilterGe, start.String())
	}
	if !end.IsZero() {
		q = compare(q, column, queryFilterLe, end.String())
	}
	return q
}

// Columns constraints the query result to only these columns.
func (q *TableQuery) Columns(columns ...string) *TableQuery {
	q2 := q.Copy()
	q2.options.Columns = columns
	return q2
}

// PerPage sets the maximum number of results in a single response, [0..10000].
func (q *TableQuery) PerPage(size int) *TableQuery {
	if size < 0 {
		size = 0
	}
	if size > 10000 {
		size = 10000
	}
	q2 := q.Copy()
	q2.options.PerPage = size
	return q2
}

// Cursor sets the cursor ID for a paging query.
func (q *TableQuery) Cursor(cursor string) *TableQuery {
	q2 := q.Copy()
	q2.options.CursorID = cursor
	return q2
}

// Path returns the URL path to add to the base URL.
func (q *TableQuery) Path() string {
	return q.table
}

// Values returns the query values for the query. Each call creates a new
// object, so the caller is free to modify it without affecting the query.
func (q *TableQuery) Values() url.Values {
	v := make(url.Values)
	for _, f := range q.filters {
		v[f.Column+string(f.Kind)] = []string{strings.Join(f.Values, ",")}
	}
	if q.options.Columns != nil {
		v["qopts.columns"] = []string{strings.Join(q.options.Columns, ",")}
	}
	if q.options.PerPage != 0 {
		v["qopts.per_page"] = []string{fmt.Sprintf("%d", q.options.PerPage)}
	}
	if q.options.CursorID != "" {
		v["qopts.cursor_id"] = []string{q.options.CursorID}
	}
	return v
}

func typeErr(v Value, tp string) error {
	return errors.Reason("expected %s but found %T: %v", tp, v, v)
}

// ValueString converts a cell value to a string; null is "".
func ValueString(v Value) (string, error) {
	if v == nil {
		return "", nil
	}
	if str, ok := v.(string); ok {
		return str, nil
	}
	return "", typeErr(v, "a string")
}

// ValueFloat converts a cell value to a number; null is 0.
func ValueFloat(v Value) (float64, error) {
	if v == nil {
		return 0.0, nil
	}
	if num, ok := v.(float64); ok { // JSON numbers always unmarshal to float64
		return num, nil
	}
	return 0.0, typeErr(v, "a number")
}

// ValueDate converts a cell value to a date; null is the zero Date.
func ValueDate(v Value) (db.Date, error) {
	if v == nil {
		return db.Date{}, nil
	}
	str, ok := v.(string)
	if !ok {
		return db.Date{}, typeErr(v, "a date string")
	}
	return db.NewDateFromString(str)
}
