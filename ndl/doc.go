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

// Package ndl implements the generic table API of Nasdaq Data Link (NDL).
//
// Official documentation is at https://docs.data.nasdaq.com/docs/tables-1 .
//
// A query is built with TableQuery, filtering by column values and ranges, and
// read row by row with RowIterator. Each downloaded page carries the schema of
// the returned columns, which row types check in their ValueLoader
// implementation.
//
// A single page holds at most 10K rows; the response includes a cursor for the
// next page, and RowIterator follows it transparently.
//
// Product-specific tables, such as Sharadar equity prices, live in the
// subpackages.
package ndl
