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

package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"net/url"

	"github.com/stockparfait/errors"
	"github.com/stockparfait/fetch"
)

// GetJSON sends a single GET request and unpacks the JSON response into
// result. Retries are up to the Fetcher. Every non-2xx response is a plain
// error carrying the HTTP status.
func GetJSON(ctx context.Context, uri string, query url.Values, result interface{}) error {
	resp, err := fetch.Get(ctx, uri, query)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		// fetch.Get wraps 5xx into a RetriableError with a nil cause.
		var re *fetch.RetriableError
		if errors.As(err, &re) && resp != nil {
			return errors.Reason("HTTP %s from %s", resp.Status, uri)
		}
		return err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Annotate(err, "failed to read response body from %s", uri)
	}
	if err := json.Unmarshal(data, result); err != nil {
		return errors.Annotate(err, "failed to unmarshal JSON from %s", uri)
	}
	return nil
}
