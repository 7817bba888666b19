package op

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/mterres/opmigrate/internal/snapshot"
)

// Collect walks a paginated listing endpoint and returns every element in
// server order. The offset parameter is a page number starting at 1; a page
// shorter than the page size signals end of collection. A 404 anywhere
// (typically on the first page of a disabled module's endpoint) yields
// whatever was accumulated so far with no error.
//
// Callers pass extra query parameters (e.g. a filters expression) through
// query; offset and pageSize are managed here.
func (c *Client) Collect(ctx context.Context, endpoint string, query url.Values) ([]snapshot.Record, error) {
	var collected []snapshot.Record
	offset := 1

	for {
		params := url.Values{}
		for k, vs := range query {
			params[k] = vs
		}
		params.Set("offset", fmt.Sprintf("%d", offset))
		params.Set("pageSize", fmt.Sprintf("%d", c.PageSize))

		body, err := c.do(ctx, "GET", c.apiURL(endpoint)+"?"+params.Encode(), "", nil)
		if err != nil {
			if IsNotFound(err) {
				return collected, nil
			}
			return nil, fmt.Errorf("collect %s: %w", endpoint, err)
		}

		var page struct {
			Embedded struct {
				Elements []snapshot.Record `json:"elements"`
			} `json:"_embedded"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("collect %s: parse page %d: %w", endpoint, offset, err)
		}

		elements := page.Embedded.Elements
		if len(elements) == 0 {
			return collected, nil
		}
		collected = append(collected, elements...)
		if len(elements) < c.PageSize {
			return collected, nil
		}
		offset++
	}
}
