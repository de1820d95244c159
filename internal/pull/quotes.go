package pull

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// QuoteRecord is a single quote as returned by the quotes endpoint. Symbols
// are in the broker's wire format; the emitter maps them back to canonical
// keys before anything leaves the engine.
type QuoteRecord struct {
	Symbol        string       `json:"symbol"`
	Last          float64      `json:"last"`
	Open          float64      `json:"open"`
	High          float64      `json:"high"`
	Low           float64      `json:"low"`
	PrevClose     float64      `json:"prev_close"`
	Volume        int64        `json:"volume"`
	Change        float64      `json:"change"`
	ChangePercent float64      `json:"change_percent"`
	Bid           float64      `json:"bid"`
	Ask           float64      `json:"ask"`
	Bids          [][2]float64 `json:"bids,omitempty"` // [price, size], best first
	Asks          [][2]float64 `json:"asks,omitempty"` // [price, size], best first
	Timestamp     int64        `json:"ts"`             // Exchange timestamp (µs since epoch)
}

// quotesResponse is the wire envelope for the quotes endpoint.
type quotesResponse struct {
	Quotes []QuoteRecord `json:"quotes"`
}

// FetchQuotes fetches current quotes for a batch of wire symbols in a single
// call. Symbols the broker does not recognize are simply absent from the
// result; only transport-level failures return an error.
func (c *Client) FetchQuotes(ctx context.Context, symbols []string) ([]QuoteRecord, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))

	body, err := c.doWithRetry(ctx, http.MethodGet, "/v1/quotes", query)
	if err != nil {
		return nil, err
	}

	var resp quotesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse quotes response: %w", err)
	}

	return resp.Quotes, nil
}
