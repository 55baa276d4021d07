/**
 * @description
 * This package provides a client for the external trading-calendar feed. The
 * feed returns the open/close times of each trading session inside a date
 * range; the resolver layers caching and a synthesized fallback on top, so
 * this client only does the HTTP round trip.
 *
 * @dependencies
 * - net/http, encoding/json: Standard Go libraries.
 */
package calendarclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const dateLayout = "2006-01-02"

// Day is one trading session as reported by the feed.
type Day struct {
	Date  string `json:"date"`
	Open  string `json:"open"`
	Close string `json:"close"`
}

// Client fetches trading-calendar windows from the feed.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a calendar feed client. The feed is queried on the hot
// path of order creation, so the timeout is kept short.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// GetCalendar returns the trading sessions between start and end inclusive.
// Any transport error or non-2xx response is returned to the caller, which
// is expected to degrade to its fallback calendar.
func (c *Client) GetCalendar(ctx context.Context, start, end time.Time) ([]Day, error) {
	q := url.Values{}
	q.Set("start", start.Format(dateLayout))
	q.Set("end", end.Format(dateLayout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/calendar?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute calendar request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("calendar feed returned status %d", resp.StatusCode)
	}

	var days []Day
	if err := json.Unmarshal(body, &days); err != nil {
		return nil, fmt.Errorf("failed to decode calendar response: %w", err)
	}
	return days, nil
}
