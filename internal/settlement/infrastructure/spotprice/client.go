package spotprice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"supply-billing/internal/settlement/application"
)

const (
	datasetPath     = "/dataset/Elspotprices"
	defaultPageSize = 10000
	maxPages        = 1000
	hourLayout      = "2006-01-02T15:04:05"
	queryLayout     = "2006-01-02T15:04"
)

// Client reads hourly spot prices from the Energi Data Service Elspotprices dataset.
type Client struct {
	baseURL  string
	pageSize int
	client   *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithPageSize sets the number of records fetched per request.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTimeout sets the per request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.client = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient constructs a client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("spotprice: empty base url")
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: defaultPageSize,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type page struct {
	Total   int      `json:"total"`
	Records []record `json:"records"`
}

type record struct {
	HourUTC      string           `json:"HourUTC"`
	PriceArea    string           `json:"PriceArea"`
	SpotPriceDKK *decimal.Decimal `json:"SpotPriceDKK"`
}

// FetchSpotPrices returns the prices of area for [from, to) in hour order.
func (c *Client) FetchSpotPrices(ctx context.Context, area string, from, to time.Time) ([]application.SpotPriceRecord, error) {
	if area == "" {
		return nil, errors.New("spotprice: empty price area")
	}
	if !to.After(from) {
		return nil, errors.New("spotprice: end must be after start")
	}
	from, to = from.UTC(), to.UTC()

	seen := make(map[time.Time]bool)
	var result []application.SpotPriceRecord
	offset := 0
	for i := 0; i < maxPages; i++ {
		p, err := c.fetchPage(ctx, area, from, to, offset)
		if err != nil {
			return nil, err
		}
		for _, r := range p.Records {
			start, err := time.ParseInLocation(hourLayout, r.HourUTC, time.UTC)
			if err != nil {
				return nil, fmt.Errorf("spotprice: hour %q: %w", r.HourUTC, err)
			}
			if start.Before(from) || !start.Before(to) || seen[start] {
				continue
			}
			seen[start] = true
			result = append(result, application.SpotPriceRecord{
				Start:       start,
				Area:        r.PriceArea,
				PricePerMWh: r.SpotPriceDKK,
			})
		}
		offset += len(p.Records)
		if len(p.Records) < c.pageSize || (p.Total > 0 && offset >= p.Total) {
			return result, nil
		}
	}
	return nil, fmt.Errorf("spotprice: more than %d pages", maxPages)
}

func (c *Client) fetchPage(ctx context.Context, area string, from, to time.Time, offset int) (page, error) {
	filter, err := json.Marshal(map[string][]string{"PriceArea": {area}})
	if err != nil {
		return page{}, err
	}
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("start", from.Format(queryLayout))
	q.Set("end", to.Format(queryLayout))
	q.Set("timezone", "UTC")
	q.Set("filter", string(filter))
	q.Set("sort", "HourUTC ASC")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+datasetPath+"?"+q.Encode(), nil)
	if err != nil {
		return page{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return page{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return page{}, fmt.Errorf("spotprice: http %d", resp.StatusCode)
	}
	var p page
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return page{}, fmt.Errorf("spotprice: decode: %w", err)
	}
	return p, nil
}
