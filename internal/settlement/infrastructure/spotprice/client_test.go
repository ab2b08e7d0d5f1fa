package spotprice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSpotPricesPagesAndFilters(t *testing.T) {
	records := []map[string]any{
		{"HourUTC": "2025-12-31T23:00:00", "PriceArea": "DK1", "SpotPriceDKK": 100.0},
		{"HourUTC": "2026-01-01T00:00:00", "PriceArea": "DK1", "SpotPriceDKK": 450.5},
		{"HourUTC": "2026-01-01T01:00:00", "PriceArea": "DK1", "SpotPriceDKK": nil},
		{"HourUTC": "2026-01-01T02:00:00", "PriceArea": "DK1", "SpotPriceDKK": -12.25},
		{"HourUTC": "2026-01-01T03:00:00", "PriceArea": "DK1", "SpotPriceDKK": 80.0},
	}
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dataset/Elspotprices", r.URL.Path)
		assert.Equal(t, `{"PriceArea":["DK1"]}`, r.URL.Query().Get("filter"))
		assert.Equal(t, "HourUTC ASC", r.URL.Query().Get("sort"))
		queries = append(queries, r.URL.Query().Get("offset"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := offset + limit
		if end > len(records) {
			end = len(records)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"total": len(records), "records": records[offset:end]})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/", WithPageSize(2))
	require.NoError(t, err)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := client.FetchSpotPrices(context.Background(), "DK1", from, from.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "2", "4"}, queries)

	require.Len(t, got, 3)
	assert.Equal(t, from, got[0].Start)
	require.NotNil(t, got[0].PricePerMWh)
	assert.Equal(t, "450.5", got[0].PricePerMWh.String())
	assert.Nil(t, got[1].PricePerMWh)
	assert.Equal(t, "-12.25", got[2].PricePerMWh.String())
}

func TestFetchSpotPricesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	require.NoError(t, err)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = client.FetchSpotPrices(context.Background(), "DK1", from, from.Add(time.Hour))
	require.ErrorContains(t, err, "http 503")

	_, err = NewClient("")
	require.Error(t, err)
}
