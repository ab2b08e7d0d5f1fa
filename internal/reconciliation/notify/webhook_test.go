package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifierPostsTextMessage(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get(SignatureHeader))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.Notify(context.Background(), AlertMessage{
		GridArea:          "791",
		Period:            "2026-01-01T00:00:00Z/2026-02-01T00:00:00Z",
		Status:            "Discrepancy",
		DifferenceAmount:  "12.50",
		DifferencePercent: "1.25",
		Summary:           map[string]any{"lines": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "text", got.MsgType)
	assert.Equal(t, "[Reconciliation Alert]\n"+
		"Grid area: 791\n"+
		"Period: 2026-01-01T00:00:00Z/2026-02-01T00:00:00Z\n"+
		"Status: Discrepancy\n"+
		"Difference: 12.50 (1.25%)\n"+
		"lines: 3", got.Text.Content)
	require.NotNil(t, got.Alert)
	assert.Equal(t, "791", got.Alert.GridArea)
	assert.Equal(t, "12.50", got.Alert.DifferenceAmount)
}

func TestWebhookNotifierSignsBody(t *testing.T) {
	secret := "s3cret"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		timestamp := r.Header.Get(TimestampHeader)
		assert.Equal(t, "1767225600", timestamp)
		assert.Equal(t, "sha256="+SignPayload([]byte(secret), timestamp, body), r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, WithWebhookSecret(secret))
	n.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, n.Notify(context.Background(), AlertMessage{GridArea: "791"}))

	assert.NotEqual(t, SignPayload([]byte(secret), "1767225600", []byte("{}")), SignPayload([]byte("other"), "1767225600", []byte("{}")))
}

func TestWebhookNotifierRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, WithWebhookRetries(2, time.Millisecond))
	require.NoError(t, n.Notify(context.Background(), AlertMessage{GridArea: "791"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookNotifierDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, WithWebhookRetries(3, time.Millisecond)).Notify(context.Background(), AlertMessage{})
	require.ErrorContains(t, err, "http 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookNotifierRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, WithWebhookRetries(1, time.Millisecond)).Notify(context.Background(), AlertMessage{GridArea: "791"})
	require.ErrorContains(t, err, "http 502")

	err = NewWebhookNotifier("").Notify(context.Background(), AlertMessage{})
	require.Error(t, err)
}

func TestWebhookNotifierCustomTemplate(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	tmpl, err := ParseAlertTemplate("{{.GridArea}} off by {{.DifferenceAmount}}")
	require.NoError(t, err)
	n := NewWebhookNotifier(srv.URL, WithWebhookTemplate(tmpl))
	require.NoError(t, n.Notify(context.Background(), AlertMessage{GridArea: "740", DifferenceAmount: "3.10"}))
	assert.Equal(t, "740 off by 3.10", got.Text.Content)

	_, err = ParseAlertTemplate("{{.GridArea")
	require.Error(t, err)
}
