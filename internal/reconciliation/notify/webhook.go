package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Signed requests carry both headers; the signature covers "<timestamp>\n<body>".
const (
	SignatureHeader = "X-Reconciliation-Signature"
	TimestampHeader = "X-Reconciliation-Timestamp"
)

const defaultAlertTemplate = `[Reconciliation Alert]
{{- with .GridArea}}
Grid area: {{.}}
{{- end}}
{{- with .Period}}
Period: {{.}}
{{- end}}
{{- with .Status}}
Status: {{.}}
{{- end}}
{{- with .DifferenceAmount}}
Difference: {{.}} ({{$.DifferencePercent}}%)
{{- end}}
{{- with .ResultID}}
Result: {{.}}
{{- end}}
{{- with .ReportURL}}
Report URL: {{.}}
{{- end}}
{{- with .RecommendedAction}}
Suggested: {{.}}
{{- end}}
{{- range $key, $value := .Summary}}
{{$key}}: {{$value}}
{{- end}}`

var defaultTemplate = template.Must(ParseAlertTemplate(defaultAlertTemplate))

// ParseAlertTemplate parses a text/template rendered against AlertMessage.
func ParseAlertTemplate(text string) (*template.Template, error) {
	tmpl, err := template.New("reconciliation-alert").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("webhook notifier: parse template: %w", err)
	}
	return tmpl, nil
}

// WebhookNotifier posts reconciliation alerts to a chat webhook.
// Transport errors and 5xx responses are retried with a linear backoff.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	secret  []byte
	tmpl    *template.Template
	retries int
	backoff time.Duration
	now     func() time.Time
}

// WebhookOption configures the webhook notifier.
type WebhookOption func(*WebhookNotifier)

// WithWebhookClient overrides the HTTP client.
func WithWebhookClient(client *http.Client) WebhookOption {
	return func(n *WebhookNotifier) {
		if client != nil {
			n.client = client
		}
	}
}

// WithWebhookSecret signs every request with HMAC-SHA256.
func WithWebhookSecret(secret string) WebhookOption {
	return func(n *WebhookNotifier) {
		if secret != "" {
			n.secret = []byte(secret)
		}
	}
}

// WithWebhookTemplate replaces the text rendering of alerts.
func WithWebhookTemplate(tmpl *template.Template) WebhookOption {
	return func(n *WebhookNotifier) {
		if tmpl != nil {
			n.tmpl = tmpl
		}
	}
}

// WithWebhookRetries sets the retry count and the delay added per attempt.
func WithWebhookRetries(retries int, backoff time.Duration) WebhookOption {
	return func(n *WebhookNotifier) {
		if retries >= 0 {
			n.retries = retries
		}
		if backoff >= 0 {
			n.backoff = backoff
		}
	}
}

// NewWebhookNotifier constructs a notifier.
func NewWebhookNotifier(url string, opts ...WebhookOption) *WebhookNotifier {
	n := &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		tmpl:    defaultTemplate,
		retries: 2,
		backoff: time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type webhookPayload struct {
	MsgType string        `json:"msgtype"`
	Text    webhookText   `json:"text"`
	Alert   *AlertMessage `json:"alert,omitempty"`
}

type webhookText struct {
	Content string `json:"content"`
}

// retryableError marks a failure worth another attempt.
type retryableError struct {
	err error
}

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

// Notify renders msg and posts it with the structured alert attached.
func (n *WebhookNotifier) Notify(ctx context.Context, msg AlertMessage) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	content, err := n.render(msg)
	if err != nil {
		return err
	}
	alert := msg
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: content},
		Alert:   &alert,
	})
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err = n.post(ctx, body)
		var retryable retryableError
		if err == nil || !errors.As(err, &retryable) || attempt >= n.retries {
			return err
		}
		timer := time.NewTimer(time.Duration(attempt+1) * n.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
}

func (n *WebhookNotifier) render(msg AlertMessage) (string, error) {
	var b strings.Builder
	if err := n.tmpl.Execute(&b, msg); err != nil {
		return "", fmt.Errorf("webhook notifier: render: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(n.secret) > 0 {
		timestamp := strconv.FormatInt(n.now().Unix(), 10)
		req.Header.Set(TimestampHeader, timestamp)
		req.Header.Set(SignatureHeader, "sha256="+SignPayload(n.secret, timestamp, body))
	}
	resp, err := n.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return retryableError{err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return retryableError{err: fmt.Errorf("webhook notifier: http %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: http %d", resp.StatusCode)
	}
	return nil
}

// SignPayload returns the hex HMAC-SHA256 of "<timestamp>\n<body>".
func SignPayload(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
