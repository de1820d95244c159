package pull

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client defaults, sized for the quote endpoint: a batched GET either
// answers quickly or is not worth waiting on, so the round-trip budget is
// much shorter than a generic REST default.
const (
	defaultTimeout      = 10 * time.Second
	defaultMaxRetries   = 3
	defaultRetryBackoff = time.Second
)

// retryPolicy bounds doWithRetry.
type retryPolicy struct {
	max     int
	backoff time.Duration
}

// Client issues batched quote requests against the broker's REST surface.
// One Client is shared by every chunk the scheduler fans out; it is safe
// for concurrent use.
type Client struct {
	baseURL   string
	apiKey    string
	userAgent string
	httpc     *http.Client
	logger    *slog.Logger
	retry     retryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a quote client. The base URL may carry a trailing
// slash; it is trimmed so endpoint paths join cleanly.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
		retry: retryPolicy{
			max:     defaultMaxRetries,
			backoff: defaultRetryBackoff,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout bounds each HTTP round trip.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpc.Timeout = d
	}
}

// WithRetries sets the retry budget and the initial backoff.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.retry = retryPolicy{max: max, backoff: backoff}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient swaps the underlying HTTP client, e.g. for a proxied or
// instrumented transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpc = hc
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}
