package shared

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/csisgpt/arbwatch/errs"
)

// RESTClient wraps HTTP polling with pacing and bounded retry. Every adapter
// that falls back to REST (and the two polling-only providers) shares one
// instance per provider.
type RESTClient struct {
	provider string
	client   *http.Client
	limiter  *rate.Limiter
	maxTries uint
}

// NewRESTClient builds a client that allows at most rps requests per second
// with the given burst.
func NewRESTClient(provider string, rps float64, burst int) *RESTClient {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 1
	}
	return &RESTClient{
		provider: provider,
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		maxTries: 3,
	}
}

// GetJSON fetches url and decodes the response body into out. Transient
// failures (network errors, 5xx, 429) are retried with exponential backoff up
// to three attempts; 4xx responses other than 429 fail immediately.
func (c *RESTClient) GetJSON(ctx context.Context, url string, out any) error {
	op := func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(errs.New(c.provider, errs.CodeInvalid, errs.WithCause(err)))
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, errs.New(c.provider, errs.CodeNetwork, errs.WithCause(err))
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<24))
		if err != nil {
			return nil, errs.New(c.provider, errs.CodeNetwork, errs.WithCause(err))
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, errs.New(c.provider, errs.CodeRateLimited, errs.WithHTTP(resp.StatusCode))
		case resp.StatusCode >= 500:
			return nil, errs.New(c.provider, errs.CodeUnavailable, errs.WithHTTP(resp.StatusCode))
		case resp.StatusCode >= 400:
			return nil, backoff.Permanent(errs.New(c.provider, errs.CodeInvalid,
				errs.WithHTTP(resp.StatusCode),
				errs.WithMessage(fmt.Sprintf("unexpected status %d", resp.StatusCode))))
		}
		return body, nil
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.MaxInterval = 5 * time.Second

	body, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(c.maxTries))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.New(c.provider, errs.CodeParse, errs.WithCause(err))
	}
	return nil
}
