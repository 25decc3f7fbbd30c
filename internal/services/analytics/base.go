package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	xhttp "PerpGate/pkg/http"
)

// HTTPServiceBase is the shared plumbing for the public market-data clients:
// one http client, one base URL and the venue's {code,msg,data} envelope.
type HTTPServiceBase struct {
	baseURL string
	client  *xhttp.Client
}

func NewHTTPServiceBase(baseURL string, timeout time.Duration) *HTTPServiceBase {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPServiceBase{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// getJSON fetches path and unwraps the envelope into dest.
func getJSON[T any](ctx context.Context, b *HTTPServiceBase, path string, query map[string][]string, dest *T) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("analytics http client not initialized")
	}
	var env envelope[T]
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         b.baseURL + path,
		QueryParams: query,
	}, &env)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if env.Code != "" && env.Code != "200000" {
		return fmt.Errorf("get %s: venue code %s: %s", path, env.Code, env.Msg)
	}
	*dest = env.Data
	return nil
}

// getJSONWithRetry retries transient failures with a linear backoff. A
// request the venue rejected outright is not retried.
func getJSONWithRetry[T any](ctx context.Context, b *HTTPServiceBase, path string, query map[string][]string, dest *T, attempts int) error {
	if attempts <= 1 {
		return getJSON(ctx, b, path, query, dest)
	}
	var err error
	for i := 1; i <= attempts; i++ {
		err = getJSON(ctx, b, path, query, dest)
		if err == nil {
			return nil
		}
		if i == attempts || !xhttp.IsRetryable(err) {
			break
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
