package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/james-andrews-coulter/essay-search-engine/internal/errors"
)

// ProgressFunc receives one call per cached asset.
type ProgressFunc func(asset string, bytes int64, index, total int)

// fetcher wraps the HTTP client used for dataset downloads.
type fetcher struct {
	client  *http.Client
	timeout time.Duration
	retry   errors.RetryConfig
}

func newFetcher(timeout time.Duration) *fetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &fetcher{
		client:  &http.Client{},
		timeout: timeout,
		retry:   errors.DefaultRetryConfig(),
	}
}

// fetch streams one URL into the store via sink, retrying transient
// failures with backoff. sink is invoked once per successful attempt.
func (f *fetcher) fetch(ctx context.Context, url string, sink func(io.Reader) (int64, error)) (int64, error) {
	return errors.RetryWithResult(ctx, f.retry, func() (int64, error) {
		reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		req.Header.Set("User-Agent", "essaysearch/1.0")

		resp, err := f.client.Do(req)
		if err != nil {
			return 0, errors.AssetFetchError(fmt.Sprintf("fetch %s failed", url), err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			fetchErr := errors.AssetFetchError(
				fmt.Sprintf("fetch %s failed with status %d", url, resp.StatusCode), nil)
			// Client errors will not fix themselves on retry.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				fetchErr.Retryable = false
			}
			return 0, fetchErr
		}

		return sink(resp.Body)
	})
}
