// Package download fetches bulk payloads with retry and circuit breaking.
// Downloads use the download retry preset (few attempts, short delays) and
// share one circuit breaker per fetcher, so a struggling host is backed off
// across all concurrent downloads instead of per URL.
package download

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/coregrid/go-resilience/api"
	"github.com/coregrid/go-resilience/logger"
	"github.com/coregrid/go-resilience/resilience"
)

const defaultParallelism = 4

// Fetcher downloads payloads from a single host or service.
type Fetcher struct {
	client  *http.Client
	logger  logger.Logger
	policy  resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithRetryPolicy overrides the download retry preset.
func WithRetryPolicy(policy resilience.RetryPolicy) FetcherOption {
	return func(f *Fetcher) {
		f.policy = policy
	}
}

// WithBreaker shares an existing circuit breaker with the fetcher.
func WithBreaker(cb *resilience.CircuitBreaker) FetcherOption {
	return func(f *Fetcher) {
		f.breaker = cb
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = hc
	}
}

// NewFetcher creates a Fetcher with the download retry preset and a breaker
// that opens after 3 consecutive failures.
func NewFetcher(log logger.Logger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: http.DefaultClient,
		logger: log,
		policy: resilience.DownloadRetryPolicy(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.breaker == nil {
		f.breaker = resilience.NewCircuitBreaker(3, 15*time.Second, resilience.WithName("download"))
	}
	return f
}

// Fetch downloads a single URL, retrying transient failures under the
// fetcher's policy. The returned error is the classified error from the
// final attempt, or resilience.ErrCircuitOpen when the breaker rejected the
// call outright.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return resilience.DoWithBreaker(ctx, f.policy, f.breaker, "download", func() ([]byte, error) {
		return f.fetchOnce(ctx, rawURL)
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, resilience.WrapError(resilience.KindValidation, err, "creating request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, resilience.WrapError(api.KindForTransportError(err), err, "download failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, resilience.NewError(api.KindForStatus(resp.StatusCode), "download failed with status (%s)", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.WrapError(api.KindForTransportError(err), err, "reading payload")
	}
	f.logger.Trace("downloaded %s (%d bytes)", rawURL, len(body))
	return body, nil
}

// FetchAll downloads every URL with at most parallelism concurrent transfers
// (0 means the default of 4). The first unrecoverable failure cancels the
// remaining downloads. Results are keyed by URL.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, parallelism int) (map[string][]byte, error) {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	var mu sync.Mutex
	results := make(map[string][]byte, len(urls))

	for _, u := range urls {
		u := u
		g.Go(func() error {
			body, err := f.Fetch(ctx, u)
			if err != nil {
				return errors.Wrapf(err, "fetching %s", u)
			}
			mu.Lock()
			results[u] = body
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
