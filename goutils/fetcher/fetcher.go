package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/swagftw/gi"

	"metapin/caching"
	"metapin/goutils/contentref"
	"metapin/goutils/gateway"
)

var (
	ErrInvalidReference = errors.New("reference is not resolvable and not a plain http url")
	ErrMaxRetries       = errors.New("fetch failed after exhausting retry budget")
	ErrGatewayTimeout   = errors.New("fetch aborted on gateway timeout")
)

// RecoveryPinner issues the one best-effort pin request for content that
// could not be fetched within the retry budget.
type RecoveryPinner interface {
	Pin(ctx context.Context, cid, name string, isImage bool) bool
}

// Fetcher fetches JSON documents over a pool of untrusted gateways, rotating
// through a (possibly different) gateway on every retry attempt. Fetch calls
// are independent and safe to run in parallel.
type Fetcher struct {
	httpClient *http.Client
	selectors  map[contentref.Network]*gateway.Selector
	cidCache   *caching.CIDExistenceCache
	pinner     RecoveryPinner
	timeout    time.Duration
	maxDepth   int
	sleep      func(time.Duration)
}

// NewFetcher builds a fetcher. The http client must not retry on its own,
// retries are owned here so gateway rotation and failure accounting happen
// per attempt.
func NewFetcher(httpClient *http.Client, selectors map[contentref.Network]*gateway.Selector, cidCache *caching.CIDExistenceCache, pinner RecoveryPinner, timeoutSecs, maxDepth int) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		selectors:  selectors,
		cidCache:   cidCache,
		pinner:     pinner,
		timeout:    time.Duration(timeoutSecs) * time.Second,
		maxDepth:   maxDepth,
		sleep:      time.Sleep,
	}
}

func InitFetcher(httpClient *http.Client, selectors map[contentref.Network]*gateway.Selector, cidCache *caching.CIDExistenceCache, pinner RecoveryPinner, timeoutSecs, maxDepth int) *Fetcher {
	f := NewFetcher(httpClient, selectors, cidCache, pinner, timeoutSecs, maxDepth)

	if err := gi.Inject(f); err != nil {
		log.Fatal("failed to inject fetcher", err)
	}

	return f
}

// FetchJSON fetches a plain pagination URL and unmarshals the response into
// out, retrying with jittered backoff up to maxDepth times.
func (f *Fetcher) FetchJSON(ctx context.Context, url string, maxDepth int, out interface{}) error {
	var lastErr error

	for depth, seed := 0, int64(1); depth <= maxDepth; depth, seed = depth+1, seed+1 {
		if depth > 0 {
			f.sleep(BackoffDelay(depth, seed))
		}

		body, _, err := f.do(ctx, url)
		if err != nil {
			lastErr = err

			log.WithError(err).WithField("url", url).WithField("depth", depth).Debug("fetch attempt failed")

			continue
		}

		return json.Unmarshal(body, out)
	}

	return fmt.Errorf("%w: %s: %v", ErrMaxRetries, url, lastErr)
}

// FetchContentJSON resolves a content reference and fetches its JSON document
// through the best available gateway, re-resolving the gateway on every
// retry. seed is the caller's decorrelation seed, usually the serial number
// being processed. On exhausting the budget, a valid identifier not already
// known present gets one best-effort failed-load-recovery pin.
func (f *Fetcher) FetchContentJSON(ctx context.Context, raw string, maxDepth int, seed int64) ([]byte, error) {
	ref := contentref.Resolve(raw)
	if ref == nil {
		// unresolved references that are plain http urls are fetched
		// as-is, everything else is rejected without a network call
		if strings.HasPrefix(strings.ToLower(raw), "http://") || strings.HasPrefix(strings.ToLower(raw), "https://") {
			return f.fetchDirect(ctx, raw, maxDepth, seed)
		}

		return nil, ErrInvalidReference
	}

	selector, ok := f.selectors[ref.Network]
	if !ok {
		return nil, fmt.Errorf("no gateway pool configured for network %s", ref.Network)
	}

	var lastErr error

	for depth := 0; depth <= maxDepth; depth, seed = depth+1, seed+1 {
		if depth > 0 {
			f.sleep(BackoffDelay(depth, seed))
		}

		base := selector.PickBest()
		url := contentref.GatewayURL(ref, base)

		body, latencyMs, err := f.do(ctx, url)
		if err != nil {
			lastErr = err

			selector.RecordFailure(base)

			log.WithError(err).
				WithField("identifier", ref.Identifier).
				WithField("gateway", base).
				WithField("depth", depth).
				Debug("content fetch attempt failed")

			continue
		}

		selector.RecordSuccess(base, latencyMs)

		return body, nil
	}

	f.recoveryPin(ref)

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", ErrGatewayTimeout, ref.Identifier)
	}

	return nil, fmt.Errorf("%w: %s: %v", ErrMaxRetries, ref.Identifier, lastErr)
}

// fetchDirect fetches a non-content-addressed URL as-is, with backoff but no
// gateway accounting.
func (f *Fetcher) fetchDirect(ctx context.Context, url string, maxDepth int, seed int64) ([]byte, error) {
	var lastErr error

	for depth := 0; depth <= maxDepth; depth, seed = depth+1, seed+1 {
		if depth > 0 {
			f.sleep(BackoffDelay(depth, seed))
		}

		body, _, err := f.do(ctx, url)
		if err != nil {
			lastErr = err

			continue
		}

		return body, nil
	}

	if errors.Is(lastErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", ErrGatewayTimeout, url)
	}

	return nil, fmt.Errorf("%w: %s: %v", ErrMaxRetries, url, lastErr)
}

// do performs one fetch attempt. The per-attempt timeout hard-aborts the
// underlying connection, not just the wait.
func (f *Fetcher) do(ctx context.Context, url string) ([]byte, int64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}

	req.Header.Add("accept", "application/json")

	start := time.Now()

	res, err := f.httpClient.Do(req)
	if err != nil {
		if attemptCtx.Err() != nil {
			return nil, 0, fmt.Errorf("%v: %w", err, context.DeadlineExceeded)
		}

		return nil, 0, err
	}

	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		io.Copy(io.Discard, res.Body)

		return nil, 0, fmt.Errorf("unexpected status %d from %s", res.StatusCode, url)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, 0, err
	}

	if !json.Valid(body) {
		return nil, 0, fmt.Errorf("response from %s is not valid json", url)
	}

	return body, time.Since(start).Milliseconds(), nil
}

// recoveryPin issues the one failed-load pin attempt for a valid identifier
// that is not already known present.
func (f *Fetcher) recoveryPin(ref *contentref.Reference) {
	if f.pinner == nil || f.cidCache == nil {
		return
	}

	if !contentref.IsValidCID(ref.Identifier) && !contentref.IsArweaveID(ref.Identifier) {
		return
	}

	if f.cidCache.Has(context.Background(), ref.Identifier) {
		return
	}

	log.WithField("identifier", ref.Identifier).Info("fetch exhausted retries, issuing failed-load recovery pin")

	f.pinner.Pin(context.Background(), ref.Identifier, "failed-load-recovery", false)
}
