package wallet

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"sugu-checkout/internal/util"

	"golang.org/x/sync/singleflight"
)

const (
	tokenSafetyMargin = 60 * time.Second
	tokenRetryBase    = 500 * time.Millisecond
	tokenRetryJitter  = 250 * time.Millisecond

	// tokenFetchTimeout bounds the shared fetch, both attempts included.
	tokenFetchTimeout = 2*(connectTimeout+readTimeout) + tokenRetryBase + tokenRetryJitter
)

type tokenFetcher func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// tokenCache holds the single process-wide access token. Concurrent misses
// share one in-flight fetch.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group      singleflight.Group
	fetch      tokenFetcher
	now        func() time.Time
	retryDelay func() time.Duration
}

func newTokenCache(fetch tokenFetcher) *tokenCache {
	return &tokenCache{
		fetch: fetch,
		now:   time.Now,
		retryDelay: func() time.Duration {
			return tokenRetryBase + time.Duration(rand.Int63n(int64(tokenRetryJitter)))
		},
	}
}

func (tc *tokenCache) cached() (string, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.token != "" && tc.now().Before(tc.expiresAt) {
		return tc.token, true
	}
	return "", false
}

// Get returns a token whose expiry is still ahead, fetching one if needed.
// The shared fetch outlives the caller that started it; each caller stops
// waiting when its own ctx is done.
func (tc *tokenCache) Get(ctx context.Context) (string, error) {
	if tok, ok := tc.cached(); ok {
		return tok, nil
	}

	ch := tc.group.DoChan("token", func() (interface{}, error) {
		if tok, ok := tc.cached(); ok {
			return tok, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenFetchTimeout)
		defer cancel()

		tok, expiresIn, err := tc.fetchWithRetry(fetchCtx)
		if err != nil {
			util.WalletTokenRefreshes.WithLabelValues("error").Inc()
			return "", err
		}
		util.WalletTokenRefreshes.WithLabelValues("ok").Inc()

		lifetime := expiresIn - tokenSafetyMargin
		if lifetime <= 0 {
			lifetime = expiresIn / 2
		}

		tc.mu.Lock()
		tc.token = tok
		tc.expiresAt = tc.now().Add(lifetime)
		tc.mu.Unlock()
		return tok, nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for access token: %v", ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token if it is still the given one.
func (tc *tokenCache) Invalidate(token string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.token == token {
		tc.token = ""
		tc.expiresAt = time.Time{}
	}
}

func (tc *tokenCache) fetchWithRetry(ctx context.Context) (string, time.Duration, error) {
	tok, exp, err := tc.fetch(ctx)
	if err == nil {
		return tok, exp, nil
	}

	select {
	case <-ctx.Done():
		return "", 0, err
	case <-time.After(tc.retryDelay()):
	}
	return tc.fetch(ctx)
}
