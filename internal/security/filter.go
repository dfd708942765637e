// Package security rejects abusive traffic before it reaches checkout and
// watches authentication failures.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"sugu-checkout/config"
	"sugu-checkout/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrBlacklisted     = errors.New("client ip blacklisted")
	ErrSuspiciousAgent = errors.New("suspicious user agent")
)

// Bucket groups endpoints sharing one rate limit.
type Bucket string

const (
	BucketPayment  Bucket = "payment"
	BucketCart     Bucket = "cart"
	// BucketCallback covers provider notifications; only the blacklist applies.
	BucketCallback Bucket = "callback"
)

const (
	rateWindow        = 60 * time.Second
	minUserAgentChars = 10
)

// Limiter is a sliding-window counter.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error)
}

// Filter applies IP blacklist, user-agent and per-IP rate-limit policies.
// It never touches orders or carts.
type Filter struct {
	limiter   Limiter
	blacklist map[string]struct{}
	limits    map[Bucket]int
	now       func() time.Time
	logger    *zap.Logger
}

// NewFilter builds a filter from the security configuration.
func NewFilter(limiter Limiter, cfg config.SecurityConfig) *Filter {
	blacklist := make(map[string]struct{}, len(cfg.BlacklistedIPs))
	for _, ip := range cfg.BlacklistedIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			blacklist[ip] = struct{}{}
		}
	}
	return &Filter{
		limiter:   limiter,
		blacklist: blacklist,
		limits: map[Bucket]int{
			BucketPayment: cfg.PaymentRatePerMinute,
			BucketCart:    cfg.CartRatePerMinute,
		},
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// ClientIP returns the first X-Forwarded-For entry, else the remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Check evaluates every policy for one request. A rate-limiter outage lets
// the request through.
func (f *Filter) Check(ctx context.Context, bucket Bucket, ip, userAgent string) error {
	if _, ok := f.blacklist[ip]; ok {
		return ErrBlacklisted
	}
	if bucket == BucketCallback {
		return nil
	}
	if len(strings.TrimSpace(userAgent)) < minUserAgentChars {
		return ErrSuspiciousAgent
	}

	limit, ok := f.limits[bucket]
	if !ok {
		return nil
	}
	allowed, err := f.limiter.Allow(ctx, fmt.Sprintf("ratelimit:%s:%s", bucket, ip), limit, rateWindow, f.now())
	if err != nil {
		f.logger.Warn("Rate limiter unavailable, allowing request",
			zap.String("bucket", string(bucket)),
			zap.Error(err))
		return nil
	}
	if !allowed {
		return ErrRateLimited
	}
	return nil
}

// Require returns a gin middleware enforcing the policies for bucket.
func (f *Filter) Require(bucket Bucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := ClientIP(c.Request)
		err := f.Check(c.Request.Context(), bucket, ip, c.Request.UserAgent())
		if err == nil {
			c.Next()
			return
		}

		reason := "rate_limited"
		switch {
		case errors.Is(err, ErrBlacklisted):
			reason = "blacklisted"
		case errors.Is(err, ErrSuspiciousAgent):
			reason = "user_agent"
		}
		util.SecurityRejectionsTotal.WithLabelValues(string(bucket), reason).Inc()
		f.logger.Info("Request rejected by security filter",
			zap.String("bucket", string(bucket)),
			zap.String("client_ip", ip),
			zap.String("reason", reason))

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"details": err.Error(),
		})
	}
}
