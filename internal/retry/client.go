// Package retry provides bounded retry with exponential backoff and
// jitter for transient broker errors (§4.3, §7). Generalized from the
// teacher's position-close-specific retry client into a generic
// operation wrapper usable by internal/router for submit, cancel, and
// quote calls alike.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/errs"
)

// Config contains retry configuration parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig provides sensible defaults for retry operations.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client applies Config's backoff schedule to an arbitrary operation.
type Client struct {
	logger *log.Logger
	config Config
}

// NewClient creates a retry Client with the given optional config.
func NewClient(logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Client{logger: logger, config: cfg}
}

// Op is a single broker call to retry; label identifies it in logs
// (e.g. "submit order", "cancel order", "get quote").
type Op func(ctx context.Context) error

// Do runs op, retrying on transient errors with exponential backoff and
// jitter until MaxRetries is exhausted, the deadline elapses, or op
// returns a non-transient error. A permanent error is never retried
// (§7: BrokerPermanentError bubbles to the caller immediately).
func (c *Client) Do(ctx context.Context, label string, op Op) error {
	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-opCtx.Done():
			return fmt.Errorf("%s: timed out after %v: %w", label, c.config.Timeout, opCtx.Err())
		default:
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: canceled: %w", label, ctx.Err())
		}

		err := op(opCtx)
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Printf("%s: attempt %d/%d failed: %v", label, attempt+1, c.config.MaxRetries+1, err)

		if !IsTransient(err) || attempt >= c.config.MaxRetries {
			break
		}

		c.logger.Printf("%s: transient error, retrying in %v", label, backoff)
		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-opCtx.Done():
			return fmt.Errorf("%s: timed out during backoff: %w", label, opCtx.Err())
		case <-ctx.Done():
			return fmt.Errorf("%s: canceled during backoff: %w", label, ctx.Err())
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", label, c.config.MaxRetries+1, lastErr)
}

func (c *Client) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}
	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Printf("failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}
	return backoff
}

// transientPatterns is the substring match list used when an error is
// not already a tagged errs.Error with CodeBrokerTransient.
var transientPatterns = []string{
	"timeout",
	"i/o timeout",
	"connection refused",
	"connection reset",
	"temporary failure",
	"temporarily unavailable",
	"server error",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"network",
	"dns",
	"tcp",
	"no such host",
	"deadline exceeded",
	"tls handshake",
	"broken pipe",
	"eof",
}

// IsTransient reports whether err should be retried: either it carries
// a taxonomy code marked Retryable, or its text matches a known
// transient network/HTTP pattern (§7).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var tagged *errs.Error
	if errors.As(err, &tagged) {
		return tagged.Code.Retryable()
	}
	lower := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
