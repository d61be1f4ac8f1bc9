package network

import (
	"context"
	"time"

	"github.com/samber/oops"
	log "github.com/sirupsen/logrus"
)

// Backoff bounds for DialWithRetry
var (
	InitialBackoff = time.Second
	MaxBackoff     = 30 * time.Second
)

// DialWithRetry dials address up to attempts times, doubling the wait between
// tries up to MaxBackoff. attempts below one means a single try.
func DialWithRetry(ctx context.Context, address string, attempts int) (Stream, error) {
	if attempts < 1 {
		attempts = 1
	}

	backoff := InitialBackoff
	var lastErr error

	for i := 1; i <= attempts; i++ {
		stream, err := Dial(ctx, address)
		if err == nil {
			if i > 1 {
				log.WithField("address", address).Info("Connected after retry")
			}
			return stream, nil
		}
		lastErr = err

		if i == attempts {
			break
		}

		log.WithError(err).WithFields(log.Fields{
			"address": address,
			"attempt": i,
			"backoff": backoff,
		}).Warn("Connection failed, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, oops.In("dial").With("address", address).Wrapf(ctx.Err(), "dial aborted")
		}

		backoff *= 2
		if backoff > MaxBackoff {
			backoff = MaxBackoff
		}
	}

	return nil, oops.In("dial").With("address", address).With("attempts", attempts).Wrapf(lastErr, "relay unreachable")
}
