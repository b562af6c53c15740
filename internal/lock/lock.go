package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"ledger-core/internal/errors"
	"ledger-core/internal/metrics"
	"ledger-core/internal/store"
)

const (
	// PollInterval is how often a blocked Acquire re-checks the store.
	PollInterval = 250 * time.Millisecond

	keyPrefix = "mutexes/"
	separator = "{}"

	timeLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// Lease is a held lock. The store offers no atomic compare-and-swap, so
// acquisition is optimistic: write the secret, then re-read to detect a
// concurrent writer. A Lease handle is reentrant within one call stack but
// must not be shared between goroutines.
type Lease struct {
	store  store.ObjectStore
	key    string
	secret string
	lease  time.Duration
	expiry time.Time
	depth  int
	logger *slog.Logger
}

// Acquire obtains the lease named by key, polling until it is free or timeout
// elapses. The lease lapses on its own after leaseFor unless renewed.
func Acquire(ctx context.Context, objects store.ObjectStore, key string, timeout, leaseFor time.Duration, logger *slog.Logger) (*Lease, error) {
	l := &Lease{
		store:  objects,
		key:    keyPrefix + sanitize(key),
		secret: newSecret(),
		lease:  leaseFor,
		logger: logger,
	}

	start := time.Now()
	deadline := start.Add(timeout)

	for {
		ok, err := l.tryAcquire(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			l.depth = 1
			metrics.LockAcquisitionsTotal.WithLabelValues("acquired").Inc()
			metrics.LockWaitDuration.WithLabelValues("acquired").Observe(time.Since(start).Seconds())
			l.logger.Info("Lease acquired", "key", l.key, "expiry", l.expiry)
			return l, nil
		}

		if !time.Now().Add(PollInterval).Before(deadline) {
			metrics.LockAcquisitionsTotal.WithLabelValues("timeout").Inc()
			metrics.LockWaitDuration.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
			l.logger.Warn("Lease acquisition timed out", "key", l.key, "timeout", timeout)
			return nil, errors.NewAppErrorf(errors.LockTimeout, "lock %q not acquired within %s", key, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

// tryAcquire performs one optimistic claim attempt: check the slot is free,
// write our secret, then read-verify twice (write-read, write-read again) to
// shake out racing writers.
func (l *Lease) tryAcquire(ctx context.Context) (bool, error) {
	free, err := l.slotFree(ctx)
	if err != nil || !free {
		return false, err
	}

	for i := 0; i < 2; i++ {
		l.expiry = time.Now().UTC().Add(l.lease)
		if err := l.store.Set(ctx, l.key, []byte(l.secret+separator+l.expiry.Format(timeLayout))); err != nil {
			return false, err
		}
		held, err := l.holdsSlot(ctx)
		if err != nil || !held {
			return false, err
		}
	}
	return true, nil
}

// slotFree reports whether the lock slot is absent or its lease has lapsed.
func (l *Lease) slotFree(ctx context.Context) (bool, error) {
	value, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	_, expiry, err := parseValue(value)
	if err != nil {
		// Garbage in the slot counts as free; the next write replaces it.
		return true, nil
	}
	return time.Now().After(expiry), nil
}

// holdsSlot reports whether the slot currently carries our secret, unlapsed.
func (l *Lease) holdsSlot(ctx context.Context) (bool, error) {
	value, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	secret, expiry, err := parseValue(value)
	if err != nil {
		return false, nil
	}
	return secret == l.secret && time.Now().Before(expiry), nil
}

// Lock re-enters an already held lease, incrementing the depth counter and
// renewing the lease. Each Lock call must be paired with a Release.
func (l *Lease) Lock(ctx context.Context) error {
	if err := l.Renew(ctx); err != nil {
		return err
	}
	l.depth++
	return nil
}

// Renew extends the lease by its original duration. Fails with LockExpired if
// the lease already lapsed or another holder took the slot.
func (l *Lease) Renew(ctx context.Context) error {
	held, err := l.holdsSlot(ctx)
	if err != nil {
		return err
	}
	if !held {
		metrics.LockExpiriesTotal.Inc()
		return errors.NewAppErrorf(errors.LockExpired, "lease on %q lapsed before renew", l.key)
	}

	l.expiry = time.Now().UTC().Add(l.lease)
	return l.store.Set(ctx, l.key, []byte(l.secret+separator+l.expiry.Format(timeLayout)))
}

// Release drops one level of the reentrant lease. Only the outermost Release
// deletes the stored key, and only while the slot still carries our secret.
// Returns LockExpired when the lease lapsed before release, so the caller
// knows its guarded writes may have raced.
func (l *Lease) Release(ctx context.Context) error {
	if l.depth == 0 {
		return errors.NewAppErrorf(errors.LockExpired, "lease on %q already released", l.key)
	}
	l.depth--
	if l.depth > 0 {
		return nil
	}

	held, err := l.holdsSlot(ctx)
	if err != nil {
		return err
	}
	if !held {
		metrics.LockExpiriesTotal.Inc()
		l.logger.Warn("Lease lapsed before release", "key", l.key, "expiry", l.expiry)
		return errors.NewAppErrorf(errors.LockExpired, "lease on %q lapsed before release", l.key)
	}
	return l.store.Delete(ctx, l.key)
}

func parseValue(value []byte) (secret string, expiry time.Time, err error) {
	parts := strings.SplitN(string(value), separator, 2)
	if len(parts) != 2 {
		return "", time.Time{}, errors.NewAppError(errors.InternalError, "malformed lock value")
	}
	expiry, err = time.Parse(timeLayout, parts[1])
	if err != nil {
		return "", time.Time{}, errors.NewAppError(errors.InternalError, "malformed lock expiry").WithDetails(err.Error())
	}
	return parts[0], expiry, nil
}

func newSecret() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return hex.EncodeToString(buf)
}

// sanitize keeps lock keys to a single flat namespace segment.
func sanitize(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, key)
}
