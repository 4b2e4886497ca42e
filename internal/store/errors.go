package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSchemaTooNew means the on-disk schema version is newer than this
// build supports. Fatal: the caller must not attempt migration or writes.
var ErrSchemaTooNew = errors.New("database schema is newer than this build supports")

// ErrIntegrity means stored data exists but fails verification (for
// example an archive segment whose checksum no longer matches). It is
// deliberately distinct from fs.ErrNotExist so operators can tell
// "damaged" from "lost".
var ErrIntegrity = errors.New("integrity check failed")

// retrySchedule is the bounded backoff for lock contention. After the
// last attempt the error is surfaced as-is; there is no unbounded retry.
var retrySchedule = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
}

// isBusy reports whether err looks like SQLite lock contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// withRetry runs fn, retrying on lock contention with the fixed backoff
// schedule. Any non-busy error is returned immediately.
func withRetry(fn func() error) error {
	err := fn()
	for _, delay := range retrySchedule {
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(delay)
		err = fn()
	}
	if err != nil && isBusy(err) {
		return fmt.Errorf("store busy after %d attempts: %w", len(retrySchedule)+1, err)
	}
	return err
}
