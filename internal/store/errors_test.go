package store

import (
	"errors"
	"testing"
)

func TestIsBusy(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("SQLITE_BUSY: database is locked (5)"), true},
		{errors.New("database table is locked"), true},
		{errors.New("no such table: nothing"), false},
	}
	for _, c := range cases {
		if got := isBusy(c.err); got != c.want {
			t.Errorf("isBusy(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestWithRetryPassesThroughNonBusy(t *testing.T) {
	calls := 0
	want := errors.New("boom")
	err := withRetry(func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (non-busy errors never retry)", calls)
	}
}

func TestWithRetryRecoversFromBusy(t *testing.T) {
	calls := 0
	err := withRetry(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Errorf("err = %v, want nil after contention clears", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetryBounded(t *testing.T) {
	calls := 0
	err := withRetry(func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != len(retrySchedule)+1 {
		t.Errorf("calls = %d, want %d", calls, len(retrySchedule)+1)
	}
}
