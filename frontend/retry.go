package frontend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tcassar-diss/xdpguard/bpf"
	"github.com/tcassar-diss/xdpguard/store"
	"golang.org/x/sys/unix"
)

const (
	Retries    = 5
	RetryDelay = 150 * time.Millisecond
)

// retry runs fn until it succeeds, fails permanently, or retries run out.
// The delay doubles after each transient failure.
func retry(ctx context.Context, retries int, delay time.Duration, fn func() error) error {
	var err error

	for attempt := range retries + 1 {
		if err = fn(); err == nil || !transient(err) {
			return err
		}

		if attempt == retries {
			break
		}

		t := time.NewTimer(delay << attempt)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", retries+1, err)
}

func transient(err error) bool {
	permanent := []error{
		bpf.ErrAlreadyAttached,
		bpf.ErrInterfaceNotFound,
		bpf.ErrPermission,
		store.ErrFull,
	}

	for _, p := range permanent {
		if errors.Is(err, p) {
			return false
		}
	}

	return errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EBUSY) ||
		errors.Is(err, unix.EINTR)
}
