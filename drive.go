package cassblob

import (
	"context"
	"errors"
	"time"
)

// Drives tasks from the calling goroutine until they're all finished, sleeping interval between
// rounds. If ctx ends first, unfinished tasks are closed and abandoned; statements already issued are
// not rolled back. Returns the joined task errors.
func Drive(ctx context.Context, interval time.Duration, tasks ...Task) error {
	if interval <= 0 {
		interval = time.Millisecond
	}
	pending := append([]Task(nil), tasks...)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n := 0
		for _, t := range pending {
			t.DriveStep()
			if !t.IsFinished() {
				pending[n] = t
				n++
			}
		}
		pending = pending[:n]
		if len(pending) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			for _, t := range pending {
				t.CloseAll()
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
	var errs []error
	for _, t := range tasks {
		if err := t.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
