// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mount

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func trySyncMount(target string) error {
	fd, err := unix.Open(target, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %q: %w", target, err)
	}
	defer unix.Close(fd) //nolint:errcheck

	if err := unix.Syncfs(fd); err != nil {
		return fmt.Errorf("SYS_SYNCFS %q: %w", target, err)
	}

	return nil
}

func unmountLoop(ctx context.Context, logger *zap.Logger, target string, flags int, timeout time.Duration) (bool, error) {
	errCh := make(chan error, 1)

	if err := trySyncMount(target); err != nil {
		logger.Warn("sync failed", zap.String("target", target), zap.Error(err))
	}

	go func() {
		errCh <- unix.Unmount(target, flags)
	}()

	start := time.Now()

	progressTicker := time.NewTicker(timeout / 5)
	defer progressTicker.Stop()

unmountLoop:
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-errCh:
			return true, err
		case <-progressTicker.C:
			timeLeft := timeout - time.Since(start)

			if timeLeft <= 0 {
				break unmountLoop
			}

			logger.Info("unmounting is taking longer than expected",
				zap.String("target", target),
				zap.Bool("force", flags&unix.MNT_FORCE != 0),
				zap.Duration("remaining", timeLeft),
			)
		}
	}

	return false, nil
}

// SafeUnmount unmounts the target path, first without force, then with force if the first attempt fails.
//
// It makes sure that unmounting has a finite operation timeout.
func SafeUnmount(ctx context.Context, logger *zap.Logger, target string) error {
	const (
		unmountTimeout      = 90 * time.Second
		unmountForceTimeout = 10 * time.Second
	)

	if logger == nil {
		logger = zap.NewNop()
	}

	ok, err := unmountLoop(ctx, logger, target, 0, unmountTimeout)
	if ok {
		return err
	}

	logger.Warn("unmounting with force", zap.String("target", target))

	ok, err = unmountLoop(ctx, logger, target, unix.MNT_FORCE, unmountForceTimeout)
	if ok {
		return err
	}

	return fmt.Errorf("unmounting %s with force flag timed out", target)
}
