// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package cli holds terminal helpers shared by the commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// WithContext runs f with a context cancelled on the first SIGINT or SIGTERM.
//
// The handler is removed after the first signal, so a second one terminates
// the process.
func WithContext(ctx context.Context, stderr io.Writer, f func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			signal.Stop(sigCh)
			cancel()

			fmt.Fprintln(stderr, "Signal received, finishing the current step, press Ctrl+C once again to abort immediately...")
		case <-ctx.Done():
		}
	}()

	return f(ctx)
}
