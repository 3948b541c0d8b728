// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Prompter asks yes/no questions on a terminal.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	// AssumeYes answers every prompt without reading input.
	AssumeYes bool
	// Interactive must be set for input to be read.
	Interactive bool

	reader *bufio.Reader
}

// NewPrompter returns a Prompter on stdin and stderr.
func NewPrompter(assumeYes bool) *Prompter {
	return &Prompter{
		In:          os.Stdin,
		Out:         os.Stderr,
		AssumeYes:   assumeYes,
		Interactive: isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
	}
}

// Confirm implements partition.Confirmer.
func (p *Prompter) Confirm(prompt string) bool {
	fmt.Fprintln(p.Out, color.YellowString(prompt))

	switch {
	case p.AssumeYes:
		fmt.Fprintln(p.Out, "Assuming yes.")

		return true
	case !p.Interactive:
		fmt.Fprintln(p.Out, color.RedString("Standard input is not a terminal, pass --yes to confirm."))

		return false
	}

	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}

	fmt.Fprint(p.Out, "[y/N]: ")

	line, err := p.reader.ReadString('\n')
	if err != nil && line == "" {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
