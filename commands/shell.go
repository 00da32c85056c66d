package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const banner = `********************************************************************************
sealed-keymaster console. type 'help' for more information
********************************************************************************`

// Shell reads command lines from in and writes results to out until the
// input ends or the operator exits. Failed commands are reported and the
// loop continues.
type Shell struct {
	d   *Dispatcher
	in  *bufio.Reader
	out io.Writer
}

// NewShell creates a shell. in should be the same reader the prompter falls
// back to when stdin is not a terminal.
func NewShell(d *Dispatcher, in *bufio.Reader, out io.Writer) *Shell {
	return &Shell{d: d, in: in, out: out}
}

func (s *Shell) Run(ctx context.Context) error {
	fmt.Fprintln(s.out, banner)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprint(s.out, s.d.Prompt())
		line, err := s.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if errors.Is(err, io.EOF) && strings.TrimSpace(line) == "" {
			fmt.Fprintln(s.out)
			return nil
		}

		msg, cmdErr := s.d.Execute(ctx, line)
		switch {
		case errors.Is(cmdErr, ErrExit):
			return nil
		case cmdErr != nil:
			fmt.Fprintf(s.out, "Error: %v\n", cmdErr)
		case msg != "":
			fmt.Fprintln(s.out, msg)
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}
