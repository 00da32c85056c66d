// Package prompt reads passwords and passphrases from the operator.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/term"
)

const maxPasswordLen = 2048

// ErrNoInput is returned when the input is exhausted before a password was read.
var ErrNoInput = errors.New("no password input available")

// Terminal reads passwords from a terminal without echo. When the input is
// not a terminal (pipes, scripts) it reads one line from lines instead, which
// should be the same reader the shell consumes commands from.
type Terminal struct {
	fd    int
	lines *bufio.Reader
	out   io.Writer
}

// NewTerminal returns a prompter reading from file descriptor fd and writing
// prompts to out.
func NewTerminal(fd int, lines *bufio.Reader, out io.Writer) *Terminal {
	return &Terminal{fd: fd, lines: lines, out: out}
}

// Password implements interfaces.Prompter.
func (t *Terminal) Password(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprint(t.out, prompt)

	if !term.IsTerminal(t.fd) {
		return readLine(t.lines)
	}

	p, err := term.ReadPassword(t.fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("could not read password from terminal: %w", err)
	}
	if len(p) > maxPasswordLen {
		return "", fmt.Errorf("password is longer than %d bytes", maxPasswordLen)
	}
	return string(p), nil
}

func readLine(r *bufio.Reader) (string, error) {
	if r == nil {
		return "", ErrNoInput
	}
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", ErrNoInput
		}
		return "", fmt.Errorf("could not read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) > maxPasswordLen {
		return "", fmt.Errorf("password is longer than %d bytes", maxPasswordLen)
	}
	return line, nil
}

// Scripted answers prompts from a fixed list, in order. It records every
// prompt it was asked.
type Scripted struct {
	mu      sync.Mutex
	answers []string
	asked   []string
}

// NewScripted returns a prompter that replies with answers in order.
func NewScripted(answers ...string) *Scripted {
	return &Scripted{answers: answers}
}

// Password implements interfaces.Prompter.
func (s *Scripted) Password(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.asked = append(s.asked, prompt)
	if len(s.answers) == 0 {
		return "", ErrNoInput
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}

// Push appends more answers.
func (s *Scripted) Push(answers ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, answers...)
}

// Asked returns the prompts seen so far.
func (s *Scripted) Asked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.asked...)
}

// Remaining returns how many answers are left.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}
