package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

func newCLI(stdin io.Reader, stdout, stderr io.Writer) *cli {
	c := &cli{
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		loadConfig: defaultLoadConfig,
		open:       defaultOpen,
		migrate:    defaultMigrate,
	}
	c.readSecret = c.promptSecret
	return c
}

// promptSecret reads a secret without echo when stdin is a terminal, and
// the first line of stdin otherwise.
func (c *cli) promptSecret(prompt string) (string, error) {
	if f, ok := c.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		first, err := readNoEcho(f, c.stderr, prompt)
		if err != nil {
			return "", err
		}
		again, err := readNoEcho(f, c.stderr, "Repeat "+strings.ToLower(prompt))
		if err != nil {
			return "", err
		}
		if first != again {
			return "", errors.New("entries do not match")
		}
		return first, nil
	}

	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no secret on stdin")
	}
	return line, nil
}

func readNoEcho(f *os.File, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt+": ")
	b, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
