package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// passphraseSource resolves a key passphrase from an environment variable and
// falls back to prompting on the terminal.
type passphraseSource struct {
	envVar string

	lookup       func(string) (string, bool)
	fd           int
	isTerminal   func(int) bool
	readPassword func(int) ([]byte, error)
	prompt       io.Writer
}

func newPassphraseSource(envVar string) *passphraseSource {
	return &passphraseSource{
		envVar:       strings.TrimSpace(envVar),
		lookup:       os.LookupEnv,
		fd:           int(os.Stdin.Fd()),
		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
		prompt:       os.Stderr,
	}
}

// Get returns the passphrase. With confirm set, an interactive operator must
// type it twice.
func (s *passphraseSource) Get(confirm bool) (string, error) {
	if s.envVar != "" {
		if value, ok := s.lookup(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if !s.isTerminal(s.fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("key passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("key passphrase required and no terminal available")
	}

	passphrase, err := s.read("Enter key passphrase: ")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(passphrase) == "" {
		return "", errors.New("key passphrase cannot be empty")
	}
	if confirm {
		again, err := s.read("Repeat key passphrase: ")
		if err != nil {
			return "", err
		}
		if again != passphrase {
			return "", errors.New("passphrases do not match")
		}
	}
	return passphrase, nil
}

func (s *passphraseSource) read(prompt string) (string, error) {
	fmt.Fprint(s.prompt, prompt)
	raw, err := s.readPassword(s.fd)
	fmt.Fprintln(s.prompt)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}
