package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// readLoginSecret reads the secret from file, or prompts on the terminal
// when file is empty or "-".
func readLoginSecret(file string, prompt io.Writer) (string, error) {
	if file != "" && file != "-" {
		return readSecretFile(file)
	}
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return "", errors.New("no terminal for the secret prompt (use --password-file)")
	}
	fmt.Fprint(prompt, "Secret: ")
	pw, err := readPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	if len(pw) == 0 {
		return "", errors.New("secret is empty")
	}
	return string(pw), nil
}

// readSecretFile strips trailing newlines left by echo and editors.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fmt.Errorf("%s is empty", path)
	}
	return secret, nil
}
