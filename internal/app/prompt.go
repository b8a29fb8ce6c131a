package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Seams for term.ReadPassword and term.IsTerminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// PromptToken reads an access token from the terminal without echo. It
// fails when stdin is not a terminal.
func PromptToken(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !isTerminal(fd) {
		return "", fmt.Errorf("no access token configured and stdin is not a terminal")
	}
	if _, err := fmt.Fprint(w, "Access token: "); err != nil {
		return "", err
	}
	tok, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(tok))
	if s == "" {
		return "", fmt.Errorf("empty access token")
	}
	return s, nil
}
