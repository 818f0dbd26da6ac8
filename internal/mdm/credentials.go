package mdm

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Credentials is the precomputed Authorization header value for the
// management API. The raw password is not retained after encoding.
type Credentials struct {
	// Username is kept for log attribution.
	Username string
	// header is the ready-to-send basic-auth header value.
	header string
}

// Header returns the Authorization header value.
func (c Credentials) Header() string {
	return c.header
}

// NewCredentials encodes a username/password pair for basic authentication.
func NewCredentials(username, password string) Credentials {
	encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))

	return Credentials{
		Username: username,
		header:   "Basic " + encoded,
	}
}

// CredentialProvider supplies API credentials. Injecting it keeps the
// orchestration testable with fixed values while production runs prompt
// interactively for anything missing.
type CredentialProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

var (
	// ErrNoPassword is returned when an empty password is supplied.
	ErrNoPassword = errors.New("no password provided")
	// ErrNotATerminal is returned when an interactive prompt is required but
	// stdin is not a terminal.
	ErrNotATerminal = errors.New("no terminal available for credential prompt")
)

// StaticProvider returns fixed credentials, typically from command-line flags.
type StaticProvider struct {
	// Username and Password are used verbatim.
	Username string
	Password string
}

// Credentials implements CredentialProvider.
func (p StaticProvider) Credentials(_ context.Context) (Credentials, error) {
	if p.Password == "" {
		return Credentials{}, ErrNoPassword
	}

	return NewCredentials(p.Username, p.Password), nil
}

// PromptProvider interactively asks for whatever the flags left blank.
// The password is read with terminal echo disabled.
type PromptProvider struct {
	// Username and Password carry any values already supplied by flags;
	// only the missing ones are prompted for.
	Username string
	Password string

	// In and Out default to stdin/stderr; tests substitute buffers.
	In  io.Reader
	Out io.Writer
}

// Credentials implements CredentialProvider.
func (p PromptProvider) Credentials(_ context.Context) (Credentials, error) {
	in := p.In
	if in == nil {
		in = os.Stdin
	}

	out := p.Out
	if out == nil {
		out = os.Stderr
	}

	username := p.Username
	if username == "" {
		fmt.Fprint(out, "Enter a management API user: ")

		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Credentials{}, fmt.Errorf("read username: %w", err)
		}

		username = strings.TrimSpace(line)
	}

	password := p.Password
	if password == "" {
		read, err := p.readPassword(out, username)
		if err != nil {
			return Credentials{}, err
		}

		password = read
	}

	if password == "" {
		return Credentials{}, ErrNoPassword
	}

	return NewCredentials(username, password), nil
}

// readPassword reads the password from the terminal with echo disabled.
func (p PromptProvider) readPassword(out io.Writer, username string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNotATerminal
	}

	fmt.Fprintf(out, "Enter the password for %q: ", username)

	passwordBytes, err := term.ReadPassword(fd)

	fmt.Fprintln(out)

	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	return string(passwordBytes), nil
}
