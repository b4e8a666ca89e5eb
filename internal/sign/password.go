package sign

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/historify-project/historify/pkg/errclass"
)

// PasswordEnv supplies the signing password non-interactively.
const PasswordEnv = "HISTORIFY_PASSWORD"

// PasswordSource yields the key password. The caller zeroes the returned
// buffer after use; the password is never logged or written to disk.
type PasswordSource func() ([]byte, error)

// DefaultPasswordSource consults HISTORIFY_PASSWORD, then falls back to an
// interactive no-echo prompt when stdin is a terminal.
func DefaultPasswordSource() ([]byte, error) {
	if v, ok := os.LookupEnv(PasswordEnv); ok {
		return []byte(v), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errclass.ErrPasswordRequired.WithMessagef(
			"key is encrypted and %s is not set", PasswordEnv)
	}
	fmt.Fprint(os.Stderr, "minisign key password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, errclass.ErrPasswordRequired.WithMessagef("read password: %v", err)
	}
	return pw, nil
}

// StaticPassword returns a source that always yields a copy of pw.
func StaticPassword(pw string) PasswordSource {
	return func() ([]byte, error) {
		return []byte(pw), nil
	}
}

// Zero wipes a password buffer.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
