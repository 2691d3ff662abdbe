package gate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	lkerr "luka/internal/errors"
)

// Challenge wire text.
const (
	PasswordPrompt = "Password: "
	AuthFailed     = "Authentication failed.\n"
	AuthOK         = "Authentication successful.\n"
)

// Secret runs a plaintext password challenge on the client socket.
//
// The secret crosses the wire unencrypted, so it only keeps out casual
// scanners; it is no defence against anyone who can observe traffic.
type Secret struct {
	Secret  []byte
	Timeout time.Duration // read deadline for the response
	MaxLen  int           // longest response read
}

// NewSecret returns a challenge gate for secret.
func NewSecret(secret string, timeout time.Duration, maxLen int) *Secret {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Secret{Secret: []byte(secret), Timeout: timeout, MaxLen: maxLen}
}

// Admit writes the prompt, reads one line (or up to MaxLen bytes) and
// compares it with the secret after stripping one trailing "\n" or
// "\r\n".  The outcome is reported to the peer either way.
func (s *Secret) Admit(ctx context.Context, conn net.Conn) error {
	deadline := time.Now().Add(s.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", lkerr.ErrAdmissionDenied, err)
	}
	defer conn.SetDeadline(time.Time{}) //nolint:errcheck

	if _, err := io.WriteString(conn, PasswordPrompt); err != nil {
		return fmt.Errorf("%w: writing prompt: %v", lkerr.ErrAdmissionDenied, err)
	}

	// Only a full line, MaxLen bytes, or EOF gets compared.  A timeout
	// rejects whatever arrived before it.
	resp, err := readLine(conn, s.MaxLen)
	if err != nil && !(errors.Is(err, io.EOF) && len(resp) > 0) {
		s.reply(conn, AuthFailed) //nolint:errcheck
		if lkerr.IsTimeout(err) {
			return fmt.Errorf("%w: %w", lkerr.ErrAdmissionDenied, lkerr.ErrTimeout)
		}
		return fmt.Errorf("%w: reading response: %v", lkerr.ErrAdmissionDenied, err)
	}

	if subtle.ConstantTimeCompare(trimLineEnd(resp), s.Secret) != 1 {
		s.reply(conn, AuthFailed) //nolint:errcheck
		return fmt.Errorf("%w: %w", lkerr.ErrAdmissionDenied, lkerr.ErrAuthFailed)
	}
	if err := s.reply(conn, AuthOK); err != nil {
		return fmt.Errorf("%w: %v", lkerr.ErrAdmissionDenied, err)
	}
	return nil
}

// reply writes msg under a fresh write deadline; the read deadline may
// already have expired.
func (s *Secret) reply(conn net.Conn, msg string) error {
	conn.SetWriteDeadline(time.Now().Add(s.Timeout)) //nolint:errcheck
	_, err := io.WriteString(conn, msg)
	return err
}

// readLine reads single bytes until '\n', max bytes, or an error.
// Byte-wise reads leave anything after the line in the socket for the
// relay.
func readLine(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = 1024
	}
	buf := make([]byte, 0, 64)
	var b [1]byte
	for len(buf) < max {
		n, err := r.Read(b[:])
		if n == 1 {
			buf = append(buf, b[0])
			if b[0] == '\n' {
				return buf, nil
			}
		}
		if err != nil {
			return buf, err
		}
	}
	return buf, nil
}

func trimLineEnd(b []byte) []byte {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
		if n > 0 && b[n-1] == '\r' {
			n--
		}
	}
	return b[:n]
}
