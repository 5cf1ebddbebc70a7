// Package dispatch serializes outgoing IMAP commands: it assigns the
// next numeric tag, quotes astring arguments, refuses embedded CR/LF,
// installs a tag-table entry, and writes the command line to the
// transport (spec §4.5).
package dispatch

import (
	"fmt"
	"strings"

	"github.com/fenilsonani/imapwatch/internal/session"
	"github.com/fenilsonani/imapwatch/internal/transport"
)

// ErrInvalidArgument is returned when a command argument contains a bare
// CR or LF — IMAP has no way to quote those inside a non-literal string,
// and literal-encoding such arguments is explicitly left a TODO by this
// spec (spec §4.5).
type ErrInvalidArgument struct {
	Value string
}

func (e *ErrInvalidArgument) Error() string {
	return fmt.Sprintf("dispatch: argument contains CR or LF: %q", e.Value)
}

// Dispatcher writes tagged commands to a transport and tracks them in a
// session's tag table.
type Dispatcher struct {
	tr transport.Transport
}

// New returns a Dispatcher writing to tr.
func New(tr transport.Transport) *Dispatcher {
	return &Dispatcher{tr: tr}
}

// Send reserves the next tag, installs entry in s.Tags, writes
// "<tag> <command>\r\n" to the transport, and returns the tag used.
func (d *Dispatcher) Send(s *session.Session, command string, entry session.TagEntry) (int, error) {
	tag := s.Tags.Reserve(entry)
	line := fmt.Sprintf("%d %s\r\n", tag, command)
	if err := d.tr.Send([]byte(line)); err != nil {
		return tag, err
	}
	return tag, nil
}

// SendRaw writes raw bytes with no tag (used for the IDLE "DONE\r\n"
// continuation line, which carries no tag of its own).
func (d *Dispatcher) SendRaw(line string) error {
	return d.tr.Send([]byte(line))
}

// QuoteAString renders s as an IMAP quoted string, escaping backslash
// and double-quote. It fails if s contains CR or LF (spec §4.5).
func QuoteAString(s string) (string, error) {
	if strings.ContainsAny(s, "\r\n") {
		return "", &ErrInvalidArgument{Value: s}
	}
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' || c == '"' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	sb.WriteByte('"')
	return sb.String(), nil
}
