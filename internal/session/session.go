package session

import "strings"

// Session is the durable record for one IMAP connection (spec §3).
// It owns the tag table, capability set, mailbox snapshot, subscriber
// list, and unprocessed-message index exclusively; it performs no I/O
// itself — the state machine and fetch pipeline packages mutate it in
// response to parsed wire Actions and issue commands through the
// dispatcher.
type Session struct {
	Name     string
	Phase    Phase
	UsingTLS bool

	// Password is cleared immediately after the LOGIN command is
	// written (spec §3 invariant (b), §9 "Password handling").
	Password string

	Capabilities []string

	// Mailbox is populated iff Phase == PhaseSelected (spec §3 invariant (c)).
	Mailbox *Mailbox

	Tags  *TagTable
	Index *Index
	Subs  *Subscribers

	// Idling is true iff exactly one outstanding IDLE tag is installed
	// and the idle timer is armed (spec §3 invariant (d)).
	Idling  bool
	IdleTag int
}

// New returns a freshly constructed Session ready to begin the Greeting
// phase.
func New(name string) *Session {
	return &Session{
		Name:  name,
		Phase: PhaseNotAuthenticated,
		Tags:  NewTagTable(),
		Index: NewIndex(),
		Subs:  &Subscribers{},
	}
}

// HasCapability reports whether token (case-insensitive) is in the
// session's advertised capability set.
func (s *Session) HasCapability(token string) bool {
	for _, c := range s.Capabilities {
		if strings.EqualFold(c, token) {
			return true
		}
	}
	return false
}

// ClearPassword overwrites the password field once the LOGIN command
// buffer has been handed to the transport (spec §9).
func (s *Session) ClearPassword() {
	s.Password = ""
}
