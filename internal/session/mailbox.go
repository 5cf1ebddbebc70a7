package session

import "github.com/fenilsonani/imapwatch/internal/wire"

// Phase is a session's position in the IMAP connection lifecycle.
type Phase int

const (
	PhaseNotAuthenticated Phase = iota
	PhaseAuthenticated
	PhaseSelected
)

func (p Phase) String() string {
	switch p {
	case PhaseNotAuthenticated:
		return "not-authenticated"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseSelected:
		return "selected"
	default:
		return "unknown"
	}
}

// Mutability is the selected mailbox's access mode.
type Mutability int

const (
	ReadWrite Mutability = iota
	ReadOnly
)

// Mailbox is the durable per-mailbox snapshot, mutated only by applying
// parsed wire Actions (spec §3).
type Mailbox struct {
	Name            string
	Mutability      Mutability
	UIDValidity     uint32
	UIDNext         uint32
	ExistsCount     int
	RecentCount     int
	FirstUnseen     int
	PermanentFlags  []string
	ApplicableFlags []string
}

// Apply folds one parsed Action into the mailbox snapshot. It returns
// true if applying the action means a new, not-yet-tracked sequence
// number appeared (EXISTS growing) — the caller uses this to know when
// to start the fetch pipeline for the new messages.
func (mb *Mailbox) Apply(a wire.Action) (grew bool) {
	switch v := a.(type) {
	case wire.Exists:
		grew = v.Count > mb.ExistsCount
		mb.ExistsCount = v.Count
	case wire.Recent:
		mb.RecentCount = v.Count
	case wire.PermanentFlags:
		mb.PermanentFlags = v.Flags
	case wire.ApplicableFlags:
		mb.ApplicableFlags = v.Flags
	case wire.UIDValidity:
		mb.UIDValidity = v.Value
	case wire.UIDNext:
		mb.UIDNext = v.Value
	case wire.Unseen:
		mb.FirstUnseen = v.SeqNum
	case wire.ReadOnly:
		mb.Mutability = ReadOnly
	case wire.ReadWrite:
		mb.Mutability = ReadWrite
	}
	return grew
}
