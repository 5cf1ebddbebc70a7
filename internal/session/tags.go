package session

import "github.com/fenilsonani/imapwatch/internal/wire"

// TagKind identifies which lifecycle step or pipeline stage a dispatched
// command's tag belongs to, so the state machine's transition function
// is a single switch over this variant plus the arrived status (spec §9:
// "a type-safe reformulation: store a tagged variant ... the state
// machine's transition function is a single match on this variant plus
// the arrived status").
type TagKind int

const (
	AwaitCapability TagKind = iota
	AwaitStarttls
	AwaitLogin
	AwaitSelect
	AwaitFetch
	AwaitList
	AwaitCreate
	AwaitMove
	AwaitIdle
	AwaitDone
	AwaitLogout
	AwaitGeneric
)

// FetchTagData carries the extra context an AwaitFetch tag needs: which
// sequence number this FETCH command served, and which pipeline stage
// completing it should advance to.
type FetchTagData struct {
	Seq       int
	NextStage FetchStage
}

// TagEntry is installed when a command is sent and removed when its
// tagged response arrives (spec §3's Tag Entry).
type TagEntry struct {
	Kind        TagKind
	CommandText string
	FetchData   FetchTagData
}

// TagTable is the outstanding-tag table: every unacknowledged command
// tag appears here exactly until its tagged response arrives (spec §3
// invariant (a)).
type TagTable struct {
	next    int
	entries map[int]TagEntry
}

// NewTagTable returns an empty table with tags starting at 0 (spec §4.5:
// "Numeric tags are monotonically increasing per session starting at 0").
func NewTagTable() *TagTable {
	return &TagTable{entries: make(map[int]TagEntry)}
}

// Reserve allocates the next tag and installs entry for it.
func (t *TagTable) Reserve(entry TagEntry) int {
	tag := t.next
	t.next++
	t.entries[tag] = entry
	return tag
}

// Put reinstalls entry under an already-reserved tag, e.g. to change an
// outstanding IDLE tag's Kind to AwaitDone once DONE has been written
// (IMAP's IDLE command's tagged response arrives under its original
// tag regardless of the intervening untagged DONE line).
func (t *TagTable) Put(tag int, entry TagEntry) {
	t.entries[tag] = entry
}

// Take removes and returns the entry for tag, if present.
func (t *TagTable) Take(tag int) (TagEntry, bool) {
	e, ok := t.entries[tag]
	if ok {
		delete(t.entries, tag)
	}
	return e, ok
}

// Peek returns the entry for tag without removing it.
func (t *TagTable) Peek(tag int) (TagEntry, bool) {
	e, ok := t.entries[tag]
	return e, ok
}

// Outstanding reports how many tags are currently unacknowledged.
func (t *TagTable) Outstanding() int {
	return len(t.entries)
}

// MatchesTagged reports whether a as a wire.TaggedResponse corresponds
// to a known outstanding tag, returning its entry if so.
func MatchesTagged(t *TagTable, a wire.TaggedResponse) (TagEntry, bool) {
	return t.Take(a.Tag)
}
