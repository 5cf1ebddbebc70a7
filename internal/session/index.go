// Package session holds the durable session record for one IMAP
// connection: phase, mailbox snapshot, tag table, subscriber list, and
// the unprocessed-message index. It owns no transport and runs no I/O —
// it is pure state plus the rules for mutating it from parsed wire
// Actions, kept separate so the state machine and fetch pipeline can be
// tested against it without a socket.
package session

import (
	"sort"

	"github.com/fenilsonani/imapwatch/internal/wire"
)

// FetchStage is the PartialMessage's position in the fetch pipeline.
type FetchStage int

const (
	StageNone FetchStage = iota
	StageFilter
	StagePreBody
	StageFull
)

// BodyContent is one collected body-part payload, keyed by its dotted
// path (e.g. "1.3.2"), still encoded as the server sent it.
type BodyContent struct {
	Path    []int
	Content []byte
}

// PartialMessage accumulates fetch results for one sequence number
// across the pipeline's stages.
type PartialMessage struct {
	Seq   int
	Stage FetchStage

	FlagsFetched bool
	Flags        []string

	EnvelopeFetched bool
	Envelope        *wire.Envelope

	BodyStructureFetched bool
	BodyStructure        wire.BodyStructure

	// HeaderFetched/Header hold the raw BODY[HEADER] bytes collected for
	// DKIM verification, independent of the body-structure leaf parts.
	HeaderFetched bool
	Header        []byte

	Parts []BodyContent
}

// Index is the ordered mapping from sequence number to PartialMessage,
// covering every message the session has started, but not finished,
// fetching. Invariant: every key lies within 1..existsCount at all times
// (spec §3); ApplyExpunge enforces this on EXPUNGE.
type Index struct {
	byOrder []*PartialMessage
	bySeq   map[int]*PartialMessage
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{bySeq: make(map[int]*PartialMessage)}
}

// StartTracking begins tracking seq if it is not already tracked.
func (ix *Index) StartTracking(seq int) *PartialMessage {
	if pm, ok := ix.bySeq[seq]; ok {
		return pm
	}
	pm := &PartialMessage{Seq: seq}
	ix.bySeq[seq] = pm
	ix.byOrder = append(ix.byOrder, pm)
	return pm
}

// Get returns the tracked message for seq, if any.
func (ix *Index) Get(seq int) (*PartialMessage, bool) {
	pm, ok := ix.bySeq[seq]
	return pm, ok
}

// Remove stops tracking seq (fetch completed, discarded by filters, or
// expunged).
func (ix *Index) Remove(seq int) {
	if _, ok := ix.bySeq[seq]; !ok {
		return
	}
	delete(ix.bySeq, seq)
	for i, pm := range ix.byOrder {
		if pm.Seq == seq {
			ix.byOrder = append(ix.byOrder[:i], ix.byOrder[i+1:]...)
			break
		}
	}
}

// ApplyExpunge renumbers the index after `EXPUNGE e`: the entry at
// sequence e (if tracked) is removed, and every tracked entry at a
// sequence greater than e is decremented by one (spec §3, §4.4).
func (ix *Index) ApplyExpunge(e int) {
	ix.Remove(e)
	renumbered := make(map[int]*PartialMessage, len(ix.bySeq))
	for seq, pm := range ix.bySeq {
		if seq > e {
			pm.Seq = seq - 1
			renumbered[pm.Seq] = pm
		} else {
			renumbered[seq] = pm
		}
	}
	ix.bySeq = renumbered
}

// Seqs returns the tracked sequence numbers in ascending ready-order
// (lowest sequence number first, per spec §4.4's pipeline ordering rule).
func (ix *Index) Seqs() []int {
	seqs := make([]int, 0, len(ix.bySeq))
	for seq := range ix.bySeq {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs
}

// Len reports how many sequence numbers are currently tracked.
func (ix *Index) Len() int {
	return len(ix.bySeq)
}
