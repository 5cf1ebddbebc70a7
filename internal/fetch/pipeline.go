package fetch

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fenilsonani/imapwatch/internal/dispatch"
	"github.com/fenilsonani/imapwatch/internal/logging"
	"github.com/fenilsonani/imapwatch/internal/metrics"
	"github.com/fenilsonani/imapwatch/internal/security"
	"github.com/fenilsonani/imapwatch/internal/session"
	"github.com/fenilsonani/imapwatch/internal/wire"
)

// Pipeline drives the staged FETCH sequence for every tracked sequence
// number in a session's Index (spec.md §4.4). At most one stage command
// is outstanding across the whole pipeline at a time (spec.md: "at most
// one pipeline stage command is in flight at a time ... processed in
// ascending order"): a sequence number that arrives while another is
// still in flight is queued and only begins once the pipeline frees up.
type Pipeline struct {
	sess       *session.Session
	dispatcher *dispatch.Dispatcher
	logger     *logging.Logger
	verifier   *security.DKIMVerifier

	active  bool  // a stage command is outstanding for some sequence
	pending []int // sequence numbers awaiting their first stage command, in arrival (ascending) order
}

// New returns a Pipeline driving sess's fetch stages through dispatcher.
// verifier may be nil, in which case DKIM verification is skipped.
func New(sess *session.Session, dispatcher *dispatch.Dispatcher, logger *logging.Logger, verifier *security.DKIMVerifier) *Pipeline {
	return &Pipeline{sess: sess, dispatcher: dispatcher, logger: logger, verifier: verifier}
}

// Start begins tracking seq. If no stage command is currently
// outstanding for another sequence, seq's first command is issued right
// away; otherwise seq is queued and begins once the pipeline frees up.
// Called when EXISTS grows (spec.md §4.4: "for each newly known
// sequence number").
func (p *Pipeline) Start(ctx context.Context, seq int) error {
	p.sess.Index.StartTracking(seq)
	if p.active {
		p.pending = append(p.pending, seq)
		return nil
	}
	return p.beginSeq(ctx, seq)
}

// beginSeq marks the pipeline busy and starts seq's stage progression.
func (p *Pipeline) beginSeq(ctx context.Context, seq int) error {
	p.active = true
	return p.advance(ctx, seq)
}

// finishSeq marks seq done, frees the pipeline, and starts the next
// queued sequence number, if any.
func (p *Pipeline) finishSeq(ctx context.Context) error {
	p.active = false
	if len(p.pending) == 0 {
		return nil
	}
	next := p.pending[0]
	p.pending = p.pending[1:]
	return p.beginSeq(ctx, next)
}

// advance inspects seq's current stage and subscriber requirements and
// issues the next FETCH command, or finalizes/drops the message when no
// further command is needed.
func (p *Pipeline) advance(ctx context.Context, seq int) error {
	pm, ok := p.sess.Index.Get(seq)
	if !ok {
		return nil
	}

	switch pm.Stage {
	case session.StageNone:
		return p.advanceFromNone(ctx, pm)
	case session.StageFilter:
		return p.advanceFromFilter(ctx, pm)
	case session.StagePreBody:
		return p.advanceFromPreBody(ctx, pm)
	case session.StageFull:
		return p.finalize(ctx, pm)
	}
	return nil
}

func (p *Pipeline) advanceFromNone(ctx context.Context, pm *session.PartialMessage) error {
	needFlags := p.sess.Subs.NeedsFlags() && !pm.FlagsFetched
	needEnvelope := p.sess.Subs.NeedsEnvelope() && !pm.EnvelopeFetched

	if !needFlags && !needEnvelope {
		pm.Stage = session.StageFilter
		return p.advance(ctx, pm.Seq)
	}

	var attrs []string
	if needFlags {
		attrs = append(attrs, "FLAGS")
	}
	if needEnvelope {
		attrs = append(attrs, "ENVELOPE")
	}
	return p.sendFetch(ctx, pm.Seq, attrs, session.FetchTagData{Seq: pm.Seq, NextStage: session.StageFilter})
}

func (p *Pipeline) advanceFromFilter(ctx context.Context, pm *session.PartialMessage) error {
	if !p.sess.Subs.AnyCouldAccept(pm) {
		p.sess.Index.Remove(pm.Seq)
		metrics.RecordDropped("filter-reject")
		if p.logger != nil {
			p.logger.InfoContext(ctx, "dropping message: no subscriber filter could accept it", "seq", pm.Seq)
		}
		return p.finishSeq(ctx)
	}

	var attrs []string
	if !pm.BodyStructureFetched {
		attrs = append(attrs, "BODY")
	}
	if !pm.FlagsFetched {
		attrs = append(attrs, "FLAGS")
	}
	if !pm.EnvelopeFetched {
		attrs = append(attrs, "ENVELOPE")
	}
	if len(attrs) == 0 {
		pm.Stage = session.StagePreBody
		return p.advance(ctx, pm.Seq)
	}
	return p.sendFetch(ctx, pm.Seq, attrs, session.FetchTagData{Seq: pm.Seq, NextStage: session.StagePreBody})
}

func (p *Pipeline) advanceFromPreBody(ctx context.Context, pm *session.PartialMessage) error {
	if pm.BodyStructure == nil {
		// Body structure never arrived (malformed/unsupported shape);
		// nothing further to fetch for this sequence.
		p.sess.Index.Remove(pm.Seq)
		metrics.RecordDropped("no-body-structure")
		return p.finishSeq(ctx)
	}

	paths := LeafPaths(pm.BodyStructure)
	attrs := make([]string, 0, len(paths)+1)
	if !pm.HeaderFetched {
		attrs = append(attrs, "BODY.PEEK[HEADER]")
	}
	for _, path := range paths {
		attrs = append(attrs, fmt.Sprintf("BODY.PEEK[%s]", joinPath(path)))
	}
	if len(attrs) == 0 {
		pm.Stage = session.StageFull
		return p.advance(ctx, pm.Seq)
	}
	return p.sendFetch(ctx, pm.Seq, attrs, session.FetchTagData{Seq: pm.Seq, NextStage: session.StageFull})
}

func (p *Pipeline) finalize(ctx context.Context, pm *session.PartialMessage) error {
	p.sess.Index.Remove(pm.Seq)

	tree := BuildTree(pm.BodyStructure, pm.Parts)

	msg := session.Message{
		Seq:          pm.Seq,
		Flags:        pm.Flags,
		Body:         tree,
		DKIMVerified: p.verifyDKIM(pm),
	}
	if pm.Envelope != nil {
		msg.Date = unixSeconds(pm.Envelope.Date)
		msg.Subject = pm.Envelope.Subject
		msg.From = mirrorAddresses(pm.Envelope.From)
		msg.Sender = mirrorAddresses(pm.Envelope.Sender)
		msg.ReplyTo = mirrorAddresses(pm.Envelope.ReplyTo)
		msg.To = mirrorAddresses(pm.Envelope.To)
		msg.Cc = mirrorAddresses(pm.Envelope.Cc)
		msg.Bcc = mirrorAddresses(pm.Envelope.Bcc)
		msg.InReplyTo = pm.Envelope.InReplyTo
		msg.MessageID = pm.Envelope.MessageID
	}

	delivered := false
	for _, sub := range p.sess.Subs.All() {
		if sub.Filter.Accepts(pm) {
			sub.Target.Deliver(msg)
			delivered = true
		}
	}
	if delivered {
		metrics.MessagesDelivered.Inc()
	} else {
		metrics.RecordDropped("no-subscriber-accepted")
	}
	return p.finishSeq(ctx)
}

func (p *Pipeline) verifyDKIM(pm *session.PartialMessage) *bool {
	if p.verifier == nil || !pm.HeaderFetched {
		return nil
	}
	var raw bytes.Buffer
	raw.Write(pm.Header)
	raw.WriteString("\r\n")
	for _, part := range pm.Parts {
		raw.Write(part.Content)
	}
	ok, err := p.verifier.Verify(raw.Bytes())
	if err != nil {
		return nil
	}
	return &ok
}

func (p *Pipeline) sendFetch(ctx context.Context, seq int, attrs []string, tagData session.FetchTagData) error {
	command := fmt.Sprintf("FETCH %d (%s)", seq, strings.Join(attrs, " "))
	_, err := p.dispatcher.Send(p.sess, command, session.TagEntry{
		Kind:      session.AwaitFetch,
		FetchData: tagData,
	})
	if err != nil {
		return fmt.Errorf("fetch: send stage command for seq %d: %w", seq, err)
	}
	metrics.RecordCommand("FETCH")
	if p.logger != nil {
		p.logger.DebugContext(ctx, "fetch stage command sent", "seq", seq, "command", command)
	}
	return nil
}

// HandleFetchAttr applies one decoded FETCH attribute to its tracked
// PartialMessage. Attributes for a sequence not in the index are
// ignored (spec.md §4.4 edge case: the server may push updates for
// already-processed messages).
func (p *Pipeline) HandleFetchAttr(a wire.FetchAttr) {
	pm, ok := p.sess.Index.Get(a.Seq)
	if !ok {
		return
	}
	switch a.Kind {
	case wire.FetchFlags:
		pm.Flags = a.Flags
		pm.FlagsFetched = true
	case wire.FetchEnvelope:
		pm.Envelope = a.Envelope
		pm.EnvelopeFetched = true
	case wire.FetchBodyStructure:
		pm.BodyStructure = a.BodyStructure
		pm.BodyStructureFetched = true
	case wire.FetchBodyContent:
		if a.Section == "HEADER" {
			pm.Header = a.Content
			pm.HeaderFetched = true
			return
		}
		if a.Path != nil {
			pm.Parts = append(pm.Parts, session.BodyContent{Path: a.Path, Content: a.Content})
		}
	}
}

// HandleTagResolved advances seq's stage once its in-flight FETCH tag
// resolves with OK. A non-OK status drops the message without
// delivering it rather than retrying (the fetch pipeline has no retry
// policy, spec.md §7).
func (p *Pipeline) HandleTagResolved(ctx context.Context, data session.FetchTagData, status wire.Status) error {
	pm, ok := p.sess.Index.Get(data.Seq)
	if !ok {
		// The resolved tag's sequence is no longer tracked (e.g. it was
		// expunged while its FETCH was outstanding); the pipeline is
		// still free to move on.
		return p.finishSeq(ctx)
	}
	if status != wire.StatusOK {
		p.sess.Index.Remove(data.Seq)
		metrics.RecordDropped("fetch-error")
		return p.finishSeq(ctx)
	}
	pm.Stage = data.NextStage
	return p.advance(ctx, data.Seq)
}

func joinPath(path []int) string {
	parts := make([]string, len(path))
	for i, n := range path {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

func unixSeconds(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	sec := t.Unix()
	return &sec
}

func mirrorAddresses(addrs []wire.Address) []session.Address {
	if addrs == nil {
		return nil
	}
	out := make([]session.Address, len(addrs))
	for i, a := range addrs {
		out[i] = session.Address{Name: a.Name, Mailbox: a.Mailbox}
	}
	return out
}
