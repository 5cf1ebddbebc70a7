// Package statemachine drives one IMAP connection's lifecycle: greeting,
// capability negotiation, optional STARTTLS, login, mailbox selection,
// and the steady-state IDLE/NOOP loop that feeds newly observed
// sequence numbers into the fetch pipeline (spec.md §4.3, §5).
//
// A Machine owns its Transport, Session, Dispatcher, and fetch Pipeline
// exclusively; Run is the only goroutine that ever mutates the Session
// or writes to the transport. Reads happen on a second goroutine that
// exists purely to turn blocking I/O into a channel Run can select on
// alongside the idle timer and the inbox of subscriber commands — the
// session still behaves as the single cooperative task spec.md §5
// describes, it just uses Go's ordinary reader-goroutine-plus-channel
// idiom to do it.
package statemachine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fenilsonani/imapwatch/internal/audit"
	"github.com/fenilsonani/imapwatch/internal/dispatch"
	"github.com/fenilsonani/imapwatch/internal/fetch"
	"github.com/fenilsonani/imapwatch/internal/logging"
	"github.com/fenilsonani/imapwatch/internal/metrics"
	"github.com/fenilsonani/imapwatch/internal/security"
	"github.com/fenilsonani/imapwatch/internal/session"
	"github.com/fenilsonani/imapwatch/internal/statuspub"
	"github.com/fenilsonani/imapwatch/internal/transport"
	"github.com/fenilsonani/imapwatch/internal/wire"
)

// Config carries what the machine needs beyond the session itself: the
// credentials it logs in with, the mailbox it selects, and the idle
// loop's timing.
type Config struct {
	Username string
	Password string
	Mailbox  string

	IdleRefresh    time.Duration // how long to hold one IDLE before cycling DONE/IDLE (spec.md §4.3: ~27m)
	CommandTimeout time.Duration
	NoopInterval   time.Duration // polling interval when the server lacks IDLE
}

// ListEntry is one mailbox returned by List.
type ListEntry struct {
	Name      string
	Delimiter string
	Flags     []string
}

type subscribeCmd struct {
	target   session.Sink
	filter   session.Filter
	resultCh chan uint64
}

type unsubscribeCmd struct {
	id       uint64
	resultCh chan bool
}

type listCmd struct {
	reference string
	pattern   string
	resultCh  chan listResult
}

type listResult struct {
	entries []ListEntry
	err     error
}

type capabilitiesCmd struct {
	resultCh chan []string
}

type closeCmd struct{}

// Machine runs one session's full lifecycle until the context is
// cancelled, the server closes the connection, or a fatal protocol
// error occurs.
type Machine struct {
	sess     *session.Session
	tr       transport.Transport
	disp     *dispatch.Dispatcher
	pipeline *fetch.Pipeline
	logger   *logging.Logger
	status   *statuspub.Publisher
	ledger   *audit.Ledger
	cfg      Config
	tlsFn    func() error // performs STARTTLS handshake on tr; nil if TLS was already established at dial time

	inbox chan any

	pendingList map[int]*pendingListFetch
}

type pendingListFetch struct {
	entries  []ListEntry
	resultCh chan listResult
}

// New returns a Machine ready to Run. tlsUpgrade, if non-nil, is called
// to perform a STARTTLS handshake in place on tr; pass nil when the
// connection is already TLS (implicit TLS at dial time). verifier may be
// nil to disable DKIM verification on delivered messages.
func New(sess *session.Session, tr transport.Transport, logger *logging.Logger, status *statuspub.Publisher, ledger *audit.Ledger, verifier *security.DKIMVerifier, cfg Config, tlsUpgrade func() error) *Machine {
	disp := dispatch.New(tr)
	m := &Machine{
		sess:        sess,
		tr:          tr,
		disp:        disp,
		logger:      logger,
		status:      status,
		ledger:      ledger,
		cfg:         cfg,
		tlsFn:       tlsUpgrade,
		inbox:       make(chan any, 16),
		pendingList: make(map[int]*pendingListFetch),
	}
	m.pipeline = fetch.New(sess, disp, logger, verifier)
	return m
}

// Subscribe registers target with filter, processed on the session's own
// goroutine. Safe to call concurrently with Run.
func (m *Machine) Subscribe(ctx context.Context, target session.Sink, filter session.Filter) (uint64, error) {
	resultCh := make(chan uint64, 1)
	select {
	case m.inbox <- subscribeCmd{target: target, filter: filter, resultCh: resultCh}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case id := <-resultCh:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Unsubscribe removes the subscriber with the given ID.
func (m *Machine) Unsubscribe(ctx context.Context, id uint64) (bool, error) {
	resultCh := make(chan bool, 1)
	select {
	case m.inbox <- unsubscribeCmd{id: id, resultCh: resultCh}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-resultCh:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Capabilities returns the session's currently advertised capability set.
func (m *Machine) Capabilities(ctx context.Context) ([]string, error) {
	resultCh := make(chan []string, 1)
	select {
	case m.inbox <- capabilitiesCmd{resultCh: resultCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case caps := <-resultCh:
		return caps, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// List issues a LIST command and returns the matched mailboxes.
func (m *Machine) List(ctx context.Context, reference, pattern string) ([]ListEntry, error) {
	resultCh := make(chan listResult, 1)
	select {
	case m.inbox <- listCmd{reference: reference, pattern: pattern, resultCh: resultCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-resultCh:
		return res.entries, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close requests a graceful LOGOUT and session shutdown.
func (m *Machine) Close() {
	select {
	case m.inbox <- closeCmd{}:
	default:
	}
}

// Run drives the session until ctx is cancelled or the connection ends.
// It blocks the calling goroutine; callers typically invoke it in its
// own goroutine (spec.md §5: one logical task per session).
func (m *Machine) Run(ctx context.Context) error {
	packetCh := make(chan []byte)
	errCh := make(chan error, 1)
	go m.readLoop(packetCh, errCh)

	if err := m.awaitGreeting(packetCh, errCh); err != nil {
		return err
	}
	if err := m.sendCapability(); err != nil {
		return err
	}

	for {
		if err := m.maybeEnterIdle(); err != nil {
			return err
		}

		var pollTimer <-chan time.Time
		var timer *time.Timer
		switch {
		case m.sess.Idling:
			timer = time.NewTimer(nonZero(m.cfg.IdleRefresh, 27*time.Minute))
			pollTimer = timer.C
		case m.sess.Phase == session.PhaseSelected && !m.sess.HasCapability("IDLE"):
			// No IDLE support: fall back to polling with NOOP (spec.md
			// §4.3 step 6) so new mail is still observed.
			timer = time.NewTimer(nonZero(m.cfg.NoopInterval, 5*time.Second))
			pollTimer = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			m.shutdown()
			return ctx.Err()

		case err := <-errCh:
			if timer != nil {
				timer.Stop()
			}
			return fmt.Errorf("statemachine: transport closed: %w", err)

		case packet := <-packetCh:
			if timer != nil {
				timer.Stop()
			}
			if err := m.handlePacket(ctx, packet); err != nil {
				return err
			}

		case <-pollTimer:
			if m.sess.Idling {
				if err := m.cycleIdle(); err != nil {
					return err
				}
			} else if err := m.sendNoop(); err != nil {
				return err
			}

		case cmd := <-m.inbox:
			if done := m.handleCommand(cmd); done {
				if timer != nil {
					timer.Stop()
				}
				m.shutdown()
				return nil
			}
		}
	}
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func (m *Machine) readLoop(packetCh chan<- []byte, errCh chan<- error) {
	for {
		packet, err := wire.ReadPacket(m.tr)
		if err != nil {
			errCh <- err
			return
		}
		packetCh <- packet
	}
}

func (m *Machine) awaitGreeting(packetCh <-chan []byte, errCh <-chan error) error {
	select {
	case packet := <-packetCh:
		if _, err := wire.ParsePacket(packet); err != nil {
			metrics.ParseErrors.Inc()
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("statemachine: reading greeting: %w", err)
	}
}

func (m *Machine) sendCapability() error {
	_, err := m.disp.Send(m.sess, "CAPABILITY", session.TagEntry{Kind: session.AwaitCapability})
	if err != nil {
		return fmt.Errorf("statemachine: send CAPABILITY: %w", err)
	}
	metrics.RecordCommand("CAPABILITY")
	return nil
}

// maybeEnterIdle sends IDLE when the session is quiescent: Selected,
// nothing outstanding, and nothing queued in the fetch index.
func (m *Machine) maybeEnterIdle() error {
	if m.sess.Phase != session.PhaseSelected {
		return nil
	}
	if m.sess.Idling || m.sess.Tags.Outstanding() > 0 || m.sess.Index.Len() > 0 {
		return nil
	}
	if !m.sess.HasCapability("IDLE") {
		return nil
	}
	tag, err := m.disp.Send(m.sess, "IDLE", session.TagEntry{Kind: session.AwaitIdle})
	if err != nil {
		return fmt.Errorf("statemachine: send IDLE: %w", err)
	}
	metrics.RecordCommand("IDLE")
	m.sess.Idling = true
	m.sess.IdleTag = tag
	return nil
}

// cycleIdle ends the current IDLE with DONE and immediately restarts it
// once the tagged OK arrives (handled in handleTagged's AwaitDone case).
func (m *Machine) cycleIdle() error {
	if !m.sess.Idling {
		return nil
	}
	if err := m.disp.SendRaw("DONE\r\n"); err != nil {
		return fmt.Errorf("statemachine: send DONE: %w", err)
	}
	// The server's tagged response to DONE arrives under IDLE's original
	// tag; re-key its entry's Kind so handleTagged recognizes it as the
	// cycle's completion rather than a stray IDLE start.
	if entry, ok := m.sess.Tags.Peek(m.sess.IdleTag); ok {
		entry.Kind = session.AwaitDone
		m.sess.Tags.Put(m.sess.IdleTag, entry)
	}
	metrics.IdleRounds.Inc()
	return nil
}

// sendNoop polls a non-IDLE-capable server for mailbox updates (spec.md
// §4.3 step 6). The tagged OK is handled as a soft no-op; any EXISTS/
// EXPUNGE/FETCH the server piggybacks on the response arrives as
// ordinary untagged data through handlePacket.
func (m *Machine) sendNoop() error {
	_, err := m.disp.Send(m.sess, "NOOP", session.TagEntry{Kind: session.AwaitGeneric})
	if err != nil {
		return fmt.Errorf("statemachine: send NOOP: %w", err)
	}
	metrics.RecordCommand("NOOP")
	return nil
}

func (m *Machine) handlePacket(ctx context.Context, packet []byte) error {
	actions, err := wire.ParsePacket(packet)
	if err != nil {
		metrics.ParseErrors.Inc()
		if m.logger != nil {
			m.logger.ErrorContext(ctx, "packet parse failed", err)
		}
		return fmt.Errorf("statemachine: parse packet: %w", err)
	}
	for _, a := range actions {
		if err := m.applyAction(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) applyAction(ctx context.Context, a wire.Action) error {
	switch v := a.(type) {
	case wire.TaggedResponse:
		return m.handleTagged(ctx, v)

	case wire.Capabilities:
		m.sess.Capabilities = v.Tokens

	case wire.Exists, wire.Recent, wire.PermanentFlags, wire.UIDValidity, wire.UIDNext, wire.Unseen, wire.ReadOnly, wire.ReadWrite:
		return m.applyMailboxAction(ctx, a)

	case wire.Expunge:
		if m.sess.Mailbox != nil && m.sess.Mailbox.ExistsCount > 0 {
			m.sess.Mailbox.ExistsCount--
		}
		m.sess.Index.ApplyExpunge(v.SeqNum)

	case wire.ListEntry:
		m.collectList(v)

	case wire.FetchAttr:
		m.pipeline.HandleFetchAttr(v)

	case wire.UntaggedStatus:
		if v.Status == wire.StatusBye {
			return fmt.Errorf("statemachine: server sent BYE: %s", v.Text)
		}

	case wire.CopyUID, wire.Continuation, wire.Unparsed:
		// No session-state consequence for a watching client.

	}
	return nil
}

func (m *Machine) applyMailboxAction(ctx context.Context, a wire.Action) error {
	if m.sess.Mailbox == nil {
		m.sess.Mailbox = &session.Mailbox{Name: m.cfg.Mailbox}
	}
	before := m.sess.Mailbox.ExistsCount
	grew := m.sess.Mailbox.Apply(a)
	if !grew {
		return nil
	}
	// Start is called in ascending order for every newly-arrived sequence
	// number; the pipeline itself queues any seq that arrives while
	// another's stage command is still outstanding (spec.md: at most one
	// pipeline stage command in flight at a time, ascending order).
	for seq := before + 1; seq <= m.sess.Mailbox.ExistsCount; seq++ {
		if err := m.pipeline.Start(ctx, seq); err != nil {
			return err
		}
	}
	if m.status != nil {
		m.status.PublishMailbox(ctx, m.sess.Name, m.sess.Mailbox.Name, m.sess.Mailbox.ExistsCount)
	}
	return nil
}

func (m *Machine) collectList(v wire.ListEntry) {
	for tag, pending := range m.pendingList {
		_ = tag
		pending.entries = append(pending.entries, ListEntry{Name: v.Name, Delimiter: v.Delimiter, Flags: v.Flags})
	}
}

func (m *Machine) handleTagged(ctx context.Context, t wire.TaggedResponse) error {
	metrics.RecordTaggedResponse(t.Status.String())
	entry, ok := m.sess.Tags.Take(t.Tag)
	if !ok {
		return nil
	}

	if pending, isList := m.pendingList[t.Tag]; isList {
		delete(m.pendingList, t.Tag)
		if t.Status != wire.StatusOK {
			pending.resultCh <- listResult{err: fmt.Errorf("statemachine: LIST failed: %s", t.Text)}
		} else {
			pending.resultCh <- listResult{entries: pending.entries}
		}
		return nil
	}

	switch entry.Kind {
	case session.AwaitCapability:
		return m.handleCapabilityResolved(ctx, t.Status, t.Text)
	case session.AwaitStarttls:
		return m.handleStarttlsResolved(t.Status)
	case session.AwaitLogin:
		return m.handleLoginResolved(ctx, t.Status, t.Text)
	case session.AwaitSelect:
		return m.handleSelectResolved(ctx, t.Status, t.Text)
	case session.AwaitFetch:
		return m.pipeline.HandleTagResolved(ctx, entry.FetchData, t.Status)
	case session.AwaitIdle, session.AwaitDone:
		// The idle cycle's own tagged OK; nothing further to do here —
		// maybeEnterIdle re-arms IDLE on the next loop iteration once
		// sess.Idling is cleared.
		m.sess.Idling = false
	case session.AwaitList, session.AwaitCreate, session.AwaitMove, session.AwaitLogout, session.AwaitGeneric:
		// User-requested commands outside the lifecycle fail soft
		// (spec.md §7). Only LIST has a result channel (pendingList,
		// handled above); the other kinds are dropped here.
	}
	return nil
}

func (m *Machine) handleCapabilityResolved(ctx context.Context, status wire.Status, text string) error {
	if status != wire.StatusOK {
		return fmt.Errorf("statemachine: CAPABILITY failed: %s", text)
	}

	switch m.sess.Phase {
	case session.PhaseNotAuthenticated:
		if !m.sess.UsingTLS && m.tlsFn != nil && m.sess.HasCapability("STARTTLS") {
			_, err := m.disp.Send(m.sess, "STARTTLS", session.TagEntry{Kind: session.AwaitStarttls})
			if err != nil {
				return fmt.Errorf("statemachine: send STARTTLS: %w", err)
			}
			metrics.RecordCommand("STARTTLS")
			return nil
		}
		return m.sendLogin()

	case session.PhaseAuthenticated:
		mailbox, err := dispatch.QuoteAString(m.cfg.Mailbox)
		if err != nil {
			return fmt.Errorf("statemachine: quote mailbox name: %w", err)
		}
		_, err = m.disp.Send(m.sess, "SELECT "+mailbox, session.TagEntry{Kind: session.AwaitSelect})
		if err != nil {
			return fmt.Errorf("statemachine: send SELECT: %w", err)
		}
		metrics.RecordCommand("SELECT")
	}
	return nil
}

func (m *Machine) handleStarttlsResolved(status wire.Status) error {
	if status != wire.StatusOK {
		return fmt.Errorf("statemachine: STARTTLS rejected")
	}
	if m.tlsFn != nil {
		if err := m.tlsFn(); err != nil {
			return fmt.Errorf("statemachine: TLS handshake: %w", err)
		}
	}
	m.sess.UsingTLS = true
	return m.sendLogin()
}

func (m *Machine) sendLogin() error {
	user, err := dispatch.QuoteAString(m.cfg.Username)
	if err != nil {
		return fmt.Errorf("statemachine: quote username: %w", err)
	}
	pass, err := dispatch.QuoteAString(m.sess.Password)
	if err != nil {
		return fmt.Errorf("statemachine: quote password: %w", err)
	}
	_, err = m.disp.Send(m.sess, fmt.Sprintf("LOGIN %s %s", user, pass), session.TagEntry{Kind: session.AwaitLogin})
	if err != nil {
		return fmt.Errorf("statemachine: send LOGIN: %w", err)
	}
	m.sess.ClearPassword()
	metrics.RecordCommand("LOGIN")
	return nil
}

func (m *Machine) handleLoginResolved(ctx context.Context, status wire.Status, text string) error {
	if status != wire.StatusOK {
		return fmt.Errorf("statemachine: LOGIN failed: %s", text)
	}
	m.sess.Phase = session.PhaseAuthenticated
	metrics.RecordPhase(m.sess.Phase.String())
	if m.ledger != nil {
		m.ledger.Log(ctx, m.sess.Name, audit.EventPhaseEntered, m.sess.Phase.String())
	}
	if m.status != nil {
		m.status.PublishPhase(ctx, m.sess.Name, m.sess.Phase.String())
	}
	return m.sendCapability()
}

func (m *Machine) handleSelectResolved(ctx context.Context, status wire.Status, text string) error {
	if status != wire.StatusOK {
		return fmt.Errorf("statemachine: SELECT failed: %s", text)
	}
	m.sess.Mailbox = &session.Mailbox{Name: m.cfg.Mailbox, Mutability: session.ReadWrite}
	if strings.Contains(strings.ToUpper(text), "READ-ONLY") {
		m.sess.Mailbox.Mutability = session.ReadOnly
	}
	m.sess.Phase = session.PhaseSelected
	metrics.RecordPhase(m.sess.Phase.String())
	if m.ledger != nil {
		m.ledger.Log(ctx, m.sess.Name, audit.EventPhaseEntered, m.sess.Phase.String())
	}
	if m.status != nil {
		m.status.PublishPhase(ctx, m.sess.Name, m.sess.Phase.String())
	}
	return nil
}

func (m *Machine) handleCommand(cmd any) (shouldClose bool) {
	switch c := cmd.(type) {
	case subscribeCmd:
		c.resultCh <- m.sess.Subs.Add(c.target, c.filter)

	case unsubscribeCmd:
		c.resultCh <- m.sess.Subs.Remove(c.id)

	case capabilitiesCmd:
		caps := make([]string, len(m.sess.Capabilities))
		copy(caps, m.sess.Capabilities)
		c.resultCh <- caps

	case listCmd:
		m.sendList(c)

	case closeCmd:
		return true
	}
	return false
}

func (m *Machine) sendList(c listCmd) {
	ref, err := dispatch.QuoteAString(c.reference)
	if err != nil {
		c.resultCh <- listResult{err: err}
		return
	}
	pattern, err := dispatch.QuoteAString(c.pattern)
	if err != nil {
		c.resultCh <- listResult{err: err}
		return
	}
	tag, err := m.disp.Send(m.sess, fmt.Sprintf("LIST %s %s", ref, pattern), session.TagEntry{Kind: session.AwaitList})
	if err != nil {
		c.resultCh <- listResult{err: err}
		return
	}
	metrics.RecordCommand("LIST")
	m.pendingList[tag] = &pendingListFetch{resultCh: c.resultCh}
}

func (m *Machine) shutdown() {
	if m.sess.Phase != session.PhaseNotAuthenticated {
		m.disp.Send(m.sess, "LOGOUT", session.TagEntry{Kind: session.AwaitLogout})
		metrics.RecordCommand("LOGOUT")
	}
	m.tr.Close()
}
