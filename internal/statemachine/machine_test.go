package statemachine

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"testing"

	"github.com/fenilsonani/imapwatch/internal/session"
	"github.com/fenilsonani/imapwatch/internal/wire"
)

type fakeTransport struct {
	sent [][]byte
}

func (f *fakeTransport) Send(p []byte) error {
	cp := make([]byte, len(p))
	copy(cp, p)
	f.sent = append(f.sent, cp)
	return nil
}
func (f *fakeTransport) RecvLine() ([]byte, error)        { return nil, errors.New("unused") }
func (f *fakeTransport) RecvN(n int) ([]byte, error)      { return nil, errors.New("unused") }
func (f *fakeTransport) SetOneShot(enabled bool) error    { return nil }
func (f *fakeTransport) UpgradeTLS(cfg *tls.Config) error { return nil }
func (f *fakeTransport) Close() error                     { return nil }

func (f *fakeTransport) lastSent() string {
	if len(f.sent) == 0 {
		return ""
	}
	return string(f.sent[len(f.sent)-1])
}

func newTestMachine() (*Machine, *fakeTransport) {
	tr := &fakeTransport{}
	sess := session.New("test")
	sess.Password = "hunter2"
	m := New(sess, tr, nil, nil, nil, nil, Config{Username: "alice", Mailbox: "INBOX"}, nil)
	return m, tr
}

func TestHandleCapabilityResolved_NotAuthenticatedNoStarttls_SendsLogin(t *testing.T) {
	m, tr := newTestMachine()
	m.sess.Capabilities = []string{"IMAP4REV1"}

	if err := m.handleCapabilityResolved(context.Background(), wire.StatusOK, "CAPABILITY completed"); err != nil {
		t.Fatalf("handleCapabilityResolved() error = %v", err)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("sent %d lines, want 1 (LOGIN)", len(tr.sent))
	}
	if got := tr.lastSent(); got != "0 LOGIN \"alice\" \"hunter2\"\r\n" {
		t.Errorf("sent = %q", got)
	}
	if m.sess.Password != "" {
		t.Error("sendLogin should clear the session password immediately after sending it")
	}
}

func TestHandleCapabilityResolved_StarttlsOffered_SendsStarttlsFirst(t *testing.T) {
	m, tr := newTestMachine()
	m.sess.Capabilities = []string{"IMAP4REV1", "STARTTLS"}
	m.tlsFn = func() error { return nil }

	if err := m.handleCapabilityResolved(context.Background(), wire.StatusOK, "CAPABILITY completed"); err != nil {
		t.Fatalf("handleCapabilityResolved() error = %v", err)
	}
	if got := tr.lastSent(); got != "0 STARTTLS\r\n" {
		t.Errorf("sent = %q, want STARTTLS", got)
	}
	if m.sess.Password == "" {
		t.Error("password should not be sent/cleared before STARTTLS completes")
	}
}

func TestHandleCapabilityResolved_Authenticated_SendsSelect(t *testing.T) {
	m, tr := newTestMachine()
	m.sess.Phase = session.PhaseAuthenticated

	if err := m.handleCapabilityResolved(context.Background(), wire.StatusOK, "CAPABILITY completed"); err != nil {
		t.Fatalf("handleCapabilityResolved() error = %v", err)
	}
	if got := tr.lastSent(); got != `0 SELECT "INBOX"` + "\r\n" {
		t.Errorf("sent = %q", got)
	}
}

func TestHandleCapabilityResolved_Failure(t *testing.T) {
	m, _ := newTestMachine()
	if err := m.handleCapabilityResolved(context.Background(), wire.StatusNO, "boom"); err == nil {
		t.Error("handleCapabilityResolved() expected an error on a non-OK status")
	}
}

func TestHandleLoginResolved_SetsAuthenticatedAndResendsCapability(t *testing.T) {
	m, tr := newTestMachine()
	if err := m.handleLoginResolved(context.Background(), wire.StatusOK, "LOGIN completed"); err != nil {
		t.Fatalf("handleLoginResolved() error = %v", err)
	}
	if m.sess.Phase != session.PhaseAuthenticated {
		t.Errorf("Phase = %v, want PhaseAuthenticated", m.sess.Phase)
	}
	if got := tr.lastSent(); got != "0 CAPABILITY\r\n" {
		t.Errorf("sent = %q, want a post-auth CAPABILITY", got)
	}
}

func TestHandleLoginResolved_Rejected(t *testing.T) {
	m, _ := newTestMachine()
	if err := m.handleLoginResolved(context.Background(), wire.StatusNO, "bad credentials"); err == nil {
		t.Error("handleLoginResolved() expected an error on a rejected login")
	}
	if m.sess.Phase != session.PhaseNotAuthenticated {
		t.Errorf("Phase = %v, want unchanged PhaseNotAuthenticated on rejection", m.sess.Phase)
	}
}

func TestHandleSelectResolved_ReadWrite(t *testing.T) {
	m, _ := newTestMachine()
	m.sess.Phase = session.PhaseAuthenticated

	if err := m.handleSelectResolved(context.Background(), wire.StatusOK, "SELECT completed"); err != nil {
		t.Fatalf("handleSelectResolved() error = %v", err)
	}
	if m.sess.Phase != session.PhaseSelected {
		t.Errorf("Phase = %v, want PhaseSelected", m.sess.Phase)
	}
	if m.sess.Mailbox == nil || m.sess.Mailbox.Mutability != session.ReadWrite {
		t.Errorf("Mailbox = %+v, want ReadWrite", m.sess.Mailbox)
	}
}

func TestHandleSelectResolved_ReadOnly(t *testing.T) {
	m, _ := newTestMachine()
	m.sess.Phase = session.PhaseAuthenticated

	if err := m.handleSelectResolved(context.Background(), wire.StatusOK, "[READ-ONLY] SELECT completed"); err != nil {
		t.Fatalf("handleSelectResolved() error = %v", err)
	}
	if m.sess.Mailbox.Mutability != session.ReadOnly {
		t.Errorf("Mutability = %v, want ReadOnly", m.sess.Mailbox.Mutability)
	}
}

func TestApplyAction_ExistsGrowthStartsPipeline(t *testing.T) {
	m, tr := newTestMachine()
	m.sess.Phase = session.PhaseSelected
	m.sess.Mailbox = &session.Mailbox{Name: "INBOX"}
	m.sess.Subs.Add(session.SinkFunc(func(session.Message) {}), session.AcceptAll)

	if err := m.applyAction(context.Background(), wire.Exists{Count: 1}); err != nil {
		t.Fatalf("applyAction(Exists) error = %v", err)
	}
	if m.sess.Mailbox.ExistsCount != 1 {
		t.Errorf("ExistsCount = %d, want 1", m.sess.Mailbox.ExistsCount)
	}
	if m.sess.Index.Len() != 1 {
		t.Errorf("Index.Len() = %d, want 1 (pipeline started tracking the new message)", m.sess.Index.Len())
	}
	if len(tr.sent) == 0 {
		t.Error("expected the pipeline to have sent a FETCH for the new message")
	}
}

func TestApplyAction_Expunge(t *testing.T) {
	m, _ := newTestMachine()
	m.sess.Mailbox = &session.Mailbox{Name: "INBOX", ExistsCount: 3}
	m.sess.Index.StartTracking(2)

	if err := m.applyAction(context.Background(), wire.Expunge{SeqNum: 2}); err != nil {
		t.Fatalf("applyAction(Expunge) error = %v", err)
	}
	if m.sess.Mailbox.ExistsCount != 2 {
		t.Errorf("ExistsCount = %d, want 2", m.sess.Mailbox.ExistsCount)
	}
	if _, ok := m.sess.Index.Get(2); ok {
		t.Error("expunged sequence number should no longer be tracked")
	}
}

func TestApplyAction_BYEIsFatal(t *testing.T) {
	m, _ := newTestMachine()
	if err := m.applyAction(context.Background(), wire.UntaggedStatus{Status: wire.StatusBye, Text: "shutting down"}); err == nil {
		t.Error("applyAction(BYE) expected a fatal error")
	}
}

func TestMaybeEnterIdle_SendsIdleWhenQuiescentAndCapable(t *testing.T) {
	m, tr := newTestMachine()
	m.sess.Phase = session.PhaseSelected
	m.sess.Capabilities = []string{"IDLE"}

	if err := m.maybeEnterIdle(); err != nil {
		t.Fatalf("maybeEnterIdle() error = %v", err)
	}
	if !m.sess.Idling {
		t.Error("Idling should be true after entering IDLE")
	}
	if got := tr.lastSent(); got != "0 IDLE\r\n" {
		t.Errorf("sent = %q, want IDLE", got)
	}
}

func TestMaybeEnterIdle_SkipsWithoutCapability(t *testing.T) {
	m, tr := newTestMachine()
	m.sess.Phase = session.PhaseSelected

	if err := m.maybeEnterIdle(); err != nil {
		t.Fatalf("maybeEnterIdle() error = %v", err)
	}
	if m.sess.Idling || len(tr.sent) != 0 {
		t.Error("maybeEnterIdle() should not issue IDLE without the IDLE capability")
	}
}

func TestCycleIdle_ReKeysTagToAwaitDone(t *testing.T) {
	m, tr := newTestMachine()
	m.sess.Phase = session.PhaseSelected
	m.sess.Capabilities = []string{"IDLE"}
	if err := m.maybeEnterIdle(); err != nil {
		t.Fatalf("maybeEnterIdle() error = %v", err)
	}

	if err := m.cycleIdle(); err != nil {
		t.Fatalf("cycleIdle() error = %v", err)
	}
	if got := tr.lastSent(); got != "DONE\r\n" {
		t.Errorf("sent = %q, want DONE", got)
	}
	entry, ok := m.sess.Tags.Peek(m.sess.IdleTag)
	if !ok || entry.Kind != session.AwaitDone {
		t.Fatalf("tag entry = (%+v, %v), want AwaitDone", entry, ok)
	}

	// The tagged response to DONE arrives under the original IDLE tag.
	if err := m.handleTagged(context.Background(), wire.TaggedResponse{Tag: m.sess.IdleTag, Status: wire.StatusOK}); err != nil {
		t.Fatalf("handleTagged() error = %v", err)
	}
	if m.sess.Idling {
		t.Error("Idling should be cleared once the DONE cycle's tagged response arrives")
	}
}

func TestApplyAction_ExistsGrowthByMultiple_IssuesOneFetchAtATime(t *testing.T) {
	m, tr := newTestMachine()
	m.sess.Phase = session.PhaseSelected
	m.sess.Mailbox = &session.Mailbox{Name: "INBOX"}
	m.sess.Subs.Add(session.SinkFunc(func(session.Message) {}), session.AcceptAll)

	if err := m.applyAction(context.Background(), wire.Exists{Count: 3}); err != nil {
		t.Fatalf("applyAction(Exists) error = %v", err)
	}
	if m.sess.Mailbox.ExistsCount != 3 {
		t.Errorf("ExistsCount = %d, want 3", m.sess.Mailbox.ExistsCount)
	}
	if m.sess.Index.Len() != 3 {
		t.Errorf("Index.Len() = %d, want all 3 new messages tracked", m.sess.Index.Len())
	}
	if len(tr.sent) != 1 {
		t.Fatalf("sent = %v, want exactly one outstanding FETCH while seq 1..3 arrive together", tr.sent)
	}
	if !strings.Contains(string(tr.sent[0]), "FETCH 1 ") {
		t.Errorf("sent[0] = %q, want seq 1's FETCH issued first (ascending order)", tr.sent[0])
	}
}

func TestSendNoop_SendsTaggedNoop(t *testing.T) {
	m, tr := newTestMachine()
	if err := m.sendNoop(); err != nil {
		t.Fatalf("sendNoop() error = %v", err)
	}
	if got := tr.lastSent(); got != "0 NOOP\r\n" {
		t.Errorf("sent = %q, want NOOP", got)
	}
}
