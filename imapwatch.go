// Package imapwatch maintains a persistent, authenticated IMAP4rev1
// session against a single mailbox and pushes newly observed messages
// to in-process subscribers as decoded records (spec.md §1, §6).
package imapwatch

import (
	"context"
	"crypto/tls"
	"fmt"
	"regexp"
	"time"

	"github.com/fenilsonani/imapwatch/internal/audit"
	"github.com/fenilsonani/imapwatch/internal/config"
	"github.com/fenilsonani/imapwatch/internal/logging"
	"github.com/fenilsonani/imapwatch/internal/security"
	"github.com/fenilsonani/imapwatch/internal/session"
	"github.com/fenilsonani/imapwatch/internal/statemachine"
	"github.com/fenilsonani/imapwatch/internal/statuspub"
	"github.com/fenilsonani/imapwatch/internal/transport"
)

// Re-exported types so callers never need to import the internal
// packages directly.
type (
	Message         = session.Message
	Address         = session.Address
	BodyContentTree = session.BodyContentTree
	BodyLeaf        = session.BodyLeaf
	BodyBranch      = session.BodyBranch
	Sink            = session.Sink
	SinkFunc        = session.SinkFunc
	Filter          = session.Filter
	FilterOption    = session.FilterOption
	ListEntry       = statemachine.ListEntry
)

var (
	HasFlags     = session.HasFlags
	LacksFlags   = session.LacksFlags
	SubjectRegex = session.SubjectRegex
	SenderRegex  = session.SenderRegex
	NewFilter    = session.NewFilter
	AcceptAll    = session.AcceptAll
)

// Watcher is a running session handle returned by Start.
type Watcher struct {
	machine *statemachine.Machine
	ledger  *audit.Ledger
	status  *statuspub.Publisher
	done    chan error
}

// Start loads and validates cfgPath, dials the server, and runs the
// session's lifecycle on a new goroutine. The returned Watcher is ready
// for Subscribe/List/Capabilities calls as soon as Start returns; those
// calls block until the session goroutine has read the server greeting,
// and are then answered in whatever phase the session is in (they do not
// wait for SELECT to complete).
func Start(ctx context.Context, cfgPath string) (*Watcher, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("imapwatch: load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("imapwatch: invalid config: %w", err)
	}
	return StartWithConfig(ctx, cfg)
}

// StartWithConfig is Start without the YAML-loading step, for callers
// that already have a validated *config.Config (e.g. constructed in
// tests or by an embedding CLI after flag parsing).
func StartWithConfig(ctx context.Context, cfg *config.Config) (*Watcher, error) {
	logger, err := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return nil, fmt.Errorf("imapwatch: configure logger: %w", err)
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: !cfg.TLS.SSLVerify}

	tr, err := transport.Dial(cfg.Server.Host, cfg.Server.Port, transport.Config{
		ImplicitTLS: cfg.TLS.Implicit,
		TLSConfig:   tlsConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("imapwatch: dial %s:%d: %w", cfg.Server.Host, cfg.Server.Port, err)
	}

	ledger, err := audit.NewLedger(cfg.Audit.Enabled)
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("imapwatch: open audit ledger: %w", err)
	}

	pub, err := statuspub.New(cfg.StatusPub.Enabled, statuspub.Config{
		RedisURL: cfg.StatusPub.RedisURL,
		Channel:  cfg.StatusPub.Channel,
	})
	if err != nil {
		ledger.Close()
		tr.Close()
		return nil, fmt.Errorf("imapwatch: connect status publisher: %w", err)
	}

	sess := session.New(cfg.Name)
	sess.Password = cfg.Password
	sess.UsingTLS = cfg.TLS.Implicit

	var tlsUpgrade func() error
	if !cfg.TLS.Implicit {
		tlsUpgrade = func() error { return tr.UpgradeTLS(tlsConfig) }
	}

	machineCfg := statemachine.Config{
		Username: cfg.Username,
		Password: cfg.Password,
		Mailbox:  cfg.Mailbox,
	}
	if d, err := time.ParseDuration(cfg.Idle.RefreshInterval); err == nil {
		machineCfg.IdleRefresh = d
	}
	if d, err := time.ParseDuration(cfg.Idle.CommandTimeout); err == nil {
		machineCfg.CommandTimeout = d
	}

	verifier := security.NewDKIMVerifier()
	machine := statemachine.New(sess, tr, logger, pub, ledger, verifier, machineCfg, tlsUpgrade)

	w := &Watcher{machine: machine, ledger: ledger, status: pub, done: make(chan error, 1)}
	go func() {
		w.done <- machine.Run(ctx)
	}()
	return w, nil
}

// FilterFromConfig builds a Filter from one configured entry (spec.md
// §3's Filter, constructed here instead of inline so both the CLI and
// embedding callers share the same from_contains/subject_contains →
// regex translation).
func FilterFromConfig(fc config.FilterConfig) (Filter, error) {
	var opts []FilterOption
	if len(fc.Flags) > 0 {
		opts = append(opts, session.HasFlags(fc.Flags...))
	}
	if fc.SubjectContains != "" {
		opts = append(opts, session.SubjectRegex(regexp.QuoteMeta(fc.SubjectContains)))
	}
	if fc.FromContains != "" {
		opts = append(opts, session.SenderRegex(regexp.QuoteMeta(fc.FromContains)))
	}
	return session.NewFilter(opts...)
}

// Subscribe registers a delivery target with the given filter and
// returns a handle usable with Unsubscribe.
func (w *Watcher) Subscribe(ctx context.Context, sink Sink, filter Filter) (uint64, error) {
	return w.machine.Subscribe(ctx, sink, filter)
}

// Unsubscribe removes a previously registered subscriber.
func (w *Watcher) Unsubscribe(ctx context.Context, id uint64) (bool, error) {
	return w.machine.Unsubscribe(ctx, id)
}

// Capabilities returns the session's currently advertised capability set.
func (w *Watcher) Capabilities(ctx context.Context) ([]string, error) {
	return w.machine.Capabilities(ctx)
}

// List issues an IMAP LIST command and returns the matching mailboxes.
func (w *Watcher) List(ctx context.Context, reference, pattern string) ([]ListEntry, error) {
	if pattern == "" {
		pattern = "%"
	}
	return w.machine.List(ctx, reference, pattern)
}

// Close requests a graceful LOGOUT and waits for the session goroutine
// to exit.
func (w *Watcher) Close() error {
	w.machine.Close()
	err := <-w.done
	w.status.Close()
	w.ledger.Close()
	return err
}
