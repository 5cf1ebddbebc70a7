package session

import (
	"fmt"
	"regexp"
)

// Filter is a conjunction of predicates a subscriber wants applied to
// every observed message before delivery.
type Filter struct {
	hasFlags    map[string]struct{}
	lacksFlags  map[string]struct{}
	subjectRe   *regexp.Regexp
	senderRe    *regexp.Regexp
}

// FilterOption configures a Filter built by NewFilter.
type FilterOption func(*filterSpec) error

type filterSpec struct {
	hasFlags   []string
	lacksFlags []string
	subjectRe  string
	senderRe   string
}

// HasFlags requires every named flag to be present on a message.
func HasFlags(flags ...string) FilterOption {
	return func(s *filterSpec) error {
		s.hasFlags = append(s.hasFlags, flags...)
		return nil
	}
}

// LacksFlags requires every named flag to be absent from a message.
func LacksFlags(flags ...string) FilterOption {
	return func(s *filterSpec) error {
		s.lacksFlags = append(s.lacksFlags, flags...)
		return nil
	}
}

// SubjectRegex requires the envelope subject to match pattern.
func SubjectRegex(pattern string) FilterOption {
	return func(s *filterSpec) error {
		s.subjectRe = pattern
		return nil
	}
}

// SenderRegex requires the envelope's first From address to match pattern.
func SenderRegex(pattern string) FilterOption {
	return func(s *filterSpec) error {
		s.senderRe = pattern
		return nil
	}
}

// AcceptAll is a Filter with no constraints: every message is accepted
// without needing any additional fetch stage.
var AcceptAll = Filter{}

// NewFilter builds a Filter from the given options. Construction fails
// if a flag is named in both HasFlags and LacksFlags (has_flags ∩
// lacks_flags = ∅, spec §3), or if a regex fails to compile.
func NewFilter(opts ...FilterOption) (Filter, error) {
	var spec filterSpec
	for _, opt := range opts {
		if err := opt(&spec); err != nil {
			return Filter{}, err
		}
	}

	has := toSet(spec.hasFlags)
	lacks := toSet(spec.lacksFlags)
	for f := range has {
		if _, conflict := lacks[f]; conflict {
			return Filter{}, fmt.Errorf("session: filter requires and forbids flag %q", f)
		}
	}

	f := Filter{hasFlags: has, lacksFlags: lacks}
	if spec.subjectRe != "" {
		re, err := regexp.Compile(spec.subjectRe)
		if err != nil {
			return Filter{}, fmt.Errorf("session: invalid subject_regex: %w", err)
		}
		f.subjectRe = re
	}
	if spec.senderRe != "" {
		re, err := regexp.Compile(spec.senderRe)
		if err != nil {
			return Filter{}, fmt.Errorf("session: invalid sender_regex: %w", err)
		}
		f.senderRe = re
	}
	return f, nil
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}

// NeedsFlags reports whether this filter's decision depends on message flags.
func (f Filter) NeedsFlags() bool {
	return len(f.hasFlags) > 0 || len(f.lacksFlags) > 0
}

// NeedsEnvelope reports whether this filter's decision depends on the envelope.
func (f Filter) NeedsEnvelope() bool {
	return f.subjectRe != nil || f.senderRe != nil
}

// Accepts reports whether a PartialMessage satisfies every predicate this
// filter holds given the attributes it has fetched so far. A predicate
// whose required attribute hasn't been fetched yet does not reject the
// message — the fetch pipeline calls Accepts again once more attributes
// are known, and only a fully-populated message can be finally rejected.
func (f Filter) Accepts(m *PartialMessage) bool {
	if f.NeedsFlags() && m.FlagsFetched {
		have := toSet(m.Flags)
		for want := range f.hasFlags {
			if _, ok := have[want]; !ok {
				return false
			}
		}
		for forbidden := range f.lacksFlags {
			if _, ok := have[forbidden]; ok {
				return false
			}
		}
	}
	if m.EnvelopeFetched && m.Envelope != nil {
		if f.subjectRe != nil && m.Envelope.Subject != nil && !f.subjectRe.MatchString(*m.Envelope.Subject) {
			return false
		}
		if f.senderRe != nil && len(m.Envelope.From) > 0 && !f.senderRe.MatchString(m.Envelope.From[0].Mailbox) {
			return false
		}
	}
	return true
}
