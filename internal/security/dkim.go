// Package security verifies DKIM signatures on fetched message headers.
//
// The teacher's dkim.go signed outbound mail for a server; a watching
// client never sends mail, so the only DKIM concern here is checking
// whether an observed message's signature is valid — surfaced on the
// Delivered Message record as DKIMVerified.
package security

import (
	"bytes"
	"fmt"
	"io"

	"github.com/emersion/go-msgauth/dkim"
)

// DKIMVerifier checks DKIM signatures on raw header+body bytes.
type DKIMVerifier struct{}

// NewDKIMVerifier returns a ready DKIMVerifier. It holds no state; one
// value can be shared across sessions.
func NewDKIMVerifier() *DKIMVerifier {
	return &DKIMVerifier{}
}

// Verify runs DKIM verification over raw, which must be a full RFC 5322
// header block followed by the message body (the shape the fetch
// pipeline assembles once it has the HEADER peek and the full body).
// It returns true iff at least one signature is present and all present
// signatures validate; an empty message (no DKIM-Signature header) is
// reported as unverified rather than as an error.
func (v *DKIMVerifier) Verify(raw []byte) (bool, error) {
	verifications, err := dkim.Verify(bytes.NewReader(raw))
	if err != nil {
		return false, fmt.Errorf("security: dkim verify: %w", err)
	}
	if len(verifications) == 0 {
		return false, nil
	}
	for _, ver := range verifications {
		if ver.Err != nil {
			return false, nil
		}
	}
	return true, nil
}

// VerifyReader is a convenience wrapper for callers that already have an
// io.Reader over the assembled message rather than a byte slice.
func (v *DKIMVerifier) VerifyReader(r io.Reader) (bool, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return false, fmt.Errorf("security: read message for dkim verify: %w", err)
	}
	return v.Verify(raw)
}
