package wire

import "testing"

func parseOne(t *testing.T, packet string) Action {
	t.Helper()
	actions, err := ParsePacket([]byte(packet))
	if err != nil {
		t.Fatalf("ParsePacket(%q) error = %v", packet, err)
	}
	if len(actions) != 1 {
		t.Fatalf("ParsePacket(%q) returned %d actions, want 1", packet, len(actions))
	}
	return actions[0]
}

func TestParsePacket_Capability(t *testing.T) {
	a := parseOne(t, "* CAPABILITY IMAP4rev1 STARTTLS IDLE\r\n")
	caps, ok := a.(Capabilities)
	if !ok {
		t.Fatalf("action = %T, want Capabilities", a)
	}
	want := []string{"IMAP4REV1", "STARTTLS", "IDLE"}
	if len(caps.Tokens) != len(want) {
		t.Fatalf("Tokens = %v, want %v", caps.Tokens, want)
	}
	for i := range want {
		if caps.Tokens[i] != want[i] {
			t.Errorf("Tokens[%d] = %q, want %q", i, caps.Tokens[i], want[i])
		}
	}
}

func TestParsePacket_TaggedStatus(t *testing.T) {
	a := parseOne(t, "3 OK LOGIN completed\r\n")
	tr, ok := a.(TaggedResponse)
	if !ok {
		t.Fatalf("action = %T, want TaggedResponse", a)
	}
	if tr.Tag != 3 || tr.Status != StatusOK || tr.Text != "LOGIN completed" {
		t.Errorf("got %+v", tr)
	}
}

func TestParsePacket_TaggedStatus_NO(t *testing.T) {
	a := parseOne(t, "5 NO [ALREADYEXISTS] mailbox exists\r\n")
	tr, ok := a.(TaggedResponse)
	if !ok {
		t.Fatalf("action = %T, want TaggedResponse", a)
	}
	if tr.Status != StatusNO {
		t.Errorf("Status = %v, want StatusNO", tr.Status)
	}
}

func TestParsePacket_PermanentFlags(t *testing.T) {
	a := parseOne(t, "* OK [PERMANENTFLAGS (\\Answered \\Flagged \\Deleted \\Seen \\*)] Flags permitted\r\n")
	pf, ok := a.(PermanentFlags)
	if !ok {
		t.Fatalf("action = %T, want PermanentFlags", a)
	}
	if len(pf.Flags) != 5 {
		t.Fatalf("Flags = %v, want 5 entries", pf.Flags)
	}
}

func TestParsePacket_UIDValidityAndNext(t *testing.T) {
	a := parseOne(t, "* OK [UIDVALIDITY 3857529045] UIDs valid\r\n")
	uv, ok := a.(UIDValidity)
	if !ok || uv.Value != 3857529045 {
		t.Fatalf("got %+v (%T), want UIDValidity{3857529045}", a, a)
	}

	a2 := parseOne(t, "* OK [UIDNEXT 4392] Predicted next UID\r\n")
	un, ok := a2.(UIDNext)
	if !ok || un.Value != 4392 {
		t.Fatalf("got %+v (%T), want UIDNext{4392}", a2, a2)
	}
}

func TestParsePacket_ReadWrite(t *testing.T) {
	a := parseOne(t, "* OK [READ-WRITE] SELECT completed\r\n")
	if _, ok := a.(ReadWrite); !ok {
		t.Fatalf("action = %T, want ReadWrite", a)
	}
}

func TestParsePacket_CopyUID(t *testing.T) {
	a := parseOne(t, "* OK [COPYUID 3857529045 1:3 5:7] COPY completed\r\n")
	cu, ok := a.(CopyUID)
	if !ok {
		t.Fatalf("action = %T, want CopyUID", a)
	}
	if cu.Validity != 3857529045 {
		t.Errorf("Validity = %d, want 3857529045", cu.Validity)
	}
	if len(cu.Src) != 3 || len(cu.Dst) != 3 {
		t.Fatalf("Src=%v Dst=%v, want 3 UIDs each", cu.Src, cu.Dst)
	}
	if cu.Src[0] != 1 || cu.Src[2] != 3 || cu.Dst[0] != 5 || cu.Dst[2] != 7 {
		t.Errorf("Src=%v Dst=%v, want expanded ranges", cu.Src, cu.Dst)
	}
}

func TestParsePacket_ExistsRecentExpunge(t *testing.T) {
	if a := parseOne(t, "* 18 EXISTS\r\n"); a.(Exists).Count != 18 {
		t.Errorf("Exists = %+v", a)
	}
	if a := parseOne(t, "* 2 RECENT\r\n"); a.(Recent).Count != 2 {
		t.Errorf("Recent = %+v", a)
	}
	if a := parseOne(t, "* 5 EXPUNGE\r\n"); a.(Expunge).SeqNum != 5 {
		t.Errorf("Expunge = %+v", a)
	}
}

func TestParsePacket_FetchFlagsAndUID(t *testing.T) {
	actions, err := ParsePacket([]byte("* 4 FETCH (FLAGS (\\Seen) UID 23)\r\n"))
	if err != nil {
		t.Fatalf("ParsePacket() error = %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("ParsePacket() returned %d actions, want 2", len(actions))
	}
	flags, ok := actions[0].(FetchAttr)
	if !ok || flags.Kind != FetchFlags || len(flags.Flags) != 1 || flags.Flags[0] != "\\Seen" {
		t.Fatalf("actions[0] = %+v, want FetchFlags with \\Seen", actions[0])
	}
	uid, ok := actions[1].(FetchAttr)
	if !ok || uid.Kind != FetchUID || uid.UID != 23 {
		t.Fatalf("actions[1] = %+v, want FetchUID 23", actions[1])
	}
}

func TestParsePacket_FetchEnvelope(t *testing.T) {
	line := "* 12 FETCH (ENVELOPE (\"Wed, 17 Jul 1996 02:23:25 -0700 (PDT)\" \"IMAP4rev1 WG mtg summary\" ((\"Terry Gray\" NIL \"gray\" \"cac.washington.edu\")) ((\"Terry Gray\" NIL \"gray\" \"cac.washington.edu\")) ((\"Terry Gray\" NIL \"gray\" \"cac.washington.edu\")) ((NIL NIL \"imap\" \"cac.washington.edu\")) NIL NIL NIL \"<B27397-0100000@cac.washington.edu>\"))\r\n"
	actions, err := ParsePacket([]byte(line))
	if err != nil {
		t.Fatalf("ParsePacket() error = %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("ParsePacket() returned %d actions, want 1", len(actions))
	}
	env, ok := actions[0].(FetchAttr)
	if !ok || env.Kind != FetchEnvelope || env.Envelope == nil {
		t.Fatalf("action = %+v, want FetchEnvelope", actions[0])
	}
	if env.Envelope.Subject == nil || *env.Envelope.Subject != "IMAP4rev1 WG mtg summary" {
		t.Errorf("Subject = %v, want 'IMAP4rev1 WG mtg summary'", env.Envelope.Subject)
	}
	if len(env.Envelope.From) != 1 || env.Envelope.From[0].Mailbox != "gray@cac.washington.edu" {
		t.Errorf("From = %+v, want one address with mailbox gray@cac.washington.edu", env.Envelope.From)
	}
}

func TestParsePacket_Continuation(t *testing.T) {
	a := parseOne(t, "+ Ready for literal data\r\n")
	cont, ok := a.(Continuation)
	if !ok || cont.Text != "Ready for literal data" {
		t.Fatalf("action = %+v (%T), want Continuation", a, a)
	}
}

func TestParsePacket_EmptyPacketErrors(t *testing.T) {
	if _, err := ParsePacket([]byte("")); err == nil {
		t.Error("ParsePacket(\"\") expected an error")
	}
}
