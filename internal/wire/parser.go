package wire

import (
	"net/mail"
	"strconv"
	"strings"
	"time"
)

// ParsePacket maps one complete response packet (as returned by
// ReadPacket) into its ordered Actions. The parser holds no state
// between calls.
func ParsePacket(packet []byte) ([]Action, error) {
	c := newCursor(packet)

	b, ok := c.peek()
	if !ok {
		return nil, errAt(c, "empty packet")
	}

	switch b {
	case '*':
		c.advance(1)
		if err := c.expectSP(); err != nil {
			return nil, err
		}
		return parseUntagged(c)
	case '+':
		c.advance(1)
		c.skipSpaces()
		return []Action{Continuation{Text: c.readToEOL()}}, nil
	default:
		tag, err := c.readNumber()
		if err != nil {
			return nil, err
		}
		if err := c.expectSP(); err != nil {
			return nil, err
		}
		status, err := readStatusWord(c)
		if err != nil {
			return nil, err
		}
		c.skipSpaces()
		text := c.readToEOL()
		return []Action{TaggedResponse{Tag: int(tag), Status: status, Text: text}}, nil
	}
}

func readStatusWord(c *cursor) (Status, error) {
	tok, err := c.readToken()
	if err != nil {
		return 0, err
	}
	switch strings.ToUpper(tok) {
	case "OK":
		return StatusOK, nil
	case "NO":
		return StatusNO, nil
	case "BAD":
		return StatusBAD, nil
	case "PREAUTH":
		return StatusPreAuth, nil
	case "BYE":
		return StatusBye, nil
	default:
		return 0, errAt(c, "unknown status word "+tok)
	}
}

func parseUntagged(c *cursor) ([]Action, error) {
	switch b, _ := c.peek(); {
	case b >= '0' && b <= '9':
		return parseNumberedUntagged(c)
	}

	if looksLikeStatusWord(c) {
		return parseUntaggedStatus(c)
	}

	tok, err := c.readToken()
	if err != nil {
		return nil, err
	}
	switch strings.ToUpper(tok) {
	case "CAPABILITY":
		if err := c.expectSP(); err != nil {
			return nil, err
		}
		return []Action{Capabilities{Tokens: upperFields(c.readToEOL())}}, nil
	case "FLAGS":
		if err := c.expectSP(); err != nil {
			return nil, err
		}
		flags, err := c.readParenStringList()
		if err != nil {
			return nil, err
		}
		return []Action{ApplicableFlags{Flags: upperAll(flags)}}, nil
	case "LIST":
		if err := c.expectSP(); err != nil {
			return nil, err
		}
		return parseList(c)
	default:
		return []Action{Unparsed{Raw: tok + " " + c.readToEOL()}}, nil
	}
}

func looksLikeStatusWord(c *cursor) bool {
	save := c.pos
	defer func() { c.pos = save }()
	tok, err := c.readToken()
	if err != nil {
		return false
	}
	switch strings.ToUpper(tok) {
	case "OK", "NO", "BAD", "PREAUTH", "BYE":
		return true
	}
	return false
}

func parseUntaggedStatus(c *cursor) ([]Action, error) {
	status, err := readStatusWord(c)
	if err != nil {
		return nil, err
	}
	c.skipSpaces()

	if b, ok := c.peek(); ok && b == '[' {
		c.advance(1)
		actions, err := parseResponseCode(c, status)
		if err != nil {
			return nil, err
		}
		if err := c.expectByte(']'); err != nil {
			return nil, err
		}
		c.skipSpaces()
		text := c.readToEOL()
		if actions != nil {
			return actions, nil
		}
		return []Action{UntaggedStatus{Status: status, Text: text}}, nil
	}

	text := c.readToEOL()
	return []Action{UntaggedStatus{Status: status, Text: text}}, nil
}

// parseResponseCode parses the content between "[" and "]" of a status
// response. It returns (nil, nil) when the code is recognized but
// carries no standalone Action (the caller then emits UntaggedStatus),
// and a non-nil action slice for codes this parser structurally
// understands (PERMANENTFLAGS, UNSEEN, UIDVALIDITY, UIDNEXT, COPYUID,
// READ-ONLY, READ-WRITE).
func parseResponseCode(c *cursor, status Status) ([]Action, error) {
	kw, err := c.readToken()
	if err != nil {
		return nil, err
	}
	switch strings.ToUpper(kw) {
	case "PERMANENTFLAGS":
		if err := c.expectSP(); err != nil {
			return nil, err
		}
		flags, err := c.readParenStringList()
		if err != nil {
			return nil, err
		}
		return []Action{PermanentFlags{Flags: upperAll(flags)}}, nil
	case "UIDVALIDITY":
		if err := c.expectSP(); err != nil {
			return nil, err
		}
		n, err := c.readNumber()
		if err != nil {
			return nil, err
		}
		return []Action{UIDValidity{Value: n}}, nil
	case "UIDNEXT":
		if err := c.expectSP(); err != nil {
			return nil, err
		}
		n, err := c.readNumber()
		if err != nil {
			return nil, err
		}
		return []Action{UIDNext{Value: n}}, nil
	case "UNSEEN":
		if err := c.expectSP(); err != nil {
			return nil, err
		}
		n, err := c.readNumber()
		if err != nil {
			return nil, err
		}
		return []Action{Unseen{SeqNum: int(n)}}, nil
	case "READ-ONLY":
		return []Action{ReadOnly{}}, nil
	case "READ-WRITE":
		return []Action{ReadWrite{}}, nil
	case "COPYUID":
		if err := c.expectSP(); err != nil {
			return nil, err
		}
		return parseCopyUID(c)
	default:
		// Unrecognized response code: consume to the closing bracket and
		// surface nothing structural (ignored, per spec §4.2).
		for {
			b, ok := c.peek()
			if !ok || b == ']' {
				return nil, nil
			}
			c.advance(1)
		}
	}
}

func parseCopyUID(c *cursor) ([]Action, error) {
	validity, err := c.readNumber()
	if err != nil {
		return nil, err
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	srcText, err := c.readUntil(' ', ']')
	if err != nil {
		return nil, err
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	dstText, err := c.readUntil(' ', ']')
	if err != nil {
		return nil, err
	}
	// COPYUID sets are parsed defensively: malformed punctuation yields
	// an empty set rather than a fatal parse error (spec §7).
	src := expandUIDSet(srcText)
	dst := expandUIDSet(dstText)
	return []Action{CopyUID{Validity: validity, Src: src, Dst: dst}}, nil
}

func (c *cursor) readUntil(stop ...byte) (string, error) {
	start := c.pos
	for {
		b, ok := c.peek()
		if !ok {
			return "", errAt(c, "unexpected end of packet")
		}
		for _, s := range stop {
			if b == s {
				return string(c.buf[start:c.pos]), nil
			}
		}
		c.advance(1)
	}
}

// expandUIDSet expands a UID set like "4:7,9,12" into [4,5,6,7,9,12].
// Malformed input (non-numeric tokens, reversed ranges) yields an empty
// set rather than an error.
func expandUIDSet(s string) []uint32 {
	var out []uint32
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			return nil
		}
		if lo, hi, ok := strings.Cut(part, ":"); ok {
			a, err1 := strconv.ParseUint(lo, 10, 32)
			b, err2 := strconv.ParseUint(hi, 10, 32)
			if err1 != nil || err2 != nil || b < a {
				return nil
			}
			for v := a; v <= b; v++ {
				out = append(out, uint32(v))
			}
		} else {
			v, err := strconv.ParseUint(part, 10, 32)
			if err != nil {
				return nil
			}
			out = append(out, uint32(v))
		}
	}
	return out
}

func parseNumberedUntagged(c *cursor) ([]Action, error) {
	num, err := c.readNumber()
	if err != nil {
		return nil, err
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	kw, err := c.readToken()
	if err != nil {
		return nil, err
	}
	switch strings.ToUpper(kw) {
	case "EXISTS":
		return []Action{Exists{Count: int(num)}}, nil
	case "RECENT":
		return []Action{Recent{Count: int(num)}}, nil
	case "EXPUNGE":
		return []Action{Expunge{SeqNum: int(num)}}, nil
	case "FETCH":
		c.skipSpaces()
		return parseFetch(c, int(num))
	default:
		return []Action{Unparsed{Raw: kw + " " + c.readToEOL()}}, nil
	}
}

func parseList(c *cursor) ([]Action, error) {
	flags, err := c.readParenStringList()
	if err != nil {
		return nil, err
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	var delim string
	if c.matchKeyword("NIL") {
		delim = ""
	} else {
		delim, err = c.readQuoted()
		if err != nil {
			return nil, err
		}
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	name, err := c.readAString()
	if err != nil {
		return nil, err
	}
	return []Action{ListEntry{Flags: upperAll(flags), Delimiter: delim, Name: name}}, nil
}

func parseFetch(c *cursor, seq int) ([]Action, error) {
	if err := c.expectByte('('); err != nil {
		return nil, err
	}
	var actions []Action
	for {
		c.skipSpaces()
		if b, ok := c.peek(); ok && b == ')' {
			c.advance(1)
			break
		}
		name, err := c.readFetchAttrName()
		if err != nil {
			return nil, err
		}
		if err := c.expectSP(); err != nil {
			return nil, err
		}
		attr, ok, err := parseFetchValue(c, seq, name)
		if err != nil {
			return nil, err
		}
		if ok {
			actions = append(actions, attr)
		}
	}
	return actions, nil
}

// readFetchAttrName reads a FETCH attribute name: an atom, possibly
// followed by a "[...]" section specifier (BODY[...] / BODY.PEEK[...]).
func (c *cursor) readFetchAttrName() (string, error) {
	start := c.pos
	for {
		b, ok := c.peek()
		if !ok || !(isAtomChar(b) || b == '.') {
			break
		}
		c.advance(1)
	}
	if b, ok := c.peek(); ok && b == '[' {
		for {
			b, ok := c.peek()
			if !ok {
				return "", errAt(c, "unterminated section specifier")
			}
			c.advance(1)
			if b == ']' {
				break
			}
		}
	}
	if c.pos == start {
		return "", errAt(c, "expected FETCH attribute name")
	}
	return string(c.buf[start:c.pos]), nil
}

func parseFetchValue(c *cursor, seq int, name string) (FetchAttr, bool, error) {
	upper := strings.ToUpper(name)
	switch {
	case upper == "FLAGS":
		flags, err := c.readParenStringList()
		if err != nil {
			return FetchAttr{}, false, err
		}
		return FetchAttr{Seq: seq, Kind: FetchFlags, Flags: flags}, true, nil
	case upper == "UID":
		n, err := c.readNumber()
		if err != nil {
			return FetchAttr{}, false, err
		}
		return FetchAttr{Seq: seq, Kind: FetchUID, UID: n}, true, nil
	case upper == "ENVELOPE":
		env, err := parseEnvelope(c)
		if err != nil {
			return FetchAttr{}, false, err
		}
		return FetchAttr{Seq: seq, Kind: FetchEnvelope, Envelope: env}, true, nil
	case upper == "BODY" || upper == "BODYSTRUCTURE":
		bs, err := parseBodyStructure(c)
		if err != nil {
			return FetchAttr{}, false, err
		}
		return FetchAttr{Seq: seq, Kind: FetchBodyStructure, BodyStructure: bs}, true, nil
	case strings.HasPrefix(upper, "BODY[") || strings.HasPrefix(upper, "BODY.PEEK["):
		section := sectionText(name)
		path := parseSectionPath(section)
		val, err := c.readNString()
		if err != nil {
			return FetchAttr{}, false, err
		}
		if val == nil {
			return FetchAttr{Seq: seq, Kind: FetchBodyContent, Section: section, Path: path, ContentIsNil: true}, true, nil
		}
		return FetchAttr{Seq: seq, Kind: FetchBodyContent, Section: section, Path: path, Content: []byte(*val)}, true, nil
	default:
		// Unknown attribute (e.g. INTERNALDATE, RFC822.SIZE): skip its
		// value conservatively and surface nothing for it.
		if err := skipFetchValue(c); err != nil {
			return FetchAttr{}, false, err
		}
		return FetchAttr{}, false, nil
	}
}

// sectionText extracts the raw "[...]" content from a FETCH attribute
// name like "BODY[1.3.2]" or "BODY.PEEK[HEADER]".
func sectionText(name string) string {
	i := strings.IndexByte(name, '[')
	j := strings.LastIndexByte(name, ']')
	if i < 0 || j < 0 || j < i {
		return ""
	}
	return name[i+1 : j]
}

// parseSectionPath extracts the dotted numeric path from a section
// specifier; an empty section maps to [1] per spec §4.2. Keyword
// sections (HEADER, TEXT, MIME, HEADER.FIELDS ...) yield a nil path —
// they address the message/part as a whole, not a body-structure leaf.
func parseSectionPath(section string) []int {
	if section == "" {
		return []int{1}
	}
	parts := strings.Split(section, ".")
	var path []int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil
		}
		path = append(path, n)
	}
	return path
}

func skipFetchValue(c *cursor) error {
	b, ok := c.peek()
	if !ok {
		return errAt(c, "expected a FETCH value")
	}
	switch b {
	case '(':
		depth := 0
		for {
			b, ok := c.peek()
			if !ok {
				return errAt(c, "unterminated parenthesized value")
			}
			c.advance(1)
			if b == '(' {
				depth++
			} else if b == ')' {
				depth--
				if depth == 0 {
					return nil
				}
			}
		}
	case '"':
		_, err := c.readQuoted()
		return err
	case '{':
		_, err := c.readLiteral()
		return err
	default:
		if c.matchKeyword("NIL") {
			return nil
		}
		_, err := c.readToken()
		return err
	}
}

// --- ENVELOPE ---

func parseEnvelope(c *cursor) (*Envelope, error) {
	if err := c.expectByte('('); err != nil {
		return nil, err
	}
	dateStr, err := c.readNString()
	if err != nil {
		return nil, err
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	subject, err := c.readNString()
	if err != nil {
		return nil, err
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}

	lists := make([][]Address, 6)
	for i := 0; i < 6; i++ {
		lst, err := parseAddressList(c)
		if err != nil {
			return nil, err
		}
		lists[i] = lst
		if err := c.expectSP(); err != nil {
			return nil, err
		}
	}

	inReplyTo, err := c.readNString()
	if err != nil {
		return nil, err
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	messageID, err := c.readNString()
	if err != nil {
		return nil, err
	}
	if err := c.expectByte(')'); err != nil {
		return nil, err
	}

	var date *time.Time
	if dateStr != nil {
		date = parseEnvelopeDate(*dateStr)
	}

	return &Envelope{
		Date:      date,
		Subject:   subject,
		From:      lists[0],
		Sender:    lists[1],
		ReplyTo:   lists[2],
		To:        lists[3],
		Cc:        lists[4],
		Bcc:       lists[5],
		InReplyTo: inReplyTo,
		MessageID: messageID,
	}, nil
}

// parseEnvelopeDate parses an RFC 5322 date, normalizing the timezone
// offset to UTC. Unparseable or NIL dates yield nil rather than an error
// (spec §7: "RFC5322 date parsing falls back to null rather than
// raising").
func parseEnvelopeDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if t, err := mail.ParseDate(s); err == nil {
		u := t.UTC()
		return &u
	}
	// mail.ParseDate rejects some servers' trailing zone comments like
	// "(PDT)"; strip a trailing parenthesized comment and retry.
	if i := strings.LastIndexByte(s, '('); i > 0 {
		trimmed := strings.TrimSpace(s[:i])
		if t, err := mail.ParseDate(trimmed); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

func parseAddressList(c *cursor) ([]Address, error) {
	if c.matchKeyword("NIL") {
		return nil, nil
	}
	if err := c.expectByte('('); err != nil {
		return nil, err
	}
	var out []Address
	for {
		if b, ok := c.peek(); ok && b == ')' {
			c.advance(1)
			return out, nil
		}
		addr, err := parseAddress(c)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
		if b, ok := c.peek(); ok && b == ' ' {
			c.advance(1)
		}
	}
}

// parseAddress parses "(name adl mailbox host)" into a display name plus
// a lower-cased "mailbox@host" address (spec §9: mailbox/host are
// normalized lower-case; this loses original case by design).
func parseAddress(c *cursor) (Address, error) {
	if err := c.expectByte('('); err != nil {
		return Address{}, err
	}
	name, err := c.readNString()
	if err != nil {
		return Address{}, err
	}
	if err := c.expectSP(); err != nil {
		return Address{}, err
	}
	if _, err := c.readNString(); err != nil { // adl: unused
		return Address{}, err
	}
	if err := c.expectSP(); err != nil {
		return Address{}, err
	}
	mailbox, err := c.readNString()
	if err != nil {
		return Address{}, err
	}
	if err := c.expectSP(); err != nil {
		return Address{}, err
	}
	host, err := c.readNString()
	if err != nil {
		return Address{}, err
	}
	if err := c.expectByte(')'); err != nil {
		return Address{}, err
	}

	mb := ""
	if mailbox != nil {
		mb = strings.ToLower(*mailbox)
	}
	h := ""
	if host != nil {
		h = strings.ToLower(*host)
	}
	addr := mb
	if h != "" {
		addr = mb + "@" + h
	}
	return Address{Name: name, Mailbox: addr}, nil
}

// --- BODY / BODYSTRUCTURE ---

func parseBodyStructure(c *cursor) (BodyStructure, error) {
	if err := c.expectByte('('); err != nil {
		return nil, err
	}
	b, ok := c.peek()
	if !ok {
		return nil, errAt(c, "expected body structure")
	}
	var result BodyStructure
	var err error
	if b == '(' {
		result, err = parseMultipartBody(c)
	} else {
		result, err = parseOnepartBody(c)
	}
	if err != nil {
		return nil, err
	}
	if err := c.expectByte(')'); err != nil {
		return nil, err
	}
	return result, nil
}

func parseMultipartBody(c *cursor) (BodyStructure, error) {
	var children []BodyStructure
	for {
		b, ok := c.peek()
		if !ok {
			return nil, errAt(c, "unterminated multipart body")
		}
		if b != '(' {
			break
		}
		child, err := parseBodyStructure(c)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	subtype, err := c.readAString()
	if err != nil {
		return nil, err
	}
	// Extension data (body parameters, disposition, language, location)
	// may follow; consume it laxly up to the closing paren of this part,
	// since we only need the children and subtype (spec §4.2: "tolerate
	// trailing unused fields ... needed for BODYSTRUCTURE extensions").
	skipExtensionFields(c)
	return Multipart{Subtype: strings.ToLower(subtype), Children: children}, nil
}

func parseOnepartBody(c *cursor) (BodyStructure, error) {
	mtype, err := c.readAString()
	if err != nil {
		return nil, err
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	subtype, err := c.readAString()
	if err != nil {
		return nil, err
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	params, err := parseBodyParams(c)
	if err != nil {
		return nil, err
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	contentID, err := c.readNString()
	if err != nil {
		return nil, err
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	description, err := c.readNString()
	if err != nil {
		return nil, err
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	encStr, err := c.readNString()
	if err != nil {
		return nil, err
	}
	if err := c.expectSP(); err != nil {
		return nil, err
	}
	octets, err := c.readNumber()
	if err != nil {
		return nil, err
	}

	// Remaining fields (envelope for message/rfc822, line count for
	// text/*, and any extension data) are ignored by this spec's body
	// structure contract; skip laxly to the closing paren.
	skipExtensionFields(c)

	return Onepart{
		MimeType:    strings.ToLower(mtype) + "/" + strings.ToLower(subtype),
		Params:      params,
		ContentID:   contentID,
		Description: description,
		Encoding:    parseEncoding(encStr),
		Octets:      octets,
	}, nil
}

func parseEncoding(s *string) Encoding {
	if s == nil {
		return Encoding{Kind: EncodingSevenBit}
	}
	switch strings.ToUpper(*s) {
	case "7BIT":
		return Encoding{Kind: EncodingSevenBit}
	case "8BIT":
		return Encoding{Kind: EncodingEightBit}
	case "BINARY":
		return Encoding{Kind: EncodingBinary}
	case "BASE64":
		return Encoding{Kind: EncodingBase64}
	case "QUOTED-PRINTABLE":
		return Encoding{Kind: EncodingQuotedPrintable}
	default:
		return Encoding{Kind: EncodingOther, Other: *s}
	}
}

func parseBodyParams(c *cursor) (map[string]string, error) {
	if c.matchKeyword("NIL") {
		return nil, nil
	}
	if err := c.expectByte('('); err != nil {
		return nil, err
	}
	params := map[string]string{}
	for {
		if b, ok := c.peek(); ok && b == ')' {
			c.advance(1)
			return params, nil
		}
		key, err := c.readNString()
		if err != nil {
			return nil, err
		}
		if err := c.expectSP(); err != nil {
			return nil, err
		}
		val, err := c.readNString()
		if err != nil {
			return nil, err
		}
		if key != nil && val != nil {
			params[strings.ToLower(*key)] = *val
		}
		if b, ok := c.peek(); ok && b == ' ' {
			c.advance(1)
		}
	}
}

// skipExtensionFields consumes " <value>" pairs up to (but not
// including) the closing ")" of the enclosing body structure, tolerating
// whatever extension data is present without needing to understand it.
func skipExtensionFields(c *cursor) {
	for {
		b, ok := c.peek()
		if !ok || b == ')' {
			return
		}
		if b != ' ' {
			return
		}
		c.advance(1)
		if err := skipFetchValue(c); err != nil {
			return
		}
	}
}

// --- helpers ---

func upperFields(s string) []string {
	fields := strings.Fields(s)
	return upperAll(fields)
}

func upperAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}
