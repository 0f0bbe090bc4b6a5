package oauth

import (
	"net/http"
	"strings"
)

// BearerChallenge holds the parameters of a WWW-Authenticate Bearer challenge.
// ResourceMetadata points at RFC 9728 protected resource metadata.
type BearerChallenge struct {
	ResourceMetadata string
	Realm            string
	Scope            string
	Error            string
}

// ParseBearerChallenge returns the first Bearer challenge in the response
// headers, or nil if there is none.
func ParseBearerChallenge(headers http.Header) *BearerChallenge {
	return ParseBearerChallengeValues(headers.Values("WWW-Authenticate"))
}

// ParseBearerChallengeValues is ParseBearerChallenge over raw header values.
// A single value may carry several comma-separated challenges.
func ParseBearerChallengeValues(values []string) *BearerChallenge {
	for _, value := range values {
		for _, ch := range splitChallenges(value) {
			if !strings.EqualFold(ch.scheme, "bearer") {
				continue
			}
			return &BearerChallenge{
				ResourceMetadata: ch.params["resource_metadata"],
				Realm:            ch.params["realm"],
				Scope:            ch.params["scope"],
				Error:            ch.params["error"],
			}
		}
	}
	return nil
}

type challenge struct {
	scheme string
	params map[string]string
}

// splitChallenges walks a header value item by item. An item is either
// "key=value" (a parameter of the current challenge) or a bare token, which
// starts a new challenge. A scheme may be followed on the same item by its
// first parameter ("Bearer realm=x").
func splitChallenges(value string) []challenge {
	var (
		out []challenge
		cur *challenge
	)
	s := &headerScanner{src: value}
	for {
		s.skip(" \t,")
		if s.done() {
			break
		}
		tok := s.token()
		if tok == "" {
			// Not a token char (e.g. token68 padding); step over it.
			s.pos++
			continue
		}
		s.skip(" \t")
		if s.peek() == '=' {
			s.pos++
			s.skip(" \t")
			val := s.value()
			if cur != nil {
				cur.params[strings.ToLower(tok)] = val
			}
			continue
		}
		if cur != nil {
			out = append(out, *cur)
		}
		cur = &challenge{scheme: tok, params: map[string]string{}}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

type headerScanner struct {
	src string
	pos int
}

func (s *headerScanner) done() bool { return s.pos >= len(s.src) }

func (s *headerScanner) peek() byte {
	if s.done() {
		return 0
	}
	return s.src[s.pos]
}

func (s *headerScanner) skip(chars string) {
	for !s.done() && strings.IndexByte(chars, s.src[s.pos]) >= 0 {
		s.pos++
	}
}

func (s *headerScanner) token() string {
	start := s.pos
	for !s.done() && isTokenChar(s.src[s.pos]) {
		s.pos++
	}
	return s.src[start:s.pos]
}

// value reads a token or a quoted-string with backslash escapes.
func (s *headerScanner) value() string {
	if s.peek() != '"' {
		return s.token()
	}
	s.pos++
	var b strings.Builder
	for !s.done() {
		c := s.src[s.pos]
		switch {
		case c == '\\' && s.pos+1 < len(s.src):
			b.WriteByte(s.src[s.pos+1])
			s.pos += 2
		case c == '"':
			s.pos++
			return b.String()
		default:
			b.WriteByte(c)
			s.pos++
		}
	}
	return b.String()
}

// isTokenChar reports whether c is an RFC 7230 tchar.
func isTokenChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}
