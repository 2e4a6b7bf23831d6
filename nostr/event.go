package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"unicode/utf8"
)

// Event is a signed, content-addressed record. Events are treated as immutable once
// they have been validated.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// Tag is an ordered sequence of strings; element 0 is the tag name.
type Tag []string

// Tags is the ordered tag list of an event.
type Tags []Tag

// Name returns the tag name, or "" for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first tag value (element 1), or "" if there is none.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// DTag returns the parameter ("d" tag) value used to key parameterized-replaceable events.
func (tags Tags) DTag() string {
	for _, t := range tags {
		if t.Name() == "d" {
			return t.Value()
		}
	}
	return ""
}

// Values returns the value of every tag with the given name which has one.
func (tags Tags) Values(name string) []string {
	var out []string
	for _, t := range tags {
		if len(t) >= 2 && t[0] == name {
			out = append(out, t[1])
		}
	}
	return out
}

// Serialize returns the canonical serialization of the event, which is hashed to
// produce the event id:
//
//	[0,<pubkey>,<created_at>,<kind>,<tags>,<content>]
//
// String escaping follows JSON.stringify, not encoding/json: no HTML escaping, and
// non-ASCII characters are written as raw UTF-8.
func (evt *Event) Serialize() []byte {
	buf := make([]byte, 0, 128+len(evt.Content)+32*len(evt.Tags))
	buf = append(buf, `[0,"`...)
	buf = append(buf, evt.PubKey...)
	buf = append(buf, `",`...)
	buf = strconv.AppendInt(buf, evt.CreatedAt, 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(evt.Kind), 10)
	buf = append(buf, ',')
	buf = appendTags(buf, evt.Tags)
	buf = append(buf, ',')
	buf = appendJSONString(buf, evt.Content)
	buf = append(buf, ']')
	return buf
}

// ComputeID hashes the canonical serialization and returns it as lowercase hex.
func (evt *Event) ComputeID() string {
	sum := sha256.Sum256(evt.Serialize())
	return hex.EncodeToString(sum[:])
}

// AppendJSON appends the event as a JSON object using the same string escaping as
// Serialize. This is the form sent to clients.
func (evt *Event) AppendJSON(buf []byte) []byte {
	buf = append(buf, `{"id":`...)
	buf = appendJSONString(buf, evt.ID)
	buf = append(buf, `,"pubkey":`...)
	buf = appendJSONString(buf, evt.PubKey)
	buf = append(buf, `,"created_at":`...)
	buf = strconv.AppendInt(buf, evt.CreatedAt, 10)
	buf = append(buf, `,"kind":`...)
	buf = strconv.AppendInt(buf, int64(evt.Kind), 10)
	buf = append(buf, `,"tags":`...)
	buf = appendTags(buf, evt.Tags)
	buf = append(buf, `,"content":`...)
	buf = appendJSONString(buf, evt.Content)
	buf = append(buf, `,"sig":`...)
	buf = appendJSONString(buf, evt.Sig)
	return append(buf, '}')
}

// JSON returns the event encoded as by AppendJSON.
func (evt *Event) JSON() []byte {
	return evt.AppendJSON(make([]byte, 0, 256+len(evt.Content)+32*len(evt.Tags)))
}

func appendTags(buf []byte, tags Tags) []byte {
	buf = append(buf, '[')
	for i, t := range tags {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '[')
		for j, s := range t {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = appendJSONString(buf, s)
		}
		buf = append(buf, ']')
	}
	return append(buf, ']')
}

const hexDigits = "0123456789abcdef"

func appendJSONString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			// multi-byte UTF-8 sequences pass through unchanged; invalid bytes become U+FFFD
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				buf = append(buf, s[start:i]...)
				buf = append(buf, "\uFFFD"...)
				i++
				start = i
				continue
			}
			i += size
			continue
		}
		if c >= 0x20 && c != '"' && c != '\\' {
			i++
			continue
		}
		buf = append(buf, s[start:i]...)
		switch c {
		case '"':
			buf = append(buf, `\"`...)
		case '\\':
			buf = append(buf, `\\`...)
		case '\b':
			buf = append(buf, `\b`...)
		case '\f':
			buf = append(buf, `\f`...)
		case '\n':
			buf = append(buf, `\n`...)
		case '\r':
			buf = append(buf, `\r`...)
		case '\t':
			buf = append(buf, `\t`...)
		default:
			buf = append(buf, `\u00`...)
			buf = append(buf, hexDigits[c>>4], hexDigits[c&0xf])
		}
		i++
		start = i
	}
	buf = append(buf, s[start:]...)
	return append(buf, '"')
}

// IsLowerHex reports whether s is exactly length lowercase hex characters.
func IsLowerHex(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
