package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dreamlab-ai/nostr-relay/nostr"
)

// Validator performs the structural and size checks on an untrusted event, cheapest
// first. It does no cryptographic or storage work.
type Validator struct {
	MaxContentBytes          int
	MaxBootstrapContentBytes int
	MaxTags                  int
	MaxTagValueBytes         int
	MaxTimestampDrift        time.Duration

	Now func() time.Time
}

func NewValidator(cfg *Config) *Validator {
	return &Validator{
		MaxContentBytes:          cfg.MaxContentBytes,
		MaxBootstrapContentBytes: cfg.MaxBootstrapContentBytes,
		MaxTags:                  cfg.MaxTags,
		MaxTagValueBytes:         cfg.MaxTagValueBytes,
		MaxTimestampDrift:        cfg.MaxTimestampDrift,
		Now:                      cfg.now,
	}
}

func invalid(format string, args ...any) string {
	return "invalid: " + fmt.Sprintf(format, args...)
}

// Validate decodes a raw event. On failure the event is nil and the reason is a
// client-visible "invalid: ..." string.
func (v *Validator) Validate(raw json.RawMessage) (*nostr.Event, string) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, invalid("event must be a JSON object")
	}

	var evt nostr.Event
	var reason string
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"id", &evt.ID},
		{"pubkey", &evt.PubKey},
		{"sig", &evt.Sig},
		{"content", &evt.Content},
	} {
		if *f.dst, reason = stringField(obj, f.name); reason != "" {
			return nil, reason
		}
	}
	if evt.CreatedAt, reason = integerField(obj, "created_at"); reason != "" {
		return nil, reason
	}
	kind, reason := integerField(obj, "kind")
	if reason != "" {
		return nil, reason
	}
	if kind < 0 || kind > 65535 {
		return nil, invalid("kind out of range")
	}
	evt.Kind = int(kind)
	if evt.Tags, reason = tagsField(obj); reason != "" {
		return nil, reason
	}

	if !nostr.IsLowerHex(evt.ID, 64) {
		return nil, invalid("id must be 64 lowercase hex characters")
	}
	if !nostr.IsLowerHex(evt.PubKey, 64) {
		return nil, invalid("pubkey must be 64 lowercase hex characters")
	}
	if !nostr.IsLowerHex(evt.Sig, 128) {
		return nil, invalid("sig must be 128 lowercase hex characters")
	}

	maxContent := v.MaxContentBytes
	if nostr.IsBootstrapKind(evt.Kind) {
		maxContent = v.MaxBootstrapContentBytes
	}
	if len(evt.Content) > maxContent {
		return nil, invalid("content exceeds %d bytes", maxContent)
	}

	if len(evt.Tags) > v.MaxTags {
		return nil, invalid("too many tags (max %d)", v.MaxTags)
	}
	for _, t := range evt.Tags {
		for _, s := range t {
			if len(s) > v.MaxTagValueBytes {
				return nil, invalid("tag element exceeds %d bytes", v.MaxTagValueBytes)
			}
		}
	}

	now := v.Now()
	created := time.Unix(evt.CreatedAt, 0)
	if created.After(now.Add(v.MaxTimestampDrift)) {
		return nil, invalid("created_at is too far in the future")
	}
	if created.Before(now.Add(-v.MaxTimestampDrift)) {
		return nil, invalid("created_at is too old")
	}

	return &evt, ""
}

func stringField(obj map[string]json.RawMessage, name string) (string, string) {
	raw, ok := obj[name]
	if !ok {
		return "", invalid("missing field %s", name)
	}
	if !isString(raw) {
		return "", invalid("field %s must be a string", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalid("field %s must be a string", name)
	}
	return s, ""
}

func integerField(obj map[string]json.RawMessage, name string) (int64, string) {
	raw, ok := obj[name]
	if !ok {
		return 0, invalid("missing field %s", name)
	}
	n, err := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64)
	if err != nil {
		return 0, invalid("field %s must be an integer", name)
	}
	return n, ""
}

func tagsField(obj map[string]json.RawMessage) (nostr.Tags, string) {
	raw, ok := obj["tags"]
	if !ok {
		return nil, invalid("missing field tags")
	}
	var outer []json.RawMessage
	if !isArray(raw) || json.Unmarshal(raw, &outer) != nil {
		return nil, invalid("tags must be an array of arrays of strings")
	}

	tags := make(nostr.Tags, 0, len(outer))
	for _, rawTag := range outer {
		var inner []json.RawMessage
		if !isArray(rawTag) || json.Unmarshal(rawTag, &inner) != nil {
			return nil, invalid("tags must be an array of arrays of strings")
		}
		if len(inner) == 0 {
			return nil, invalid("tags must not be empty")
		}
		tag := make(nostr.Tag, len(inner))
		for i, elem := range inner {
			if !isString(elem) || json.Unmarshal(elem, &tag[i]) != nil {
				return nil, invalid("tags must be an array of arrays of strings")
			}
		}
		tags = append(tags, tag)
	}
	return tags, ""
}

func isString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}
