package relay

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Unix(1700000000, 0)

func testValidator() *Validator {
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return testNow }
	return NewValidator(cfg)
}

// rawEvent builds an event JSON object, with fields overridden or (for nil values)
// removed.
func rawEvent(t *testing.T, overrides map[string]any) json.RawMessage {
	obj := map[string]any{
		"id":         strings.Repeat("a", 64),
		"pubkey":     strings.Repeat("b", 64),
		"created_at": testNow.Unix(),
		"kind":       1,
		"tags":       [][]string{{"e", "x"}},
		"content":    "hello",
		"sig":        strings.Repeat("c", 128),
	}
	for k, v := range overrides {
		if v == nil {
			delete(obj, k)
		} else {
			obj[k] = v
		}
	}
	raw, err := json.Marshal(obj)
	require.NoError(t, err)
	return raw
}

func TestValidateAccepts(t *testing.T) {
	assert := assert.New(t)
	v := testValidator()

	evt, reason := v.Validate(rawEvent(t, nil))
	assert.Empty(reason)
	require.NotNil(t, evt)
	assert.Equal(1, evt.Kind)
	assert.Equal(testNow.Unix(), evt.CreatedAt)
	assert.Equal("x", evt.Tags[0][1])

	// boundaries are inclusive
	fixtures := []map[string]any{
		{"content": strings.Repeat("x", 64*1024)},
		{"kind": 0, "content": strings.Repeat("x", 8*1024)},
		{"created_at": testNow.Add(7 * 24 * time.Hour).Unix()},
		{"created_at": testNow.Add(-7 * 24 * time.Hour).Unix()},
		{"tags": [][]string{}},
		{"tags": [][]string{{"t", strings.Repeat("v", 1024)}}},
		{"kind": 65535},
		{"extra": "ignored"},
	}
	for _, o := range fixtures {
		_, reason := v.Validate(rawEvent(t, o))
		assert.Empty(reason, "%v", o)
	}
}

func TestValidateRejects(t *testing.T) {
	assert := assert.New(t)
	v := testValidator()

	manyTags := make([][]string, 2001)
	for i := range manyTags {
		manyTags[i] = []string{"t", "x"}
	}

	fixtures := []struct {
		overrides map[string]any
		reason    string
	}{
		{map[string]any{"id": nil}, "invalid: missing field id"},
		{map[string]any{"pubkey": 5}, "invalid: field pubkey must be a string"},
		{map[string]any{"sig": nil}, "invalid: missing field sig"},
		{map[string]any{"content": []string{"x"}}, "invalid: field content must be a string"},
		{map[string]any{"created_at": "1700000000"}, "invalid: field created_at must be an integer"},
		{map[string]any{"created_at": 1.5}, "invalid: field created_at must be an integer"},
		{map[string]any{"kind": nil}, "invalid: missing field kind"},
		{map[string]any{"kind": -1}, "invalid: kind out of range"},
		{map[string]any{"kind": 65536}, "invalid: kind out of range"},
		{map[string]any{"tags": nil}, "invalid: missing field tags"},
		{map[string]any{"tags": "e"}, "invalid: tags must be an array of arrays of strings"},
		{map[string]any{"tags": []any{"e"}}, "invalid: tags must be an array of arrays of strings"},
		{map[string]any{"tags": [][]any{{"e", 1}}}, "invalid: tags must be an array of arrays of strings"},
		{map[string]any{"tags": [][]any{{"e", nil}}}, "invalid: tags must be an array of arrays of strings"},
		{map[string]any{"tags": [][]string{{}}}, "invalid: tags must not be empty"},
		{map[string]any{"id": strings.Repeat("a", 63)}, "invalid: id must be 64 lowercase hex characters"},
		{map[string]any{"id": strings.Repeat("A", 64)}, "invalid: id must be 64 lowercase hex characters"},
		{map[string]any{"pubkey": strings.Repeat("g", 64)}, "invalid: pubkey must be 64 lowercase hex characters"},
		{map[string]any{"pubkey": strings.Repeat("B", 64)}, "invalid: pubkey must be 64 lowercase hex characters"},
		{map[string]any{"sig": strings.Repeat("c", 64)}, "invalid: sig must be 128 lowercase hex characters"},
		{map[string]any{"sig": strings.Repeat("C", 128)}, "invalid: sig must be 128 lowercase hex characters"},
		{map[string]any{"content": strings.Repeat("x", 64*1024+1)}, "invalid: content exceeds 65536 bytes"},
		{map[string]any{"kind": 9024, "content": strings.Repeat("x", 8*1024+1)}, "invalid: content exceeds 8192 bytes"},
		{map[string]any{"tags": manyTags}, "invalid: too many tags (max 2000)"},
		{map[string]any{"tags": [][]string{{"t", strings.Repeat("v", 1025)}}}, "invalid: tag element exceeds 1024 bytes"},
		{map[string]any{"created_at": testNow.Add(7*24*time.Hour + time.Second).Unix()}, "invalid: created_at is too far in the future"},
		{map[string]any{"created_at": testNow.Add(-7*24*time.Hour - time.Second).Unix()}, "invalid: created_at is too old"},
	}
	for _, fix := range fixtures {
		evt, reason := v.Validate(rawEvent(t, fix.overrides))
		assert.Nil(evt, "%v", fix.overrides)
		assert.Equal(fix.reason, reason, "%v", fix.overrides)
	}

	for _, raw := range []string{`[]`, `null`, `"event"`, `{`} {
		evt, reason := v.Validate(json.RawMessage(raw))
		assert.Nil(evt)
		assert.Equal("invalid: event must be a JSON object", reason, raw)
	}
}

func TestValidateCheapChecksFirst(t *testing.T) {
	v := testValidator()
	// bad hex and oversized content: the hex check runs first
	_, reason := v.Validate(rawEvent(t, map[string]any{
		"id":      "nothex",
		"content": strings.Repeat("x", 70*1024),
	}))
	assert.Equal(t, "invalid: id must be 64 lowercase hex characters", reason)
}
