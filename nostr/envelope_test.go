package nostr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	msg, err := ParseClientMessage([]byte(`["EVENT",{"id":"abc","kind":1}]`))
	require.NoError(err)
	env, ok := msg.(*EventEnvelope)
	require.True(ok)
	assert.JSONEq(`{"id":"abc","kind":1}`, string(env.Event))
	assert.Equal("EVENT", msg.Label())

	msg, err = ParseClientMessage([]byte(`["REQ","sub1",{"kinds":[1]},{"authors":["pk"]}]`))
	require.NoError(err)
	req, ok := msg.(*ReqEnvelope)
	require.True(ok)
	assert.Equal("sub1", req.SubscriptionID)
	filters, err := req.ParseFilters()
	require.NoError(err)
	assert.Len(filters, 2)
	assert.Equal([]int{1}, filters[0].Kinds)
	assert.Equal([]string{"pk"}, filters[1].Authors)

	msg, err = ParseClientMessage([]byte(`["REQ","nofilters"]`))
	require.NoError(err)
	assert.Empty(msg.(*ReqEnvelope).Filters)

	msg, err = ParseClientMessage([]byte(`["CLOSE","sub1"]`))
	require.NoError(err)
	assert.Equal("sub1", msg.(*CloseEnvelope).SubscriptionID)
}

func TestParseClientMessageErrors(t *testing.T) {
	assert := assert.New(t)

	fixtures := map[string]error{
		`{"type":"EVENT"}`: ErrNotArray,
		`not json`:         ErrNotArray,
		`null`:             ErrNotArray,
		`[]`:               ErrTooShort,
		`["EVENT"]`:        ErrTooShort,
		`[1,{}]`:           ErrBadMessageType,
		`["AUTH","x"]`:     ErrUnknownType,
	}
	for raw, expected := range fixtures {
		_, err := ParseClientMessage([]byte(raw))
		assert.ErrorIs(err, expected, raw)
	}

	_, err := ParseClientMessage([]byte(`["REQ",5,{}]`))
	assert.Error(err)
	_, err = ParseClientMessage([]byte(`["CLOSE",null]`))
	assert.Error(err)
}

func TestPeekEventID(t *testing.T) {
	assert := assert.New(t)

	id, ok := PeekEventID(json.RawMessage(`{"id":"abc","kind":"wrong"}`))
	assert.True(ok)
	assert.Equal("abc", id)

	_, ok = PeekEventID(json.RawMessage(`{"id":5}`))
	assert.False(ok)
	_, ok = PeekEventID(json.RawMessage(`"just a string"`))
	assert.False(ok)
}

func TestServerMessages(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(`["EVENT","s\"1",{"id":"x"}]`, string(EventMessage(`s"1`, []byte(`{"id":"x"}`))))
	assert.Equal(`["EOSE","sub"]`, string(EOSEMessage("sub")))
	assert.Equal(`["OK","abc",true,""]`, string(OKMessage("abc", true, "")))
	assert.Equal(`["OK","abc",false,"blocked: pubkey not whitelisted"]`, string(OKMessage("abc", false, "blocked: pubkey not whitelisted")))
	assert.Equal(`["NOTICE","rate limit exceeded"]`, string(NoticeMessage("rate limit exceeded")))

	var decoded []any
	assert.NoError(json.Unmarshal(OKMessage("abc", false, "line\nbreak"), &decoded))
	assert.Equal("line\nbreak", decoded[3])
}
