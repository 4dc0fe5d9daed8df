package gateway

import (
	"encoding/json"
	"testing"

	"RTChat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"event":"message:send","data":{"content":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, EvMessageSend, f.Event)
	assert.Equal(t, "hi", f.Data["content"])

	_, err = ParseFrame([]byte(`{"data":{}}`))
	require.Error(t, err)

	_, err = ParseFrame([]byte(`not json at all`))
	require.Error(t, err)
}

type idPayload struct {
	MessageID int64 `mapstructure:"messageId"`
}

func TestDecodePayloadWeakTyping(t *testing.T) {
	// JSON numbers arrive as float64, ids sometimes as strings; both must land
	// in the int64 field
	p, err := DecodePayload[idPayload](map[string]any{"messageId": float64(42)})
	require.NoError(t, err)
	assert.Equal(t, int64(42), p.MessageID)

	p, err = DecodePayload[idPayload](map[string]any{"messageId": "7205759403792793600"})
	require.NoError(t, err)
	assert.Equal(t, int64(7205759403792793600), p.MessageID)

	_, err = DecodePayload[idPayload](map[string]any{"messageId": "not-a-number"})
	require.Error(t, err)
}

func TestIDFieldsEncodeAsStrings(t *testing.T) {
	// snowflake ids exceed double precision; a JSON number would get rounded
	// by the client before it ever reaches application code
	raw := EncodeFrame(EvMessageSentAck, sentAckPayload{
		ClientMessageID: "c1", ServerMessageID: 7205759403792793601, Timestamp: 1,
	})
	var ack struct {
		Data struct {
			ServerMessageID string `json:"serverMessageId"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &ack))
	assert.Equal(t, "7205759403792793601", ack.Data.ServerMessageID)

	raw = EncodeFrame(EvMessageReceipt, receiptPayload{MessageID: 7205759403792793601})
	var rcp struct {
		Data struct {
			MessageID string `json:"messageId"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &rcp))
	assert.Equal(t, "7205759403792793601", rcp.Data.MessageID)
}

func TestErrorFrameShape(t *testing.T) {
	raw := errorFrame(EvMessageSend, "cm-1", errs.ErrNotMember.Wrap())
	var f struct {
		Event string `json:"event"`
		Data  struct {
			Event           string `json:"event"`
			ClientMessageID string `json:"clientMessageId"`
			Error           struct {
				Code int    `json:"code"`
				Msg  string `json:"msg"`
			} `json:"error"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.Equal(t, EvError, f.Event)
	assert.Equal(t, EvMessageSend, f.Data.Event)
	assert.Equal(t, "cm-1", f.Data.ClientMessageID)
	assert.Equal(t, errs.NotConversationMember, f.Data.Error.Code)
}
