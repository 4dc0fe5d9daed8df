package gateway

import (
	"encoding/json"

	"RTChat/tools/errs"

	"github.com/mitchellh/mapstructure"
)

// Wire protocol: JSON text frames {"event": "...", "data": {...}}.

// Client -> server events.
const (
	EvMessageSend         = "message:send"
	EvMessageDeliveredAck = "message:delivered_ack"
	EvMessageSeen         = "message:seen"
	EvMessageRecall       = "message:recall"
	EvTypingStart         = "typing:start"
	EvTypingStop          = "typing:stop"
	EvConversationOpen    = "conversation:open"
	EvConversationClose   = "conversation:close"
)

// Server -> client events.
const (
	EvMessageSentAck      = "message:sent_ack"
	EvMessageNew          = "message:new"
	EvMessageReceipt      = "message:receipt_update"
	EvMessageRecalled     = "message:recalled"
	EvMessagesSync        = "messages:sync"
	EvTypingStatus        = "typing:status"
	EvError               = "error"
)

type Frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.ErrArgs.WrapMsg("bad frame", "err", err)
	}
	if f.Event == "" {
		return nil, errs.ErrArgs.WithDetail("frame missing event").Wrap()
	}
	return &f, nil
}

// EncodeFrame marshals an outbound frame. data may be any JSON-encodable
// value, not only a map.
func EncodeFrame(event string, data any) []byte {
	b, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: data})
	if err != nil {
		// outbound payloads are server-built; this is a programming error
		return []byte(`{"event":"error","data":{"error":{"code":1000,"msg":"encode failed"}}}`)
	}
	return b
}

// DecodePayload maps a frame's data object onto a typed payload struct.
// Weak typing tolerates numbers arriving as float64 or string.
func DecodePayload[T any](data map[string]any) (*T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	if err := dec.Decode(data); err != nil {
		return nil, errs.ErrArgs.WrapMsg("bad payload", "err", err)
	}
	return &out, nil
}

// ---- outbound payload shapes ----

// Message ids are 63-bit and exceed the double precision JSON clients parse
// numbers into, so they go over the wire as strings.
type sentAckPayload struct {
	ClientMessageID string `json:"clientMessageId"`
	ServerMessageID int64  `json:"serverMessageId,string"`
	Timestamp       int64  `json:"timestamp"`
}

type newMessagePayload struct {
	Message        any    `json:"message"`
	ConversationID string `json:"conversationId"`
}

type receiptPayload struct {
	MessageID int64  `json:"messageId,string"`
	UserID    string `json:"userId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

type typingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type syncPayload struct {
	Messages any `json:"messages"`
	Count    int `json:"count"`
}

type errorPayload struct {
	Event           string          `json:"event"`
	ClientMessageID string          `json:"clientMessageId,omitempty"`
	Error           *errs.CodeError `json:"error"`
}

func errorFrame(event, clientMsgID string, err error) []byte {
	return EncodeFrame(EvError, errorPayload{
		Event:           event,
		ClientMessageID: clientMsgID,
		Error:           errs.AsCodeError(err),
	})
}
