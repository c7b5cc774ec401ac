// Package protocol is the JSON frame codec spoken over the chat socket.
//
// Inbound and outbound frames are closed sets: Decode and Encode switch over
// every variant and reject anything else.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/go-playground/validator/v10"
)

type Type string

const (
	TypeAuth        Type = "auth"
	TypeSubscribe   Type = "subscribe"
	TypeUnsubscribe Type = "unsubscribe"
	TypeSendMessage Type = "send_message"

	TypeMessage Type = "message"
	TypeSuccess Type = "success"
	TypeError   Type = "error"
)

var (
	ErrMalformed   = fmt.Errorf("%w: malformed frame", domain.ErrProtocol)
	ErrUnknownType = fmt.Errorf("%w: unknown message type", domain.ErrProtocol)
	ErrInvalid     = fmt.Errorf("%w: invalid frame", domain.ErrProtocol)
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Inbound is implemented by *Auth, *Subscribe, *Unsubscribe and *SendMessage.
type Inbound interface {
	inbound() Type
}

type Auth struct {
	Token string `json:"token" validate:"required"`
}

type Subscribe struct {
	RoomID domain.RoomID `json:"room_id" validate:"required,gt=0"`
	// AfterID asks for replay of every message newer than it before live delivery.
	AfterID *domain.MessageID `json:"after_id,omitempty" validate:"omitempty,gte=0"`
}

type Unsubscribe struct {
	RoomID domain.RoomID `json:"room_id" validate:"required,gt=0"`
}

// SendMessage content is checked by the router, not here, so that blank
// content is reported as an invalid message rather than a protocol error.
type SendMessage struct {
	RoomID  domain.RoomID `json:"room_id" validate:"required,gt=0"`
	Content string        `json:"content"`
}

func (*Auth) inbound() Type        { return TypeAuth }
func (*Subscribe) inbound() Type   { return TypeSubscribe }
func (*Unsubscribe) inbound() Type { return TypeUnsubscribe }
func (*SendMessage) inbound() Type { return TypeSendMessage }

// Decode parses one inbound frame. Every error wraps domain.ErrProtocol,
// except an auth frame without token which wraps domain.ErrInvalidToken.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformed
	}

	var in Inbound
	switch env.Type {
	case TypeAuth:
		in = &Auth{}
	case TypeSubscribe:
		in = &Subscribe{}
	case TypeUnsubscribe:
		in = &Unsubscribe{}
	case TypeSendMessage:
		in = &SendMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(data, in); err != nil {
		return nil, fmt.Errorf("%w: %s payload", ErrMalformed, env.Type)
	}
	if err := validate.Struct(in); err != nil {
		if env.Type == TypeAuth {
			return nil, fmt.Errorf("%w: no token provided", domain.ErrInvalidToken)
		}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: %s field %s", ErrInvalid, env.Type, verrs[0].Field())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalid, env.Type)
	}
	return in, nil
}

// Outbound is implemented by Message, Success and Error.
type Outbound interface {
	outbound() Type
}

type Message struct {
	Type    Type           `json:"type"`
	Seq     uint64         `json:"seq"`
	Message domain.Message `json:"message"`
}

type Success struct {
	Type          Type             `json:"type"`
	Seq           uint64           `json:"seq"`
	Message       string           `json:"message"`
	RoomID        domain.RoomID    `json:"room_id,omitempty"`
	MessageID     domain.MessageID `json:"message_id,omitempty"`
	LastMessageID domain.MessageID `json:"last_message_id,omitempty"`
}

type Error struct {
	Type   Type          `json:"type"`
	Seq    uint64        `json:"seq"`
	Error  string        `json:"error"`
	RoomID domain.RoomID `json:"room_id,omitempty"`
}

func (Message) outbound() Type { return TypeMessage }
func (Success) outbound() Type { return TypeSuccess }
func (Error) outbound() Type   { return TypeError }

func NewMessage(m domain.Message) Message { return Message{Message: m} }

func NewSuccess(text string) Success { return Success{Message: text} }

// NewError renders err with domain.PublicText.
func NewError(err error) Error { return Error{Error: domain.PublicText(err)} }

// Encode stamps the frame type and the per-connection sequence number.
func Encode(f Outbound, seq uint64) ([]byte, error) {
	switch v := f.(type) {
	case Message:
		v.Type, v.Seq = TypeMessage, seq
		return json.Marshal(v)
	case Success:
		v.Type, v.Seq = TypeSuccess, seq
		return json.Marshal(v)
	case Error:
		v.Type, v.Seq = TypeError, seq
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("encode %T: %w", f, ErrUnknownType)
	}
}

// Envelope is a decoded outbound frame, used by clients and tests.
type Envelope struct {
	Type          Type             `json:"type"`
	Seq           uint64           `json:"seq"`
	Message       json.RawMessage  `json:"message,omitempty"`
	Error         string           `json:"error,omitempty"`
	RoomID        domain.RoomID    `json:"room_id,omitempty"`
	MessageID     domain.MessageID `json:"message_id,omitempty"`
	LastMessageID domain.MessageID `json:"last_message_id,omitempty"`
}

// Text returns the human text of a success frame.
func (e Envelope) Text() string {
	var s string
	if err := json.Unmarshal(e.Message, &s); err != nil {
		return ""
	}
	return s
}

// Chat returns the record of a message frame.
func (e Envelope) Chat() (domain.Message, error) {
	var m domain.Message
	if e.Type != TypeMessage {
		return m, fmt.Errorf("frame %q carries no chat message", e.Type)
	}
	err := json.Unmarshal(e.Message, &m)
	return m, err
}

func DecodeOutbound(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}
