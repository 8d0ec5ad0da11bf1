package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrUnknownKind is returned by Decode for envelopes of an unknown type.
var ErrUnknownKind = errors.New("unknown message kind")

// Frame is a decoded envelope.
type Frame struct {
	// Req correlates a response with its request; empty for pushes.
	Req string
	Msg Message
}

var factories = map[string]func() Message{
	KindLogin:           func() Message { return &Login{} },
	KindLoginOK:         func() Message { return &LoginOK{} },
	KindLoginError:      func() Message { return &LoginError{} },
	KindCreateRoom:      func() Message { return &CreateRoom{} },
	KindJoinRoom:        func() Message { return &JoinRoom{} },
	KindSetVars:         func() Message { return &SetVars{} },
	KindLogout:          func() Message { return &Logout{} },
	KindRoomAdd:         func() Message { return &RoomAdd{} },
	KindRoomRemove:      func() Message { return &RoomRemove{} },
	KindRoomCreateError: func() Message { return &RoomCreateError{} },
	KindRoomJoin:        func() Message { return &RoomJoin{} },
	KindRoomJoinError:   func() Message { return &RoomJoinError{} },
	KindUserEnter:       func() Message { return &UserEnter{} },
	KindUserExit:        func() Message { return &UserExit{} },
	KindUserVars:        func() Message { return &UserVars{} },
	KindProximity:       func() Message { return &Proximity{} },
	KindPublicMsg:       func() Message { return &PublicMsg{} },
	KindObjectMsg:       func() Message { return &ObjectMsg{} },
}

// Encode wraps msg in an envelope.
//
// Precondition: msg must be one of the message structs of this package.
// Postcondition: Returns a Struct with "type", "req" and "body" fields, or a non-nil error.
func Encode(req string, msg Message) (*structpb.Struct, error) {
	if msg == nil {
		return nil, errors.New("encoding nil message")
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s body: %w", msg.Kind(), err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("reshaping %s body: %w", msg.Kind(), err)
	}
	env, err := structpb.NewStruct(map[string]any{
		"type": msg.Kind(),
		"req":  req,
		"body": body,
	})
	if err != nil {
		return nil, fmt.Errorf("building %s envelope: %w", msg.Kind(), err)
	}
	return env, nil
}

// Decode unwraps an envelope into its message struct. The returned Msg is a
// value, not a pointer, so callers can type-switch on the plain struct types.
//
// Postcondition: Returns the decoded Frame, or an error wrapping ErrUnknownKind
// for unknown types.
func Decode(env *structpb.Struct) (Frame, error) {
	if env == nil {
		return Frame{}, errors.New("decoding nil envelope")
	}
	fields := env.GetFields()
	kind := fields["type"].GetStringValue()
	factory, ok := factories[kind]
	if !ok {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	msg := factory()
	if body := fields["body"].GetStructValue(); body != nil {
		raw, err := json.Marshal(body.AsMap())
		if err != nil {
			return Frame{}, fmt.Errorf("reshaping %s body: %w", kind, err)
		}
		if err := json.Unmarshal(raw, msg); err != nil {
			return Frame{}, fmt.Errorf("unmarshalling %s body: %w", kind, err)
		}
	}
	return Frame{Req: fields["req"].GetStringValue(), Msg: deref(msg)}, nil
}

func deref(m Message) Message {
	switch x := m.(type) {
	case *Login:
		return *x
	case *LoginOK:
		return *x
	case *LoginError:
		return *x
	case *CreateRoom:
		return *x
	case *JoinRoom:
		return *x
	case *SetVars:
		return *x
	case *Logout:
		return *x
	case *RoomAdd:
		return *x
	case *RoomRemove:
		return *x
	case *RoomCreateError:
		return *x
	case *RoomJoin:
		return *x
	case *RoomJoinError:
		return *x
	case *UserEnter:
		return *x
	case *UserExit:
		return *x
	case *UserVars:
		return *x
	case *Proximity:
		return *x
	case *PublicMsg:
		return *x
	case *ObjectMsg:
		return *x
	}
	return m
}

// MarshalText renders an envelope as protojson for text transports.
func MarshalText(env *structpb.Struct) ([]byte, error) {
	return protojson.Marshal(env)
}

// UnmarshalText parses a protojson envelope.
func UnmarshalText(data []byte) (*structpb.Struct, error) {
	env := &structpb.Struct{}
	if err := protojson.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}
	return env, nil
}
