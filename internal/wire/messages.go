// Package wire defines the arena session protocol: one Go struct per message
// kind, carried inside a google.protobuf.Struct envelope {type, req, body}.
package wire

import (
	"fmt"
	"math"
)

// Message kinds sent by the client.
const (
	KindLogin      = "login"
	KindCreateRoom = "create_room"
	KindJoinRoom   = "join_room"
	KindSetVars    = "set_vars"
	KindLogout     = "logout"
)

// Message kinds sent by the server.
const (
	KindLoginOK         = "login_ok"
	KindLoginError      = "login_error"
	KindRoomAdd         = "room_add"
	KindRoomRemove      = "room_remove"
	KindRoomCreateError = "room_create_error"
	KindRoomJoin        = "room_join"
	KindRoomJoinError   = "room_join_error"
	KindUserEnter       = "user_enter"
	KindUserExit        = "user_exit"
	KindUserVars        = "user_vars"
	KindProximity       = "proximity"
)

// Message kinds sent in both directions.
const (
	KindPublicMsg = "public_msg"
	KindObjectMsg = "object_msg"
)

// Error codes carried by login_error, room_create_error and room_join_error.
const (
	CodeBadCredentials  = 2
	CodeUnknownZone     = 3
	CodeAlreadyLoggedIn = 4
	CodeNotLoggedIn     = 5
	CodeRoomExists      = 10
	CodeBadRoomSettings = 11
	CodeNoExtension     = 12
	CodeRoomFull        = 20
	CodeRoomNotFound    = 21
	CodeAlreadyJoined   = 22
)

// Variable type tags.
const (
	VarDouble = "double"
	VarBool   = "bool"
	VarInt    = "int"
	VarString = "string"
)

// Message is any wire message.
type Message interface {
	Kind() string
}

// Var is a typed user variable on the wire.
type Var struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// NewVar tags v with its wire type. A nil value is sent as a deletion.
//
// Postcondition: Returns an error for unsupported value types.
func NewVar(name string, v any) (Var, error) {
	switch x := v.(type) {
	case nil:
		return Var{Name: name}, nil
	case float64:
		return Var{Name: name, Type: VarDouble, Value: x}, nil
	case float32:
		return Var{Name: name, Type: VarDouble, Value: float64(x)}, nil
	case bool:
		return Var{Name: name, Type: VarBool, Value: x}, nil
	case int:
		return Var{Name: name, Type: VarInt, Value: x}, nil
	case int32:
		return Var{Name: name, Type: VarInt, Value: int(x)}, nil
	case int64:
		return Var{Name: name, Type: VarInt, Value: int(x)}, nil
	case string:
		return Var{Name: name, Type: VarString, Value: x}, nil
	default:
		return Var{}, fmt.Errorf("variable %q: unsupported type %T", name, v)
	}
}

// Typed returns Value converted to the Go type named by Type. Decoded
// envelopes carry every number as float64.
func (v Var) Typed() (any, error) {
	switch v.Type {
	case "":
		return nil, nil
	case VarDouble:
		f, ok := asFloat(v.Value)
		if !ok {
			return nil, fmt.Errorf("variable %q: %T is not a double", v.Name, v.Value)
		}
		return f, nil
	case VarInt:
		f, ok := asFloat(v.Value)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("variable %q: %v is not an int", v.Name, v.Value)
		}
		return int(f), nil
	case VarBool:
		b, ok := v.Value.(bool)
		if !ok {
			return nil, fmt.Errorf("variable %q: %T is not a bool", v.Name, v.Value)
		}
		return b, nil
	case VarString:
		s, ok := v.Value.(string)
		if !ok {
			return nil, fmt.Errorf("variable %q: %T is not a string", v.Name, v.Value)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("variable %q: unknown type %q", v.Name, v.Type)
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// UserInfo identifies a user. Vars is the user's full variable set where the
// receiver needs it; a nil Vars encodes as null and means "not sent", while an
// empty, non-nil Vars means the user has no variables.
type UserInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Vars []Var  `json:"vars"`
}

// RoomInfo summarizes a room in the zone room list.
type RoomInfo struct {
	Name     string `json:"name"`
	Users    int    `json:"users"`
	MaxUsers int    `json:"max_users"`
}

// Vec3 is a point or extent.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// RoomSettings is the create-room payload.
type RoomSettings struct {
	Name           string `json:"name"`
	MaxUsers       int    `json:"max_users"`
	AreaOfInterest Vec3   `json:"aoi"`
	MapMin         Vec3   `json:"map_min"`
	MapMax         Vec3   `json:"map_max"`
	ExtensionID    string `json:"extension_id,omitempty"`
	ExtensionClass string `json:"extension_class,omitempty"`
}

// Login requests a zone login.
type Login struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Zone     string `json:"zone"`
}

// LoginOK accepts a login and carries the zone room list.
type LoginOK struct {
	User  UserInfo   `json:"user"`
	Zone  string     `json:"zone"`
	Rooms []RoomInfo `json:"rooms,omitempty"`
}

// LoginError rejects a login.
type LoginError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CreateRoom requests a room; AutoJoin joins it on success.
type CreateRoom struct {
	Settings RoomSettings `json:"settings"`
	AutoJoin bool         `json:"auto_join"`
}

// JoinRoom requests entry to a room.
type JoinRoom struct {
	Room string `json:"room"`
}

// SetVars sets the sender's user variables.
type SetVars struct {
	Vars []Var `json:"vars"`
}

// Logout ends the zone login.
type Logout struct{}

// RoomAdd announces a new room.
type RoomAdd struct {
	Room RoomInfo `json:"room"`
}

// RoomRemove announces a removed room.
type RoomRemove struct {
	Room string `json:"room"`
}

// RoomCreateError rejects a create-room request.
type RoomCreateError struct {
	Room    string `json:"room"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RoomJoin confirms room entry with the other members and their variables.
type RoomJoin struct {
	Room  RoomInfo   `json:"room"`
	Users []UserInfo `json:"users,omitempty"`
}

// RoomJoinError rejects a join-room request.
type RoomJoinError struct {
	Room    string `json:"room"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// UserEnter announces another member.
type UserEnter struct {
	Room string   `json:"room"`
	User UserInfo `json:"user"`
}

// UserExit announces a member leaving.
type UserExit struct {
	Room string   `json:"room"`
	User UserInfo `json:"user"`
}

// UserVars announces changed variables. User.Vars holds the full set.
type UserVars struct {
	User    UserInfo `json:"user"`
	Changed []string `json:"changed"`
}

// Proximity announces area-of-interest changes.
type Proximity struct {
	Room    string     `json:"room"`
	Added   []UserInfo `json:"added,omitempty"`
	Removed []UserInfo `json:"removed,omitempty"`
}

// PublicMsg is a room chat line. Room and Sender are set by the server.
type PublicMsg struct {
	Room   string   `json:"room,omitempty"`
	Sender UserInfo `json:"sender"`
	Text   string   `json:"text"`
}

// ObjectMsg is a structured room message. Room and Sender are set by the server.
type ObjectMsg struct {
	Room    string         `json:"room,omitempty"`
	Sender  UserInfo       `json:"sender"`
	Payload map[string]any `json:"payload"`
}

func (Login) Kind() string           { return KindLogin }
func (LoginOK) Kind() string         { return KindLoginOK }
func (LoginError) Kind() string      { return KindLoginError }
func (CreateRoom) Kind() string      { return KindCreateRoom }
func (JoinRoom) Kind() string        { return KindJoinRoom }
func (SetVars) Kind() string         { return KindSetVars }
func (Logout) Kind() string          { return KindLogout }
func (RoomAdd) Kind() string         { return KindRoomAdd }
func (RoomRemove) Kind() string      { return KindRoomRemove }
func (RoomCreateError) Kind() string { return KindRoomCreateError }
func (RoomJoin) Kind() string        { return KindRoomJoin }
func (RoomJoinError) Kind() string   { return KindRoomJoinError }
func (UserEnter) Kind() string       { return KindUserEnter }
func (UserExit) Kind() string        { return KindUserExit }
func (UserVars) Kind() string        { return KindUserVars }
func (Proximity) Kind() string       { return KindProximity }
func (PublicMsg) Kind() string       { return KindPublicMsg }
func (ObjectMsg) Kind() string       { return KindObjectMsg }
