package transport

// EventType identifies an event kind.
type EventType int

// Event kinds delivered by Poll.
const (
	EventConnection EventType = iota + 1
	EventConnectionLost
	EventConfigLoad
	EventLogin
	EventRoomAdded
	EventRoomCreateError
	EventRoomJoined
	EventRoomJoinError
	EventUserEntered
	EventUserExited
	EventUserVariablesUpdated
	EventProximityListUpdate
	EventPublicMessage
	EventObjectMessage
)

var eventTypeNames = map[EventType]string{
	EventConnection:           "connection",
	EventConnectionLost:       "connection_lost",
	EventConfigLoad:           "config_load",
	EventLogin:                "login",
	EventRoomAdded:            "room_added",
	EventRoomCreateError:      "room_create_error",
	EventRoomJoined:           "room_joined",
	EventRoomJoinError:        "room_join_error",
	EventUserEntered:          "user_entered",
	EventUserExited:           "user_exited",
	EventUserVariablesUpdated: "user_variables_updated",
	EventProximityListUpdate:  "proximity_list_update",
	EventPublicMessage:        "public_message",
	EventObjectMessage:        "object_message",
}

// String returns the event kind name.
func (t EventType) String() string {
	if n, ok := eventTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

// Event is one inbound notification. Each kind is its own struct type.
type Event interface {
	Type() EventType
}

// ConnectionResult reports the outcome of Connect.
type ConnectionResult struct {
	Success bool
	// Err describes the failure when Success is false.
	Err error
}

// ConnectionLost reports that an established connection dropped.
type ConnectionLost struct {
	Reason string
}

// ConfigLoadResult reports the outcome of LoadConfig.
type ConfigLoadResult struct {
	Success bool
	Config  SourceConfig
	Err     error
}

// LoginResult reports the outcome of Login.
type LoginResult struct {
	Success      bool
	User         User
	Zone         string
	ErrorCode    int
	ErrorMessage string
}

// RoomAdded reports a room created in the zone.
type RoomAdded struct {
	Room string
}

// RoomCreateError reports a rejected create-room request.
type RoomCreateError struct {
	Room         string
	ErrorCode    int
	ErrorMessage string
}

// RoomJoined reports that the local user entered a room. Users is the
// room membership snapshot at join time, excluding the local user.
type RoomJoined struct {
	Room  string
	Users []User
}

// RoomJoinError reports a rejected join-room request.
type RoomJoinError struct {
	Room         string
	ErrorCode    int
	ErrorMessage string
}

// UserEntered reports another user entering the joined room.
type UserEntered struct {
	Room string
	User User
}

// UserExited reports a user leaving the joined room.
type UserExited struct {
	Room string
	User User
}

// UserVariablesUpdated reports that a user's variables changed. Variables is
// that user's full variable set after the change.
type UserVariablesUpdated struct {
	User      User
	Changed   []string
	Variables Variables
}

// ChangedAny reports whether any of names is in Changed.
func (e UserVariablesUpdated) ChangedAny(names ...string) bool {
	for _, c := range e.Changed {
		for _, n := range names {
			if c == n {
				return true
			}
		}
	}
	return false
}

// ProximityListUpdate reports users entering and leaving the local user's area of interest.
type ProximityListUpdate struct {
	Room    string
	Added   []User
	Removed []User
}

// PublicMessage is a room chat line.
type PublicMessage struct {
	Room   string
	Sender User
	Text   string
}

// ObjectMessage is a structured message from another user.
type ObjectMessage struct {
	Room    string
	Sender  User
	Payload map[string]any
}

func (ConnectionResult) Type() EventType     { return EventConnection }
func (ConnectionLost) Type() EventType       { return EventConnectionLost }
func (ConfigLoadResult) Type() EventType     { return EventConfigLoad }
func (LoginResult) Type() EventType          { return EventLogin }
func (RoomAdded) Type() EventType            { return EventRoomAdded }
func (RoomCreateError) Type() EventType      { return EventRoomCreateError }
func (RoomJoined) Type() EventType           { return EventRoomJoined }
func (RoomJoinError) Type() EventType        { return EventRoomJoinError }
func (UserEntered) Type() EventType          { return EventUserEntered }
func (UserExited) Type() EventType           { return EventUserExited }
func (UserVariablesUpdated) Type() EventType { return EventUserVariablesUpdated }
func (ProximityListUpdate) Type() EventType  { return EventProximityListUpdate }
func (PublicMessage) Type() EventType        { return EventPublicMessage }
func (ObjectMessage) Type() EventType        { return EventObjectMessage }
