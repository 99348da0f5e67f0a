package schema

// SessionID identifies a remote terminal session.
type SessionID string

// CoordinatorName identifies the coordinator that hosts a session.
type CoordinatorName string

// ThemeName identifies a colour theme for the painter.
type ThemeName string

// SessionRef addresses a session on a specific coordinator.
type SessionRef struct {
	ID          SessionID
	Coordinator CoordinatorName
}

// IsZero reports whether the ref has no session id.
func (r SessionRef) IsZero() bool {
	return r.ID == ""
}

func (r SessionRef) String() string {
	if r.Coordinator == "" {
		return string(r.ID)
	}
	return string(r.Coordinator) + ":" + string(r.ID)
}

// SessionExited reports the exit of the remote process.
type SessionExited struct {
	ExitCode int32
}

// SubscribeEvent is a data event on a session stream. Exactly one field is set.
type SubscribeEvent struct {
	ScreenUpdate  *ScreenUpdate
	RawOutput     []byte
	SessionExited *SessionExited
}

// SubscribeRequest is the handshake sent once a connection opens.
type SubscribeRequest struct {
	Session              SessionRef
	IncludeScreenUpdates bool
	IncludeRawOutput     bool
}

// SendTextRequest sends text input to a session.
type SendTextRequest struct {
	Session SessionRef
	Text    string
}

// SendKeyRequest sends a named key to a session.
type SendKeyRequest struct {
	Session SessionRef
	Key     string
}

// SendBytesRequest sends raw bytes to a session.
type SendBytesRequest struct {
	Session SessionRef
	Data    []byte
}

// ResizeRequest resizes the remote terminal.
type ResizeRequest struct {
	Session SessionRef
	Cols    int32
	Rows    int32
}
