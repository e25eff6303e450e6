package logging

const (
	FieldService   = "service"
	FieldComponent = "component"

	// Sync engine
	FieldRoomID    = "room_id"
	FieldMessageID = "message_id"
	FieldStatus    = "status"
	FieldOp        = "op"

	// Session
	FieldState   = "state"
	FieldAttempt = "attempt"
	FieldBackoff = "backoff"
	FieldUserID  = "user_id"

	// Local API
	FieldRequestID = "request_id"
	FieldPath      = "path"
)
