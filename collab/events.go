package collab

// Client to server events.
const (
	EventJoinDocument  = "join-document"
	EventLeaveDocument = "leave-document"
	EventCodeChange    = "code-change"
	EventCursor        = "cursor"
)

// Server to client events.
const (
	EventDocumentContent = "document-content"
	EventUsersUpdate     = "users-update"
	EventCodeChanged     = "code-changed"
	EventError           = "error"
)

const joinFailedMessage = "Failed to join document"

type (
	// Identity is the already-authenticated participant behind a connection.
	Identity struct {
		UserID   string `json:"userId" mapstructure:"userId"`
		UserName string `json:"userName" mapstructure:"userName"`
	}

	JoinRequest struct {
		DocumentID string `mapstructure:"documentId"`
		UserID     string `mapstructure:"userId"`
		UserName   string `mapstructure:"userName"`
	}

	CodeChange struct {
		DocumentID string `mapstructure:"documentId"`
		Code       string `mapstructure:"code"`
		UserID     string `mapstructure:"userId"`
	}

	CursorMove struct {
		DocumentID string `mapstructure:"documentId"`
		Cursor     any    `mapstructure:"cursor"`
	}

	LeaveRequest struct {
		DocumentID string `mapstructure:"documentId"`
	}

	DocumentContentPayload struct {
		Content string `json:"content"`
	}

	CodeChangedPayload struct {
		Code string `json:"code"`
	}

	CursorPayload struct {
		UserID string `json:"userId"`
		Cursor any    `json:"cursor"`
	}

	ErrorPayload struct {
		Message string `json:"message"`
	}
)

func (r JoinRequest) identity() Identity {
	return Identity{UserID: r.UserID, UserName: r.UserName}
}
