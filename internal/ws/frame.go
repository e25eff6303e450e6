package ws

import (
	"time"

	"client_go/internal/domain"
)

// Event types spoken on the chat socket.
const (
	TypeMessage       = "message"
	TypeEditMessage   = "edit_message"
	TypeDeleteMessage = "delete_message"
	TypeMarkRead      = "mark_read"
	TypeTyping        = "typing"
	TypeAck           = "ack"
	TypeError         = "error"
)

// Frame is one JSON event on the socket. Outbound frames carry the client
// message id in ClientID; the server answers with an ack or error frame
// echoing it.
type Frame struct {
	Type           string              `json:"type"`
	ClientID       string              `json:"client_id,omitempty"`
	ConversationID string              `json:"conversation_id,omitempty"`
	MessageID      string              `json:"message_id,omitempty"`
	SenderID       string              `json:"sender_id,omitempty"`
	Content        string              `json:"content,omitempty"`
	Payload        *domain.Content     `json:"payload,omitempty"`
	Attachments    []domain.Attachment `json:"attachments,omitempty"`
	FilePath       string              `json:"file_path,omitempty"`
	FileType       string              `json:"file_type,omitempty"`
	ReplyToID      string              `json:"reply_to_id,omitempty"`
	DeleteType     string              `json:"delete_type,omitempty"`
	Timestamp      *time.Time          `json:"timestamp,omitempty"`
	OK             bool                `json:"ok,omitempty"`
	Message        string              `json:"message,omitempty"`
}

// FrameFor builds the outbound frame that delivers m: a delete for soft
// deleted messages, an edit for edited ones, a new message otherwise. A
// message the server has not seen yet always goes out as a new message
// carrying its current content.
func FrameFor(m domain.Message) Frame {
	f := Frame{
		ClientID:       m.ID,
		ConversationID: m.RoomID,
		MessageID:      m.ID,
		SenderID:       m.SenderID,
	}
	switch {
	case m.IsDeleted:
		f.Type = TypeDeleteMessage
		f.DeleteType = "for_everyone"
		return f
	case m.IsEdited && !m.IsLocalOnly:
		f.Type = TypeEditMessage
	default:
		f.Type = TypeMessage
		ts := m.CreatedAt
		f.Timestamp = &ts
		f.ReplyToID = m.ReplyToID
	}

	f.Content = m.Content.Text
	if m.Content.Kind != domain.KindText {
		c := m.Content
		f.Payload = &c
	}
	if len(m.Attachments) > 0 {
		f.Attachments = m.Attachments
		f.FilePath = m.Attachments[0].URL
		f.FileType = m.Attachments[0].Kind
	}
	return f
}

// IsReply reports whether f answers an outbound frame.
func (f Frame) IsReply() bool {
	return f.ClientID != "" && (f.Type == TypeAck || f.Type == TypeError)
}
