package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the delivery lifecycle state of a message.
type Status string

const (
	StatusLocalOnly Status = "local_only"
	StatusPending   Status = "pending"
	StatusSending   Status = "sending" // UI hint only, never set by the engine
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// NeedsDelivery reports whether a message in this status is picked up by a flush.
func (s Status) NeedsDelivery() bool {
	return s == StatusPending || s == StatusFailed
}

// Kind discriminates the primary payload of a message.
type Kind string

const (
	KindText        Kind = "text"
	KindStyled      Kind = "styled"
	KindVoice       Kind = "voice"
	KindSticker     Kind = "sticker"
	KindAttachments Kind = "attachments"
	KindContact     Kind = "contact"
	KindPoll        Kind = "poll"
	KindEvent       Kind = "event"
)

type StyledText struct {
	Text       string `json:"text"`
	Background string `json:"background,omitempty"`
	Font       string `json:"font,omitempty"`
	Size       int    `json:"size,omitempty"`
}

type Voice struct {
	URI        string `json:"uri"`
	DurationMs int64  `json:"durationMs"`
}

type Sticker struct {
	URI     string `json:"uri"`
	Caption string `json:"caption,omitempty"`
}

type ContactCard struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type Poll struct {
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	MultipleChoice bool     `json:"multipleChoice,omitempty"`
}

type Event struct {
	Title    string    `json:"title"`
	StartsAt time.Time `json:"startsAt"`
	Location string    `json:"location,omitempty"`
}

// Attachment describes an uploaded file attached to a message.
type Attachment struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	Kind         string `json:"kind"` // image | video | audio | file
	Width        *int   `json:"width,omitempty"`
	Height       *int   `json:"height,omitempty"`
	DurationMs   *int64 `json:"durationMs,omitempty"`
}

// Content is the tagged union of message payloads. Only the field that
// belongs to Kind may be set. Text doubles as the caption for attachments.
type Content struct {
	Kind     Kind          `json:"kind"`
	Text     string        `json:"text,omitempty"`
	Styled   *StyledText   `json:"styledText,omitempty"`
	Voice    *Voice        `json:"voice,omitempty"`
	Sticker  *Sticker      `json:"sticker,omitempty"`
	Contacts []ContactCard `json:"contacts,omitempty"`
	Poll     *Poll         `json:"poll,omitempty"`
	Event    *Event        `json:"event,omitempty"`
}

// HasPrimary reports whether the content carries something worth sending.
func (c Content) HasPrimary() bool {
	if strings.TrimSpace(c.Text) != "" {
		return true
	}
	switch c.Kind {
	case KindStyled:
		return c.Styled != nil
	case KindVoice:
		return c.Voice != nil
	case KindSticker:
		return c.Sticker != nil
	case KindContact:
		return len(c.Contacts) > 0
	case KindPoll:
		return c.Poll != nil
	case KindEvent:
		return c.Event != nil
	}
	return false
}

// Validate checks that no variant other than the one named by Kind is set.
func (c Content) Validate() error {
	set := map[Kind]bool{
		KindStyled:  c.Styled != nil,
		KindVoice:   c.Voice != nil,
		KindSticker: c.Sticker != nil,
		KindContact: len(c.Contacts) > 0,
		KindPoll:    c.Poll != nil,
		KindEvent:   c.Event != nil,
	}
	switch c.Kind {
	case KindText, KindAttachments, KindStyled, KindVoice, KindSticker, KindContact, KindPoll, KindEvent:
	default:
		return fmt.Errorf("%w: unknown content kind %q", ErrInvalidInput, c.Kind)
	}
	for k, ok := range set {
		if ok && k != c.Kind {
			return fmt.Errorf("%w: %s payload on %s message", ErrInvalidInput, k, c.Kind)
		}
	}
	return nil
}

// Message is the unit of conversation content.
type Message struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"roomId"`
	SenderID    string       `json:"senderId"`
	FromMe      bool         `json:"fromMe"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   *time.Time   `json:"updatedAt,omitempty"`
	Content     Content      `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyToID   string       `json:"replyToId,omitempty"`
	IsEdited    bool         `json:"isEdited"`
	IsDeleted   bool         `json:"isDeleted"`
	IsPinned    bool         `json:"isPinned"`
	IsStarred   bool         `json:"isStarred"`
	IsLocalOnly bool         `json:"isLocalOnly,omitempty"`
	Status      Status       `json:"status"`
}

// Clone returns a deep copy so callers never share slices or pointers with
// the engine's in-memory log.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		c.UpdatedAt = &t
	}
	c.Content = m.Content.clone()
	if m.Attachments != nil {
		c.Attachments = make([]Attachment, len(m.Attachments))
		copy(c.Attachments, m.Attachments)
	}
	return &c
}

func (c Content) clone() Content {
	out := c
	if c.Styled != nil {
		s := *c.Styled
		out.Styled = &s
	}
	if c.Voice != nil {
		v := *c.Voice
		out.Voice = &v
	}
	if c.Sticker != nil {
		s := *c.Sticker
		out.Sticker = &s
	}
	if c.Contacts != nil {
		out.Contacts = append([]ContactCard(nil), c.Contacts...)
	}
	if c.Poll != nil {
		p := *c.Poll
		p.Options = append([]string(nil), c.Poll.Options...)
		out.Poll = &p
	}
	if c.Event != nil {
		e := *c.Event
		out.Event = &e
	}
	return out
}

// ClearContent drops every payload variant and attachment, keeping identity
// fields untouched. Used by soft delete.
func (m *Message) ClearContent() {
	m.Content = Content{Kind: m.Content.Kind}
	m.Attachments = nil
}

// Payload is a mutation intent produced by a composer.
type Payload struct {
	Content     Content
	Attachments []Attachment
	ReplyToID   string
}

// Accepted reports whether the payload has primary content or attachments.
func (p Payload) Accepted() bool {
	return p.Content.HasPrimary() || len(p.Attachments) > 0
}

// Patch is a partial update applied by an edit. Nil fields are left alone.
type Patch struct {
	Text        *string
	Content     *Content
	Attachments *[]Attachment
}

// Apply merges the patch into m.
func (p Patch) Apply(m *Message) {
	if p.Content != nil {
		m.Content = p.Content.clone()
	}
	if p.Text != nil {
		m.Content.Text = *p.Text
		if m.Content.Kind == KindStyled && m.Content.Styled != nil {
			m.Content.Styled.Text = *p.Text
		}
	}
	if p.Attachments != nil {
		m.Attachments = append([]Attachment(nil), (*p.Attachments)...)
	}
}

// Credentials identify the authenticated session to the transport.
type Credentials struct {
	Token  string
	Phone  string
	UserID string
}

// LocalFile is a file on the device waiting to be uploaded.
type LocalFile struct {
	Path string
	Name string
}
