package types

import "time"

// Email represents a single message in a folder. Within an account and
// folder the server-assigned UID is the identity; a fresher fetch with the
// same UID supersedes the older copy.
type Email struct {
	UID         uint32            `json:"uid"`
	MessageID   string            `json:"message_id"`
	Subject     string            `json:"subject"`
	From        []string          `json:"from"`
	To          []string          `json:"to"`
	Cc          []string          `json:"cc,omitempty"`
	Bcc         []string          `json:"bcc,omitempty"`
	Date        time.Time         `json:"date"`
	BodyText    string            `json:"body_text,omitempty"`
	BodyHTML    string            `json:"body_html,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Flags       []string          `json:"flags,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Seen        bool              `json:"seen"`
	Folder      string            `json:"folder"`
}

// HasFlag reports whether the email carries the given server flag.
func (e *Email) HasFlag(flag string) bool {
	for _, f := range e.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Attachment is a file attached to an email. It is owned by its email and
// is persisted and removed together with it.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
	Size        int    `json:"size"`
}

// FolderMetadata tracks per-folder sync state. LastUID is the sync
// watermark and only ever increases; TotalMessages is the server's EXISTS
// count at the last successful sync.
type FolderMetadata struct {
	Account       string    `json:"account"`
	Folder        string    `json:"folder"`
	LastUID       uint32    `json:"last_uid"`
	TotalMessages uint32    `json:"total_messages"`
	LastSync      time.Time `json:"last_sync"`
}

// OutgoingMessage is a composed message ready for submission.
type OutgoingMessage struct {
	To          []string     `json:"to"`
	Cc          []string     `json:"cc,omitempty"`
	Bcc         []string     `json:"bcc,omitempty"`
	Subject     string       `json:"subject"`
	BodyText    string       `json:"body_text,omitempty"`
	BodyHTML    string       `json:"body_html,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	InReplyTo   string       `json:"in_reply_to,omitempty"`
}

// Recipients returns all To, Cc and Bcc addresses in submission order.
func (m *OutgoingMessage) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	out = append(out, m.Bcc...)
	return out
}
