package email

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"

	"github.com/debasish-raychawdhuri/tuimail-sub000/pkg/types"
)

const flagSeen = "\\Seen"

// ParseMessage converts raw RFC 5322 bytes into an Email. It is a pure
// function; MIME defects degrade to whatever could be extracted instead of
// failing the whole message.
func ParseMessage(raw *RawMessage, folder string) (*types.Email, error) {
	if len(raw.Body) == 0 {
		return nil, fmt.Errorf("empty message body for uid %d", raw.UID)
	}

	email := &types.Email{
		UID:     raw.UID,
		Flags:   raw.Flags,
		Folder:  folder,
		Headers: make(map[string]string),
	}
	email.Seen = email.HasFlag(flagSeen)

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw.Body))
	if err != nil {
		// Keep what we can: the raw bytes as text plus the server date
		email.BodyText = string(raw.Body)
		email.Date = messageDate("", raw.InternalDate)
		return email, nil
	}

	email.Subject = env.GetHeader("Subject")
	email.MessageID = strings.Trim(strings.TrimSpace(env.GetHeader("Message-Id")), "<>")
	email.From = addressStrings(env, "From")
	email.To = addressStrings(env, "To")
	email.Cc = addressStrings(env, "Cc")
	email.Bcc = addressStrings(env, "Bcc")
	email.Date = messageDate(env.GetHeader("Date"), raw.InternalDate)
	email.BodyText = env.Text
	email.BodyHTML = env.HTML

	// HTML-only messages still get a plain-text view
	if email.BodyText == "" && email.BodyHTML != "" {
		if text, err := html2text.FromString(email.BodyHTML); err == nil {
			email.BodyText = text
		}
	}

	for _, key := range env.GetHeaderKeys() {
		email.Headers[key] = env.GetHeader(key)
	}

	parts := make([]*enmime.Part, 0, len(env.Attachments)+len(env.OtherParts))
	parts = append(parts, env.Attachments...)
	parts = append(parts, env.OtherParts...)
	for i, part := range parts {
		filename := part.FileName
		if filename == "" {
			filename = fmt.Sprintf("attachment-%d", i+1)
		}
		email.Attachments = append(email.Attachments, types.Attachment{
			Filename:    filename,
			ContentType: part.ContentType,
			Data:        part.Content,
			Size:        len(part.Content),
		})
	}

	return email, nil
}

// messageDate prefers the Date header, then the server's internal date.
func messageDate(header string, internal time.Time) time.Time {
	if header != "" {
		if t, err := mail.ParseDate(header); err == nil {
			return t
		}
	}
	if !internal.IsZero() {
		return internal
	}
	return time.Now()
}

// addressStrings flattens an address header into "Name <addr>" strings.
func addressStrings(env *enmime.Envelope, key string) []string {
	list, err := env.AddressList(key)
	if err != nil || len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Name != "" {
			out = append(out, fmt.Sprintf("%s <%s>", a.Name, a.Address))
		} else {
			out = append(out, a.Address)
		}
	}
	return out
}
