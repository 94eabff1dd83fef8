package email

import (
	"bytes"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/debasish-raychawdhuri/tuimail-sub000/pkg/types"
)

// BuildMessage renders an outgoing message into RFC 5322 bytes. A non-empty
// signature is appended to the plain-text body.
func BuildMessage(from string, msg *types.OutgoingMessage, signature string) (*bytes.Buffer, error) {
	var buf bytes.Buffer

	text := msg.BodyText
	if signature != "" {
		text = text + "\n\n" + signature
	}

	var header mail.Header
	header.SetDate(time.Now())
	header.SetSubject(msg.Subject)
	header.SetAddressList("From", parseAddresses([]string{from}))
	if len(msg.To) > 0 {
		header.SetAddressList("To", parseAddresses(msg.To))
	}
	if len(msg.Cc) > 0 {
		header.SetAddressList("Cc", parseAddresses(msg.Cc))
	}
	if msg.InReplyTo != "" {
		header.SetMsgIDList("In-Reply-To", []string{msg.InReplyTo})
	}
	header.Set("Message-ID", generateMessageID(from))

	var (
		mw  *mail.Writer
		iw  *mail.InlineWriter
		err error
	)
	if len(msg.Attachments) == 0 {
		iw, err = mail.CreateInlineWriter(&buf, header)
		if err != nil {
			return nil, fmt.Errorf("failed to create message writer: %w", err)
		}
	} else {
		mw, err = mail.CreateWriter(&buf, header)
		if err != nil {
			return nil, fmt.Errorf("failed to create message writer: %w", err)
		}
		iw, err = mw.CreateInline()
		if err != nil {
			return nil, fmt.Errorf("failed to create inline writer: %w", err)
		}
	}

	// Always emit a text part so the message has at least one body
	if text != "" || msg.BodyHTML == "" {
		var h mail.InlineHeader
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := iw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to create text part: %w", err)
		}
		if _, err := w.Write([]byte(text)); err != nil {
			return nil, fmt.Errorf("failed to write text part: %w", err)
		}
		w.Close()
	}

	if msg.BodyHTML != "" {
		var h mail.InlineHeader
		h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
		w, err := iw.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to create html part: %w", err)
		}
		if _, err := w.Write([]byte(msg.BodyHTML)); err != nil {
			return nil, fmt.Errorf("failed to write html part: %w", err)
		}
		w.Close()
	}

	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close inline writer: %w", err)
	}

	if mw != nil {
		for _, att := range msg.Attachments {
			if err := writeAttachment(mw, att); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close message writer: %w", err)
		}
	}

	return &buf, nil
}

func writeAttachment(mw *mail.Writer, att types.Attachment) error {
	var h mail.AttachmentHeader
	h.SetFilename(att.Filename)
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.SetContentType(contentType, nil)

	w, err := mw.CreateAttachment(h)
	if err != nil {
		return fmt.Errorf("failed to create attachment %s: %w", att.Filename, err)
	}
	if _, err := w.Write(att.Data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
	}
	return w.Close()
}

// parseAddresses converts "Name <addr>" or bare address strings into mail
// addresses. Strings that fail to parse are kept as bare addresses.
func parseAddresses(list []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, s := range list {
		if addr, err := netmail.ParseAddress(s); err == nil {
			out = append(out, addr)
		} else {
			out = append(out, &mail.Address{Address: strings.TrimSpace(s)})
		}
	}
	return out
}

// generateMessageID produces an RFC 5322 Message-ID using the domain of the
// sender's address.
func generateMessageID(fromEmail string) string {
	domain := "localhost"
	if idx := strings.Index(fromEmail, "@"); idx >= 0 && idx < len(fromEmail)-1 {
		domain = fromEmail[idx+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}
