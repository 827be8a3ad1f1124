package content

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"beacon/internal/models"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

const MaxContentLength = 4000

var (
	policy      = bluemonday.UGCPolicy()
	plainPolicy = bluemonday.StrictPolicy()
	idRegex     = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)
)

// Sanitize removes unsafe HTML from the input string using a UGC policy.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// PlainText strips every tag. Used for push payloads which are rendered as text.
func PlainText(input string) string {
	return strings.TrimSpace(plainPolicy.Sanitize(input))
}

// RenderMarkdown converts message markdown into sanitized HTML.
func RenderMarkdown(input string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return strings.TrimSpace(Sanitize(buf.String())), nil
}

// ValidateID checks if an identifier (user, conversation) contains only allowed
// characters (alphanumeric, dot, dash, underscore, colon) and is not empty.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if !idRegex.MatchString(id) {
		return errors.New("id contains invalid characters (allowed: alphanumeric, dot, dash, underscore, colon)")
	}
	return nil
}

// ValidateMessage checks the content and attachments against the message type.
func ValidateMessage(msgType models.MessageType, text string, attachments []models.Attachment) error {
	if !msgType.Valid() {
		return fmt.Errorf("%w: unknown message type %q", models.ErrInvalidMessage, msgType)
	}
	if len(text) > MaxContentLength {
		return fmt.Errorf("%w: content longer than %d bytes", models.ErrInvalidMessage, MaxContentLength)
	}
	for _, a := range attachments {
		if a.URL == "" || a.Name == "" {
			return fmt.Errorf("%w: attachment requires name and url", models.ErrInvalidMessage)
		}
		if a.Size < 0 {
			return fmt.Errorf("%w: negative attachment size", models.ErrInvalidMessage)
		}
	}

	switch msgType {
	case models.MessageTypeText:
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: empty text message", models.ErrInvalidMessage)
		}
		return nil
	case models.MessageTypeImage:
		return requireMedia(attachments, "image/")
	case models.MessageTypeAudio:
		return requireMedia(attachments, "audio/")
	case models.MessageTypeFile:
		if len(attachments) == 0 {
			return fmt.Errorf("%w: file message without attachments", models.ErrInvalidMessage)
		}
	}
	return nil
}

func requireMedia(attachments []models.Attachment, prefix string) error {
	if len(attachments) == 0 {
		return fmt.Errorf("%w: %smessage without attachments", models.ErrInvalidMessage, prefix)
	}
	for _, a := range attachments {
		if !strings.HasPrefix(a.MimeType, prefix) || !filetype.IsMIMESupported(a.MimeType) {
			return fmt.Errorf("%w: unsupported attachment type %q", models.ErrInvalidMessage, a.MimeType)
		}
	}
	return nil
}

// DetectMIME sniffs the MIME type from the leading bytes of a file.
// Unknown content is reported as application/octet-stream.
func DetectMIME(head []byte) string {
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}
