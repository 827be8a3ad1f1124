package content

import (
	"errors"
	"strings"
	"testing"

	"beacon/internal/models"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Plain text", "Hello World", "Hello World"},
		{"HTML tags", "Hello <b>World</b>", "Hello <b>World</b>"},
		{"Script tag", "<script>alert('xss')</script>Hello", "Hello"},
		{"Complex HTML", "<a href='javascript:alert(1)'>Click me</a>", "Click me"},
		{"Emoji", "I am 🤖", "I am 🤖"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.expected {
				t.Errorf("Sanitize() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	if got := PlainText("  New <b>booking</b> request "); got != "New booking request" {
		t.Errorf("PlainText() = %q", got)
	}
}

func TestRenderMarkdown(t *testing.T) {
	html, err := RenderMarkdown("**hi** <script>alert(1)</script>")
	if err != nil {
		t.Fatalf("RenderMarkdown failed: %v", err)
	}
	if !strings.Contains(html, "<strong>hi</strong>") {
		t.Errorf("expected bold markup, got %q", html)
	}
	if strings.Contains(html, "<script>") {
		t.Errorf("script survived rendering: %q", html)
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"Valid alphanumeric", "user123", false},
		{"Valid with dot", "user.name", false},
		{"Valid with dash", "user-name", false},
		{"Valid with colon", "dm:alice:bob", false},
		{"Invalid space", "user name", true},
		{"Invalid special char", "user@name", true},
		{"Invalid script", "<script>", true},
		{"Empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateID(tt.input); (err != nil) != tt.wantErr {
				t.Errorf("ValidateID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	png := models.Attachment{Name: "a.png", URL: "https://cdn/a.png", Size: 10, MimeType: "image/png"}
	mp3 := models.Attachment{Name: "a.mp3", URL: "https://cdn/a.mp3", Size: 10, MimeType: "audio/mpeg"}
	pdf := models.Attachment{Name: "a.pdf", URL: "https://cdn/a.pdf", Size: 10, MimeType: "application/pdf"}

	tests := []struct {
		name        string
		msgType     models.MessageType
		text        string
		attachments []models.Attachment
		wantErr     bool
	}{
		{"text", models.MessageTypeText, "hello", nil, false},
		{"empty text", models.MessageTypeText, "   ", nil, true},
		{"unknown type", models.MessageType("video"), "hello", nil, true},
		{"image", models.MessageTypeImage, "", []models.Attachment{png}, false},
		{"image without attachment", models.MessageTypeImage, "", nil, true},
		{"image with audio", models.MessageTypeImage, "", []models.Attachment{mp3}, true},
		{"audio", models.MessageTypeAudio, "", []models.Attachment{mp3}, false},
		{"file", models.MessageTypeFile, "", []models.Attachment{pdf}, false},
		{"attachment without url", models.MessageTypeFile, "", []models.Attachment{{Name: "x"}}, true},
		{"too long", models.MessageTypeText, strings.Repeat("a", MaxContentLength+1), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.msgType, tt.text, tt.attachments)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, models.ErrInvalidMessage) {
				t.Errorf("expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

func TestDetectMIME(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d}
	if got := DetectMIME(png); got != "image/png" {
		t.Errorf("expected image/png, got %q", got)
	}
	if got := DetectMIME([]byte("just text")); got != "application/octet-stream" {
		t.Errorf("expected octet-stream fallback, got %q", got)
	}
}
