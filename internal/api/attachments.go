package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"

	"beacon/internal/content"
	"beacon/internal/filestore"
	"beacon/internal/models"
)

const (
	MaxAttachmentSize = 10 << 20
	sniffLen          = 262
)

type AttachmentResponse struct {
	Success    bool              `json:"success"`
	Attachment models.Attachment `json:"attachment"`
}

// UploadAttachmentHandler stores the raw request body and returns the
// attachment descriptor to put on a message. The file name comes from ?name.
func (a *API) UploadAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	name := path.Base(content.PlainText(r.URL.Query().Get("name")))
	if name == "" || name == "." || name == "/" {
		writeError(w, fmt.Errorf("%w: name is required", models.ErrInvalidRequest))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxAttachmentSize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorStatus(w, http.StatusRequestEntityTooLarge, fmt.Errorf("attachment exceeds %d bytes", MaxAttachmentSize))
			return
		}
		writeError(w, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err))
		return
	}
	if len(data) == 0 {
		writeError(w, fmt.Errorf("%w: empty attachment", models.ErrInvalidRequest))
		return
	}

	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])
	if err := a.files.Save(bytes.NewReader(data), id); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AttachmentResponse{
		Success: true,
		Attachment: models.Attachment{
			Name:     name,
			URL:      "/api/attachments/" + id + "?name=" + url.QueryEscape(name),
			Size:     int64(len(data)),
			MimeType: content.DetectMIME(data[:min(len(data), sniffLen)]),
		},
	})
}

// GetAttachmentHandler streams a stored attachment back.
func (a *API) GetAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !filestore.ValidID(id) {
		writeError(w, fmt.Errorf("%w: attachment %s", models.ErrNotFound, id))
		return
	}

	rc, err := a.files.Open(id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() { _ = rc.Close() }()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		writeError(w, err)
		return
	}
	head = head[:n]

	w.Header().Set("Content-Type", content.DetectMIME(head))
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if name := r.URL.Query().Get("name"); name != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(name)))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(head)
	_, _ = io.Copy(w, rc)
}
