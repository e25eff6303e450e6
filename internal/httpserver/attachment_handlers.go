package httpserver

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"client_go/internal/domain"
	"client_go/internal/engine"
)

// maxAttachmentForm bounds the multipart body of one attachments request.
const maxAttachmentForm = 50 << 20

// handleSendAttachments accepts a multipart form with one or more "file"
// parts and an optional "text" caption, stages the files on disk and sends
// them through the room's uploader. Staged files are removed afterwards.
func handleSendAttachments(hub *engine.Hub, dir string, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentForm)
		if err := r.ParseMultipartForm(maxAttachmentForm); err != nil {
			writeError(w, http.StatusBadRequest, "failed to parse multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		headers := r.MultipartForm.File["file"]
		if len(headers) == 0 {
			writeError(w, http.StatusBadRequest, "missing file")
			return
		}
		e, ok := openRoom(hub, w, r)
		if !ok {
			return
		}

		staging, err := os.MkdirTemp(dir, "zchat-upload-")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not stage files")
			return
		}
		defer os.RemoveAll(staging)

		files := make([]domain.LocalFile, 0, len(headers))
		for i, h := range headers {
			name := filepath.Base(h.Filename)
			if name == "." || name == string(filepath.Separator) {
				writeError(w, http.StatusBadRequest, "invalid filename")
				return
			}
			src, err := h.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable file part")
				return
			}
			// Index prefix keeps same-named parts apart.
			dest := filepath.Join(staging, strconv.Itoa(i)+"-"+name)
			err = copyToFile(dest, src)
			src.Close()
			if err != nil {
				log.Warn().Err(err).Str("file", name).Msg("staging attachment failed")
				writeError(w, http.StatusInternalServerError, "could not save file")
				return
			}
			files = append(files, domain.LocalFile{Path: dest, Name: name})
		}

		msg, ok := e.SendWithAttachments(r.Context(), r.FormValue("text"), files, domain.Payload{})
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "message rejected")
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func copyToFile(dest string, src io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
