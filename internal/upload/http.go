package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"client_go/internal/domain"
)

// maxUploadSize matches the multipart limit enforced by the chat server.
const maxUploadSize = 50 << 20

// HTTPUploader posts files to the chat server's /api/uploads endpoint.
type HTTPUploader struct {
	baseURL string
	client  *http.Client
}

func NewHTTPUploader(apiURL string, client *http.Client) *HTTPUploader {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &HTTPUploader{baseURL: strings.TrimRight(apiURL, "/"), client: client}
}

type uploadResponse struct {
	FilePath string `json:"file_path"`
	FileType string `json:"file_type"`
	Filename string `json:"filename"`
}

func (u *HTTPUploader) Upload(ctx context.Context, f domain.LocalFile, token string) (domain.Attachment, error) {
	att, err := describe(f)
	if err != nil {
		return domain.Attachment{}, err
	}
	if att.Size > maxUploadSize {
		return domain.Attachment{}, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrInvalidInput, att.OriginalName, maxUploadSize)
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("open %s: %w", f.Path, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, att.OriginalName))
		h.Set("Content-Type", att.MimeType)
		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/api/uploads", pr)
	if err != nil {
		pr.Close()
		return domain.Attachment{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("upload %s: %w", att.OriginalName, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.Attachment{}, domain.ErrUnauthorized
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Attachment{}, fmt.Errorf("upload %s: server returned %d: %s", att.OriginalName, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Attachment{}, fmt.Errorf("decode upload response: %w", err)
	}
	if out.Filename == "" {
		return domain.Attachment{}, fmt.Errorf("upload %s: response without filename", att.OriginalName)
	}

	att.ID = out.Filename
	att.URL = u.baseURL + "/api/uploads/" + out.Filename
	// The server answers "file" for everything; a more specific kind wins.
	if out.FileType != "" && out.FileType != KindFile {
		att.Kind = out.FileType
	}
	return att, nil
}

var _ domain.Uploader = (*HTTPUploader)(nil)
