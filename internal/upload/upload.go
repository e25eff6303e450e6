// Package upload turns local files into attachment descriptors, either by
// posting them to the chat server or by putting them in an S3 bucket.
package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"client_go/internal/domain"
)

const (
	KindImage = "image"
	KindVideo = "video"
	KindAudio = "audio"
	KindFile  = "file"
)

// KindOf maps a MIME type to the attachment kind shown by the UI.
func KindOf(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	}
	return KindFile
}

// describe sniffs the MIME type and size of a local file and, for images,
// its display dimensions after EXIF orientation.
func describe(f domain.LocalFile) (domain.Attachment, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("stat %s: %w", f.Path, err)
	}
	if info.IsDir() {
		return domain.Attachment{}, fmt.Errorf("%w: %s is a directory", domain.ErrInvalidInput, f.Path)
	}

	mt, err := mimetype.DetectFile(f.Path)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("detect type of %s: %w", f.Path, err)
	}
	mime := mt.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}

	name := f.Name
	if name == "" {
		name = filepath.Base(f.Path)
	}

	att := domain.Attachment{
		OriginalName: name,
		MimeType:     mime,
		Size:         info.Size(),
		Kind:         KindOf(mime),
	}
	if att.Kind == KindImage {
		// Formats imaging cannot decode (heic, svg) simply go without size.
		if img, err := imaging.Open(f.Path, imaging.AutoOrientation(true)); err == nil {
			b := img.Bounds()
			w, h := b.Dx(), b.Dy()
			att.Width, att.Height = &w, &h
		}
	}
	return att, nil
}

// objectName builds a unique object name that keeps the original extension.
func objectName(id, original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	return id + ext
}
