package upload

import (
	"context"
	"encoding/json"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"client_go/internal/domain"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, imaging.Save(imaging.New(w, h, color.White), path))
	return path
}

func writeText(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindImage, KindOf("image/png"))
	assert.Equal(t, KindVideo, KindOf("video/mp4"))
	assert.Equal(t, KindAudio, KindOf("audio/ogg"))
	assert.Equal(t, KindFile, KindOf("application/pdf"))
}

func TestDescribeImage(t *testing.T) {
	path := writePNG(t, 40, 30)

	att, err := describe(domain.LocalFile{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "photo.png", att.OriginalName)
	assert.Equal(t, "image/png", att.MimeType)
	assert.Equal(t, KindImage, att.Kind)
	require.NotNil(t, att.Width)
	require.NotNil(t, att.Height)
	assert.Equal(t, 40, *att.Width)
	assert.Equal(t, 30, *att.Height)
	assert.Positive(t, att.Size)
}

func TestDescribeTextFile(t *testing.T) {
	path := writeText(t, "plain words")

	att, err := describe(domain.LocalFile{Path: path, Name: "shown.txt"})
	require.NoError(t, err)
	assert.Equal(t, "shown.txt", att.OriginalName)
	assert.Equal(t, "text/plain", att.MimeType)
	assert.Equal(t, KindFile, att.Kind)
	assert.Nil(t, att.Width)
	assert.EqualValues(t, len("plain words"), att.Size)
}

func TestDescribeMissingFile(t *testing.T) {
	_, err := describe(domain.LocalFile{Path: filepath.Join(t.TempDir(), "gone.bin")})
	assert.Error(t, err)

	_, err = describe(domain.LocalFile{Path: t.TempDir()})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHTTPUploader(t *testing.T) {
	var (
		mu       sync.Mutex
		gotAuth  string
		gotName  string
		gotBytes int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/uploads" {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)

		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotName = header.Filename
		gotBytes = len(data)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"file_path": "/srv/uploads/1700.png",
			"file_type": "file",
			"filename":  "1700.png",
		})
	}))
	defer srv.Close()

	path := writePNG(t, 8, 8)
	u := NewHTTPUploader(srv.URL+"/", srv.Client())
	att, err := u.Upload(context.Background(), domain.LocalFile{Path: path}, "tok")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "photo.png", gotName)
	assert.EqualValues(t, att.Size, gotBytes)

	assert.Equal(t, "1700.png", att.ID)
	assert.Equal(t, srv.URL+"/api/uploads/1700.png", att.URL)
	assert.Equal(t, KindImage, att.Kind, "detected kind beats the generic server answer")
	assert.Equal(t, "image/png", att.MimeType)
}

func TestHTTPUploaderErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnauthorized)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "nope", int(status.Load()))
	}))
	defer srv.Close()

	u := NewHTTPUploader(srv.URL, nil)
	path := writeText(t, "x")

	_, err := u.Upload(context.Background(), domain.LocalFile{Path: path}, "bad")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	status.Store(http.StatusBadRequest)
	_, err = u.Upload(context.Background(), domain.LocalFile{Path: path}, "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestS3Uploader(t *testing.T) {
	var (
		mu   sync.Mutex
		puts []string
		ct   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if r.Method == http.MethodPut {
			mu.Lock()
			puts = append(puts, r.URL.Path)
			ct = r.Header.Get("Content-Type")
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := NewS3Uploader(context.Background(), S3Config{
		Endpoint:        srv.URL,
		Bucket:          "media",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
		Prefix:          "chat/",
	})
	require.NoError(t, err)
	u.newID = func() string { return "fixed" }

	att, err := u.Upload(context.Background(), domain.LocalFile{Path: writePNG(t, 4, 4)}, "")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/media/chat/fixed.png"}, puts)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, "chat/fixed.png", att.ID)
	assert.True(t, strings.HasPrefix(att.URL, srv.URL+"/media/chat/fixed.png?"), att.URL)
	assert.Contains(t, att.URL, "X-Amz-Signature=")
}

func TestNewS3UploaderRequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), S3Config{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
