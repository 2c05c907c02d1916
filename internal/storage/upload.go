package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// Upload is an image read from a multipart request and sniffed for type.
type Upload struct {
	Data        []byte
	ContentType string
	Ext         string
}

// SniffImage returns the content type and extension of a png, jpeg or webp
// image, judged by its leading bytes rather than any client-supplied header.
func SniffImage(data []byte) (contentType, ext string, err error) {
	ct := http.DetectContentType(data)
	ct, _, _ = strings.Cut(ct, ";")
	ext, ok := imageExtensions[ct]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, ct)
	}
	return ct, ext, nil
}

// ReadImage reads the multipart file field from r, bounded by maxBytes.
// Other parts of the form stay available through r.MultipartForm.
func ReadImage(w http.ResponseWriter, r *http.Request, field string, maxBytes int64) (*Upload, error) {
	// Headroom for the multipart envelope and small text fields.
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+64<<10)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, ErrTooLarge
		}
		return nil, fmt.Errorf("parsing multipart form: %w", err)
	}

	f, _, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing %q file: %w", field, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if n > maxBytes {
		return nil, ErrTooLarge
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedType)
	}

	ct, ext, err := SniffImage(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return &Upload{Data: buf.Bytes(), ContentType: ct, Ext: ext}, nil
}

// UploadStatus maps an upload error to an HTTP status and message.
func UploadStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, "image must be png, jpeg or webp"
	default:
		return http.StatusBadRequest, "invalid upload"
	}
}
