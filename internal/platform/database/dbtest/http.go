package dbtest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ireside/ireside/internal/auth"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/middleware"
	"github.com/stretchr/testify/require"
)

// AsUser returns r carrying the identity and database session that the auth
// and session middleware would install for userID.
func AsUser(r *http.Request, userID, role string) *http.Request {
	ctx := auth.WithIdentity(r.Context(), &auth.Identity{UserID: userID, Role: role, TokenType: "access"})
	ctx = middleware.WithSession(ctx, database.Session{UserID: userID, Role: role})
	return r.WithContext(ctx)
}

// PNG encodes a w×h image with a single dark pixel so it is not blank.
func PNG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// MultipartRequest builds a multipart request with one file part and the
// given text fields.
func MultipartRequest(t testing.TB, method, target, field string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if field != "" {
		part, err := mw.CreateFormFile(field, "upload")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
