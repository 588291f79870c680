package attachment

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type stubUploader struct {
	id       uuid.UUID
	err      error
	fileName string
	content  []byte
}

func (u *stubUploader) Upload(_ context.Context, fileName, _ string, content []byte) (uuid.UUID, error) {
	u.fileName = fileName
	u.content = content

	return u.id, u.err
}

func multipartRequest(t *testing.T, field, fileName string, content []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(field, fileName)
	assert.NoError(t, err)
	_, err = part.Write(content)
	assert.NoError(t, err)
	assert.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/notify/attachments", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req

	return c, rec
}

func TestUploadSuccess(t *testing.T) {
	store := &stubUploader{id: uuid.New()}
	handler := NewHandler(store)

	content := []byte("attachment bytes")
	c, rec := multipartRequest(t, "file", "report.csv", content)

	handler.Upload(c)

	assert.Equal(t, http.StatusCreated, rec.Result().StatusCode)
	assert.Equal(t, "report.csv", store.fileName)
	assert.Equal(t, content, store.content)
	assert.Contains(t, rec.Body.String(), store.id.String())
}

func TestUploadMissingFilePart(t *testing.T) {
	store := &stubUploader{}
	handler := NewHandler(store)

	c, rec := multipartRequest(t, "wrong_field", "report.csv", []byte("x"))

	handler.Upload(c)

	assert.Equal(t, http.StatusBadRequest, rec.Result().StatusCode)
	assert.Empty(t, store.content)
}

func TestUploadStoreError(t *testing.T) {
	store := &stubUploader{err: errors.New("db down")}
	handler := NewHandler(store)

	c, rec := multipartRequest(t, "file", "report.csv", []byte("x"))

	handler.Upload(c)

	assert.Equal(t, http.StatusInternalServerError, rec.Result().StatusCode)
}
