package attachment

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/notifyd/notifyd/internal/api/respond"
)

type uploader interface {
	Upload(ctx context.Context, fileName, contentType string, content []byte) (uuid.UUID, error)
}

// Handler handles attachment uploads.
type Handler struct {
	store uploader
}

// NewHandler creates a new attachment Handler instance.
func NewHandler(store uploader) *Handler {
	return &Handler{store: store}
}

// Upload handles multipart POST requests carrying a single "file" part and
// returns the attachment id. Re-uploading identical content returns the id of
// the existing attachment.
func (h *Handler) Upload(c *ginext.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("missing file part")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("missing file part"))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to open uploaded file")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("unreadable file part"))
		return
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to read uploaded file")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("unreadable file part"))
		return
	}

	id, err := h.store.Upload(
		c.Request.Context(),
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		content,
	)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to store attachment")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.Created(c.Writer, id)
}
