package server

import (
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/linkport/backend/internal/apperr"
	"github.com/linkport/backend/internal/ingest"
)

// maxUploadBytes caps one export file. The limit is enforced while
// reading the stream, not after buffering it.
const maxUploadBytes = 50 << 20

func (h *httpHandler) handleUpload(c *gin.Context) {
	header, data, ok := h.readUpload(c, "file")
	if !ok {
		return
	}

	summary, err := h.ingest.IngestFile(c.Request.Context(), filepath.Base(header.Filename), data)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type batchItemPayload struct {
	Filename string          `json:"filename"`
	OK       bool            `json:"ok"`
	Summary  *ingest.Summary `json:"summary,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// handleUploadBatch imports several per-post exports with independent
// outcomes: one bad file never blocks the rest, and an aggregate file
// in the batch is rejected rather than merged under fallback rules.
func (h *httpHandler) handleUploadBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.writeError(c, apperr.Validation("invalid multipart request"))
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		h.writeError(c, apperr.Validation("no files provided"))
		return
	}

	results := make([]batchItemPayload, 0, len(files))
	for _, header := range files {
		item := batchItemPayload{Filename: filepath.Base(header.Filename)}

		data, readErr := readMultipartFile(header)
		if readErr != nil {
			item.Error = readErr.Error()
			results = append(results, item)
			continue
		}

		summary, ingestErr := h.ingest.IngestPerPostFile(c.Request.Context(), item.Filename, data)
		if ingestErr != nil {
			item.Error = ingestErr.Error()
			h.logger.Warn("batch item failed",
				zap.String("filename", item.Filename))
			results = append(results, item)
			continue
		}
		item.OK = true
		item.Summary = &summary
		results = append(results, item)
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *httpHandler) readUpload(c *gin.Context, field string) (*multipart.FileHeader, []byte, bool) {
	header, err := c.FormFile(field)
	if err != nil {
		h.writeError(c, apperr.Validation("file field %q is required", field))
		return nil, nil, false
	}
	data, err := readMultipartFile(header)
	if err != nil {
		h.writeError(c, err)
		return nil, nil, false
	}
	return header, data, true
}

func readMultipartFile(header *multipart.FileHeader) ([]byte, error) {
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".xlsx") {
		return nil, apperr.Validation("only .xlsx exports are accepted")
	}

	file, err := header.Open()
	if err != nil {
		return nil, apperr.Validation("file could not be opened")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return nil, apperr.Validation("file could not be read")
	}
	if len(data) > maxUploadBytes {
		return nil, apperr.Validation("file exceeds the %d MB limit", maxUploadBytes>>20)
	}
	return data, nil
}
