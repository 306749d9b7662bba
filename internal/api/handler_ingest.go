package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"farm-dashboard-backend/internal/parse"
)

// DeviceKeyHeader carries a device's api key on ingestion requests.
const DeviceKeyHeader = "X-Device-Key"

func deviceKey(c *gin.Context) string {
	if key := c.GetHeader(DeviceKeyHeader); key != "" {
		return strings.TrimSpace(key)
	}
	return c.Query("apiKey")
}

func (h *Handler) storeRecords(c *gin.Context, records []parse.Record) {
	res, err := h.ingest.Ingest(c.Request.Context(), deviceKey(c), records)
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if res.Registered {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// Ingest handles POST /api/ingest with a JSON object or array body.
func (h *Handler) Ingest(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Ingest.MaxUploadBytes))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}
	records, err := parse.JSON(body, h.cfg.Ingest.MaxBatchRows)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.storeRecords(c, records)
}

// IngestBatch handles POST /api/ingest/batch: a multipart "file" field or a
// raw CSV/JSON body.
func (h *Handler) IngestBatch(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Ingest.MaxUploadBytes)

	var (
		name, contentType string
		data              []byte
		err               error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, ferr := c.FormFile("file")
		if ferr != nil {
			badRequest(c, "multipart upload needs a file field")
			return
		}
		f, ferr := fh.Open()
		if ferr != nil {
			badRequest(c, "cannot read uploaded file")
			return
		}
		defer f.Close()
		name, contentType = fh.Filename, fh.Header.Get("Content-Type")
		data, err = io.ReadAll(f)
	} else {
		contentType = c.ContentType()
		data, err = io.ReadAll(c.Request.Body)
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
		return
	}

	records, err := parse.Upload(name, contentType, data, h.cfg.Ingest.MaxBatchRows)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.storeRecords(c, records)
}
