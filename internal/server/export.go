package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	exportdomain "github.com/smallbiznis/scanledger/internal/export/domain"
)

const (
	messageExportCompleted      = "Export completed and emailed."
	messageExportPartialSuccess = "Export completed but the email could not be delivered. Use resend to try again."
	messageExportResent         = "Export resent."
)

type ExportResponse struct {
	Message     string `json:"message"`
	ExportID    string `json:"export_id"`
	MinimalCSV  string `json:"minimal_csv"`
	FullCSV     string `json:"full_csv"`
	PayloadJSON string `json:"payload_json"`
	EmailSent   bool   `json:"email_sent"`
	RowCount    int    `json:"row_count"`
	SkippedRows int    `json:"skipped_rows"`
}

// limitBody rejects bodies larger than limit with 413 before they are
// decoded. The pipeline applies its own, tighter, size check afterwards.
func (s *Server) limitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			abortExportError(c, ErrPayloadTooLarge)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

func (s *Server) RunExport(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	payload, err := decodeExportPayload(c.Request.Body)
	if err != nil {
		abortExportError(c, err)
		return
	}
	if payload.ExportID != "" {
		c.Set("export_id", payload.ExportID)
	}

	result, err := s.exports.RunExport(c.Request.Context(), account, payload)
	if err != nil {
		abortExportError(c, err)
		return
	}
	c.Set("export_id", result.ExportID)

	message := messageExportCompleted
	if !result.EmailSent {
		message = messageExportPartialSuccess
	}
	c.JSON(http.StatusOK, ExportResponse{
		Message:     message,
		ExportID:    result.ExportID,
		MinimalCSV:  result.MinimalCSV,
		FullCSV:     result.FullCSV,
		PayloadJSON: result.PayloadJSON,
		EmailSent:   result.EmailSent,
		RowCount:    result.RowCount,
		SkippedRows: result.SkippedRows,
	})
}

// decodeExportPayload keeps the verbatim body in Raw and decodes numbers as
// json.Number so ids are written to the CSV exactly as sent.
func decodeExportPayload(body io.Reader) (exportdomain.Payload, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return exportdomain.Payload{}, ErrPayloadTooLarge
		}
		return exportdomain.Payload{}, ErrInvalidRequest
	}

	var payload exportdomain.Payload
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&payload); err != nil {
		return exportdomain.Payload{}, ErrInvalidRequest
	}
	payload.ExportID = strings.TrimSpace(payload.ExportID)
	payload.Raw = raw
	return payload, nil
}

func (s *Server) ListExports(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req exportdomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		abortExportError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.exports.ListExports(c.Request.Context(), account, req)
	if err != nil {
		abortExportError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ResendExport(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	exportID := strings.TrimSpace(c.Param("export_id"))
	c.Set("export_id", exportID)
	if err := s.exports.ResendExport(c.Request.Context(), account, exportID); err != nil {
		abortExportError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": messageExportResent})
}

func (s *Server) DownloadExport(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	exportID := strings.TrimSpace(c.Param("export_id"))
	c.Set("export_id", exportID)
	file, err := s.exports.DownloadExport(c.Request.Context(), account, exportID, c.Param("filename"))
	if err != nil {
		abortExportError(c, err)
		return
	}
	defer file.Content.Close()

	c.Header("Content-Disposition", `attachment; filename="`+file.Name+`"`)
	c.Header("Content-Type", file.ContentType)
	http.ServeContent(c.Writer, c.Request, file.Name, file.ModTime, file.Content)
}
