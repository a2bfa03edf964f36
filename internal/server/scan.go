package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	scandomain "github.com/smallbiznis/scanledger/internal/scan/domain"
)

// ScanRequest is the JSON form of an upload. Data may be a JSON object or a
// string; objects are stored in their compact encoding.
type ScanRequest struct {
	ID        json.RawMessage `json:"id"`
	FormID    string          `json:"formId"`
	Data      json.RawMessage `json:"data"`
	Key       string          `json:"key"`
	ScannedAt string          `json:"scannedAt"`
}

// IngestScan accepts form-encoded or JSON uploads with the same field names.
func (s *Server) IngestScan(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	req, err := decodeScanRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	scan, err := s.scans.Ingest(c.Request.Context(), account.ID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "Scan created successfully",
		"scanId":  scan.ScanID,
	})
}

func (s *Server) ListScans(c *gin.Context) {
	account, ok := currentAccount(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req scandomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.scans.List(c.Request.Context(), account.ID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func decodeScanRequest(c *gin.Context) (scandomain.IngestRequest, error) {
	switch c.ContentType() {
	case gin.MIMEPOSTForm, gin.MIMEMultipartPOSTForm:
		return scandomain.IngestRequest{
			ID:        c.PostForm("id"),
			FormID:    c.PostForm("formId"),
			Data:      c.PostForm("data"),
			Key:       c.PostForm("key"),
			ScannedAt: c.PostForm("scannedAt"),
		}, nil
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return scandomain.IngestRequest{}, invalidRequestError()
	}
	var body ScanRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		return scandomain.IngestRequest{}, invalidRequestError()
	}
	return scandomain.IngestRequest{
		ID:        scalarText(body.ID),
		FormID:    body.FormID,
		Data:      scalarText(body.Data),
		Key:       body.Key,
		ScannedAt: body.ScannedAt,
	}, nil
}

// scalarText unwraps JSON strings and compacts anything else. null and
// absent values become "".
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	var out bytes.Buffer
	if err := json.Compact(&out, raw); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return out.String()
}
