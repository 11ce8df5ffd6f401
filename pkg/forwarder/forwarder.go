/*
Package forwarder relays client operations to a Ship's in-container HTTP
worker and normalizes every transport outcome into a structured response.
No transport error is ever returned as a Go error to the caller — a
connection failure, timeout, or non-200 response all become a field on the
response value, mirroring the health package's "never raise, always report"
contract.
*/
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const (
	operationTimeout = 30 * time.Second
	sessionIDHeader  = "X-SESSION-ID"
)

// ExecResponse is the normalized result of forwarding an operation.
type ExecResponse struct {
	Success bool
	Data    json.RawMessage
	Error   string
}

// UploadResponse is the normalized result of forwarding an upload.
type UploadResponse struct {
	Success bool
	Data    json.RawMessage
	Error   string
}

// Forwarder reaches a Ship worker at http://{ip}:8123/{path}.
type Forwarder struct {
	client *http.Client
	port   int
}

// New returns a Forwarder with the given Ship worker port (8123 in
// production; overridable so tests can point at an httptest server).
func New(port int) *Forwarder {
	return &Forwarder{
		client: &http.Client{Timeout: operationTimeout},
		port:   port,
	}
}

func (f *Forwarder) baseURL(shipIP string) string {
	return fmt.Sprintf("http://%s:%d", shipIP, f.port)
}

// ForwardOperation POSTs payload as JSON to /{opType} and folds the result
// into an ExecResponse. A non-200 response, connection failure, or timeout
// is reported through the Error field rather than a Go error.
func (f *Forwarder) ForwardOperation(ctx context.Context, shipIP, opType string, payload json.RawMessage, sessionID string) ExecResponse {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s", f.baseURL(shipIP), opType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return ExecResponse{Success: false, Error: fmt.Sprintf("Connection error: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(sessionIDHeader, sessionID)

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ExecResponse{Success: false, Error: "Request timeout"}
		}
		return ExecResponse{Success: false, Error: fmt.Sprintf("Connection error: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExecResponse{Success: false, Error: fmt.Sprintf("Connection error: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return ExecResponse{
			Success: false,
			Error:   fmt.Sprintf("Ship returned %d: %s", resp.StatusCode, string(body)),
		}
	}

	return ExecResponse{Success: true, Data: json.RawMessage(body)}
}

// ForwardUpload multipart-POSTs fileBytes and filePath to /upload.
func (f *Forwarder) ForwardUpload(ctx context.Context, shipIP string, fileBytes []byte, filePath, sessionID string) UploadResponse {
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fileField, err := writer.CreateFormFile("file", filePath)
	if err != nil {
		return UploadResponse{Success: false, Error: fmt.Sprintf("Connection error: %v", err)}
	}
	if _, err := fileField.Write(fileBytes); err != nil {
		return UploadResponse{Success: false, Error: fmt.Sprintf("Connection error: %v", err)}
	}
	if err := writer.WriteField("file_path", filePath); err != nil {
		return UploadResponse{Success: false, Error: fmt.Sprintf("Connection error: %v", err)}
	}
	if err := writer.Close(); err != nil {
		return UploadResponse{Success: false, Error: fmt.Sprintf("Connection error: %v", err)}
	}

	url := fmt.Sprintf("%s/upload", f.baseURL(shipIP))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return UploadResponse{Success: false, Error: fmt.Sprintf("Connection error: %v", err)}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(sessionIDHeader, sessionID)

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return UploadResponse{Success: false, Error: "Request timeout"}
		}
		return UploadResponse{Success: false, Error: fmt.Sprintf("Connection error: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return UploadResponse{Success: false, Error: fmt.Sprintf("Connection error: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return UploadResponse{
			Success: false,
			Error:   fmt.Sprintf("Ship returned %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	return UploadResponse{Success: true, Data: json.RawMessage(respBody)}
}
