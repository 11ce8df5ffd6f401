package api

import (
	"encoding/json"
	"time"

	"github.com/cuemby/bay/internal/store"
)

// ShipSpecRequest carries optional per-Ship resource overrides. Omitted
// fields fall back to the process-wide defaults in internal/config.
type ShipSpecRequest struct {
	CPUs   *float64 `json:"cpus,omitempty" validate:"omitempty,gt=0"`
	Memory string   `json:"memory,omitempty"`
}

// CreateShipRequest is the decoded body of POST /ship.
type CreateShipRequest struct {
	TTL           int              `json:"ttl" validate:"required,gt=0"`
	Spec          *ShipSpecRequest `json:"spec,omitempty"`
	MaxSessionNum int              `json:"max_session_num" validate:"required,gt=0"`
}

// ExecRequest is the decoded body of POST /ship/{id}/exec.
type ExecRequest struct {
	Type    string          `json:"type" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ExtendTTLRequest is the decoded body of POST /ship/{id}/extend-ttl.
type ExtendTTLRequest struct {
	TTL int `json:"ttl" validate:"required,gt=0"`
}

// ShipResponse mirrors a Ship record for all Ship-returning endpoints.
type ShipResponse struct {
	ID                string    `json:"id"`
	Status            int       `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	ContainerID       string    `json:"container_id,omitempty"`
	IPAddress         string    `json:"ip_address,omitempty"`
	TTL               int       `json:"ttl"`
	MaxSessionNum     int       `json:"max_session_num"`
	CurrentSessionNum int       `json:"current_session_num"`
}

func newShipResponse(s *store.Ship) ShipResponse {
	return ShipResponse{
		ID:                s.ID,
		Status:            int(s.Status),
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
		ContainerID:       s.ContainerID,
		IPAddress:         s.IPAddress,
		TTL:               s.TTLSeconds,
		MaxSessionNum:     s.MaxSessionNum,
		CurrentSessionNum: s.CurrentSessionNum,
	}
}

// HealthResponse is the body for GET /health and GET /.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ExecResponseBody is the body for POST /ship/{id}/exec.
type ExecResponseBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// UploadResponseBody is the body for POST /ship/{id}/upload when the upload
// fails (a guard failure, a transport failure, or a non-200 from the Ship);
// a successful upload instead passes the Ship worker's own JSON response
// straight through.
type UploadResponseBody struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LogsResponse is the body for GET /ship/logs/{id}.
type LogsResponse struct {
	Logs string `json:"logs"`
}
