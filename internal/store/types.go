package store

import "time"

// ShipStatus is the lifecycle state of a Ship.
type ShipStatus int

const (
	// ShipStopped means the Ship's container is not running. A new Ship row
	// holds this status while its container is being provisioned; once a
	// running Ship becomes stopped, that is terminal.
	ShipStopped ShipStatus = 0
	// ShipRunning means the Ship's container is up and (assumed) reachable.
	ShipRunning ShipStatus = 1
)

// Ship is a container-hosted sandbox.
type Ship struct {
	ID                string     `json:"id"`
	Status            ShipStatus `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	ContainerID       string     `json:"container_id,omitempty"`
	IPAddress         string     `json:"ip_address,omitempty"`
	TTLSeconds        int        `json:"ttl_seconds"`
	MaxSessionNum     int        `json:"max_session_num"`
	CurrentSessionNum int        `json:"current_session_num"`
}

// SessionShip binds a session to a Ship it is authorized to use.
type SessionShip struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	ShipID       string    `json:"ship_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}
