package containerdriver

import (
	"context"
	"errors"
)

// ErrContainerNotFound is returned when an operation targets a container
// the runtime no longer knows about.
var ErrContainerNotFound = errors.New("containerdriver: container not found")

// ShipWorkerPort is the port every Ship worker listens on inside its
// container. Callers outside this package (the ReadinessProbe, the
// Forwarder) use this to build the URL they reach a Ship at.
const ShipWorkerPort = shipPort

// ResourceSpec carries the per-Ship resource caps a caller wants applied.
// Either field may be zero-valued, meaning no cap of that kind is applied.
type ResourceSpec struct {
	CPUs   float64
	Memory string // e.g. "512m", "1g", "", or a bare byte count
}

// CreateResult is what a successful container creation reports back.
type CreateResult struct {
	ContainerID   string
	IPAddress     string
	RuntimeStatus string
}

// Driver abstracts the container runtime a Ship's container runs under.
type Driver interface {
	// CreateShipContainer creates, starts, and publishes port 8123/tcp for
	// a new Ship container. shipID and ttlSeconds become the SHIP_ID and
	// TTL environment variables; the container is labeled created_by=bay.
	CreateShipContainer(ctx context.Context, shipID string, ttlSeconds int, spec ResourceSpec) (*CreateResult, error)

	// StopShipContainer stops then removes a container. A container that
	// no longer exists is treated as an already-successful stop.
	StopShipContainer(ctx context.Context, containerID string) (bool, error)

	// GetContainerLogs returns aggregated stdout+stderr. A missing
	// container returns an empty string, not an error.
	GetContainerLogs(ctx context.Context, containerID string) (string, error)

	// IsContainerRunning reports whether containerID currently has a
	// running task.
	IsContainerRunning(ctx context.Context, containerID string) bool

	Close() error
}
