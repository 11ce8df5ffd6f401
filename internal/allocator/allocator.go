/*
Package allocator implements Bay's decision engine: the reuse-vs-create
choice behind create_ship, capacity admission under the reject/wait
policy, the readiness gate, and the affinity-checked forwarding of
operations and uploads into a bound Ship. It is the only component that
performs compensating actions (container stop, Ship row delete) when a
later step in create_ship fails after provisioning has begun.
*/
package allocator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/bay/internal/config"
	"github.com/cuemby/bay/internal/containerdriver"
	"github.com/cuemby/bay/internal/scheduler"
	"github.com/cuemby/bay/internal/store"
	"github.com/cuemby/bay/pkg/bayerr"
	"github.com/cuemby/bay/pkg/forwarder"
	"github.com/cuemby/bay/pkg/health"
	baylog "github.com/cuemby/bay/pkg/log"
)

const capacityWaitPoll = 5 * time.Second
const capacityWaitCeiling = 300 * time.Second
const readinessAttemptTimeout = 5 * time.Second

// CreateShipRequest is the caller-supplied shape of a create_ship call.
// TTLSeconds and MaxSessionNum must already be positive (the API layer
// rejects a request without them); the API layer also fills Spec from the
// configured defaults for any field the request leaves out.
type CreateShipRequest struct {
	TTLSeconds    int
	Spec          containerdriver.ResourceSpec
	MaxSessionNum int
}

// Allocator is Bay's single coordinating service: Store + ContainerDriver
// + Forwarder + Scheduler, wired together behind the algorithm in
// create_ship/execute_operation/upload/delete_ship/extend_ttl.
type Allocator struct {
	store     store.Store
	driver    containerdriver.Driver
	forwarder *forwarder.Forwarder
	scheduler *scheduler.Scheduler

	maxShipNum       int
	behaviorAfterMax config.BehaviorAfterMax
	healthTimeout    time.Duration
	healthInterval   time.Duration
	maxUploadSize    int64

	// mu serializes the reuse-vs-create decision: two concurrent callers
	// must never both observe the last free slot and both provision a
	// new Ship, or both claim the same reused Ship's slot twice.
	mu sync.Mutex
}

// New returns an Allocator. cfg supplies the capacity policy and
// readiness-probe budget; store/driver/fwd/sched are the components it
// coordinates.
func New(st store.Store, driver containerdriver.Driver, fwd *forwarder.Forwarder, sched *scheduler.Scheduler, cfg *config.Config) *Allocator {
	return &Allocator{
		store:            st,
		driver:           driver,
		forwarder:        fwd,
		scheduler:        sched,
		maxShipNum:       cfg.MaxShipNum,
		behaviorAfterMax: cfg.BehaviorAfterMaxShip,
		healthTimeout:    cfg.ShipHealthCheckTimeout,
		healthInterval:   cfg.ShipHealthCheckInterval,
		maxUploadSize:    cfg.MaxUploadSize,
	}
}

// CreateShip implements the create_ship algorithm: try reuse, else admit
// under the capacity policy, provision, gate on readiness, bind, arm TTL.
func (a *Allocator) CreateShip(ctx context.Context, sessionID string, req CreateShipRequest) (*store.Ship, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ship, err := a.tryReuse(ctx, sessionID); err != nil {
		return nil, err
	} else if ship != nil {
		return ship, nil
	}

	if err := a.admitUnderCapacity(ctx); err != nil {
		return nil, err
	}

	return a.provisionAndBind(ctx, sessionID, req)
}

// tryReuse implements create_ship step 1. A nil, nil return means no
// qualifying Ship exists and the caller should fall through to admission.
func (a *Allocator) tryReuse(ctx context.Context, sessionID string) (*store.Ship, error) {
	candidate, err := a.store.FindAvailableShip(ctx, sessionID)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, bayerr.Wrap(bayerr.ProvisionError, "find available ship", err)
	}

	if _, err := a.store.GetSessionShip(ctx, sessionID, candidate.ID); err == nil {
		if err := a.store.UpdateSessionActivity(ctx, sessionID, candidate.ID); err != nil {
			return nil, bayerr.Wrap(bayerr.ProvisionError, "update session activity", err)
		}
		baylog.WithSessionID(sessionID).Info().Str("ship_id", candidate.ID).Msg("ship reused")
		return candidate, nil
	} else if err != store.ErrNotFound {
		return nil, bayerr.Wrap(bayerr.ProvisionError, "load session binding", err)
	}

	binding := &store.SessionShip{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		ShipID:       candidate.ID,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	if err := a.store.CreateSessionShip(ctx, binding); err != nil {
		return nil, bayerr.Wrap(bayerr.ProvisionError, "create session binding", err)
	}
	if err := a.store.IncrementShipSessionCount(ctx, candidate.ID); err != nil {
		return nil, bayerr.Wrap(bayerr.ProvisionError, "increment ship session count", err)
	}

	candidate.CurrentSessionNum++
	baylog.WithSessionID(sessionID).Info().Str("ship_id", candidate.ID).Msg("ship reused")
	return candidate, nil
}

// admitUnderCapacity implements create_ship step 2.
func (a *Allocator) admitUnderCapacity(ctx context.Context) error {
	count, err := a.store.CountActiveShips(ctx)
	if err != nil {
		return bayerr.Wrap(bayerr.ProvisionError, "count active ships", err)
	}
	if count < a.maxShipNum {
		return nil
	}

	if a.behaviorAfterMax == config.BehaviorReject {
		return bayerr.New(bayerr.CapacityExceeded, "max_ship_num reached")
	}

	waited := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return bayerr.Wrap(bayerr.CapacityTimeout, "capacity wait cancelled", ctx.Err())
		case <-time.After(capacityWaitPoll):
		}
		waited += capacityWaitPoll

		count, err := a.store.CountActiveShips(ctx)
		if err != nil {
			return bayerr.Wrap(bayerr.ProvisionError, "count active ships", err)
		}
		if count < a.maxShipNum {
			return nil
		}
		if waited >= capacityWaitCeiling {
			return bayerr.New(bayerr.CapacityTimeout, "capacity wait exceeded 300s")
		}
	}
}

// provisionAndBind implements create_ship steps 3-7, rolling back on any
// failure past step 3.
func (a *Allocator) provisionAndBind(ctx context.Context, sessionID string, req CreateShipRequest) (*store.Ship, error) {
	log := baylog.WithSessionID(sessionID)

	ship := &store.Ship{
		ID:                uuid.NewString(),
		Status:            store.ShipStopped,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
		TTLSeconds:        req.TTLSeconds,
		MaxSessionNum:     req.MaxSessionNum,
		CurrentSessionNum: 1,
	}
	if err := a.store.CreateShip(ctx, ship); err != nil {
		return nil, bayerr.Wrap(bayerr.ProvisionError, "create ship record", err)
	}

	result, err := a.driver.CreateShipContainer(ctx, ship.ID, req.TTLSeconds, req.Spec)
	if err != nil {
		a.rollbackShipRow(ctx, ship.ID, "")
		return nil, bayerr.Wrap(bayerr.ProvisionError, "create ship container", err)
	}
	if result.IPAddress == "" {
		a.rollbackShipRow(ctx, ship.ID, result.ContainerID)
		return nil, bayerr.New(bayerr.ProvisionError, "container started without a resolvable IP address")
	}

	ship.ContainerID = result.ContainerID
	ship.IPAddress = result.IPAddress
	ship.Status = store.ShipRunning
	ship.UpdatedAt = time.Now()
	if err := a.store.UpdateShip(ctx, ship); err != nil {
		a.rollbackContainerAndRow(ctx, ship.ID, result.ContainerID)
		return nil, bayerr.Wrap(bayerr.ProvisionError, "persist ship container info", err)
	}

	checker := health.NewHTTPChecker(fmt.Sprintf("http://%s:%d/health", ship.IPAddress, containerdriver.ShipWorkerPort)).
		WithTimeout(readinessAttemptTimeout)
	ready := health.WaitUntilReady(ctx, checker, health.PollConfig{
		Interval: a.healthInterval,
		Timeout:  a.healthTimeout,
	})
	if !ready {
		a.rollbackContainerAndRow(ctx, ship.ID, result.ContainerID)
		return nil, bayerr.New(bayerr.ReadinessTimeout, "ship never became ready")
	}

	binding := &store.SessionShip{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		ShipID:       ship.ID,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	if err := a.store.CreateSessionShip(ctx, binding); err != nil {
		a.rollbackContainerAndRow(ctx, ship.ID, result.ContainerID)
		return nil, bayerr.Wrap(bayerr.ProvisionError, "bind session to ship", err)
	}

	a.scheduler.Arm(ship.ID, time.Duration(req.TTLSeconds)*time.Second)

	log.Info().Str("ship_id", ship.ID).Msg("ship created")
	return ship, nil
}

func (a *Allocator) rollbackShipRow(ctx context.Context, shipID, containerID string) {
	log := baylog.WithShipID(shipID)
	if containerID != "" {
		if _, err := a.driver.StopShipContainer(ctx, containerID); err != nil {
			log.Warn().Err(err).Msg("rollback: failed to stop container")
		}
	}
	if err := a.store.DeleteShip(ctx, shipID); err != nil {
		log.Warn().Err(err).Msg("rollback: failed to delete ship row")
	}
}

func (a *Allocator) rollbackContainerAndRow(ctx context.Context, shipID, containerID string) {
	a.rollbackShipRow(ctx, shipID, containerID)
}

// ExecuteOperation implements the operation-forwarding guard: affinity
// check, activity bump, delegate to the Forwarder. Guard failures (Ship
// missing/not running, no IP, affinity denied) are reported as
// success=false responses, not typed errors: the API layer surfaces every
// one of them as 400, matching the Ship-worker's own ExecResponse
// convention for these guards.
func (a *Allocator) ExecuteOperation(ctx context.Context, shipID, sessionID, opType string, payload []byte) (forwarder.ExecResponse, error) {
	ship, guardErr, err := a.loadBoundShip(ctx, shipID, sessionID)
	if err != nil {
		return forwarder.ExecResponse{}, err
	}
	if guardErr != "" {
		return forwarder.ExecResponse{Success: false, Error: guardErr}, nil
	}

	if err := a.store.UpdateSessionActivity(ctx, sessionID, shipID); err != nil {
		baylog.WithShipID(shipID).Warn().Err(err).Msg("could not update session activity")
	}

	return a.forwarder.ForwardOperation(ctx, ship.IPAddress, opType, payload, sessionID), nil
}

// Upload implements the upload-forwarding guard: affinity check, size
// pre-check against content length, delegate to the Forwarder, which the
// caller is still responsible for re-checking against actually-read bytes
// before calling this (the API layer enforces the second check while
// streaming the multipart body, since only it sees the raw byte count).
// Guard failures are reported as success=false responses; the API layer's
// substring-based status mapping (size/not found/access) then applies to
// them the same way it applies to a forwarded Ship-side failure.
func (a *Allocator) Upload(ctx context.Context, shipID, sessionID string, fileBytes []byte, filePath string, contentLength int64) (forwarder.UploadResponse, error) {
	ship, guardErr, err := a.loadBoundShip(ctx, shipID, sessionID)
	if err != nil {
		return forwarder.UploadResponse{}, err
	}
	if guardErr != "" {
		return forwarder.UploadResponse{Success: false, Error: guardErr}, nil
	}

	if contentLength > a.maxUploadSize || int64(len(fileBytes)) > a.maxUploadSize {
		return forwarder.UploadResponse{}, bayerr.New(bayerr.PayloadTooLarge, "upload exceeds max_upload_size")
	}

	if err := a.store.UpdateSessionActivity(ctx, sessionID, shipID); err != nil {
		baylog.WithShipID(shipID).Warn().Err(err).Msg("could not update session activity")
	}

	return a.forwarder.ForwardUpload(ctx, ship.IPAddress, fileBytes, filePath, sessionID), nil
}

// loadBoundShip loads the Ship and verifies session affinity. A non-empty
// guardErr means a guard condition (Ship missing/not running, no IP,
// affinity denied) failed and the caller should surface it as a
// success=false response rather than a typed error; a non-nil err means an
// underlying Store failure the caller should propagate unchanged.
func (a *Allocator) loadBoundShip(ctx context.Context, shipID, sessionID string) (ship *store.Ship, guardErr string, err error) {
	ship, err = a.store.GetShip(ctx, shipID)
	if err == store.ErrNotFound || (err == nil && ship.Status != store.ShipRunning) {
		return nil, "Ship not found or not running", nil
	}
	if err != nil {
		return nil, "", bayerr.Wrap(bayerr.ProvisionError, "load ship", err)
	}
	if ship.IPAddress == "" {
		return nil, "Ship IP address not available", nil
	}

	if _, err := a.store.GetSessionShip(ctx, sessionID, shipID); err == store.ErrNotFound {
		return nil, "Session does not have access to this ship", nil
	} else if err != nil {
		return nil, "", bayerr.Wrap(bayerr.ProvisionError, "load session binding", err)
	}

	return ship, "", nil
}

// DeleteShip stops the Ship's container (best-effort) and deletes its
// row, cascading bindings.
func (a *Allocator) DeleteShip(ctx context.Context, shipID string) error {
	ship, err := a.store.GetShip(ctx, shipID)
	if err == store.ErrNotFound {
		return bayerr.New(bayerr.NotFound, "ship not found")
	}
	if err != nil {
		return bayerr.Wrap(bayerr.ProvisionError, "load ship", err)
	}

	a.scheduler.Cancel(shipID)

	if ship.ContainerID != "" {
		if _, err := a.driver.StopShipContainer(ctx, ship.ContainerID); err != nil {
			baylog.WithShipID(shipID).Warn().Err(err).Msg("delete: failed to stop container")
		}
	}

	if err := a.store.DeleteShip(ctx, shipID); err != nil {
		return bayerr.Wrap(bayerr.ProvisionError, "delete ship row", err)
	}
	baylog.WithShipID(shipID).Info().Msg("ship deleted")
	return nil
}

// ExtendTTL loads the Ship, rejects a missing or stopped Ship as
// not-found, persists the new TTL, and reschedules the Scheduler's timer
// (superseding any pending one).
func (a *Allocator) ExtendTTL(ctx context.Context, shipID string, ttlSeconds int) (*store.Ship, error) {
	ship, err := a.store.GetShip(ctx, shipID)
	if err == store.ErrNotFound || (err == nil && ship.Status != store.ShipRunning) {
		return nil, bayerr.New(bayerr.NotFound, "ship not found")
	}
	if err != nil {
		return nil, bayerr.Wrap(bayerr.ProvisionError, "load ship", err)
	}

	ship.TTLSeconds = ttlSeconds
	ship.UpdatedAt = time.Now()
	if err := a.store.UpdateShip(ctx, ship); err != nil {
		return nil, bayerr.Wrap(bayerr.ProvisionError, "persist extended ttl", err)
	}

	a.scheduler.Arm(shipID, time.Duration(ttlSeconds)*time.Second)
	return ship, nil
}

// GetShip loads a Ship by ID, translating a missing row to NotFound.
func (a *Allocator) GetShip(ctx context.Context, shipID string) (*store.Ship, error) {
	ship, err := a.store.GetShip(ctx, shipID)
	if err == store.ErrNotFound {
		return nil, bayerr.New(bayerr.NotFound, "ship not found")
	}
	if err != nil {
		return nil, bayerr.Wrap(bayerr.ProvisionError, "load ship", err)
	}
	return ship, nil
}

// Logs returns a Ship's captured container output.
func (a *Allocator) Logs(ctx context.Context, shipID string) (string, error) {
	ship, err := a.store.GetShip(ctx, shipID)
	if err == store.ErrNotFound {
		return "", bayerr.New(bayerr.NotFound, "ship not found")
	}
	if err != nil {
		return "", bayerr.Wrap(bayerr.ProvisionError, "load ship", err)
	}
	if ship.ContainerID == "" {
		return "", nil
	}
	logs, err := a.driver.GetContainerLogs(ctx, ship.ContainerID)
	if err != nil {
		return "", bayerr.Wrap(bayerr.ProvisionError, "read container logs", err)
	}
	return logs, nil
}

// ReadUploadLimited reads from r up to maxUploadSize+1 bytes so the caller
// can distinguish "exactly at the limit" from "over the limit" without
// buffering an unbounded body first.
func ReadUploadLimited(r io.Reader, maxUploadSize int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxUploadSize+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > maxUploadSize {
		return data[:maxUploadSize], true, nil
	}
	return data, false, nil
}
