/*
Package scheduler arms and fires per-Ship TTL expiry. Each Ship gets its own
timer; re-arming (TTL extension) must not let a stale timer fire after the
fact, so every timer carries an epoch number — the one that was current when
it was armed. When a timer fires it only acts if its epoch still matches the
Ship's current epoch; a later `Arm` call bumps the epoch, stops the old
timer and starts a fresh one, so an old timer that has already fired finds
its epoch stale and does nothing.
*/
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/bay/internal/store"
	baylog "github.com/cuemby/bay/pkg/log"
)

// ShipStore is the slice of store.Store the Scheduler needs to perform
// expiry: read a Ship back and flip it to stopped.
type ShipStore interface {
	GetShip(ctx context.Context, id string) (*store.Ship, error)
	UpdateShip(ctx context.Context, ship *store.Ship) error
}

// ContainerStopper is the slice of containerdriver.Driver the Scheduler
// needs: stopping the Ship's container once it expires.
type ContainerStopper interface {
	StopShipContainer(ctx context.Context, containerID string) (bool, error)
}

// Scheduler arms one expiry timer per Ship.
type Scheduler struct {
	store     ShipStore
	driver    ContainerStopper
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu      sync.Mutex
	epochs  map[string]int
	timers  map[string]*time.Timer
	stopped bool
}

// New returns a Scheduler backed by store and driver.
func New(store ShipStore, driver ContainerStopper) *Scheduler {
	return &Scheduler{
		store:     store,
		driver:    driver,
		afterFunc: time.AfterFunc,
		epochs:    make(map[string]int),
		timers:    make(map[string]*time.Timer),
	}
}

// Arm schedules shipID to expire at now + ttl. Calling Arm again for the
// same Ship before the previous timer fires supersedes it: the latest call
// wins, and the superseded timer's callback no-ops when it eventually
// fires (or is stopped outright if it hasn't fired yet).
func (s *Scheduler) Arm(shipID string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.epochs[shipID]++
	epoch := s.epochs[shipID]

	if old, ok := s.timers[shipID]; ok {
		old.Stop()
	}

	s.timers[shipID] = s.afterFunc(ttl, func() {
		s.fire(shipID, epoch)
	})
}

// Cancel stops shipID's pending timer, if any, without firing the expiry
// action. Used when a Ship is deleted before its TTL elapses.
func (s *Scheduler) Cancel(shipID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[shipID]; ok {
		t.Stop()
		delete(s.timers, shipID)
	}
	delete(s.epochs, shipID)
}

// Stop cancels every pending timer. Safe to call once during shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[string]*time.Timer)
}

func (s *Scheduler) fire(shipID string, epoch int) {
	log := baylog.WithShipID(shipID)

	s.mu.Lock()
	current, known := s.epochs[shipID]
	s.mu.Unlock()
	if !known || current != epoch {
		// Superseded by a later Arm call; that timer owns this Ship now.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ship, err := s.store.GetShip(ctx, shipID)
	if err != nil {
		log.Warn().Err(err).Msg("ttl expiry: could not load ship")
		return
	}
	if ship.Status != store.ShipRunning {
		return
	}

	ship.Status = store.ShipStopped
	ship.UpdatedAt = time.Now()
	if err := s.store.UpdateShip(ctx, ship); err != nil {
		log.Warn().Err(err).Msg("ttl expiry: could not mark ship stopped")
		return
	}

	if ship.ContainerID != "" {
		if _, err := s.driver.StopShipContainer(ctx, ship.ContainerID); err != nil {
			log.Warn().Err(err).Msg("ttl expiry: could not stop container")
		}
	}

	log.Info().Msg("ship expired")
}
