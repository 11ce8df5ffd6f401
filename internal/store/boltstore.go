package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketShips        = []byte("ships")
	bucketSessionShips = []byte("session_ships")
)

// BoltStore implements Store on top of a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "bay.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketShips, bucketSessionShips} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) CreateShip(_ context.Context, ship *Ship) error {
	return s.putShip(ship)
}

func (s *BoltStore) putShip(ship *Ship) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketShips)
		data, err := json.Marshal(ship)
		if err != nil {
			return err
		}
		return b.Put([]byte(ship.ID), data)
	})
}

func (s *BoltStore) GetShip(_ context.Context, id string) (*Ship, error) {
	var ship Ship
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketShips)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &ship)
	})
	if err != nil {
		return nil, err
	}
	return &ship, nil
}

func (s *BoltStore) UpdateShip(_ context.Context, ship *Ship) error {
	return s.putShip(ship)
}

// DeleteShip removes the Ship row and cascades the delete to every
// session_ships binding that references it. Each binding's contribution to
// the Ship's session count is retired via DecrementShipSessionCount before
// the cascade transaction, keeping current_session_num consistent with the
// binding set at every step of teardown; the ship row and all its bindings
// are then removed together in a single transaction.
func (s *BoltStore) DeleteShip(ctx context.Context, id string) error {
	bindings, err := s.ListSessionShipsForShip(ctx, id)
	if err != nil {
		return err
	}
	for range bindings {
		if err := s.DecrementShipSessionCount(ctx, id); err != nil && err != ErrNotFound {
			return err
		}
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketShips).Delete([]byte(id)); err != nil {
			return err
		}
		sb := tx.Bucket(bucketSessionShips)
		for _, binding := range bindings {
			if err := sb.Delete([]byte(binding.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListActiveShips(_ context.Context) ([]*Ship, error) {
	var ships []*Ship
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketShips)
		return b.ForEach(func(_, v []byte) error {
			var ship Ship
			if err := json.Unmarshal(v, &ship); err != nil {
				return err
			}
			if ship.Status == ShipRunning {
				ships = append(ships, &ship)
			}
			return nil
		})
	})
	return ships, err
}

func (s *BoltStore) CountActiveShips(ctx context.Context) (int, error) {
	ships, err := s.ListActiveShips(ctx)
	if err != nil {
		return 0, err
	}
	return len(ships), nil
}

func (s *BoltStore) CreateSessionShip(_ context.Context, binding *SessionShip) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessionShips)
		data, err := json.Marshal(binding)
		if err != nil {
			return err
		}
		return b.Put([]byte(binding.ID), data)
	})
}

func (s *BoltStore) GetSessionShip(_ context.Context, sessionID, shipID string) (*SessionShip, error) {
	var found *SessionShip
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessionShips)
		return b.ForEach(func(_, v []byte) error {
			var binding SessionShip
			if err := json.Unmarshal(v, &binding); err != nil {
				return err
			}
			if binding.SessionID == sessionID && binding.ShipID == shipID {
				found = &binding
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (s *BoltStore) ListSessionShipsForShip(_ context.Context, shipID string) ([]*SessionShip, error) {
	var bindings []*SessionShip
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessionShips)
		return b.ForEach(func(_, v []byte) error {
			var binding SessionShip
			if err := json.Unmarshal(v, &binding); err != nil {
				return err
			}
			if binding.ShipID == shipID {
				bindings = append(bindings, &binding)
			}
			return nil
		})
	})
	return bindings, err
}

func (s *BoltStore) UpdateSessionActivity(_ context.Context, sessionID, shipID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessionShips)
		var key []byte
		var binding SessionShip
		err := b.ForEach(func(k, v []byte) error {
			var candidate SessionShip
			if err := json.Unmarshal(v, &candidate); err != nil {
				return err
			}
			if candidate.SessionID == sessionID && candidate.ShipID == shipID {
				key = append([]byte(nil), k...)
				binding = candidate
			}
			return nil
		})
		if err != nil {
			return err
		}
		if key == nil {
			return ErrNotFound
		}
		binding.LastActivity = time.Now()
		data, err := json.Marshal(&binding)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// FindAvailableShip returns a running Ship with current_session_num <
// max_session_num, preferring one sessionID is already bound to; ties among
// remaining qualifying Ships break on earliest CreatedAt.
func (s *BoltStore) FindAvailableShip(_ context.Context, sessionID string) (*Ship, error) {
	var boundShipIDs map[string]bool

	var candidates []*Ship
	err := s.db.View(func(tx *bolt.Tx) error {
		sb := tx.Bucket(bucketSessionShips)
		boundShipIDs = make(map[string]bool)
		if err := sb.ForEach(func(_, v []byte) error {
			var binding SessionShip
			if err := json.Unmarshal(v, &binding); err != nil {
				return err
			}
			if binding.SessionID == sessionID {
				boundShipIDs[binding.ShipID] = true
			}
			return nil
		}); err != nil {
			return err
		}

		b := tx.Bucket(bucketShips)
		return b.ForEach(func(_, v []byte) error {
			var ship Ship
			if err := json.Unmarshal(v, &ship); err != nil {
				return err
			}
			if ship.Status == ShipRunning && ship.CurrentSessionNum < ship.MaxSessionNum {
				candidates = append(candidates, &ship)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNotFound
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	for _, ship := range candidates {
		if boundShipIDs[ship.ID] {
			return ship, nil
		}
	}
	return candidates[0], nil
}

func (s *BoltStore) IncrementShipSessionCount(_ context.Context, shipID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketShips)
		data := b.Get([]byte(shipID))
		if data == nil {
			return ErrNotFound
		}
		var ship Ship
		if err := json.Unmarshal(data, &ship); err != nil {
			return err
		}
		if ship.CurrentSessionNum >= ship.MaxSessionNum {
			return fmt.Errorf("ship %s: session count already at max %d", shipID, ship.MaxSessionNum)
		}
		ship.CurrentSessionNum++
		ship.UpdatedAt = time.Now()
		updated, err := json.Marshal(&ship)
		if err != nil {
			return err
		}
		return b.Put([]byte(shipID), updated)
	})
}

func (s *BoltStore) DecrementShipSessionCount(_ context.Context, shipID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketShips)
		data := b.Get([]byte(shipID))
		if data == nil {
			return ErrNotFound
		}
		var ship Ship
		if err := json.Unmarshal(data, &ship); err != nil {
			return err
		}
		if ship.CurrentSessionNum > 0 {
			ship.CurrentSessionNum--
			ship.UpdatedAt = time.Now()
		}
		updated, err := json.Marshal(&ship)
		if err != nil {
			return err
		}
		return b.Put([]byte(shipID), updated)
	})
}
