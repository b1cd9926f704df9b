package versioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("versioning: database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opStoreNew     = "versioning.store.new"
	opAppend       = "versioning.append"
	opReconstruct  = "versioning.reconstruct"
	opLatest       = "versioning.latest"
	opPurgeRoom    = "versioning.purge_room"
	queryRoom      = "room_id = ?"
	queryRoomUpto  = "room_id = ? AND version_number <= ?"
	queryRoomRange = "room_id = ? AND version_number > ? AND version_number <= ?"
)

// StoreConfig describes the dependencies of the snapshot store.
type StoreConfig struct {
	Database *gorm.DB
	Codec    Codec
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists the per-room version chain and reconstructs document text
// by replaying snapshots and patches.
type Store struct {
	db     *gorm.DB
	codec  Codec
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a snapshot store from the provided configuration.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%s: %w", opStoreNew, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	codec := cfg.Codec
	if codec.dmp == nil {
		codec = NewCodec()
	}
	return &Store{db: cfg.Database, codec: codec, clock: clock, logger: logger}, nil
}

// Append assigns the next sequential version number for the room and
// persists the record. Two concurrent appends for the same room cannot
// claim the same number: the insert runs inside a transaction and the
// (room_id, version_number) uniqueness constraint rejects the loser with
// ErrVersionConflict.
func (s *Store) Append(ctx context.Context, roomID RoomID, isFull bool, payload string) (int64, error) {
	var assigned int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		next, err := latestNumber(tx, roomID)
		if err != nil {
			return err
		}
		next++
		if err := s.insertNumbered(tx, roomID, next, isFull, payload); err != nil {
			return err
		}
		assigned = next
		return nil
	})
	if txErr != nil {
		s.logError(opAppend, txErr, zap.String("room_id", roomID.String()))
		return 0, txErr
	}
	return assigned, nil
}

// appendNumbered persists a record at an explicit version number. The
// version writer uses it after deciding the snapshot policy for that exact
// number; a raced number surfaces as ErrVersionConflict for its retry loop.
func (s *Store) appendNumbered(ctx context.Context, roomID RoomID, number int64, isFull bool, payload string) error {
	if err := s.insertNumbered(s.db.WithContext(ctx), roomID, number, isFull, payload); err != nil {
		if !errors.Is(err, ErrVersionConflict) {
			s.logError(opAppend, err,
				zap.String("room_id", roomID.String()),
				zap.Int64("version_number", number))
		}
		return err
	}
	return nil
}

func (s *Store) insertNumbered(tx *gorm.DB, roomID RoomID, number int64, isFull bool, payload string) error {
	record := Version{
		RoomID:           roomID.String(),
		VersionNumber:    number,
		IsFull:           isFull,
		Payload:          payload,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := tx.Create(&record).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: room %s version %d", ErrVersionConflict, roomID, number)
		}
		return err
	}
	return nil
}

// Latest returns the highest version number recorded for the room, or zero
// when the room has no versions.
func (s *Store) Latest(ctx context.Context, roomID RoomID) (int64, error) {
	number, err := latestNumber(s.db.WithContext(ctx), roomID)
	if err != nil {
		s.logError(opLatest, err, zap.String("room_id", roomID.String()))
		return 0, err
	}
	return number, nil
}

// Reconstruct returns the document text as of the given version number, or
// the latest version when upto is nil. The most recent full snapshot at or
// before the target seeds the text and every patch between it and the
// target is replayed in ascending order. A room with no versions yields the
// empty string; an upto that names a missing number yields
// ErrVersionNotFound rather than clamping.
func (s *Store) Reconstruct(ctx context.Context, roomID RoomID, upto *int64) (string, error) {
	db := s.db.WithContext(ctx)

	target, err := s.resolveTarget(db, roomID, upto)
	if err != nil {
		return "", err
	}
	if target == 0 {
		return "", nil
	}

	var snapshot Version
	err = db.Where(queryRoomUpto, roomID.String(), target).
		Where("is_full = ?", true).
		Order("version_number DESC").
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		s.logError(opReconstruct, err, zap.String("room_id", roomID.String()))
		return "", err
	}

	var patches []Version
	if err := db.Where(queryRoomRange, roomID.String(), snapshot.VersionNumber, target).
		Order("version_number ASC").
		Find(&patches).Error; err != nil {
		s.logError(opReconstruct, err, zap.String("room_id", roomID.String()))
		return "", err
	}

	text := snapshot.Payload
	for _, patch := range patches {
		text, err = s.codec.Apply(text, patch.Payload)
		if err != nil {
			s.logError(opReconstruct, err,
				zap.String("room_id", roomID.String()),
				zap.Int64("version_number", patch.VersionNumber))
			return "", fmt.Errorf("replay version %d: %w", patch.VersionNumber, err)
		}
	}
	return text, nil
}

// PurgeRoom removes the entire version chain for a room. Versions are owned
// by their room and go away with it.
func (s *Store) PurgeRoom(ctx context.Context, roomID RoomID) error {
	if err := s.db.WithContext(ctx).Where(queryRoom, roomID.String()).Delete(&Version{}).Error; err != nil {
		s.logError(opPurgeRoom, err, zap.String("room_id", roomID.String()))
		return err
	}
	return nil
}

func (s *Store) resolveTarget(db *gorm.DB, roomID RoomID, upto *int64) (int64, error) {
	if upto == nil {
		return latestNumber(db, roomID)
	}
	var count int64
	if err := db.Model(&Version{}).
		Where(queryRoom+" AND version_number = ?", roomID.String(), *upto).
		Count(&count).Error; err != nil {
		s.logError(opReconstruct, err, zap.String("room_id", roomID.String()))
		return 0, err
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: room %s version %d", ErrVersionNotFound, roomID, *upto)
	}
	return *upto, nil
}

func latestNumber(db *gorm.DB, roomID RoomID) (int64, error) {
	var latest Version
	err := db.Where(queryRoom, roomID.String()).
		Order("version_number DESC").
		Take(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return latest.VersionNumber, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

func (s *Store) logError(operation string, err error, fields ...zap.Field) {
	attrs := append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)
	s.logger.Error("versioning store error", attrs...)
}
