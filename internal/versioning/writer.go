package versioning

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultSnapshotInterval forces a full snapshot every tenth version,
// bounding both reconstruction cost and the blast radius of a corrupted
// patch.
const DefaultSnapshotInterval = 10

const (
	opWriterNew       = "versioning.writer.new"
	opSubmit          = "versioning.submit"
	maxSubmitAttempts = 3
)

var errMissingStore = errors.New("versioning: snapshot store is required")

// versionLog is the slice of the store the writer drives. Narrowed to an
// interface so tests can inject append conflicts.
type versionLog interface {
	Reconstruct(ctx context.Context, roomID RoomID, upto *int64) (string, error)
	Latest(ctx context.Context, roomID RoomID) (int64, error)
	appendNumbered(ctx context.Context, roomID RoomID, number int64, isFull bool, payload string) error
}

// WriterConfig describes the dependencies of the version writer.
type WriterConfig struct {
	Store            *Store
	Codec            Codec
	SnapshotInterval int
	Logger           *zap.Logger
}

// Writer is the single entry point for durably recording an edit. It
// decides between storing a full snapshot and a patch, assigns the next
// version number, and serializes submissions per room so numbering stays
// gapless.
type Writer struct {
	log      versionLog
	codec    Codec
	interval int64
	logger   *zap.Logger

	mu    sync.Mutex
	rooms map[string]*sync.Mutex
}

// NewWriter constructs a version writer from the provided configuration.
// A non-positive snapshot interval falls back to DefaultSnapshotInterval.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: %w", opWriterNew, errMissingStore)
	}
	interval := int64(cfg.SnapshotInterval)
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	codec := cfg.Codec
	if codec.dmp == nil {
		codec = NewCodec()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Writer{
		log:      cfg.Store,
		codec:    codec,
		interval: interval,
		logger:   logger,
		rooms:    make(map[string]*sync.Mutex),
	}, nil
}

// Submit records newText as the room's next version and returns the
// assigned number. Version 1 and every multiple of the snapshot interval
// are stored as full snapshots; everything else as a patch against the
// reconstructed current text. A numbering conflict from a racing writer
// restarts the whole cycle against the new latest, at most
// maxSubmitAttempts times, and is surfaced when the attempts run out.
func (w *Writer) Submit(ctx context.Context, roomID RoomID, newText string) (int64, error) {
	lock := w.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxSubmitAttempts; attempt++ {
		oldText, err := w.log.Reconstruct(ctx, roomID, nil)
		if err != nil {
			return 0, err
		}
		latest, err := w.log.Latest(ctx, roomID)
		if err != nil {
			return 0, err
		}
		next := latest + 1

		isFull := next == 1 || next%w.interval == 0
		payload := newText
		if !isFull {
			payload = w.codec.Diff(oldText, newText)
		}

		err = w.log.appendNumbered(ctx, roomID, next, isFull, payload)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return 0, err
		}
		// Raced by another writer; old_text is stale, recompute from scratch.
		lastErr = err
		w.logger.Warn("version append raced, retrying submit",
			zap.String("operation", opSubmit),
			zap.String("room_id", roomID.String()),
			zap.Int64("version_number", next),
			zap.Int("attempt", attempt))
	}
	return 0, lastErr
}

// SnapshotInterval reports the configured full-snapshot cadence.
func (w *Writer) SnapshotInterval() int {
	return int(w.interval)
}

func (w *Writer) roomLock(roomID RoomID) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.rooms[roomID.String()]
	if !ok {
		lock = &sync.Mutex{}
		w.rooms[roomID.String()] = lock
	}
	return lock
}
