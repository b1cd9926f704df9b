package versioning

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRoomID indicates that a room identifier is empty or exceeds storage bounds.
	ErrInvalidRoomID = errors.New("versioning: invalid room id")
	// ErrVersionNotFound indicates that a requested version number does not exist for the room.
	ErrVersionNotFound = errors.New("versioning: version not found")
	// ErrVersionConflict indicates that a concurrent append already claimed the version number.
	ErrVersionConflict = errors.New("versioning: version number conflict")
)

// RoomID represents a validated room identifier.
type RoomID string

// NewRoomID validates raw input and returns a RoomID.
func NewRoomID(rawInput string) (RoomID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoomID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRoomID, maxIdentifierLength)
	}
	return RoomID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RoomID) String() string {
	return string(id)
}

// Version stores one durable record of a room's document state: either a
// complete snapshot of the text or a patch against the previous version.
type Version struct {
	VersionID        int64  `gorm:"column:version_id;primaryKey;autoIncrement"`
	RoomID           string `gorm:"column:room_id;size:190;not null;uniqueIndex:idx_versions_room_number,priority:1;index:idx_versions_room_full,priority:1"`
	VersionNumber    int64  `gorm:"column:version_number;not null;uniqueIndex:idx_versions_room_number,priority:2"`
	IsFull           bool   `gorm:"column:is_full;not null;default:false;index:idx_versions_room_full,priority:2"`
	Payload          string `gorm:"column:payload;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Version) TableName() string {
	return "code_versions"
}
