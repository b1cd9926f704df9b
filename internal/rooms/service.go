package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Invitations expire a week after issuance unless told otherwise.
const defaultInvitationTTL = 7 * 24 * time.Hour

var (
	// ErrRoomNotFound indicates the room identifier does not exist.
	ErrRoomNotFound = errors.New("rooms: room not found")
	// ErrInvitationNotFound indicates the invitation token does not exist.
	ErrInvitationNotFound = errors.New("rooms: invitation not found")
	// ErrInvitationExpired indicates the invitation's validity window has passed.
	ErrInvitationExpired = errors.New("rooms: invitation expired")
	// ErrInvitationUsed indicates the invitation was already redeemed.
	ErrInvitationUsed = errors.New("rooms: invitation already used")

	errMissingDatabase   = errors.New("rooms: database handle is required")
	errMissingIDProvider = errors.New("rooms: id provider is required")
	errMissingRoomName   = errors.New("rooms: room name is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew  = "rooms.service.new"
	opCreateRoom  = "rooms.create_room"
	opListRooms   = "rooms.list_rooms"
	opPostMessage = "rooms.post_message"
	opInvite      = "rooms.invite"
	opRedeem      = "rooms.redeem_invitation"
	opDeleteRoom  = "rooms.delete_room"
)

// ServiceConfig describes the dependencies of the rooms service.
type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	IDProvider    IDProvider
	InvitationTTL time.Duration
	Logger        *zap.Logger
}

// Service is plain record storage for rooms, chat history, memberships, and
// invitations. The versioning core only consumes GetRoom and CanWrite; the
// rest backs the surrounding application.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	idProvider    IDProvider
	invitationTTL time.Duration
	logger        *zap.Logger
}

// NewService constructs the rooms service from the provided configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("%s: %w", opServiceNew, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.InvitationTTL
	if ttl <= 0 {
		ttl = defaultInvitationTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:            cfg.Database,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		invitationTTL: ttl,
		logger:        logger,
	}, nil
}

// CreateRoomParams carries the input for CreateRoom.
type CreateRoomParams struct {
	HostUserID  string
	Name        string
	TopicName   string
	Description string
	IsPrivate   bool
	CodeEnabled bool
}

// CreateRoom persists a room, its topic when named, and an admin membership
// for the host.
func (s *Service) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return Room{}, fmt.Errorf("%s: %w", opCreateRoom, errMissingRoomName)
	}
	roomID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateRoom, "id_generation_failed", err)
		return Room{}, err
	}

	now := s.clock().UTC().Unix()
	room := Room{
		RoomID:           roomID,
		HostUserID:       params.HostUserID,
		Name:             name,
		Description:      params.Description,
		IsPrivate:        params.IsPrivate,
		CodeEnabled:      params.CodeEnabled,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if topicName := strings.TrimSpace(params.TopicName); topicName != "" {
			topic := Topic{Name: topicName}
			if err := tx.Where("name = ?", topicName).FirstOrCreate(&topic).Error; err != nil {
				return err
			}
			room.TopicID = &topic.TopicID
		}
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		membership := Membership{
			RoomID:          room.RoomID,
			UserID:          params.HostUserID,
			Role:            RoleAdmin,
			JoinedAtSeconds: now,
		}
		return tx.Create(&membership).Error
	})
	if txErr != nil {
		s.logError(opCreateRoom, "persist_failed", txErr, zap.String("room_name", name))
		return Room{}, txErr
	}
	return room, nil
}

// GetRoom loads a room by identifier.
func (s *Service) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var room Room
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return Room{}, err
	}
	return room, nil
}

// ListRooms returns the rooms visible to the user: every public room plus
// private rooms the user is a member of, optionally filtered by a substring
// match on name, description, or topic.
func (s *Service) ListRooms(ctx context.Context, userID, query string) ([]Room, error) {
	db := s.db.WithContext(ctx).Model(&Room{}).
		Joins("LEFT JOIN room_memberships ON room_memberships.room_id = rooms.room_id AND room_memberships.user_id = ?", userID).
		Where("rooms.is_private = ? OR room_memberships.user_id IS NOT NULL", false)

	if trimmed := strings.TrimSpace(query); trimmed != "" {
		pattern := "%" + trimmed + "%"
		db = db.Joins("LEFT JOIN topics ON topics.topic_id = rooms.topic_id").
			Where("rooms.name LIKE ? OR rooms.description LIKE ? OR topics.name LIKE ?", pattern, pattern, pattern)
	}

	var rooms []Room
	if err := db.Distinct("rooms.*").Order("rooms.updated_at_s DESC").Find(&rooms).Error; err != nil {
		s.logError(opListRooms, "query_failed", err, zap.String("user_id", userID))
		return nil, err
	}
	return rooms, nil
}

// PostMessage persists one chat line for the room.
func (s *Service) PostMessage(ctx context.Context, roomID, userID, username, body string) (Message, error) {
	messageID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opPostMessage, "id_generation_failed", err)
		return Message{}, err
	}
	message := Message{
		MessageID:        messageID,
		RoomID:           roomID,
		UserID:           userID,
		Username:         username,
		Body:             body,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logError(opPostMessage, "persist_failed", err, zap.String("room_id", roomID))
		return Message{}, err
	}
	return message, nil
}

// ListMessages returns the room's chat history in send order.
func (s *Service) ListMessages(ctx context.Context, roomID string) ([]Message, error) {
	var messages []Message
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at_s ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// RoleFor reports the user's membership role in the room, RoleOutsider when
// no membership exists.
func (s *Service) RoleFor(ctx context.Context, roomID, userID string) (string, error) {
	var membership Membership
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Take(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RoleOutsider, nil
	}
	if err != nil {
		return "", err
	}
	return membership.Role, nil
}

// CanWrite reports whether the user may submit code and events to the room:
// admins and members always, anyone on a public room.
func (s *Service) CanWrite(ctx context.Context, roomID, userID string) (bool, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	role, err := s.RoleFor(ctx, roomID, userID)
	if err != nil {
		return false, err
	}
	if role == RoleAdmin || role == RoleMember {
		return true, nil
	}
	return !room.IsPrivate, nil
}

// Invite issues a single-use invitation token for the room.
func (s *Service) Invite(ctx context.Context, roomID, email, createdBy string) (Invitation, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return Invitation{}, err
	}
	token, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opInvite, "id_generation_failed", err)
		return Invitation{}, err
	}
	now := s.clock().UTC()
	invitation := Invitation{
		Token:            token,
		RoomID:           roomID,
		Email:            email,
		CreatedBy:        createdBy,
		CreatedAtSeconds: now.Unix(),
		ExpiresAtSeconds: now.Add(s.invitationTTL).Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&invitation).Error; err != nil {
		s.logError(opInvite, "persist_failed", err, zap.String("room_id", roomID))
		return Invitation{}, err
	}
	return invitation, nil
}

// RedeemInvitation consumes the token and grants the user a member role in
// the invitation's room.
func (s *Service) RedeemInvitation(ctx context.Context, token, userID string) (Room, error) {
	var room Room
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invitation Invitation
		err := tx.Where("token = ?", token).Take(&invitation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvitationNotFound
		}
		if err != nil {
			return err
		}
		if invitation.IsUsed {
			return ErrInvitationUsed
		}
		if s.clock().UTC().Unix() > invitation.ExpiresAtSeconds {
			return ErrInvitationExpired
		}
		if err := tx.Model(&Invitation{}).
			Where("token = ?", token).
			Update("is_used", true).Error; err != nil {
			return err
		}

		var existing Membership
		err = tx.Where("room_id = ? AND user_id = ?", invitation.RoomID, userID).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			membership := Membership{
				RoomID:          invitation.RoomID,
				UserID:          userID,
				Role:            RoleMember,
				InvitedBy:       invitation.CreatedBy,
				JoinedAtSeconds: s.clock().UTC().Unix(),
			}
			if err := tx.Create(&membership).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		return tx.Where("room_id = ?", invitation.RoomID).Take(&room).Error
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrInvitationNotFound) && !errors.Is(txErr, ErrInvitationUsed) && !errors.Is(txErr, ErrInvitationExpired) {
			s.logError(opRedeem, "redeem_failed", txErr)
		}
		return Room{}, txErr
	}
	return room, nil
}

// DeleteRoom removes the room together with its chat history, memberships,
// and invitations. The caller purges the room's version chain alongside.
func (s *Service) DeleteRoom(ctx context.Context, roomID string) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room Room
		err := tx.Where("room_id = ?", roomID).Take(&room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
		}
		if err != nil {
			return err
		}
		for _, model := range []interface{}{&Message{}, &Membership{}, &Invitation{}} {
			if err := tx.Where("room_id = ?", roomID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&room).Error
	})
	if txErr != nil && !errors.Is(txErr, ErrRoomNotFound) {
		s.logError(opDeleteRoom, "delete_failed", txErr, zap.String("room_id", roomID))
	}
	return txErr
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("rooms service error", attrs...)
}
