package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testDatabaseSequence int64

type sequenceIDGenerator struct {
	next int64
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

func newTestService(t *testing.T, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:rooms_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDatabaseSequence, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to unwrap database: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Topic{}, &Room{}, &Message{}, &Membership{}, &Invitation{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequenceIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func mustCreateRoom(t *testing.T, service *Service, params CreateRoomParams) Room {
	t.Helper()
	room, err := service.CreateRoom(context.Background(), params)
	if err != nil {
		t.Fatalf("failed to create room: %v", err)
	}
	return room
}

func TestCreateRoomGrantsHostAdmin(t *testing.T) {
	service, _ := newTestService(t, nil)
	room := mustCreateRoom(t, service, CreateRoomParams{
		HostUserID:  "user-host",
		Name:        "algorithms",
		TopicName:   "go",
		CodeEnabled: true,
	})

	role, err := service.RoleFor(context.Background(), room.RoomID, "user-host")
	if err != nil {
		t.Fatalf("failed to check role: %v", err)
	}
	if role != RoleAdmin {
		t.Fatalf("expected host to be admin, got %s", role)
	}

	loaded, err := service.GetRoom(context.Background(), room.RoomID)
	if err != nil {
		t.Fatalf("failed to load room: %v", err)
	}
	if loaded.Name != "algorithms" {
		t.Fatalf("unexpected room name: %s", loaded.Name)
	}
	if loaded.TopicID == nil {
		t.Fatalf("expected topic to be linked")
	}
}

func TestGetRoomUnknown(t *testing.T) {
	service, _ := newTestService(t, nil)
	if _, err := service.GetRoom(context.Background(), "missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}
}

func TestRoleForReportsOutsiderWithoutMembership(t *testing.T) {
	service, _ := newTestService(t, nil)
	room := mustCreateRoom(t, service, CreateRoomParams{HostUserID: "user-host", Name: "r"})

	role, err := service.RoleFor(context.Background(), room.RoomID, "user-other")
	if err != nil {
		t.Fatalf("failed to check role: %v", err)
	}
	if role != RoleOutsider {
		t.Fatalf("expected outsider, got %s", role)
	}
}

func TestCanWritePublicAndPrivateRooms(t *testing.T) {
	service, _ := newTestService(t, nil)
	public := mustCreateRoom(t, service, CreateRoomParams{HostUserID: "user-host", Name: "public"})
	private := mustCreateRoom(t, service, CreateRoomParams{HostUserID: "user-host", Name: "private", IsPrivate: true})

	ctx := context.Background()
	if ok, err := service.CanWrite(ctx, public.RoomID, "user-stranger"); err != nil || !ok {
		t.Fatalf("expected stranger to write in public room, got ok=%t err=%v", ok, err)
	}
	if ok, err := service.CanWrite(ctx, private.RoomID, "user-stranger"); err != nil || ok {
		t.Fatalf("expected stranger blocked from private room, got ok=%t err=%v", ok, err)
	}
	if ok, err := service.CanWrite(ctx, private.RoomID, "user-host"); err != nil || !ok {
		t.Fatalf("expected host to write in private room, got ok=%t err=%v", ok, err)
	}
}

func TestInvitationRedeemGrantsMembership(t *testing.T) {
	service, _ := newTestService(t, nil)
	room := mustCreateRoom(t, service, CreateRoomParams{HostUserID: "user-host", Name: "private", IsPrivate: true})
	ctx := context.Background()

	invitation, err := service.Invite(ctx, room.RoomID, "friend@example.com", "user-host")
	if err != nil {
		t.Fatalf("failed to issue invitation: %v", err)
	}

	redeemed, err := service.RedeemInvitation(ctx, invitation.Token, "user-friend")
	if err != nil {
		t.Fatalf("failed to redeem invitation: %v", err)
	}
	if redeemed.RoomID != room.RoomID {
		t.Fatalf("unexpected room: %s", redeemed.RoomID)
	}

	role, err := service.RoleFor(ctx, room.RoomID, "user-friend")
	if err != nil {
		t.Fatalf("failed to check role: %v", err)
	}
	if role != RoleMember {
		t.Fatalf("expected member role, got %s", role)
	}

	if _, err := service.RedeemInvitation(ctx, invitation.Token, "user-other"); !errors.Is(err, ErrInvitationUsed) {
		t.Fatalf("expected invitation used, got %v", err)
	}
}

func TestInvitationExpires(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	service, _ := newTestService(t, func() time.Time { return now })
	room := mustCreateRoom(t, service, CreateRoomParams{HostUserID: "user-host", Name: "r"})
	ctx := context.Background()

	invitation, err := service.Invite(ctx, room.RoomID, "friend@example.com", "user-host")
	if err != nil {
		t.Fatalf("failed to issue invitation: %v", err)
	}
	if invitation.ExpiresAtSeconds != now.Add(defaultInvitationTTL).Unix() {
		t.Fatalf("unexpected expiry: %d", invitation.ExpiresAtSeconds)
	}

	now = now.Add(8 * 24 * time.Hour)
	if _, err := service.RedeemInvitation(ctx, invitation.Token, "user-friend"); !errors.Is(err, ErrInvitationExpired) {
		t.Fatalf("expected invitation expired, got %v", err)
	}
}

func TestRedeemUnknownInvitation(t *testing.T) {
	service, _ := newTestService(t, nil)
	if _, err := service.RedeemInvitation(context.Background(), "missing", "user-x"); !errors.Is(err, ErrInvitationNotFound) {
		t.Fatalf("expected invitation not found, got %v", err)
	}
}

func TestPostMessagePersistsChatHistory(t *testing.T) {
	service, _ := newTestService(t, nil)
	room := mustCreateRoom(t, service, CreateRoomParams{HostUserID: "user-host", Name: "r"})
	ctx := context.Background()

	if _, err := service.PostMessage(ctx, room.RoomID, "user-host", "ada", "first"); err != nil {
		t.Fatalf("failed to post message: %v", err)
	}
	if _, err := service.PostMessage(ctx, room.RoomID, "user-host", "ada", "second"); err != nil {
		t.Fatalf("failed to post message: %v", err)
	}

	messages, err := service.ListMessages(ctx, room.RoomID)
	if err != nil {
		t.Fatalf("failed to list messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Body != "first" || messages[1].Body != "second" {
		t.Fatalf("messages out of order: %q, %q", messages[0].Body, messages[1].Body)
	}
}

func TestListRoomsVisibility(t *testing.T) {
	service, _ := newTestService(t, nil)
	mustCreateRoom(t, service, CreateRoomParams{HostUserID: "user-a", Name: "public room"})
	private := mustCreateRoom(t, service, CreateRoomParams{HostUserID: "user-a", Name: "private room", IsPrivate: true})

	ctx := context.Background()
	visible, err := service.ListRooms(ctx, "user-b", "")
	if err != nil {
		t.Fatalf("failed to list rooms: %v", err)
	}
	if len(visible) != 1 {
		t.Fatalf("expected only the public room, got %d rooms", len(visible))
	}

	hostVisible, err := service.ListRooms(ctx, "user-a", "")
	if err != nil {
		t.Fatalf("failed to list rooms: %v", err)
	}
	if len(hostVisible) != 2 {
		t.Fatalf("expected host to see both rooms, got %d", len(hostVisible))
	}

	matched, err := service.ListRooms(ctx, "user-a", "private")
	if err != nil {
		t.Fatalf("failed to search rooms: %v", err)
	}
	if len(matched) != 1 || matched[0].RoomID != private.RoomID {
		t.Fatalf("expected query to match the private room, got %d rooms", len(matched))
	}
}

func TestDeleteRoomRemovesOwnedRecords(t *testing.T) {
	service, db := newTestService(t, nil)
	room := mustCreateRoom(t, service, CreateRoomParams{HostUserID: "user-host", Name: "r"})
	ctx := context.Background()

	if _, err := service.PostMessage(ctx, room.RoomID, "user-host", "ada", "hello"); err != nil {
		t.Fatalf("failed to post message: %v", err)
	}
	if _, err := service.Invite(ctx, room.RoomID, "friend@example.com", "user-host"); err != nil {
		t.Fatalf("failed to issue invitation: %v", err)
	}

	if err := service.DeleteRoom(ctx, room.RoomID); err != nil {
		t.Fatalf("failed to delete room: %v", err)
	}

	for _, model := range []interface{}{&Room{}, &Message{}, &Membership{}, &Invitation{}} {
		var count int64
		if err := db.Model(model).Where("room_id = ?", room.RoomID).Count(&count).Error; err != nil {
			t.Fatalf("failed to count records: %v", err)
		}
		if count != 0 {
			t.Fatalf("expected no %T records after delete, got %d", model, count)
		}
	}
}
