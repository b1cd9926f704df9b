package rooms

// Role names mirror the membership levels a user can hold in a room.
const (
	RoleAdmin    = "ADMIN"
	RoleMember   = "MEMBER"
	RoleOutsider = "OUTSIDER"
)

// Topic groups rooms by subject.
type Topic struct {
	TopicID int64  `gorm:"column:topic_id;primaryKey;autoIncrement"`
	Name    string `gorm:"column:name;size:200;not null;uniqueIndex:idx_topics_name"`
}

// TableName provides the explicit table binding for GORM.
func (Topic) TableName() string {
	return "topics"
}

// Room is the scoping unit for versioned documents, chat history, and live
// broadcast membership.
type Room struct {
	RoomID           string `gorm:"column:room_id;primaryKey;size:190;not null"`
	HostUserID       string `gorm:"column:host_user_id;size:190;not null"`
	TopicID          *int64 `gorm:"column:topic_id;index:idx_rooms_topic"`
	Name             string `gorm:"column:name;size:200;not null"`
	Description      string `gorm:"column:description;type:text;not null;default:''"`
	IsPrivate        bool   `gorm:"column:is_private;not null;default:false"`
	CodeEnabled      bool   `gorm:"column:code_enabled;not null;default:true"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Room) TableName() string {
	return "rooms"
}

// Message is one persisted chat line.
type Message struct {
	MessageID        string `gorm:"column:message_id;primaryKey;size:190;not null"`
	RoomID           string `gorm:"column:room_id;size:190;not null;index:idx_messages_room_time,priority:1"`
	UserID           string `gorm:"column:user_id;size:190;not null"`
	Username         string `gorm:"column:username;size:190;not null"`
	Body             string `gorm:"column:body;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_messages_room_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}

// Membership records a user's role within a room.
type Membership struct {
	RoomID          string `gorm:"column:room_id;primaryKey;size:190;not null"`
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Role            string `gorm:"column:role;size:16;not null"`
	InvitedBy       string `gorm:"column:invited_by;size:190;not null;default:''"`
	JoinedAtSeconds int64  `gorm:"column:joined_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "room_memberships"
}

// Invitation is a single-use, expiring token granting room membership.
type Invitation struct {
	Token            string `gorm:"column:token;primaryKey;size:190;not null"`
	RoomID           string `gorm:"column:room_id;size:190;not null;index:idx_invitations_room"`
	Email            string `gorm:"column:email;size:320;not null"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	ExpiresAtSeconds int64  `gorm:"column:expires_at_s;not null"`
	IsUsed           bool   `gorm:"column:is_used;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Invitation) TableName() string {
	return "room_invitations"
}
