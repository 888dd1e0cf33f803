package presence

import (
	"strconv"
	"time"

	"roomchat/internal/services/member"

	"github.com/go-playground/validator/v10"
)

// MaxMessageBytes caps the UTF-8 size of a chat message. Keep it in step with
// the maxbytes tag on SendMessageRequest.Message.
const MaxMessageBytes = 4096

// Outbound event names.
const (
	EventProfileAssigned  = "profile-assigned"
	EventMemberJoined     = "member-joined"
	EventMemberLeft       = "member-left"
	EventMessageDelivered = "message-delivered"
	EventRateLimited      = "rate-limited"
)

// Event is a presence notification addressed to one or more connections.
type Event struct {
	Name string
	Body any
}

type ProfileAssigned struct {
	NickName string `json:"nickName"`
}

type MemberJoined struct {
	NickName string    `json:"nickName"`
	JoinedAt time.Time `json:"joinedAt"`
}

type MemberLeft struct {
	NickName string    `json:"nickName"`
	LeftAt   time.Time `json:"leftAt"`
}

type MessageDelivered struct {
	NickName  string    `json:"nickName"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type RateLimited struct {
	RetryAfterMs int64 `json:"retryAfterMs"`
}

// JoinRequest is the body of the "join" event.
type JoinRequest struct {
	RoomID     string            `json:"roomId"     validate:"required,max=128"`
	DeviceType member.DeviceType `json:"deviceType" validate:"oneof=1 2"`
	DeviceID   string            `json:"deviceId"   validate:"required,max=128"`
}

// SendMessageRequest is the body of the "send-message" event. NickName is
// accepted for compatibility; the nickname assigned at join is what gets
// delivered.
type SendMessageRequest struct {
	RoomID   string `json:"roomId"   validate:"required,max=128"`
	NickName string `json:"nickName" validate:"max=32"`
	Message  string `json:"message"  validate:"required,maxbytes=4096"`
}

// newValidator adds maxbytes, a length check on the encoded string rather than
// on its runes, to the stock validator.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		return err == nil && len(fl.Field().String()) <= n
	})
	return v
}
