package message

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageDTO is the authoritative message record. Its ID is minted here, on
// the write path, and nowhere else — the transport layer never assigns ids.
type MessageDTO struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at" example:"2025-07-27T16:05:05Z"`
}

var (
	ErrAccessDenied = errors.New("access denied")
	ErrEmptyContent = errors.New("empty content")
)

type IMessageService interface {
	// AuthorizeRoomAccess reports whether user may read/write the room.
	// Callers check once, before join; it is not re-checked per event.
	AuthorizeRoomAccess(ctx context.Context, userID, roomID string) error
	// Record durably writes the message and returns the authoritative
	// envelope. Nothing may be broadcast unless Record succeeded.
	Record(ctx context.Context, roomID, senderID, content string) (*MessageDTO, error)
}

type messageService struct {
	db *sql.DB
}

func NewMessageService(db *sql.DB) IMessageService {
	return &messageService{db: db}
}

func (svc *messageService) AuthorizeRoomAccess(ctx context.Context, userID, roomID string) error {
	if userID == "" || roomID == "" {
		return ErrAccessDenied
	}

	var one int
	err := svc.db.QueryRowContext(ctx,
		`SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccessDenied
	}
	return err
}

func (svc *messageService) Record(ctx context.Context, roomID, senderID, content string) (*MessageDTO, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	dto := &MessageDTO{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		SenderID: senderID,
		Content:  content,
	}

	const ins = `
	  INSERT INTO messages (id, room_id, sender_id, content)
	       VALUES ($1, $2, $3, $4)
	    RETURNING created_at`
	err := svc.db.QueryRowContext(ctx, ins,
		dto.ID, roomID, senderID, content,
	).Scan(&dto.CreatedAt)
	if err != nil {
		return nil, err
	}
	return dto, nil
}
