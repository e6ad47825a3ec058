package message

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeRoomAccessGranted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	svc := NewMessageService(db)

	mock.ExpectQuery("SELECT 1 FROM room_members").
		WithArgs("general", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	require.NoError(t, svc.AuthorizeRoomAccess(context.Background(), "alice", "general"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthorizeRoomAccessDenied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	svc := NewMessageService(db)

	mock.ExpectQuery("SELECT 1 FROM room_members").
		WithArgs("secret", "alice").
		WillReturnError(sql.ErrNoRows)

	err = svc.AuthorizeRoomAccess(context.Background(), "alice", "secret")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestAuthorizeRoomAccessInfraError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	svc := NewMessageService(db)

	boom := errors.New("connection refused")
	mock.ExpectQuery("SELECT 1 FROM room_members").
		WithArgs("general", "alice").
		WillReturnError(boom)

	err = svc.AuthorizeRoomAccess(context.Background(), "alice", "general")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAccessDenied, "infra failures must not read as denial")
}

func TestAuthorizeRoomAccessEmptyArgs(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	svc := NewMessageService(db)

	assert.ErrorIs(t, svc.AuthorizeRoomAccess(context.Background(), "", "general"), ErrAccessDenied)
	assert.ErrorIs(t, svc.AuthorizeRoomAccess(context.Background(), "alice", ""), ErrAccessDenied)
}

func TestRecordMintsIDAndReturnsCreatedAt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	svc := NewMessageService(db)

	createdAt := time.Date(2025, 7, 27, 16, 5, 5, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "general", "alice", "hello").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(createdAt))

	dto, err := svc.Record(context.Background(), "general", "alice", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, dto.ID)
	assert.Equal(t, "general", dto.RoomID)
	assert.Equal(t, "alice", dto.SenderID)
	assert.Equal(t, "hello", dto.Content)
	assert.Equal(t, createdAt, dto.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRejectsBlankContent(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	svc := NewMessageService(db)

	_, err = svc.Record(context.Background(), "general", "alice", "   ")
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestRecordPropagatesInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	svc := NewMessageService(db)

	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), "general", "alice", "hello").
		WillReturnError(errors.New("deadlock detected"))

	_, err = svc.Record(context.Background(), "general", "alice", "hello")
	require.Error(t, err)
}
