package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/max-bridge/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// GetDialogueState returns the stored state for chatID or ErrNotFound.
func GetDialogueState(ctx context.Context, db *gorm.DB, chatID int64) (*domain.DialogueState, error) {
	var st domain.DialogueState
	err := db.WithContext(ctx).Where("chat_id = ?", chatID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// UpsertDialogueState inserts the state for st.ChatID, or updates the
// existing row in place. It is the only write path for dialogue state.
func UpsertDialogueState(ctx context.Context, db *gorm.DB, st *domain.DialogueState) error {
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	if st.LastStep == "" {
		st.LastStep = domain.StepCommand
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_step", "last_message_id", "last_data", "updated_at"}),
	}).Create(st).Error
}
