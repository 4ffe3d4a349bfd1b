package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/max-bridge/internal/domain"
)

// Preferences adapts the preference free functions to the
// services.PreferenceRepo interface.
type Preferences struct{}

// GetPreference proxies GetPreference.
func (Preferences) GetPreference(ctx context.Context, db *gorm.DB, accountID int64, name string) (string, error) {
	return GetPreference(ctx, db, accountID, name)
}

// SetPreference proxies SetPreference.
func (Preferences) SetPreference(ctx context.Context, db *gorm.DB, accountID int64, name, value string) error {
	return SetPreference(ctx, db, accountID, name, value)
}

// UnsetPreference proxies UnsetPreference.
func (Preferences) UnsetPreference(ctx context.Context, db *gorm.DB, accountID int64, name string) error {
	return UnsetPreference(ctx, db, accountID, name)
}

// FindAccountsByPreference proxies FindAccountsByPreference.
func (Preferences) FindAccountsByPreference(ctx context.Context, db *gorm.DB, name, value string) ([]int64, error) {
	return FindAccountsByPreference(ctx, db, name, value)
}

// DeletePreferencesByValue proxies DeletePreferencesByValue.
func (Preferences) DeletePreferencesByValue(ctx context.Context, db *gorm.DB, name, value string) (int64, error) {
	return DeletePreferencesByValue(ctx, db, name, value)
}

// DialogueStates adapts the dialogue free functions to bot.StateRepo.
type DialogueStates struct{}

// GetDialogueState proxies GetDialogueState.
func (DialogueStates) GetDialogueState(ctx context.Context, db *gorm.DB, chatID int64) (*domain.DialogueState, error) {
	return GetDialogueState(ctx, db, chatID)
}

// UpsertDialogueState proxies UpsertDialogueState.
func (DialogueStates) UpsertDialogueState(ctx context.Context, db *gorm.DB, st *domain.DialogueState) error {
	return UpsertDialogueState(ctx, db, st)
}
