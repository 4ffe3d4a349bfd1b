package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/max-bridge/internal/domain"
)

// GetPreference returns the value stored under name for accountID, or
// ErrNotFound when the account never set it.
func GetPreference(ctx context.Context, db *gorm.DB, accountID int64, name string) (string, error) {
	var p domain.Preference
	err := db.WithContext(ctx).
		Where("account_id = ? AND name = ?", accountID, name).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return p.Value, nil
}

// SetPreference creates or overwrites the value stored under name.
func SetPreference(ctx context.Context, db *gorm.DB, accountID int64, name, value string) error {
	p := &domain.Preference{
		AccountID: accountID,
		Name:      name,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(p).Error
}

// UnsetPreference removes the value stored under name. Removing a missing
// preference is not an error.
func UnsetPreference(ctx context.Context, db *gorm.DB, accountID int64, name string) error {
	return db.WithContext(ctx).
		Where("account_id = ? AND name = ?", accountID, name).
		Delete(&domain.Preference{}).Error
}

// FindAccountsByPreference lists accounts whose preference name holds
// exactly value (case-sensitive), ordered by account id.
func FindAccountsByPreference(ctx context.Context, db *gorm.DB, name, value string) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).
		Model(&domain.Preference{}).
		Where("name = ? AND value = ?", name, value).
		Order("account_id ASC").
		Pluck("account_id", &ids).Error
	return ids, err
}

// DeletePreferencesByValue removes every preference name=value and reports
// how many rows were removed.
func DeletePreferencesByValue(ctx context.Context, db *gorm.DB, name, value string) (int64, error) {
	res := db.WithContext(ctx).
		Where("name = ? AND value = ?", name, value).
		Delete(&domain.Preference{})
	return res.RowsAffected, res.Error
}
