package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/max-bridge/internal/domain"
)

// ErrDuplicate means a live record already holds the (scope, account, key).
var ErrDuplicate = errors.New("duplicate")

// replayKey narrows a query to one idempotency tuple.
func replayKey(db *gorm.DB, scope string, accountID int64, key string) *gorm.DB {
	return db.Where("scope = ? AND account_id = ? AND key = ?", scope, accountID, key)
}

// GetIdempotency returns the live record for the tuple, or ErrNotFound.
// Blank keys never match.
func GetIdempotency(ctx context.Context, db *gorm.DB, scope string, accountID int64, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := replayKey(db.WithContext(ctx), scope, accountID, key).
		Where("expires_at > ?", now).
		First(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency records the outcome of a notification request. A record
// for the same tuple that has expired but not yet been purged is replaced;
// a live one yields ErrDuplicate.
func CreateIdempotency(ctx context.Context, db *gorm.DB, scope string, accountID int64, key, outcome string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		Scope:     scope,
		AccountID: accountID,
		Key:       key,
		Outcome:   outcome,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := replayKey(tx, scope, accountID, key).
			Where("expires_at <= ?", now).
			Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// isUniqueViolation also matches the plain-text errors glebarez/sqlite
// returns when gorm does not translate them.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") || strings.Contains(low, "constraint failed: unique")
}

// PurgeExpiredIdempotency deletes records whose TTL has passed and reports
// how many went.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
