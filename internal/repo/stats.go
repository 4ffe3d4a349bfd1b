// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used by the
// admin status endpoint.
package repo

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/max-bridge/internal/domain"
)

// BindingStats summarizes the preference rows stored under name.
//
// Return values:
//   - linked:  values that are real chat identities
//   - pending: values that still carry the link sentinel prefix
//   - err:     database error, if any
func BindingStats(ctx context.Context, db *gorm.DB, name, sentinel string) (linked, pending int64, err error) {
	q := db.WithContext(ctx).Model(&domain.Preference{}).Where("name = ?", name)

	var total int64
	if err = q.Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, nil
	}

	pattern := escapeLike(sentinel) + "%"
	if err = db.WithContext(ctx).Model(&domain.Preference{}).
		Where("name = ? AND value LIKE ? ESCAPE '\\'", name, pattern).
		Count(&pending).Error; err != nil {
		return 0, 0, err
	}
	return total - pending, pending, nil
}

// DialogueStats returns how many chats have dialogue state and the most recent
// modification time among them (nil when there are no rows).
func DialogueStats(ctx context.Context, db *gorm.DB) (count int64, lastUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.DialogueState{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// escapeLike escapes LIKE wildcards so the sentinel is matched literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
