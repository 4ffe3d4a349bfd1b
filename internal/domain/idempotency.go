package domain

import "time"

// Idempotency records the outcome of a notification request keyed by
// (scope, account_id, key). A retried POST with the same Idempotency-Key is
// answered from this record instead of delivering the notification twice.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Scope     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_scope_account_key,priority:1"`
	AccountID int64     `gorm:"type:INTEGER NOT NULL;uniqueIndex:ux_scope_account_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_scope_account_key,priority:3"`
	Outcome   string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
