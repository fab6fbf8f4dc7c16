package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hostfolio/propops_backend/config"
	"github.com/hostfolio/propops_backend/utils"
	"gorm.io/gorm"
)

// AuditEntry is the append-only trail every engine mutation leaves behind.
// Entries are written inside the same transaction as the mutation and never
// updated afterwards.
type AuditEntry struct {
	ID         int         `gorm:"primary_key" json:"id"`
	BusinessId string      `gorm:"index;not null" json:"business_id"`
	ObjectType string      `gorm:"size:50;not null;index:idx_audit_object" json:"object_type"`
	ObjectId   int         `gorm:"not null;index:idx_audit_object" json:"object_id"`
	Action     AuditAction `gorm:"size:10;not null" json:"action"`
	UserId     int         `gorm:"index" json:"user_id"`
	Actor      string      `gorm:"size:100" json:"actor"`

	// Changes holds {field: {old, new}} JSON; ChangeMetadata carries
	// classification context such as the guest-name change type and the
	// originating import session.
	Changes        string `gorm:"type:text" json:"changes"`
	ChangeMetadata string `gorm:"type:text" json:"change_metadata,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// FieldDelta records one field's before/after pair inside an audit entry.
type FieldDelta struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ChangeMetadata annotates an audit entry with how the change was classified
// and which import produced it.
type ChangeMetadata struct {
	ChangeType string `json:"change_type,omitempty"`
	ImportId   int    `json:"import_id,omitempty"`
}

// CreateAuditEntry appends one audit record within the caller's transaction.
// Actor identity comes from the context the transaction was opened with.
func CreateAuditEntry(tx *gorm.DB, objectType string, objectId int, action AuditAction, changes map[string]FieldDelta, metadata *ChangeMetadata) error {
	ctx := tx.Statement.Context

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok || userName == "" {
		return errors.New("user name is required")
	}

	changesJson, err := json.Marshal(changes)
	if err != nil {
		return err
	}

	entry := AuditEntry{
		BusinessId: businessId,
		ObjectType: objectType,
		ObjectId:   objectId,
		Action:     action,
		UserId:     userId,
		Actor:      userName,
		Changes:    string(changesJson),
	}
	if metadata != nil {
		metaJson, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		entry.ChangeMetadata = string(metaJson)
	}

	return tx.Create(&entry).Error
}

// ListAuditEntries returns the audit trail of one object, newest first.
func ListAuditEntries(ctx context.Context, objectType string, objectId int) ([]AuditEntry, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var entries []AuditEntry
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND object_type = ? AND object_id = ?", businessId, objectType, objectId).
		Order("created_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
