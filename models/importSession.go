package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hostfolio/propops_backend/config"
	"github.com/hostfolio/propops_backend/utils"
	"gorm.io/gorm"
)

// ConflictBlockPrefix marks the serialized-conflict JSON block inside the
// free-text import log. The block is one line, so it coexists with the plain
// error/warning lines above it and stays machine-extractable.
const ConflictBlockPrefix = "CONFLICTS_JSON:"

// ImportSession records one batch pass over one spreadsheet. It is written
// once as a placeholder when the pass starts and once more at finalize;
// conflicts accumulate in memory during the pass and land in the log in that
// single final write, so an interrupted pass never leaves garbled conflicts.
type ImportSession struct {
	ID         int    `gorm:"primary_key" json:"id"`
	BusinessId string `gorm:"index;not null" json:"business_id"`
	FileName   string `gorm:"size:255" json:"file_name"`

	TotalRows         int `json:"total_rows"`
	SuccessfulImports int `json:"successful_imports"`
	AutoUpdatedCount  int `json:"auto_updated_count"`
	ConflictCount     int `json:"conflict_count"`

	Status        ImportSessionStatus `gorm:"size:20;not null;default:'processing'" json:"status"`
	ImportLog     string              `gorm:"type:mediumtext" json:"import_log"`
	CorrelationId string              `gorm:"size:36;index" json:"correlation_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreateImportSession writes the placeholder row at the start of a pass.
func CreateImportSession(ctx context.Context, fileName string) (*ImportSession, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if correlationId == "" {
		correlationId = uuid.NewString()
	}

	session := ImportSession{
		BusinessId:    businessId,
		FileName:      fileName,
		Status:        ImportSessionStatusProcessing,
		CorrelationId: correlationId,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// Finalize writes the session exactly once with its final counters and log.
func (s *ImportSession) Finalize(ctx context.Context, status ImportSessionStatus) error {
	s.Status = status
	db := config.GetDB()
	return db.WithContext(ctx).Save(s).Error
}

func GetImportSession(ctx context.Context, id int) (*ImportSession, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var session ImportSession
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		First(&session, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// AppendLogLine adds one plain-text line to the import log.
func (s *ImportSession) AppendLogLine(line string) {
	line = strings.TrimRight(line, "\n")
	if s.ImportLog == "" {
		s.ImportLog = line
		return
	}
	s.ImportLog += "\n" + line
}

// EmbedConflicts appends the serialized conflict list as a single
// prefix-marked JSON line. Call once, at finalize.
func (s *ImportSession) EmbedConflicts(serialized []map[string]any) error {
	if len(serialized) == 0 {
		return nil
	}
	payload, err := json.Marshal(serialized)
	if err != nil {
		return fmt.Errorf("marshal conflict block: %w", err)
	}
	s.AppendLogLine(ConflictBlockPrefix + string(payload))
	return nil
}

// ReplaceConflicts rewrites the conflict block in place. Entries keep their
// original index so stored decisions keep addressing the same conflict; a
// resolved entry stays in the block carrying its marker instead of vanishing.
func (s *ImportSession) ReplaceConflicts(conflicts []map[string]any) error {
	payload, err := json.Marshal(conflicts)
	if err != nil {
		return fmt.Errorf("marshal conflict block: %w", err)
	}
	lines := strings.Split(s.ImportLog, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, ConflictBlockPrefix) {
			lines[i] = ConflictBlockPrefix + string(payload)
			s.ImportLog = strings.Join(lines, "\n")
			return nil
		}
	}
	s.AppendLogLine(ConflictBlockPrefix + string(payload))
	return nil
}

// ExtractConflicts parses the conflict block back out of the log. A session
// without a block has no unresolved conflicts.
func (s *ImportSession) ExtractConflicts() ([]map[string]any, error) {
	for _, line := range strings.Split(s.ImportLog, "\n") {
		if !strings.HasPrefix(line, ConflictBlockPrefix) {
			continue
		}
		var conflicts []map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, ConflictBlockPrefix)), &conflicts); err != nil {
			return nil, fmt.Errorf("parse conflict block: %w", err)
		}
		return conflicts, nil
	}
	return nil, nil
}

// PlainLogLines returns the log without the conflict block, for UIs that only
// want the human-readable error/warning lines.
func (s *ImportSession) PlainLogLines() []string {
	if s.ImportLog == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(s.ImportLog, "\n") {
		if strings.HasPrefix(line, ConflictBlockPrefix) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
