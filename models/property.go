package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hostfolio/propops_backend/config"
	"github.com/hostfolio/propops_backend/utils"
	"gorm.io/gorm"
)

type Property struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"size:255;not null;index:idx_property_business_name" json:"name" binding:"required"`
	Address    string    `gorm:"type:text" json:"address"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProperty struct {
	Name    string `json:"name" binding:"required"`
	Address string `json:"address"`
}

// FindPropertyByLabel resolves a spreadsheet property label to a Property,
// case-insensitively, within the calling business. Returns
// utils.ErrorRecordNotFound when no property carries that label.
func FindPropertyByLabel(ctx context.Context, label string) (*Property, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	label = strings.TrimSpace(label)
	if label == "" {
		return nil, errors.New("property label is required")
	}

	var property Property
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("business_id = ? AND LOWER(name) = ?", businessId, strings.ToLower(label)).
		First(&property).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &property, nil
}

func CreateProperty(ctx context.Context, input *NewProperty) (*Property, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if strings.TrimSpace(input.Name) == "" {
		return nil, errors.New("property name is required")
	}

	property := Property{
		BusinessId: businessId,
		Name:       strings.TrimSpace(input.Name),
		Address:    input.Address,
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&property).Error; err != nil {
		return nil, err
	}

	return &property, nil
}
