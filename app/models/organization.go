package models

import (
	"time"

	"gorm.io/gorm"
)

// Organization is the tenant root. Every billing account, user and usage
// record hangs off exactly one organization.
type Organization struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Name      string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Slug      string         `gorm:"type:varchar(150);not null;uniqueIndex" json:"slug" validate:"required,min=2,max=150"`
	IsActive  bool           `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
