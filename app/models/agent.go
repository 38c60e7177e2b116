package models

import (
	"time"

	"gorm.io/gorm"
)

// Agent is an invokable LLM agent definition. Plans reference agents through
// the plan_agents join table; an agent may belong to any number of plans.
type Agent struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Name           string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Description    string         `gorm:"type:text" json:"description"`
	ModelName      string         `gorm:"type:varchar(100);not null;default:'gpt-4o-mini'" json:"model_name"`
	SystemPrompt   string         `gorm:"type:text" json:"-"`
	SupportsVision bool           `gorm:"default:false" json:"supports_vision"`
	IsActive       bool           `gorm:"default:true;index" json:"is_active"`
	IsPublic       bool           `gorm:"default:false;index" json:"is_public"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	Plans []SubscriptionPlan `gorm:"many2many:plan_agents" json:"-"`
}
