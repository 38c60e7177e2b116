package repository

import (
	"gorm.io/gorm"

	"github.com/agenthubhq/agenthub/app/models"
)

// planRepository implements the PlanRepository interface
type planRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository instance
func NewPlanRepository(db *gorm.DB) PlanRepository {
	return &planRepository{db: db}
}

// Create creates a new plan in the database
func (r *planRepository) Create(plan *models.SubscriptionPlan) error {
	return r.db.Create(plan).Error
}

// GetByID retrieves a plan with its agents by ID
func (r *planRepository) GetByID(id uint) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := r.db.Preload("Agents").First(&plan, id).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// GetByPaddlePriceID retrieves a plan by its provider price id
func (r *planRepository) GetByPaddlePriceID(priceID string) (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := r.db.Preload("Agents").Where("paddle_price_id = ?", priceID).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// GetDefault retrieves the plan new accounts start on
func (r *planRepository) GetDefault() (*models.SubscriptionPlan, error) {
	var plan models.SubscriptionPlan
	err := r.db.Preload("Agents").Where("is_default = ?", true).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// List retrieves all plans ordered by price, optionally only active ones
func (r *planRepository) List(activeOnly bool) ([]models.SubscriptionPlan, error) {
	var plans []models.SubscriptionPlan
	query := r.db.Preload("Agents").Order("price_cents ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Find(&plans).Error
	return plans, err
}

// Update updates an existing plan in the database
func (r *planRepository) Update(plan *models.SubscriptionPlan) error {
	return r.db.Save(plan).Error
}
