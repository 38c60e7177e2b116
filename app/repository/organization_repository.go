package repository

import (
	"strings"

	"gorm.io/gorm"

	"github.com/agenthubhq/agenthub/app/models"
)

// organizationRepository implements the OrganizationRepository interface
type organizationRepository struct {
	db *gorm.DB
}

// NewOrganizationRepository creates a new organization repository instance
func NewOrganizationRepository(db *gorm.DB) OrganizationRepository {
	return &organizationRepository{db: db}
}

// Create creates a new organization in the database
func (r *organizationRepository) Create(org *models.Organization) error {
	return r.db.Create(org).Error
}

// GetByID retrieves an organization by its ID
func (r *organizationRepository) GetByID(id uint) (*models.Organization, error) {
	var org models.Organization
	err := r.db.First(&org, id).Error
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// GetBySlug retrieves an organization by its URL slug
func (r *organizationRepository) GetBySlug(slug string) (*models.Organization, error) {
	var org models.Organization
	err := r.db.Where("slug = ?", strings.TrimSpace(slug)).First(&org).Error
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// Update updates an existing organization in the database
func (r *organizationRepository) Update(org *models.Organization) error {
	return r.db.Save(org).Error
}

// List retrieves a paginated list of organizations
func (r *organizationRepository) List(offset, limit int) ([]models.Organization, error) {
	var orgs []models.Organization
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&orgs).Error
	return orgs, err
}
