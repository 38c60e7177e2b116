package repository

import (
	"gorm.io/gorm"

	"github.com/agenthubhq/agenthub/app/models"
)

// UserRepository defines the interface for user data operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	Search(query string) ([]models.User, error)
}

// OrganizationRepository defines the interface for organization data operations
type OrganizationRepository interface {
	Create(org *models.Organization) error
	GetByID(id uint) (*models.Organization, error)
	GetBySlug(slug string) (*models.Organization, error)
	Update(org *models.Organization) error
	List(offset, limit int) ([]models.Organization, error)
}

// AgentRepository defines the interface for agent data operations
type AgentRepository interface {
	Create(agent *models.Agent) error
	GetByID(id uint) (*models.Agent, error)
	List(activeOnly bool) ([]models.Agent, error)
	Update(agent *models.Agent) error
	Delete(id uint) error
}

// PlanRepository defines the interface for subscription plan data operations
type PlanRepository interface {
	Create(plan *models.SubscriptionPlan) error
	GetByID(id uint) (*models.SubscriptionPlan, error)
	GetByPaddlePriceID(priceID string) (*models.SubscriptionPlan, error)
	GetDefault() (*models.SubscriptionPlan, error)
	List(activeOnly bool) ([]models.SubscriptionPlan, error)
	Update(plan *models.SubscriptionPlan) error
}

// Repositories holds all repository instances
type Repositories struct {
	User         UserRepository
	Organization OrganizationRepository
	Agent        AgentRepository
	Plan         PlanRepository
}

// NewRepositories creates all repositories sharing one DB handle
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Organization: NewOrganizationRepository(db),
		Agent:        NewAgentRepository(db),
		Plan:         NewPlanRepository(db),
	}
}
