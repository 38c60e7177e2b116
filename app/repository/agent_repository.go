package repository

import (
	"gorm.io/gorm"

	"github.com/agenthubhq/agenthub/app/models"
)

// agentRepository implements the AgentRepository interface
type agentRepository struct {
	db *gorm.DB
}

// NewAgentRepository creates a new agent repository instance
func NewAgentRepository(db *gorm.DB) AgentRepository {
	return &agentRepository{db: db}
}

// Create creates a new agent in the database
func (r *agentRepository) Create(agent *models.Agent) error {
	return r.db.Create(agent).Error
}

// GetByID retrieves an agent by its ID
func (r *agentRepository) GetByID(id uint) (*models.Agent, error) {
	var agent models.Agent
	err := r.db.First(&agent, id).Error
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// List retrieves all agents, optionally only active ones
func (r *agentRepository) List(activeOnly bool) ([]models.Agent, error) {
	var agents []models.Agent
	query := r.db.Order("name ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	err := query.Find(&agents).Error
	return agents, err
}

// Update updates an existing agent in the database
func (r *agentRepository) Update(agent *models.Agent) error {
	return r.db.Save(agent).Error
}

// Delete soft deletes an agent by its ID
func (r *agentRepository) Delete(id uint) error {
	return r.db.Delete(&models.Agent{}, id).Error
}
