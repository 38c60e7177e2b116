package jobqueue

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/agenthubhq/agenthub/internal/pkg/env"
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue           *Queue
	retentionTicker *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := env.GetEnvInt("JOB_QUEUE_WORKERS", 5)
		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	// Usage retention sweep, daily by default
	retentionInterval := time.Duration(env.GetEnvInt("USAGE_RETENTION_SWEEP_HOURS", 24)) * time.Hour
	m.retentionTicker = time.NewTicker(retentionInterval)
	m.wg.Add(1)
	go m.retentionWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.retentionTicker != nil {
		m.retentionTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// retentionWorker periodically enqueues a usage retention sweep
func (m *Manager) retentionWorker() {
	defer m.wg.Done()
	retentionDays := env.GetEnvInt("USAGE_RETENTION_DAYS", 365)
	log.Infof("[JobQueue Manager] Started retention worker (keep %d days)", retentionDays)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Retention worker stopping")
			return
		case <-m.retentionTicker.C:
			payload := UsageRetentionJobPayload{OlderThanDays: retentionDays}
			if _, err := m.queue.EnqueueJob(JobTypeUsageRetention, payload.ToMap()); err != nil {
				log.Errorf("[JobQueue Manager] Error enqueuing retention sweep: %v", err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
