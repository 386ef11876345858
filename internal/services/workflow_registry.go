package services

import (
	"sync"
	"time"
)

// ControllerFactory builds the controller for a new session.
type ControllerFactory func(sessionID, accessToken string) (*WorkflowController, error)

// WorkflowRegistry maps session ids to their controllers.
type WorkflowRegistry struct {
	factory ControllerFactory
	idleTTL time.Duration

	mu          sync.Mutex
	controllers map[string]*WorkflowController
}

func NewWorkflowRegistry(factory ControllerFactory, idleTTL time.Duration) *WorkflowRegistry {
	return &WorkflowRegistry{
		factory:     factory,
		idleTTL:     idleTTL,
		controllers: make(map[string]*WorkflowController),
	}
}

// Get returns the session's controller, creating it on first use.
func (r *WorkflowRegistry) Get(sessionID, accessToken string) (*WorkflowController, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[sessionID]; ok {
		return c, nil
	}
	c, err := r.factory(sessionID, accessToken)
	if err != nil {
		return nil, err
	}
	r.controllers[sessionID] = c
	return c, nil
}

func (r *WorkflowRegistry) Drop(sessionID string) {
	r.mu.Lock()
	delete(r.controllers, sessionID)
	r.mu.Unlock()
}

func (r *WorkflowRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// EvictIdle drops controllers unused for longer than the idle TTL. Controllers
// with a run in flight are kept.
func (r *WorkflowRegistry) EvictIdle(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, c := range r.controllers {
		lastSeen, running := c.idleSince()
		if running || now.Sub(lastSeen) < r.idleTTL {
			continue
		}
		delete(r.controllers, id)
		evicted++
	}
	return evicted
}
