package store

import (
	"sync"
	"time"

	"draftforge/pkg/domain"
)

// MemoryStore keeps projects in-process. Used in tests and as a dependency-free
// fallback when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]domain.Project
	orders   []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]domain.Project),
	}
}

// CreateProject stores or replaces a project and tracks insertion order.
func (m *MemoryStore) CreateProject(p domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projects[p.ID]; !exists {
		m.orders = append(m.orders, p.ID)
	}
	m.projects[p.ID] = cloneProject(p)
	return nil
}

// GetProject retrieves a project by ID.
func (m *MemoryStore) GetProject(id string) (domain.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.Project{}, false, nil
	}
	return cloneProject(p), true, nil
}

// ListProjectsByOwner returns an owner's projects, newest first.
func (m *MemoryStore) ListProjectsByOwner(ownerID string) ([]domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Project, 0, len(m.orders))
	for i := len(m.orders) - 1; i >= 0; i-- {
		if p, ok := m.projects[m.orders[i]]; ok && p.OwnerID == ownerID {
			res = append(res, cloneProject(p))
		}
	}
	return res, nil
}

// UpdateAnswers replaces the answers list.
func (m *MemoryStore) UpdateAnswers(id string, answers []domain.Answer) (domain.Project, error) {
	return m.apply(id, func(p *domain.Project) {
		p.Answers = append([]domain.Answer(nil), answers...)
	})
}

// UpdateChapters replaces the chapter outline.
func (m *MemoryStore) UpdateChapters(id string, chapters []domain.ChapterOutline) (domain.Project, error) {
	return m.apply(id, func(p *domain.Project) {
		p.Chapters = append([]domain.ChapterOutline(nil), chapters...)
	})
}

// SetStage advances the recorded stage.
func (m *MemoryStore) SetStage(id string, stage domain.Stage) error {
	_, err := m.apply(id, func(p *domain.Project) {
		p.Stage = stage
	})
	return err
}

// FinalizeContent records the artifact pointer, collapsed chapters, and
// content stage in one update.
func (m *MemoryStore) FinalizeContent(id string, contentURL string, collapsed []domain.ChapterOutline) (domain.Project, error) {
	return m.apply(id, func(p *domain.Project) {
		p.Chapters = append([]domain.ChapterOutline(nil), collapsed...)
		p.ContentURL = contentURL
		p.Stage = domain.StageContent
	})
}

func (m *MemoryStore) apply(id string, mutate func(*domain.Project)) (domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.Project{}, ErrNotFound
	}
	mutate(&p)
	p.UpdatedAt = time.Now().UTC()
	m.projects[id] = p
	return cloneProject(p), nil
}

func cloneProject(p domain.Project) domain.Project {
	clone := p
	clone.Answers = append([]domain.Answer(nil), p.Answers...)
	clone.Chapters = append([]domain.ChapterOutline(nil), p.Chapters...)
	return clone
}
