package store

import (
	"errors"

	"draftforge/pkg/domain"
)

// ErrNotFound is returned when a referenced project does not exist.
// It is permanent: callers must not retry.
var ErrNotFound = errors.New("project not found")

// Store defines persistence operations for projects. Each stage of the
// pipeline writes disjoint fields, so all updates are atomic single-row
// writes; concurrent writers during the same stage are not expected and
// resolve last-write-wins.
type Store interface {
	CreateProject(p domain.Project) error
	GetProject(id string) (domain.Project, bool, error)
	ListProjectsByOwner(ownerID string) ([]domain.Project, error)

	// UpdateAnswers replaces the answers list. Used both by the questions
	// worker (blank answers) and by the answer-submission path (filled
	// answers).
	UpdateAnswers(id string, answers []domain.Answer) (domain.Project, error)

	// UpdateChapters replaces the chapter outline.
	UpdateChapters(id string, chapters []domain.ChapterOutline) (domain.Project, error)

	// SetStage advances the recorded lifecycle stage.
	SetStage(id string, stage domain.Stage) error

	// FinalizeContent records the artifact pointer, collapses the stored
	// chapters to content-free summaries, and advances the stage to content
	// in one write.
	FinalizeContent(id string, contentURL string, collapsed []domain.ChapterOutline) (domain.Project, error)
}
