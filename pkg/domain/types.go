package domain

import "time"

// Stage is a monotonic checkpoint in a project's lifecycle. A project enters
// a stage when the previous stage's output has been persisted; stages never
// regress.
type Stage string

const (
	StageQuestions Stage = "questions"
	StageChapters  Stage = "chapters"
	StageContent   Stage = "content"
)

// MaxChapters bounds the chapter outline a user can edit. Enforced at the
// editing boundary, not by the pipeline.
const MaxChapters = 15

// Answer pairs a generated clarifying question with the user's response.
// Answers are created blank when questions are generated and filled in by
// the user before chapter generation.
type Answer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ChapterOutline describes one chapter of the report without its prose.
// This is the only chapter shape ever stored on the project record.
type ChapterOutline struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ChapterNo   int    `json:"chapterNo,omitempty"`
}

// Project is the central aggregate. Stage completeness is inferred
// structurally: non-empty Answers, non-empty Chapters, non-empty ContentURL.
// There is no in-progress marker; while a worker is in flight the record
// reflects the previous completed stage only.
type Project struct {
	ID          string           `json:"_id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Domain      string           `json:"domain"`
	OwnerID     string           `json:"ownerId"`
	Stage       Stage            `json:"currentStep"`
	Answers     []Answer         `json:"answers"`
	Chapters    []ChapterOutline `json:"chapters"`
	ContentURL  string           `json:"fileUrl,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// HasQuestions reports whether the questions stage output is present.
func (p Project) HasQuestions() bool { return len(p.Answers) > 0 }

// HasChapters reports whether the chapters stage output is present.
func (p Project) HasChapters() bool { return len(p.Chapters) > 0 }

// HasContent reports whether the final artifact pointer is set.
func (p Project) HasContent() bool { return p.ContentURL != "" }

// ArtifactChapter is a chapter as stored in the content artifact: the outline
// plus generated prose and extracted image directives.
type ArtifactChapter struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ChapterNo   int      `json:"chapterNo"`
	Content     string   `json:"content"`
	Images      []string `json:"images"`
}

// ArtifactProject is the full project snapshot embedded in the artifact.
// Field names match the stored JSON wire format and must not change.
type ArtifactProject struct {
	ID          string            `json:"_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Domain      string            `json:"domain"`
	Answers     []Answer          `json:"answers"`
	Chapters    []ArtifactChapter `json:"chapters"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// ContentArtifact is the immutable JSON document uploaded to blob storage
// once content generation succeeds. It is never mutated in place, only
// superseded by a new upload and a pointer swap on the project record.
type ContentArtifact struct {
	Project ArtifactProject `json:"project"`
}
