package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"draftforge/internal/util"
	"draftforge/pkg/domain"
	"draftforge/pkg/storage"
	"draftforge/pkg/store"
)

// DefaultSignTTL is the signed-URL window used when the caller does not
// supply one.
const DefaultSignTTL = 60 * time.Minute

// Snapshot is the derived, read-only status view of one project. The
// hasX/xGenerated pairs are intentionally redundant synonyms kept for wire
// compatibility: some callers read presence-of-data, others read
// "generation completed".
type Snapshot struct {
	ProjectID string       `json:"projectId"`
	Stage     domain.Stage `json:"currentStep"`

	HasQuestions       bool `json:"hasQuestions"`
	QuestionsGenerated bool `json:"questionsGenerated"`
	HasChapters        bool `json:"hasChapters"`
	ChaptersGenerated  bool `json:"chaptersGenerated"`
	HasContent         bool `json:"hasContent"`
	ContentGenerated   bool `json:"contentGenerated"`

	Questions []string                `json:"questions"`
	Chapters  []domain.ChapterOutline `json:"chapters"`

	// ContentURL is the signed artifact URL when content exists; it expires
	// after the signing TTL.
	ContentURL string `json:"contentUrl,omitempty"`

	Project domain.Project `json:"project"`

	// Content is the artifact's embedded project snapshot, present only when
	// content exists and the artifact could be fetched and parsed. A nil
	// Content alongside HasContent=true means the fetch failed transiently,
	// not that content is gone.
	Content *domain.ArtifactProject `json:"content,omitempty"`
}

// Projector computes status snapshots. It is a pure read side: it never
// mutates the project record.
type Projector struct {
	store   store.Store
	blobs   storage.BlobStore
	client  *http.Client
	signTTL time.Duration
}

// ProjectorConfig wires a Projector's collaborators.
type ProjectorConfig struct {
	Store store.Store
	Blobs storage.BlobStore

	// HTTPClient fetches the content artifact. Defaults to a client with a
	// 10 second timeout.
	HTTPClient *http.Client

	// SignTTL bounds signed artifact URLs. Defaults to DefaultSignTTL.
	SignTTL time.Duration
}

// NewProjector builds a status projector.
func NewProjector(cfg ProjectorConfig) *Projector {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	ttl := cfg.SignTTL
	if ttl <= 0 {
		ttl = DefaultSignTTL
	}
	return &Projector{store: cfg.Store, blobs: cfg.Blobs, client: client, signTTL: ttl}
}

// Project derives the status snapshot for one project. Artifact fetch and
// signing failures degrade gracefully: the snapshot still reports content as
// present, only the richer payload (and possibly the signed URL) is omitted.
func (p *Projector) Project(ctx context.Context, id string) (Snapshot, error) {
	project, ok, err := p.store.GetProject(id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load project: %w", err)
	}
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}

	snap := Snapshot{
		ProjectID:          project.ID,
		Stage:              project.Stage,
		HasQuestions:       project.HasQuestions(),
		QuestionsGenerated: project.HasQuestions(),
		HasChapters:        project.HasChapters(),
		ChaptersGenerated:  project.HasChapters(),
		HasContent:         project.HasContent(),
		ContentGenerated:   project.HasContent(),
		Questions:          questionsOf(project),
		Chapters:           project.Chapters,
		Project:            project,
	}
	if !project.HasContent() {
		return snap, nil
	}

	log := util.LoggerFromContext(ctx).With("project_id", id)
	fetchURL := project.ContentURL
	if p.blobs != nil {
		signed, err := p.blobs.Sign(ctx, project.ContentURL, p.signTTL)
		if err != nil {
			log.Warn("sign artifact url failed", "err", err)
		} else {
			snap.ContentURL = signed
			fetchURL = signed
		}
	}

	artifact, err := p.fetchArtifact(ctx, fetchURL)
	if err != nil {
		log.Warn("fetch artifact failed", "err", err)
		return snap, nil
	}
	snap.Content = &artifact.Project
	return snap, nil
}

func (p *Projector) fetchArtifact(ctx context.Context, url string) (domain.ContentArtifact, error) {
	var artifact domain.ContentArtifact
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return artifact, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return artifact, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return artifact, fmt.Errorf("artifact fetch returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&artifact); err != nil {
		return artifact, fmt.Errorf("decode artifact: %w", err)
	}
	return artifact, nil
}

func questionsOf(p domain.Project) []string {
	questions := make([]string, len(p.Answers))
	for i, a := range p.Answers {
		questions[i] = a.Question
	}
	return questions
}
