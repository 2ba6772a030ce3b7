package workflow

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"draftforge/internal/util"
	"draftforge/pkg/domain"
	"draftforge/pkg/events"
	"draftforge/pkg/storage"
	"draftforge/pkg/store"
)

// Runner hosts the three stage workers. Each worker is idempotent under
// event replay: it recomputes its stage output and overwrites the previous
// result, so at-least-once delivery converges on the same project state.
type Runner struct {
	store      store.Store
	blobs      storage.BlobStore
	gen        Generator
	genTimeout time.Duration
}

// RunnerConfig wires a Runner's collaborators.
type RunnerConfig struct {
	Store     store.Store
	Blobs     storage.BlobStore
	Generator Generator

	// GenTimeout bounds each individual model call. Zero means no deadline
	// beyond the caller's context.
	GenTimeout time.Duration
}

// NewRunner builds the stage worker set.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		store:      cfg.Store,
		blobs:      cfg.Blobs,
		gen:        cfg.Generator,
		genTimeout: cfg.GenTimeout,
	}
}

// Result is the structured outcome of one worker invocation.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func resultOf(err error) Result {
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Success: true}
}

// Handle dispatches a stage event to its worker. Worker failures are logged
// and swallowed: the event is consumed either way, and an unchanged project
// record is the only externally visible sign of failure. Only an unknown
// event name reaches the transport as an error.
func (r *Runner) Handle(ctx context.Context, evt events.Event) error {
	log := util.LoggerFromContext(ctx).With("event", evt.Name, "event_id", evt.ID, "project_id", evt.ProjectID)

	var res Result
	switch evt.Name {
	case events.ProjectStart:
		res = r.StartProject(ctx, evt.ProjectID)
	case events.QuestionsSubmitted:
		res = r.GenerateChapters(ctx, evt.ProjectID)
	case events.ContentRequested:
		res = r.GenerateContent(ctx, evt.ProjectID)
	default:
		return fmt.Errorf("unknown event %q", evt.Name)
	}

	if !res.Success {
		log.Error("stage worker failed", "err", res.Error)
		return nil
	}
	log.Info("stage worker done")
	return nil
}

// StartProject generates the project's clarifying questions and stores them
// as blank answers, completing the questions stage.
func (r *Runner) StartProject(ctx context.Context, projectID string) Result {
	return resultOf(r.startProject(ctx, projectID))
}

func (r *Runner) startProject(ctx context.Context, projectID string) error {
	project, err := r.loadProject(projectID)
	if err != nil {
		return err
	}

	genCtx, cancel := r.genContext(ctx)
	defer cancel()
	questions, err := r.gen.GenerateQuestions(genCtx, project)
	if err != nil {
		return err
	}

	answers := make([]domain.Answer, len(questions))
	for i, q := range questions {
		answers[i] = domain.Answer{Question: q}
	}
	if _, err := r.store.UpdateAnswers(projectID, answers); err != nil {
		return fmt.Errorf("store questions: %w", err)
	}
	return nil
}

// GenerateChapters produces a chapter outline from the answered questions,
// completing the chapters stage.
func (r *Runner) GenerateChapters(ctx context.Context, projectID string) Result {
	return resultOf(r.generateChapters(ctx, projectID))
}

func (r *Runner) generateChapters(ctx context.Context, projectID string) error {
	project, err := r.loadProject(projectID)
	if err != nil {
		return err
	}

	genCtx, cancel := r.genContext(ctx)
	defer cancel()
	chapters, err := r.gen.GenerateOutline(genCtx, project)
	if err != nil {
		return err
	}

	if _, err := r.store.UpdateChapters(projectID, chapters); err != nil {
		return fmt.Errorf("store outline: %w", err)
	}
	if err := r.store.SetStage(projectID, domain.StageChapters); err != nil {
		return fmt.Errorf("advance stage: %w", err)
	}
	return nil
}

// GenerateContent writes prose for every chapter strictly in order, uploads
// the assembled artifact, and finalizes the project in one store write.
// Chapter N+1 is never attempted after chapter N fails, so a failed run
// leaves no partial artifact behind.
func (r *Runner) GenerateContent(ctx context.Context, projectID string) Result {
	return resultOf(r.generateContent(ctx, projectID))
}

func (r *Runner) generateContent(ctx context.Context, projectID string) error {
	project, err := r.loadProject(projectID)
	if err != nil {
		return err
	}
	if len(project.Chapters) == 0 {
		return fmt.Errorf("%w: project has no chapter outline", ErrValidation)
	}
	for i, ch := range project.Chapters {
		if strings.TrimSpace(ch.Title) == "" || strings.TrimSpace(ch.Description) == "" {
			return fmt.Errorf("%w: chapter %d missing title or description", ErrValidation, i+1)
		}
	}

	log := util.LoggerFromContext(ctx).With("project_id", projectID)
	generated := make([]domain.ArtifactChapter, 0, len(project.Chapters))
	for i, ch := range project.Chapters {
		log.Info("generating chapter", "chapter", i+1, "title", ch.Title)
		genCtx, cancel := r.genContext(ctx)
		prose, err := r.gen.GenerateChapter(genCtx, project, i, ch)
		cancel()
		if err != nil {
			return err
		}
		content, images := ExtractImageDirectives(prose)
		generated = append(generated, domain.ArtifactChapter{
			Title:       ch.Title,
			Description: ch.Description,
			ChapterNo:   i + 1,
			Content:     content,
			Images:      images,
		})
	}

	artifact := BuildArtifact(project, generated)
	body, err := EncodeArtifact(artifact)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	contentURL, err := r.blobs.Put(ctx, ArtifactKey(projectID), bytes.NewReader(body), int64(len(body)), "application/json")
	if err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}

	collapsed := make([]domain.ChapterOutline, len(generated))
	for i, ch := range generated {
		collapsed[i] = domain.ChapterOutline{
			Title:       ch.Title,
			Description: ch.Description,
			ChapterNo:   i + 1,
		}
	}
	if _, err := r.store.FinalizeContent(projectID, contentURL, collapsed); err != nil {
		return fmt.Errorf("finalize project: %w", err)
	}
	return nil
}

func (r *Runner) loadProject(projectID string) (domain.Project, error) {
	project, ok, err := r.store.GetProject(projectID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("load project: %w", err)
	}
	if !ok {
		return domain.Project{}, fmt.Errorf("%w: %s", store.ErrNotFound, projectID)
	}
	return project, nil
}

func (r *Runner) genContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.genTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.genTimeout)
}
