package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"draftforge/pkg/domain"
	"draftforge/pkg/events"
	"draftforge/pkg/store"
)

type stubGenerator struct {
	questions []string
	outline   []domain.ChapterOutline

	chapterProse func(index int, ch domain.ChapterOutline) (string, error)

	mu           sync.Mutex
	chapterCalls []int
}

func (s *stubGenerator) GenerateQuestions(ctx context.Context, p domain.Project) ([]string, error) {
	if s.questions == nil {
		return nil, fmt.Errorf("%w: no questions", ErrGeneration)
	}
	return s.questions, nil
}

func (s *stubGenerator) GenerateOutline(ctx context.Context, p domain.Project) ([]domain.ChapterOutline, error) {
	if s.outline == nil {
		return nil, fmt.Errorf("%w: no outline", ErrGeneration)
	}
	return s.outline, nil
}

func (s *stubGenerator) GenerateChapter(ctx context.Context, p domain.Project, index int, ch domain.ChapterOutline) (string, error) {
	s.mu.Lock()
	s.chapterCalls = append(s.chapterCalls, index)
	s.mu.Unlock()
	if s.chapterProse != nil {
		return s.chapterProse(index, ch)
	}
	return "Prose for " + ch.Title, nil
}

type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: make(map[string][]byte)}
}

func (m *memBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = body
	m.puts++
	return "http://blob.local/artifacts/" + key, nil
}

func (m *memBlobStore) Sign(ctx context.Context, rawURL string, expiry time.Duration) (string, error) {
	return rawURL + "?sig=test", nil
}

func seedProject(t *testing.T, s store.Store, p domain.Project) domain.Project {
	t.Helper()
	if p.ID == "" {
		p.ID = "p1"
	}
	if p.Stage == "" {
		p.Stage = domain.StageQuestions
	}
	if err := s.CreateProject(p); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	return p
}

func TestStartProjectStoresBlankAnswers(t *testing.T) {
	st := store.NewMemoryStore()
	seedProject(t, st, domain.Project{ID: "p1", Title: "Edge Caching Study"})
	gen := &stubGenerator{questions: []string{"Who is the audience?", "What is the scope?"}}
	r := NewRunner(RunnerConfig{Store: st, Blobs: newMemBlobStore(), Generator: gen})

	res := r.StartProject(context.Background(), "p1")
	if !res.Success {
		t.Fatalf("StartProject failed: %s", res.Error)
	}

	p, _, _ := st.GetProject("p1")
	if len(p.Answers) != 2 {
		t.Fatalf("answers = %d, want 2", len(p.Answers))
	}
	for i, a := range p.Answers {
		if a.Question != gen.questions[i] {
			t.Fatalf("answer %d question = %q, want %q", i, a.Question, gen.questions[i])
		}
		if a.Answer != "" {
			t.Fatalf("answer %d should start blank, got %q", i, a.Answer)
		}
	}
}

func TestStartProjectUnknownProject(t *testing.T) {
	r := NewRunner(RunnerConfig{Store: store.NewMemoryStore(), Blobs: newMemBlobStore(), Generator: &stubGenerator{questions: []string{"q"}}})
	res := r.StartProject(context.Background(), "missing")
	if res.Success {
		t.Fatal("expected failure for unknown project")
	}
	if !strings.Contains(res.Error, store.ErrNotFound.Error()) {
		t.Fatalf("error = %q, want not-found", res.Error)
	}
}

func TestGenerateChaptersAdvancesStage(t *testing.T) {
	st := store.NewMemoryStore()
	seedProject(t, st, domain.Project{
		ID:      "p1",
		Answers: []domain.Answer{{Question: "Scope?", Answer: "Regional CDNs"}},
	})
	gen := &stubGenerator{outline: []domain.ChapterOutline{
		{Title: "Introduction", Description: "Why edge caching matters."},
		{Title: "Evaluation", Description: "Benchmark design and results."},
	}}
	r := NewRunner(RunnerConfig{Store: st, Blobs: newMemBlobStore(), Generator: gen})

	res := r.GenerateChapters(context.Background(), "p1")
	if !res.Success {
		t.Fatalf("GenerateChapters failed: %s", res.Error)
	}

	p, _, _ := st.GetProject("p1")
	if len(p.Chapters) != 2 {
		t.Fatalf("chapters = %d, want 2", len(p.Chapters))
	}
	if p.Stage != domain.StageChapters {
		t.Fatalf("stage = %q, want %q", p.Stage, domain.StageChapters)
	}
}

func TestGenerateChaptersFailureLeavesProjectUntouched(t *testing.T) {
	st := store.NewMemoryStore()
	seedProject(t, st, domain.Project{ID: "p1", Answers: []domain.Answer{{Question: "q", Answer: "a"}}})
	r := NewRunner(RunnerConfig{Store: st, Blobs: newMemBlobStore(), Generator: &stubGenerator{}})

	res := r.GenerateChapters(context.Background(), "p1")
	if res.Success {
		t.Fatal("expected failure")
	}

	p, _, _ := st.GetProject("p1")
	if len(p.Chapters) != 0 || p.Stage != domain.StageQuestions {
		t.Fatalf("project mutated on failure: chapters=%d stage=%q", len(p.Chapters), p.Stage)
	}
}

func chapteredProject() domain.Project {
	return domain.Project{
		ID:    "p1",
		Title: "Edge Caching Study",
		Stage: domain.StageChapters,
		Answers: []domain.Answer{
			{Question: "Scope?", Answer: "Regional CDNs"},
		},
		Chapters: []domain.ChapterOutline{
			{Title: "Introduction", Description: "Why edge caching matters."},
			{Title: "Design", Description: "Cache hierarchy and invalidation."},
			{Title: "Evaluation", Description: "Benchmark design and results."},
		},
	}
}

func TestGenerateContentFinalizesProject(t *testing.T) {
	st := store.NewMemoryStore()
	seedProject(t, st, chapteredProject())
	blobs := newMemBlobStore()
	gen := &stubGenerator{chapterProse: func(index int, ch domain.ChapterOutline) (string, error) {
		return fmt.Sprintf("Body of %s with [IMAGE: figure for chapter %d].", ch.Title, index+1), nil
	}}
	r := NewRunner(RunnerConfig{Store: st, Blobs: blobs, Generator: gen})

	res := r.GenerateContent(context.Background(), "p1")
	if !res.Success {
		t.Fatalf("GenerateContent failed: %s", res.Error)
	}

	p, _, _ := st.GetProject("p1")
	if p.Stage != domain.StageContent {
		t.Fatalf("stage = %q, want %q", p.Stage, domain.StageContent)
	}
	if p.ContentURL == "" {
		t.Fatal("content URL not recorded")
	}
	for i, ch := range p.Chapters {
		if ch.ChapterNo != i+1 {
			t.Fatalf("chapter %d number = %d, want %d", i, ch.ChapterNo, i+1)
		}
	}

	body, ok := blobs.objects[ArtifactKey("p1")]
	if !ok {
		t.Fatalf("artifact missing at key %q", ArtifactKey("p1"))
	}
	var artifact domain.ContentArtifact
	if err := json.Unmarshal(body, &artifact); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if artifact.Project.ID != "p1" {
		t.Fatalf("artifact project id = %q", artifact.Project.ID)
	}
	if len(artifact.Project.Chapters) != 3 {
		t.Fatalf("artifact chapters = %d, want 3", len(artifact.Project.Chapters))
	}
	first := artifact.Project.Chapters[0]
	if !strings.Contains(first.Content, "*[Image: figure for chapter 1]*") {
		t.Fatalf("chapter content missing rewritten image placeholder: %q", first.Content)
	}
	if len(first.Images) != 1 || first.Images[0] != "figure for chapter 1" {
		t.Fatalf("chapter images = %v", first.Images)
	}

	// The raw JSON must use the persisted field names.
	if !bytes.Contains(body, []byte(`"_id"`)) || !bytes.Contains(body, []byte(`"project"`)) {
		t.Fatalf("artifact wire format changed: %s", body)
	}
}

func TestGenerateContentAbortsOnChapterFailure(t *testing.T) {
	st := store.NewMemoryStore()
	seedProject(t, st, chapteredProject())
	blobs := newMemBlobStore()
	gen := &stubGenerator{chapterProse: func(index int, ch domain.ChapterOutline) (string, error) {
		if index == 1 {
			return "", fmt.Errorf("%w: chapter %d: model unavailable", ErrGeneration, index+1)
		}
		return "Body of " + ch.Title, nil
	}}
	r := NewRunner(RunnerConfig{Store: st, Blobs: blobs, Generator: gen})

	res := r.GenerateContent(context.Background(), "p1")
	if res.Success {
		t.Fatal("expected failure")
	}

	// Strictly sequential: the failure at chapter 2 must stop chapter 3.
	if want := []int{0, 1}; !equalInts(gen.chapterCalls, want) {
		t.Fatalf("chapter calls = %v, want %v", gen.chapterCalls, want)
	}
	if len(blobs.objects) != 0 {
		t.Fatal("partial artifact uploaded after failure")
	}
	p, _, _ := st.GetProject("p1")
	if p.ContentURL != "" || p.Stage != domain.StageChapters {
		t.Fatalf("project mutated on failure: url=%q stage=%q", p.ContentURL, p.Stage)
	}
}

func TestGenerateContentReplayConverges(t *testing.T) {
	st := store.NewMemoryStore()
	seedProject(t, st, chapteredProject())
	blobs := newMemBlobStore()
	r := NewRunner(RunnerConfig{Store: st, Blobs: blobs, Generator: &stubGenerator{}})

	for i := 0; i < 2; i++ {
		if res := r.GenerateContent(context.Background(), "p1"); !res.Success {
			t.Fatalf("run %d failed: %s", i+1, res.Error)
		}
	}

	if len(blobs.objects) != 1 {
		t.Fatalf("replay created %d objects, want 1 overwritten key", len(blobs.objects))
	}
	if blobs.puts != 2 {
		t.Fatalf("puts = %d, want 2", blobs.puts)
	}
	p, _, _ := st.GetProject("p1")
	if p.Stage != domain.StageContent || len(p.Chapters) != 3 {
		t.Fatalf("replay diverged: stage=%q chapters=%d", p.Stage, len(p.Chapters))
	}
}

func TestGenerateContentRequiresOutline(t *testing.T) {
	st := store.NewMemoryStore()
	seedProject(t, st, domain.Project{ID: "p1", Stage: domain.StageQuestions})
	r := NewRunner(RunnerConfig{Store: st, Blobs: newMemBlobStore(), Generator: &stubGenerator{}})

	res := r.GenerateContent(context.Background(), "p1")
	if res.Success {
		t.Fatal("expected failure without an outline")
	}
	if !strings.Contains(res.Error, ErrValidation.Error()) {
		t.Fatalf("error = %q, want validation failure", res.Error)
	}
}

func TestHandleSwallowsWorkerFailures(t *testing.T) {
	r := NewRunner(RunnerConfig{Store: store.NewMemoryStore(), Blobs: newMemBlobStore(), Generator: &stubGenerator{}})

	err := r.Handle(context.Background(), events.Event{ID: "e1", Name: events.ProjectStart, ProjectID: "missing"})
	if err != nil {
		t.Fatalf("worker failure must not reach the transport, got %v", err)
	}

	err = r.Handle(context.Background(), events.Event{ID: "e2", Name: "project.bogus", ProjectID: "p1"})
	if err == nil {
		t.Fatal("unknown event must be reported to the transport")
	}
}

func TestGenContextAppliesDeadline(t *testing.T) {
	r := NewRunner(RunnerConfig{Store: store.NewMemoryStore(), Blobs: newMemBlobStore(), Generator: &stubGenerator{}, GenTimeout: time.Minute})
	ctx, cancel := r.genContext(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("expected a deadline on the generation context")
	}

	r = NewRunner(RunnerConfig{Store: store.NewMemoryStore(), Blobs: newMemBlobStore(), Generator: &stubGenerator{}})
	ctx, cancel = r.genContext(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("unexpected deadline without a configured timeout")
	}
}

func TestResultOf(t *testing.T) {
	if res := resultOf(nil); !res.Success || res.Error != "" {
		t.Fatalf("resultOf(nil) = %+v", res)
	}
	if res := resultOf(errors.New("boom")); res.Success || res.Error != "boom" {
		t.Fatalf("resultOf(err) = %+v", res)
	}
}

func equalInts(got, want []int) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
