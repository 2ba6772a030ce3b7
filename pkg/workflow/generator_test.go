package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"draftforge/pkg/domain"
)

type scriptedModel struct {
	response string
	err      error

	lastSystem string
	lastPrompt string
}

func (s *scriptedModel) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.lastSystem = systemPrompt
	s.lastPrompt = userPrompt
	return s.response, s.err
}

func TestGenerateQuestionsStripsFence(t *testing.T) {
	model := &scriptedModel{response: "```json\n[\"What is the target audience?\", \"  \", \"How long should it be?\"]\n```"}
	g := NewLLMGenerator(model)

	questions, err := g.GenerateQuestions(context.Background(), domain.Project{Title: "T", Description: "D", Domain: "tech"})
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("questions = %v, want blank entries dropped", questions)
	}
	if !strings.Contains(model.lastPrompt, "Project title: T") {
		t.Fatalf("prompt missing project fields: %q", model.lastPrompt)
	}
}

func TestGenerateQuestionsRejectsNonArray(t *testing.T) {
	g := NewLLMGenerator(&scriptedModel{response: `{"questions": []}`})
	_, err := g.GenerateQuestions(context.Background(), domain.Project{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestGenerateQuestionsWrapsModelError(t *testing.T) {
	g := NewLLMGenerator(&scriptedModel{err: errors.New("rate limited")})
	_, err := g.GenerateQuestions(context.Background(), domain.Project{})
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestGenerateOutlineIncludesAnswers(t *testing.T) {
	model := &scriptedModel{response: `{"chapters":[{"title":"Introduction","description":"Overview."}]}`}
	g := NewLLMGenerator(model)

	p := domain.Project{
		Title:   "T",
		Answers: []domain.Answer{{Question: "Scope?", Answer: "Regional"}},
	}
	outline, err := g.GenerateOutline(context.Background(), p)
	if err != nil {
		t.Fatalf("GenerateOutline: %v", err)
	}
	if len(outline) != 1 || outline[0].Title != "Introduction" {
		t.Fatalf("outline = %+v", outline)
	}
	if !strings.Contains(model.lastPrompt, "Q: Scope?") || !strings.Contains(model.lastPrompt, "A: Regional") {
		t.Fatalf("prompt missing answers: %q", model.lastPrompt)
	}
}

func TestGenerateOutlineRejectsIncompleteChapters(t *testing.T) {
	g := NewLLMGenerator(&scriptedModel{response: `{"chapters":[{"title":"","description":"x"}]}`})
	_, err := g.GenerateOutline(context.Background(), domain.Project{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestGenerateOutlineRejectsEmptyOutline(t *testing.T) {
	g := NewLLMGenerator(&scriptedModel{response: `{"chapters":[]}`})
	_, err := g.GenerateOutline(context.Background(), domain.Project{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestGenerateChapterRejectsEmptyProse(t *testing.T) {
	g := NewLLMGenerator(&scriptedModel{response: "   \n"})
	_, err := g.GenerateChapter(context.Background(), domain.Project{}, 0, domain.ChapterOutline{Title: "Intro", Description: "d"})
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
}

func TestGenerateChapterIncludesAnswerTranscript(t *testing.T) {
	model := &scriptedModel{response: "Some prose."}
	g := NewLLMGenerator(model)

	p := domain.Project{
		Title: "T",
		Answers: []domain.Answer{
			{Question: "Scope?", Answer: "Regional CDNs"},
			{Question: "Audience?", Answer: "Engineers"},
		},
	}
	_, err := g.GenerateChapter(context.Background(), p, 0, domain.ChapterOutline{Title: "Intro", Description: "d"})
	if err != nil {
		t.Fatalf("GenerateChapter: %v", err)
	}
	for _, want := range []string{"Q: Scope?", "A: Regional CDNs", "Q: Audience?", "A: Engineers"} {
		if !strings.Contains(model.lastPrompt, want) {
			t.Fatalf("prompt missing %q: %q", want, model.lastPrompt)
		}
	}
}

func TestGenerateChapterPromptNumbersFromOne(t *testing.T) {
	model := &scriptedModel{response: "Some prose."}
	g := NewLLMGenerator(model)
	_, err := g.GenerateChapter(context.Background(), domain.Project{}, 2, domain.ChapterOutline{Title: "Evaluation", Description: "d"})
	if err != nil {
		t.Fatalf("GenerateChapter: %v", err)
	}
	if !strings.Contains(model.lastPrompt, "Write chapter 3: Evaluation") {
		t.Fatalf("prompt = %q", model.lastPrompt)
	}
}

func TestStripJSONFence(t *testing.T) {
	cases := map[string]string{
		"```json\n[1]\n```": "[1]",
		"```\n[1]\n```":     "[1]",
		"[1]":               "[1]",
		"  [1]  ":           "[1]",
	}
	for in, want := range cases {
		if got := stripJSONFence(in); got != want {
			t.Fatalf("stripJSONFence(%q) = %q, want %q", in, got, want)
		}
	}
}
