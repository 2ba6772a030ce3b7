package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"draftforge/pkg/ai"
	"draftforge/pkg/domain"
)

// Generator is the typed boundary between the pipeline and the language
// model. Each method returns validated, structured output; parsing and shape
// checks of the raw model text happen behind this interface so the workers
// never see prompts or JSON fences.
type Generator interface {
	// GenerateQuestions produces clarifying questions for a freshly created
	// project.
	GenerateQuestions(ctx context.Context, p domain.Project) ([]string, error)

	// GenerateOutline produces a chapter outline from the project and its
	// answered questions.
	GenerateOutline(ctx context.Context, p domain.Project) ([]domain.ChapterOutline, error)

	// GenerateChapter produces markdown prose for one chapter. Inline image
	// directives in the form [IMAGE: description] are allowed and extracted
	// by the caller.
	GenerateChapter(ctx context.Context, p domain.Project, index int, ch domain.ChapterOutline) (string, error)
}

// LLMGenerator implements Generator on any text-capable model client.
type LLMGenerator struct {
	client ai.TextGenerator
}

// NewLLMGenerator wraps a model client in the typed generation boundary.
func NewLLMGenerator(client ai.TextGenerator) *LLMGenerator {
	return &LLMGenerator{client: client}
}

const questionsSystemPrompt = `You help scope technical report projects. ` +
	`Given a project title, description and domain, produce the clarifying ` +
	`questions whose answers are needed to plan the report. Respond with a ` +
	`JSON array of question strings and nothing else.`

const outlineSystemPrompt = `You plan technical report structures. Given a ` +
	`project and the author's answers to clarifying questions, produce a ` +
	`chapter outline. Respond with JSON of the form ` +
	`{"chapters":[{"title":"...","description":"..."}]} and nothing else.`

const chapterSystemPrompt = `You write technical report chapters in markdown. ` +
	`Write thorough, well-structured prose for the requested chapter only. ` +
	`Where an illustration would help, insert an inline tag of the form ` +
	`[IMAGE: short description of the illustration]. Do not write other ` +
	`chapters and do not add a document title.`

func (g *LLMGenerator) GenerateQuestions(ctx context.Context, p domain.Project) ([]string, error) {
	prompt := fmt.Sprintf("Project title: %s\nDescription: %s\nDomain: %s",
		p.Title, p.Description, p.Domain)
	raw, err := g.client.GenerateText(ctx, questionsSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: questions: %v", ErrGeneration, err)
	}
	var questions []string
	if err := json.Unmarshal([]byte(stripJSONFence(raw)), &questions); err != nil {
		return nil, fmt.Errorf("%w: questions response is not a JSON string array", ErrValidation)
	}
	cleaned := make([]string, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			cleaned = append(cleaned, q)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: model returned no questions", ErrValidation)
	}
	return cleaned, nil
}

func (g *LLMGenerator) GenerateOutline(ctx context.Context, p domain.Project) ([]domain.ChapterOutline, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Project title: %s\nDescription: %s\nDomain: %s\n\n",
		p.Title, p.Description, p.Domain)
	writeAnswerTranscript(&sb, p.Answers)
	raw, err := g.client.GenerateText(ctx, outlineSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("%w: outline: %v", ErrGeneration, err)
	}
	var parsed struct {
		Chapters []domain.ChapterOutline `json:"chapters"`
	}
	if err := json.Unmarshal([]byte(stripJSONFence(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("%w: outline response is not valid JSON", ErrValidation)
	}
	if len(parsed.Chapters) == 0 {
		return nil, fmt.Errorf("%w: model returned an empty outline", ErrValidation)
	}
	for i, ch := range parsed.Chapters {
		if strings.TrimSpace(ch.Title) == "" || strings.TrimSpace(ch.Description) == "" {
			return nil, fmt.Errorf("%w: outline chapter %d missing title or description", ErrValidation, i)
		}
	}
	return parsed.Chapters, nil
}

func (g *LLMGenerator) GenerateChapter(ctx context.Context, p domain.Project, index int, ch domain.ChapterOutline) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Project title: %s\nDescription: %s\nDomain: %s\n\n",
		p.Title, p.Description, p.Domain)
	writeAnswerTranscript(&sb, p.Answers)
	fmt.Fprintf(&sb, "\nWrite chapter %d: %s\nChapter scope: %s\n", index+1, ch.Title, ch.Description)
	raw, err := g.client.GenerateText(ctx, chapterSystemPrompt, sb.String())
	if err != nil {
		return "", fmt.Errorf("%w: chapter %d: %v", ErrGeneration, index+1, err)
	}
	prose := strings.TrimSpace(raw)
	if prose == "" {
		return "", fmt.Errorf("%w: chapter %d came back empty", ErrGeneration, index+1)
	}
	return prose, nil
}

// writeAnswerTranscript appends the clarifying Q/A transcript. Both the
// outline and every chapter call carry it, so prose stays consistent with
// what the author said up front.
func writeAnswerTranscript(sb *strings.Builder, answers []domain.Answer) {
	if len(answers) == 0 {
		return
	}
	sb.WriteString("Clarifying answers:\n")
	for _, a := range answers {
		fmt.Fprintf(sb, "Q: %s\nA: %s\n", a.Question, a.Answer)
	}
}

// stripJSONFence removes a surrounding markdown code fence from a model
// response, since models frequently wrap JSON in ```json blocks despite
// instructions not to.
func stripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
