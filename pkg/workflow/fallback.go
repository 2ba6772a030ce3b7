package workflow

import "draftforge/pkg/domain"

// FallbackOutline is the minimal report skeleton offered to clients when no
// generated outline exists yet. It is never persisted by the pipeline.
func FallbackOutline() []domain.ChapterOutline {
	return []domain.ChapterOutline{
		{Title: "Introduction", Description: "Introduce the project, its motivation and objectives."},
		{Title: "Literature Review", Description: "Survey prior work and position the project against it."},
		{Title: "Methodology", Description: "Describe the approach, tools and methods used."},
	}
}
