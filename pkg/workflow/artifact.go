package workflow

import (
	"encoding/json"
	"fmt"
	"path"

	"draftforge/pkg/domain"
)

// ArtifactKey returns the blob storage key for a project's content artifact.
// Re-generating content overwrites the same key, so the project's pointer
// stays valid across regenerations.
func ArtifactKey(projectID string) string {
	return path.Join("projects", fmt.Sprintf("project-%s.json", projectID))
}

// BuildArtifact assembles the immutable content document from the project
// record and the generated chapters.
func BuildArtifact(p domain.Project, chapters []domain.ArtifactChapter) domain.ContentArtifact {
	return domain.ContentArtifact{
		Project: domain.ArtifactProject{
			ID:          p.ID,
			Title:       p.Title,
			Description: p.Description,
			Domain:      p.Domain,
			Answers:     p.Answers,
			Chapters:    chapters,
			CreatedAt:   p.CreatedAt,
			UpdatedAt:   p.UpdatedAt,
		},
	}
}

// EncodeArtifact renders the artifact as indented JSON, the format stored in
// blob storage and served back to readers.
func EncodeArtifact(a domain.ContentArtifact) ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}
