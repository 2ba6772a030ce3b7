package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"draftforge/pkg/domain"
)

const migrateLockID int64 = 84218421

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent instances do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ProjectModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateProject stores or replaces a project record. Replays of the creation
// path overwrite with an equivalent row.
func (s *GormStore) CreateProject(p domain.Project) error {
	model, err := projectToModel(p)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "description", "domain", "owner_id", "stage", "answers", "chapters", "content_url", "updated_at"}),
	}).Create(&model).Error
}

// GetProject retrieves a project.
func (s *GormStore) GetProject(id string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	project, err := projectFromModel(model)
	if err != nil {
		return domain.Project{}, false, err
	}
	return project, true, nil
}

// ListProjectsByOwner returns an owner's projects, newest first.
func (s *GormStore) ListProjectsByOwner(ownerID string) ([]domain.Project, error) {
	var models []ProjectModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Project, 0, len(models))
	for _, m := range models {
		project, err := projectFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, project)
	}
	return res, nil
}

// UpdateAnswers replaces the answers column in a single write.
func (s *GormStore) UpdateAnswers(id string, answers []domain.Answer) (domain.Project, error) {
	raw, err := json.Marshal(answers)
	if err != nil {
		return domain.Project{}, err
	}
	return s.applyUpdate(id, map[string]any{
		"answers":    datatypes.JSON(raw),
		"updated_at": time.Now().UTC(),
	})
}

// UpdateChapters replaces the chapters column in a single write.
func (s *GormStore) UpdateChapters(id string, chapters []domain.ChapterOutline) (domain.Project, error) {
	raw, err := json.Marshal(chapters)
	if err != nil {
		return domain.Project{}, err
	}
	return s.applyUpdate(id, map[string]any{
		"chapters":   datatypes.JSON(raw),
		"updated_at": time.Now().UTC(),
	})
}

// SetStage advances the recorded stage.
func (s *GormStore) SetStage(id string, stage domain.Stage) error {
	res := s.db.Model(&ProjectModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"stage":      string(stage),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeContent writes artifact pointer, collapsed chapters, and the
// content stage together so readers never observe a partial final state.
func (s *GormStore) FinalizeContent(id string, contentURL string, collapsed []domain.ChapterOutline) (domain.Project, error) {
	raw, err := json.Marshal(collapsed)
	if err != nil {
		return domain.Project{}, err
	}
	return s.applyUpdate(id, map[string]any{
		"chapters":    datatypes.JSON(raw),
		"content_url": contentURL,
		"stage":       string(domain.StageContent),
		"updated_at":  time.Now().UTC(),
	})
}

func (s *GormStore) applyUpdate(id string, updates map[string]any) (domain.Project, error) {
	res := s.db.Model(&ProjectModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return domain.Project{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Project{}, ErrNotFound
	}
	project, ok, err := s.GetProject(id)
	if err != nil {
		return domain.Project{}, err
	}
	if !ok {
		return domain.Project{}, ErrNotFound
	}
	return project, nil
}

func projectToModel(p domain.Project) (ProjectModel, error) {
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return ProjectModel{}, err
	}
	chapters, err := json.Marshal(p.Chapters)
	if err != nil {
		return ProjectModel{}, err
	}
	return ProjectModel{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Domain:      p.Domain,
		OwnerID:     p.OwnerID,
		Stage:       string(p.Stage),
		Answers:     datatypes.JSON(answers),
		Chapters:    datatypes.JSON(chapters),
		ContentURL:  p.ContentURL,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

func projectFromModel(m ProjectModel) (domain.Project, error) {
	var answers []domain.Answer
	if len(m.Answers) > 0 {
		if err := json.Unmarshal(m.Answers, &answers); err != nil {
			return domain.Project{}, fmt.Errorf("decode answers: %w", err)
		}
	}
	var chapters []domain.ChapterOutline
	if len(m.Chapters) > 0 {
		if err := json.Unmarshal(m.Chapters, &chapters); err != nil {
			return domain.Project{}, fmt.Errorf("decode chapters: %w", err)
		}
	}
	return domain.Project{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Domain:      m.Domain,
		OwnerID:     m.OwnerID,
		Stage:       domain.Stage(m.Stage),
		Answers:     answers,
		Chapters:    chapters,
		ContentURL:  m.ContentURL,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}
