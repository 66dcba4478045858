package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/promatch/internal/logger"
	"github.com/promatch/internal/model"
	"github.com/promatch/internal/storage"
)

// ProfileRepository читает профили пакетно: один запрос на набор id, без N+1.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

func (r *ProfileRepository) GetByIDs(ctx context.Context, ids []string) ([]model.Profile, error) {
	defer logger.DeferLogDuration("profile.GetByIDs", time.Now())()
	if len(ids) == 0 {
		return []model.Profile{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, display_name, COALESCE(avatar_url, ''), role FROM profiles WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("profileRepo.GetByIDs query: %w", err)
	}
	defer rows.Close()

	profiles := make([]model.Profile, 0, len(ids))
	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.AvatarURL, &p.Role); err != nil {
			return nil, fmt.Errorf("profileRepo.GetByIDs scan: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profileRepo.GetByIDs rows: %w", err)
	}
	return profiles, nil
}

type ProjectRepository struct {
	pool *pgxpool.Pool
}

func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{pool: pool}
}

func (r *ProjectRepository) GetByIDs(ctx context.Context, ids []string) ([]model.ProjectSummary, error) {
	defer logger.DeferLogDuration("project.GetByIDs", time.Now())()
	if len(ids) == 0 {
		return []model.ProjectSummary{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, title, status FROM projects WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("projectRepo.GetByIDs query: %w", err)
	}
	defer rows.Close()

	projects := make([]model.ProjectSummary, 0, len(ids))
	for rows.Next() {
		var p model.ProjectSummary
		if err := rows.Scan(&p.ID, &p.Title, &p.Status); err != nil {
			return nil, fmt.Errorf("projectRepo.GetByIDs scan: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("projectRepo.GetByIDs rows: %w", err)
	}
	return projects, nil
}

var (
	_ storage.ProfileStore = (*ProfileRepository)(nil)
	_ storage.ProjectStore = (*ProjectRepository)(nil)
)
