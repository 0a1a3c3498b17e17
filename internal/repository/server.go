package repository

import (
	"context"

	"clubhouse/internal/models"
)

type ServerRepo struct {
	db DBTX
}

func NewServerRepo(db DBTX) *ServerRepo { return &ServerRepo{db: db} }

func (r *ServerRepo) Get(ctx context.Context, id string) (models.Server, error) {
	var s models.Server
	err := r.db.QueryRow(ctx, `
		SELECT id, name, default_section_name, created_at, updated_at
		FROM servers WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.DefaultSectionName, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return models.Server{}, mapErr("server "+id, err)
	}
	return s, nil
}

// IsAdmin — серверная часть Access Gate: роль admin в server_members.
func (r *ServerRepo) IsAdmin(ctx context.Context, serverID, userID string) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM server_members
			WHERE server_id = $1 AND user_id = $2 AND role = 'admin'
		)`, serverID, userID).Scan(&ok)
	if err != nil {
		return false, mapErr("check admin", err)
	}
	return ok, nil
}

// Touch обновляет updated_at сервера — сигнал клиентам перечитать дерево.
func (r *ServerRepo) Touch(ctx context.Context, serverID string) error {
	_, err := r.db.Exec(ctx, `UPDATE servers SET updated_at = now() WHERE id = $1`, serverID)
	return mapErr("touch server", err)
}
