package repository

import (
	"context"
	"fmt"
	"sort"

	"clubhouse/internal/logger"
	"clubhouse/internal/models"
	"clubhouse/internal/ordering"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type SectionRepo struct {
	db DBTX
}

func NewSectionRepo(db DBTX) *SectionRepo { return &SectionRepo{db: db} }

const sectionColumns = `id, server_id, name, position, parent_id, created_at, updated_at`

func scanSection(row pgx.Row) (models.Section, error) {
	var s models.Section
	err := row.Scan(&s.ID, &s.ServerID, &s.Name, &s.Position, &s.ParentID, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (r *SectionRepo) Get(ctx context.Context, id string) (models.Section, error) {
	s, err := scanSection(r.db.QueryRow(ctx, `SELECT `+sectionColumns+` FROM sections WHERE id = $1`, id))
	if err != nil {
		return models.Section{}, mapErr("section "+id, err)
	}
	return s, nil
}

func (r *SectionRepo) SectionRef(ctx context.Context, id string) (ordering.SectionRef, error) {
	var ref ordering.SectionRef
	err := r.db.QueryRow(ctx, `SELECT id, server_id, parent_id FROM sections WHERE id = $1`, id).
		Scan(&ref.ID, &ref.ServerID, &ref.ParentID)
	if err != nil {
		return ordering.SectionRef{}, mapErr("section "+id, err)
	}
	return ref, nil
}

func (r *SectionRepo) ListSiblings(ctx context.Context, serverID string, parentID *string) ([]models.Sibling, error) {
	return listSiblings(ctx, r.db, `
		SELECT id, position FROM sections
		WHERE server_id = $1 AND parent_id IS NOT DISTINCT FROM $2
		ORDER BY position, id`, serverID, parentID)
}

func (r *SectionRepo) ListByServer(ctx context.Context, serverID string) ([]models.Section, error) {
	rows, err := r.db.Query(ctx, `SELECT `+sectionColumns+` FROM sections WHERE server_id = $1 ORDER BY position, id`, serverID)
	if err != nil {
		return nil, mapErr("list sections", err)
	}
	defer rows.Close()

	var out []models.Section
	for rows.Next() {
		s, err := scanSection(rows)
		if err != nil {
			return nil, mapErr("scan section", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list sections", err)
	}
	return out, nil
}

// FindByName ищет секцию по имени; при нескольких совпадениях — сначала корневые, затем по позиции.
func (r *SectionRepo) FindByName(ctx context.Context, serverID, name string) (models.Section, error) {
	s, err := scanSection(r.db.QueryRow(ctx, `
		SELECT `+sectionColumns+` FROM sections
		WHERE server_id = $1 AND name = $2
		ORDER BY (parent_id IS NOT NULL), position, created_at
		LIMIT 1`, serverID, name))
	if err != nil {
		return models.Section{}, mapErr("section named "+name, err)
	}
	return s, nil
}

// ApplyPositions пишет полную нумерацию списка (serverID, parentID).
// Строка, ушедшая из списка, или лишняя строка в нём — ErrConcurrentModification.
func (r *SectionRepo) ApplyPositions(ctx context.Context, serverID string, parentID *string, m ordering.Mapping) error {
	logger.Log.Debug("запись позиций секций (repo)", zap.String("server_id", serverID), zap.Int("count", len(m)))
	return applyPositions(ctx, r.db, "sections", "parent_id", serverID, parentID, m)
}

func (r *SectionRepo) Reparent(ctx context.Context, sectionID string, newParentID *string) error {
	tag, err := r.db.Exec(ctx, `UPDATE sections SET parent_id = $2, updated_at = now() WHERE id = $1`, sectionID, newParentID)
	if err != nil {
		return mapErr("reparent section", err)
	}
	if tag.RowsAffected() != 1 {
		return concurrent("section %s disappeared during reparent", sectionID)
	}
	return nil
}

// CreateAtEnd добавляет секцию в конец списка: position = count(siblings).
func (r *SectionRepo) CreateAtEnd(ctx context.Context, serverID string, parentID *string, name string) (models.Section, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT count(*) FROM sections
		WHERE server_id = $1 AND parent_id IS NOT DISTINCT FROM $2`, serverID, parentID).Scan(&count)
	if err != nil {
		return models.Section{}, mapErr("count sections", err)
	}

	s, err := scanSection(r.db.QueryRow(ctx, `
		INSERT INTO sections (id, server_id, name, position, parent_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+sectionColumns, uuid.NewString(), serverID, name, count, parentID))
	if err != nil {
		return models.Section{}, mapErr("insert section", err)
	}
	logger.Log.Debug("секция создана (repo)", zap.String("id", s.ID), zap.Int("position", s.Position))
	return s, nil
}

func (r *SectionRepo) Rename(ctx context.Context, sectionID, name string) (models.Section, error) {
	s, err := scanSection(r.db.QueryRow(ctx, `
		UPDATE sections SET name = $2, updated_at = now() WHERE id = $1
		RETURNING `+sectionColumns, sectionID, name))
	if err != nil {
		return models.Section{}, mapErr("rename section", err)
	}
	return s, nil
}

// DeleteAndReassignChildren переносит прямых потомков секции в fallbackSectionID
// (секции — в его дочерний список, каналы — в его каналы; nil — корень и каналы без секции),
// дописывая их в конец в прежнем порядке, удаляет секцию и уплотняет её бывший список.
func (r *SectionRepo) DeleteAndReassignChildren(ctx context.Context, sectionID string, fallbackSectionID *string) error {
	sec, err := r.Get(ctx, sectionID)
	if err != nil {
		return err
	}
	if fallbackSectionID != nil && *fallbackSectionID == sectionID {
		return fmt.Errorf("%w: section %s cannot absorb its own children", ordering.ErrValidation, sectionID)
	}

	childSibs, err := r.ListSiblings(ctx, sec.ServerID, &sec.ID)
	if err != nil {
		return err
	}
	children := ordering.OrderedIDs(childSibs)

	destSibs, err := r.ListSiblings(ctx, sec.ServerID, fallbackSectionID)
	if err != nil {
		return err
	}
	destOrder := append(ordering.Remove(ordering.OrderedIDs(destSibs), sec.ID), children...)

	channels := NewChannelRepo(r.db)
	chanSibs, err := channels.ListSiblings(ctx, sec.ServerID, &sec.ID)
	if err != nil {
		return err
	}
	destChanSibs, err := channels.ListSiblings(ctx, sec.ServerID, fallbackSectionID)
	if err != nil {
		return err
	}
	destChanOrder := append(ordering.OrderedIDs(destChanSibs), ordering.OrderedIDs(chanSibs)...)

	if _, err := r.db.Exec(ctx, `
		UPDATE sections SET parent_id = $2, updated_at = now()
		WHERE server_id = $3 AND parent_id = $1`, sec.ID, fallbackSectionID, sec.ServerID); err != nil {
		return mapErr("reassign child sections", err)
	}
	if _, err := r.db.Exec(ctx, `
		UPDATE channels SET section_id = $2, updated_at = now()
		WHERE server_id = $3 AND section_id = $1`, sec.ID, fallbackSectionID, sec.ServerID); err != nil {
		return mapErr("reassign channels", err)
	}

	tag, err := r.db.Exec(ctx, `DELETE FROM sections WHERE id = $1`, sec.ID)
	if err != nil {
		return mapErr("delete section", err)
	}
	if tag.RowsAffected() != 1 {
		return concurrent("section %s already deleted", sec.ID)
	}

	if err := r.ApplyPositions(ctx, sec.ServerID, fallbackSectionID, ordering.Positions(destOrder)); err != nil {
		return err
	}
	if err := channels.ApplyPositions(ctx, sec.ServerID, fallbackSectionID, ordering.Positions(destChanOrder)); err != nil {
		return err
	}

	// бывший список соседей уплотняется, если это не тот же список, куда ушли дети
	if !sameScope(sec.ParentID, fallbackSectionID) {
		rest, err := r.ListSiblings(ctx, sec.ServerID, sec.ParentID)
		if err != nil {
			return err
		}
		if err := r.ApplyPositions(ctx, sec.ServerID, sec.ParentID, ordering.Positions(ordering.OrderedIDs(rest))); err != nil {
			return err
		}
	}

	logger.Log.Debug("секция удалена (repo)",
		zap.String("id", sec.ID),
		zap.Int("sections_moved", len(children)),
		zap.Int("channels_moved", len(chanSibs)))
	return nil
}

func sameScope(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ----- общие помощники для секций и каналов -----

func listSiblings(ctx context.Context, db DBTX, q string, args ...any) ([]models.Sibling, error) {
	rows, err := db.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr("list siblings", err)
	}
	defer rows.Close()

	var out []models.Sibling
	for rows.Next() {
		var s models.Sibling
		if err := rows.Scan(&s.ID, &s.Position); err != nil {
			return nil, mapErr("scan sibling", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list siblings", err)
	}
	return out, nil
}

// applyPositions: table и scopeColumn — константы из этого пакета, не ввод пользователя.
func applyPositions(ctx context.Context, db DBTX, table, scopeColumn, serverID string, scopeID *string, m ordering.Mapping) error {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	update := fmt.Sprintf(`
		UPDATE %s SET position = $1, updated_at = now()
		WHERE id = $2 AND server_id = $3 AND %s IS NOT DISTINCT FROM $4`, table, scopeColumn)

	if len(ids) > 0 {
		batch := &pgx.Batch{}
		for _, id := range ids {
			batch.Queue(update, m[id], id, serverID, scopeID)
		}
		br := db.SendBatch(ctx, batch)
		for _, id := range ids {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return mapErr("apply positions", err)
			}
			if tag.RowsAffected() != 1 {
				_ = br.Close()
				return concurrent("%s row %s left its sibling list", table, id)
			}
		}
		if err := br.Close(); err != nil {
			return mapErr("apply positions", err)
		}
	}

	var total int
	err := db.QueryRow(ctx, fmt.Sprintf(`
		SELECT count(*) FROM %s WHERE server_id = $1 AND %s IS NOT DISTINCT FROM $2`, table, scopeColumn),
		serverID, scopeID).Scan(&total)
	if err != nil {
		return mapErr("count siblings", err)
	}
	if total != len(m) {
		return concurrent("%s sibling list has %d rows, mapping covers %d", table, total, len(m))
	}
	return nil
}
