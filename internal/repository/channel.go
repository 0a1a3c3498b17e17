package repository

import (
	"context"

	"clubhouse/internal/logger"
	"clubhouse/internal/models"
	"clubhouse/internal/ordering"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type ChannelRepo struct {
	db DBTX
}

func NewChannelRepo(db DBTX) *ChannelRepo { return &ChannelRepo{db: db} }

const channelColumns = `id, server_id, name, type, section_id, position, created_at, updated_at`

func scanChannel(row pgx.Row) (models.Channel, error) {
	var c models.Channel
	err := row.Scan(&c.ID, &c.ServerID, &c.Name, &c.Type, &c.SectionID, &c.Position, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *ChannelRepo) Get(ctx context.Context, id string) (models.Channel, error) {
	c, err := scanChannel(r.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id))
	if err != nil {
		return models.Channel{}, mapErr("channel "+id, err)
	}
	return c, nil
}

// ListSiblings: sectionID == nil — каналы без секции.
func (r *ChannelRepo) ListSiblings(ctx context.Context, serverID string, sectionID *string) ([]models.Sibling, error) {
	return listSiblings(ctx, r.db, `
		SELECT id, position FROM channels
		WHERE server_id = $1 AND section_id IS NOT DISTINCT FROM $2
		ORDER BY position, id`, serverID, sectionID)
}

func (r *ChannelRepo) ListByServer(ctx context.Context, serverID string) ([]models.Channel, error) {
	rows, err := r.db.Query(ctx, `SELECT `+channelColumns+` FROM channels WHERE server_id = $1 ORDER BY position, id`, serverID)
	if err != nil {
		return nil, mapErr("list channels", err)
	}
	defer rows.Close()

	var out []models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, mapErr("scan channel", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list channels", err)
	}
	return out, nil
}

func (r *ChannelRepo) ApplyPositions(ctx context.Context, serverID string, sectionID *string, m ordering.Mapping) error {
	logger.Log.Debug("запись позиций каналов (repo)", zap.String("server_id", serverID), zap.Int("count", len(m)))
	return applyPositions(ctx, r.db, "channels", "section_id", serverID, sectionID, m)
}

// MoveToSection меняет только section_id; позиции обоих списков пишет ApplyPositions в той же транзакции.
func (r *ChannelRepo) MoveToSection(ctx context.Context, channelID string, newSectionID *string) error {
	tag, err := r.db.Exec(ctx, `UPDATE channels SET section_id = $2, updated_at = now() WHERE id = $1`, channelID, newSectionID)
	if err != nil {
		return mapErr("move channel", err)
	}
	if tag.RowsAffected() != 1 {
		return concurrent("channel %s disappeared during move", channelID)
	}
	return nil
}

func (r *ChannelRepo) CreateAtEnd(ctx context.Context, serverID string, sectionID *string, name string, typ models.ChannelType) (models.Channel, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT count(*) FROM channels
		WHERE server_id = $1 AND section_id IS NOT DISTINCT FROM $2`, serverID, sectionID).Scan(&count)
	if err != nil {
		return models.Channel{}, mapErr("count channels", err)
	}

	c, err := scanChannel(r.db.QueryRow(ctx, `
		INSERT INTO channels (id, server_id, name, type, section_id, position)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+channelColumns, uuid.NewString(), serverID, name, typ, sectionID, count))
	if err != nil {
		return models.Channel{}, mapErr("insert channel", err)
	}
	logger.Log.Debug("канал создан (repo)", zap.String("id", c.ID), zap.Int("position", c.Position))
	return c, nil
}

// Delete удаляет канал и уплотняет его бывший список.
func (r *ChannelRepo) Delete(ctx context.Context, channelID string) error {
	c, err := r.Get(ctx, channelID)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM channels WHERE id = $1`, channelID)
	if err != nil {
		return mapErr("delete channel", err)
	}
	if tag.RowsAffected() != 1 {
		return concurrent("channel %s already deleted", channelID)
	}

	rest, err := r.ListSiblings(ctx, c.ServerID, c.SectionID)
	if err != nil {
		return err
	}
	return r.ApplyPositions(ctx, c.ServerID, c.SectionID, ordering.Positions(ordering.OrderedIDs(rest)))
}
