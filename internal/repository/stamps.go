package repository

import (
	"context"
	"errors"
	"sort"

	"clubhouse/internal/logger"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Ключи версий. Один ключ — один список соседей.
func SectionScopeKey(serverID string, parentID *string) string {
	if parentID == nil {
		return "sections:" + serverID + ":root"
	}
	return "sections:" + serverID + ":" + *parentID
}

func ChannelScopeKey(serverID string, sectionID *string) string {
	if sectionID == nil {
		return "channels:" + serverID + ":ungrouped"
	}
	return "channels:" + serverID + ":" + *sectionID
}

// HierarchyKey меняется при любой смене родителя в сервере:
// два переноса в разных списках не должны вместе собрать цикл.
func HierarchyKey(serverID string) string {
	return "hierarchy:" + serverID
}

type StampRepo struct {
	db DBTX
}

func NewStampRepo(db DBTX) *StampRepo { return &StampRepo{db: db} }

func (r *StampRepo) Read(ctx context.Context, keys ...string) (map[string]int64, error) {
	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		out[k] = 0
	}
	rows, err := r.db.Query(ctx, `SELECT scope_key, version FROM scope_stamps WHERE scope_key = ANY($1)`, keys)
	if err != nil {
		return nil, mapErr("read stamps", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key     string
			version int64
		)
		if err := rows.Scan(&key, &version); err != nil {
			return nil, mapErr("scan stamp", err)
		}
		out[key] = version
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("read stamps", err)
	}
	return out, nil
}

// Bump идёт по ключам в отсортированном порядке, чтобы встречные транзакции брали блокировки одинаково.
func (r *StampRepo) Bump(ctx context.Context, read map[string]int64) error {
	keys := make([]string, 0, len(read))
	for k := range read {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		expected := read[k]
		var next int64
		err := r.db.QueryRow(ctx, `
			INSERT INTO scope_stamps (scope_key, version) VALUES ($1, $2::bigint + 1)
			ON CONFLICT (scope_key) DO UPDATE SET version = scope_stamps.version + 1
			WHERE scope_stamps.version = $2::bigint
			RETURNING version`, k, expected).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			logger.Log.Debug("версия списка изменилась (repo)", zap.String("scope", k), zap.Int64("expected", expected))
			return concurrent("sibling list %s changed since it was read", k)
		}
		if err != nil {
			return mapErr("bump stamp", err)
		}
	}
	return nil
}
