package repository

import (
	"context"

	"clubhouse/internal/models"
	"clubhouse/internal/ordering"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX — общее подмножество pgxpool.Pool и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type SectionStore interface {
	ordering.SectionLookup
	Get(ctx context.Context, id string) (models.Section, error)
	ListSiblings(ctx context.Context, serverID string, parentID *string) ([]models.Sibling, error)
	ListByServer(ctx context.Context, serverID string) ([]models.Section, error)
	FindByName(ctx context.Context, serverID, name string) (models.Section, error)
	ApplyPositions(ctx context.Context, serverID string, parentID *string, m ordering.Mapping) error
	Reparent(ctx context.Context, sectionID string, newParentID *string) error
	CreateAtEnd(ctx context.Context, serverID string, parentID *string, name string) (models.Section, error)
	Rename(ctx context.Context, sectionID, name string) (models.Section, error)
	DeleteAndReassignChildren(ctx context.Context, sectionID string, fallbackSectionID *string) error
}

type ChannelStore interface {
	Get(ctx context.Context, id string) (models.Channel, error)
	ListSiblings(ctx context.Context, serverID string, sectionID *string) ([]models.Sibling, error)
	ListByServer(ctx context.Context, serverID string) ([]models.Channel, error)
	ApplyPositions(ctx context.Context, serverID string, sectionID *string, m ordering.Mapping) error
	MoveToSection(ctx context.Context, channelID string, newSectionID *string) error
	CreateAtEnd(ctx context.Context, serverID string, sectionID *string, name string, typ models.ChannelType) (models.Channel, error)
	Delete(ctx context.Context, channelID string) error
}

type ServerStore interface {
	Get(ctx context.Context, id string) (models.Server, error)
	IsAdmin(ctx context.Context, serverID, userID string) (bool, error)
	Touch(ctx context.Context, serverID string) error
}

// StampStore — оптимистичные версии списков соседей.
type StampStore interface {
	Read(ctx context.Context, keys ...string) (map[string]int64, error)
	// Bump увеличивает каждую версию, если она не изменилась с момента Read.
	Bump(ctx context.Context, read map[string]int64) error
}

// Repos — репозитории, привязанные к одной транзакции.
type Repos struct {
	Sections SectionStore
	Channels ChannelStore
	Servers  ServerStore
	Stamps   StampStore
}

func NewRepos(q DBTX) Repos {
	return Repos{
		Sections: NewSectionRepo(q),
		Channels: NewChannelRepo(q),
		Servers:  NewServerRepo(q),
		Stamps:   NewStampRepo(q),
	}
}

// Transactor открывает транзакцию и отдаёт в fn репозитории поверх неё.
// Ошибка fn откатывает всё; частичные записи не видны.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
	InReadTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}
