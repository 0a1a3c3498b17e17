package repository

import (
	"errors"
	"fmt"
	"testing"

	"clubhouse/internal/ordering"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "нет строки", err: pgx.ErrNoRows, want: ordering.ErrNotFound},
		{name: "сериализация", err: &pgconn.PgError{Code: "40001"}, want: ordering.ErrConcurrentModification},
		{name: "дедлок", err: &pgconn.PgError{Code: "40P01"}, want: ordering.ErrConcurrentModification},
		{name: "уникальность", err: &pgconn.PgError{Code: "23505"}, want: ordering.ErrConcurrentModification},
		{name: "внешний ключ", err: fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23503"}), want: ordering.ErrConcurrentModification},
		{name: "check", err: &pgconn.PgError{Code: "23514"}, want: ordering.ErrStorageFailure},
		{name: "обрыв связи", err: errors.New("conn closed"), want: ordering.ErrStorageFailure},
		{name: "уже классифицирована", err: fmt.Errorf("%w: x", ordering.ErrScopeViolation), want: ordering.ErrScopeViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapErr("op", tt.err), tt.want)
		})
	}

	assert.NoError(t, mapErr("op", nil))
}

func TestScopeKeys(t *testing.T) {
	sec := "sec-1"
	assert.Equal(t, "sections:srv:root", SectionScopeKey("srv", nil))
	assert.Equal(t, "sections:srv:sec-1", SectionScopeKey("srv", &sec))
	assert.Equal(t, "channels:srv:ungrouped", ChannelScopeKey("srv", nil))
	assert.Equal(t, "channels:srv:sec-1", ChannelScopeKey("srv", &sec))
	assert.NotEqual(t, SectionScopeKey("srv", &sec), ChannelScopeKey("srv", &sec))
	assert.Equal(t, "hierarchy:srv", HierarchyKey("srv"))
}
