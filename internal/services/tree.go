package services

import (
	"context"
	"errors"
	"sort"

	"clubhouse/internal/cache"
	"clubhouse/internal/logger"
	"clubhouse/internal/models"
	"clubhouse/internal/repository"

	"go.uber.org/zap"
)

// ServerTree отдаёт дерево сервера: сначала из кэша, иначе из одного снимка БД.
// Дерево видит только админ сервера.
func (s *OrderingService) ServerTree(ctx context.Context, serverID, actorID string) (models.ServerTree, error) {
	if serverID == "" {
		return models.ServerTree{}, validationf("serverId is required")
	}
	log := logger.WithCtx(ctx)

	err := s.tx.InReadTx(ctx, func(ctx context.Context, r repository.Repos) error {
		return requireAdmin(ctx, r, serverID, actorID)
	})
	if err != nil {
		return models.ServerTree{}, err
	}

	// поколение читается до снимка: если между ними был коммит, Set откажет
	cacheable := false
	var gen int64
	if s.cache != nil {
		tree, ok, err := s.cache.Get(ctx, serverID)
		switch {
		case err != nil:
			log.Warn("ordering: кэш дерева недоступен", zap.Error(err))
		case ok:
			return tree, nil
		default:
			if gen, err = s.cache.Generation(ctx, serverID); err != nil {
				log.Warn("ordering: не удалось прочитать поколение дерева", zap.Error(err))
			} else {
				cacheable = true
			}
		}
	}

	var tree models.ServerTree
	err = s.tx.InReadTx(ctx, func(ctx context.Context, r repository.Repos) error {
		srv, err := r.Servers.Get(ctx, serverID)
		if err != nil {
			return err
		}
		sections, err := r.Sections.ListByServer(ctx, serverID)
		if err != nil {
			return err
		}
		channels, err := r.Channels.ListByServer(ctx, serverID)
		if err != nil {
			return err
		}
		tree = BuildTree(srv, sections, channels)
		return nil
	})
	if err != nil {
		return models.ServerTree{}, err
	}

	if cacheable {
		err := s.cache.Set(ctx, tree, gen)
		switch {
		case errors.Is(err, cache.ErrStaleTree):
			log.Debug("ordering: дерево устарело до записи в кэш", zap.String("server_id", serverID))
		case err != nil:
			log.Warn("ordering: не удалось положить дерево в кэш", zap.Error(err))
		}
	}
	return tree, nil
}

// BuildTree собирает вложенное дерево из плоских строк; всё сортируется по позиции.
// Секции, недостижимые от корня, в дерево не попадают.
func BuildTree(srv models.Server, sections []models.Section, channels []models.Channel) models.ServerTree {
	const root = ""

	byParent := map[string][]models.Section{}
	for _, sec := range sections {
		p := root
		if sec.ParentID != nil {
			p = *sec.ParentID
		}
		byParent[p] = append(byParent[p], sec)
	}
	for _, l := range byParent {
		sort.SliceStable(l, func(i, j int) bool { return l[i].Position < l[j].Position })
	}

	bySection := map[string][]models.Channel{}
	for _, ch := range channels {
		p := root
		if ch.SectionID != nil {
			p = *ch.SectionID
		}
		bySection[p] = append(bySection[p], ch)
	}
	for _, l := range bySection {
		sort.SliceStable(l, func(i, j int) bool { return l[i].Position < l[j].Position })
	}

	visited := map[string]bool{}
	var build func(parent string) []models.SectionNode
	build = func(parent string) []models.SectionNode {
		nodes := []models.SectionNode{}
		for _, sec := range byParent[parent] {
			if visited[sec.ID] {
				continue
			}
			visited[sec.ID] = true
			nodes = append(nodes, models.SectionNode{
				Section:  sec,
				Channels: nonNil(bySection[sec.ID]),
				Children: build(sec.ID),
			})
		}
		return nodes
	}

	return models.ServerTree{
		Server:    srv,
		Sections:  build(root),
		Ungrouped: nonNil(bySection[root]),
	}
}

func nonNil(chs []models.Channel) []models.Channel {
	if chs == nil {
		return []models.Channel{}
	}
	return chs
}
