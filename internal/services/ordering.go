package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"clubhouse/internal/logger"
	"clubhouse/internal/models"
	"clubhouse/internal/ordering"
	"clubhouse/internal/repository"

	"go.uber.org/zap"
)

const maxNameLen = 100

// TreeCache — кэш навигационного дерева (Redis). Может отсутствовать.
type TreeCache interface {
	Get(ctx context.Context, serverID string) (models.ServerTree, bool, error)
	Generation(ctx context.Context, serverID string) (int64, error)
	Set(ctx context.Context, tree models.ServerTree, gen int64) error
	Invalidate(ctx context.Context, serverID string) error
}

// OrderingService — единственное место, где открываются транзакции.
// Каждый метод: проверка админа → валидация → аллокатор → запись → коммит; любая ошибка — полный откат.
type OrderingService struct {
	tx                 repository.Transactor
	cache              TreeCache
	defaultSectionName string
}

func NewOrderingService(tx repository.Transactor, cache TreeCache, defaultSectionName string) *OrderingService {
	return &OrderingService{tx: tx, cache: cache, defaultSectionName: defaultSectionName}
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ordering.ErrValidation, fmt.Sprintf(format, args...))
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationf("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", validationf("name must be at most %d characters", maxNameLen)
	}
	return name, nil
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// requireAdmin повторяет проверку Access Gate внутри транзакции.
func requireAdmin(ctx context.Context, r repository.Repos, serverID, actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return fmt.Errorf("%w: actor is not authenticated", ordering.ErrForbidden)
	}
	if _, err := r.Servers.Get(ctx, serverID); err != nil {
		return err
	}
	ok, err := r.Servers.IsAdmin(ctx, serverID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: actor %s is not an admin of server %s", ordering.ErrForbidden, actorID, serverID)
	}
	return nil
}

// mutate выполняет fn в транзакции. fn возвращает сервер, чьё дерево изменилось:
// его updated_at трогается в той же транзакции, кэш сбрасывается после коммита.
func (s *OrderingService) mutate(ctx context.Context, op string, fn func(ctx context.Context, r repository.Repos) (string, error)) error {
	log := logger.WithCtx(ctx).With(zap.String("op", op))

	var serverID string
	err := s.tx.InTx(ctx, func(ctx context.Context, r repository.Repos) error {
		id, err := fn(ctx, r)
		if err != nil {
			return err
		}
		serverID = id
		return r.Servers.Touch(ctx, id)
	})
	if err != nil {
		switch {
		case errors.Is(err, ordering.ErrStorageFailure):
			log.Error("ordering: транзакция не зафиксирована", zap.String("state", "aborted"), zap.Error(err))
		case ordering.Retryable(err):
			log.Warn("ordering: параллельное изменение, нужен повтор", zap.String("state", "aborted"), zap.Error(err))
		default:
			log.Info("ordering: запрос отклонён", zap.String("state", "aborted"), zap.String("code", ordering.Code(err)), zap.Error(err))
		}
		return err
	}

	s.invalidate(ctx, serverID)
	log.Info("ordering: изменения зафиксированы", zap.String("state", "committed"), zap.String("server_id", serverID))
	return nil
}

func (s *OrderingService) invalidate(ctx context.Context, serverID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, serverID); err != nil {
		// запись уже зафиксирована; устаревшее дерево доживёт до TTL
		logger.WithCtx(ctx).Warn("ordering: не удалось сбросить кэш дерева", zap.String("server_id", serverID), zap.Error(err))
	}
}

// verifyDense перечитывает списки после записи: нарушенная плотность откатывает транзакцию.
func verifyDense(ctx context.Context, list func(ctx context.Context) ([]models.Sibling, error)) error {
	sibs, err := list(ctx)
	if err != nil {
		return err
	}
	if err := ordering.CheckDense(sibs); err != nil {
		return fmt.Errorf("%w: %w", ordering.ErrStorageFailure, err)
	}
	return nil
}

func verifySectionScopes(ctx context.Context, r repository.Repos, serverID string, parents ...*string) error {
	for _, p := range parents {
		if err := verifyDense(ctx, func(ctx context.Context) ([]models.Sibling, error) {
			return r.Sections.ListSiblings(ctx, serverID, p)
		}); err != nil {
			return err
		}
	}
	return nil
}

func verifyChannelScopes(ctx context.Context, r repository.Repos, serverID string, sections ...*string) error {
	for _, sec := range sections {
		if err := verifyDense(ctx, func(ctx context.Context) ([]models.Sibling, error) {
			return r.Channels.ListSiblings(ctx, serverID, sec)
		}); err != nil {
			return err
		}
	}
	return nil
}

// ----- Секции -----

// ReorderSection перемещает секцию на NewPosition; если NewParentID задан и отличается — переносит под другого родителя.
func (s *OrderingService) ReorderSection(ctx context.Context, req models.ReorderSectionRequest, actorID string) (bool, error) {
	if req.SectionID == "" || req.ServerID == "" {
		return false, validationf("sectionId and serverId are required")
	}
	if req.NewPosition < 0 {
		return false, validationf("newPosition must be >= 0")
	}

	err := s.mutate(ctx, "reorder_section", func(ctx context.Context, r repository.Repos) (string, error) {
		if err := requireAdmin(ctx, r, req.ServerID, actorID); err != nil {
			return "", err
		}
		sec, err := r.Sections.Get(ctx, req.SectionID)
		if err != nil {
			return "", err
		}
		if err := ordering.AssertSameServer(sec.ID, sec.ServerID, req.ServerID); err != nil {
			return "", err
		}

		newParent := sec.ParentID
		if req.NewParentID.Set {
			newParent = req.NewParentID.ID
		}
		reparent := !sameParent(sec.ParentID, newParent)

		keys := []string{repository.SectionScopeKey(sec.ServerID, sec.ParentID)}
		if reparent {
			keys = append(keys,
				repository.SectionScopeKey(sec.ServerID, newParent),
				repository.HierarchyKey(sec.ServerID))
		}
		stamps, err := r.Stamps.Read(ctx, keys...)
		if err != nil {
			return "", err
		}

		// проверки дерева — после чтения версий, иначе параллельный перенос проскочит
		if reparent {
			if err := ordering.AssertParentInServer(ctx, r.Sections, sec.ServerID, newParent); err != nil {
				return "", err
			}
			if err := ordering.AssertNoCycle(ctx, r.Sections, sec.ID, newParent); err != nil {
				return "", err
			}
		}

		srcSibs, err := r.Sections.ListSiblings(ctx, sec.ServerID, sec.ParentID)
		if err != nil {
			return "", err
		}
		src := ordering.OrderedIDs(srcSibs)
		if !contains(src, sec.ID) {
			return "", fmt.Errorf("%w: section %s moved since it was read", ordering.ErrConcurrentModification, sec.ID)
		}

		if !reparent {
			next := ordering.SingleMove(src, sec.ID, req.NewPosition)
			if err := r.Sections.ApplyPositions(ctx, sec.ServerID, sec.ParentID, ordering.Positions(next)); err != nil {
				return "", err
			}
			if err := verifySectionScopes(ctx, r, sec.ServerID, sec.ParentID); err != nil {
				return "", err
			}
			return sec.ServerID, r.Stamps.Bump(ctx, stamps)
		}

		dstSibs, err := r.Sections.ListSiblings(ctx, sec.ServerID, newParent)
		if err != nil {
			return "", err
		}
		newSrc, newDst := ordering.CrossListMove(src, ordering.OrderedIDs(dstSibs), sec.ID, req.NewPosition)

		if err := r.Sections.Reparent(ctx, sec.ID, newParent); err != nil {
			return "", err
		}
		if err := r.Sections.ApplyPositions(ctx, sec.ServerID, sec.ParentID, ordering.Positions(newSrc)); err != nil {
			return "", err
		}
		if err := r.Sections.ApplyPositions(ctx, sec.ServerID, newParent, ordering.Positions(newDst)); err != nil {
			return "", err
		}
		if err := verifySectionScopes(ctx, r, sec.ServerID, sec.ParentID, newParent); err != nil {
			return "", err
		}
		return sec.ServerID, r.Stamps.Bump(ctx, stamps)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReorderSections — полная замена порядка корневых секций сервера.
func (s *OrderingService) ReorderSections(ctx context.Context, serverID string, orderedSectionIDs []string, actorID string) (models.BulkReorderResult, error) {
	return s.ReorderSectionScope(ctx, serverID, nil, orderedSectionIDs, actorID)
}

// ReorderSectionScope — полная замена порядка дочерних секций parentID (nil — корень).
// Набор id должен совпадать с текущим: добавлять и удалять секции так нельзя.
func (s *OrderingService) ReorderSectionScope(ctx context.Context, serverID string, parentID *string, orderedIDs []string, actorID string) (models.BulkReorderResult, error) {
	if serverID == "" {
		return models.BulkReorderResult{}, validationf("serverId is required")
	}
	if len(orderedIDs) == 0 {
		return models.BulkReorderResult{}, validationf("sectionOrder must contain at least one id")
	}

	var count int
	err := s.mutate(ctx, "reorder_sections", func(ctx context.Context, r repository.Repos) (string, error) {
		if err := requireAdmin(ctx, r, serverID, actorID); err != nil {
			return "", err
		}
		if err := ordering.AssertParentInServer(ctx, r.Sections, serverID, parentID); err != nil {
			return "", err
		}

		stamps, err := r.Stamps.Read(ctx, repository.SectionScopeKey(serverID, parentID))
		if err != nil {
			return "", err
		}
		sibs, err := r.Sections.ListSiblings(ctx, serverID, parentID)
		if err != nil {
			return "", err
		}
		final, err := ordering.BulkReplace(orderedIDs, ordering.OrderedIDs(sibs))
		if err != nil {
			return "", err
		}
		if err := r.Sections.ApplyPositions(ctx, serverID, parentID, ordering.Positions(final)); err != nil {
			return "", err
		}
		if err := verifySectionScopes(ctx, r, serverID, parentID); err != nil {
			return "", err
		}
		count = len(final)
		return serverID, r.Stamps.Bump(ctx, stamps)
	})
	if err != nil {
		return models.BulkReorderResult{}, err
	}
	return models.BulkReorderResult{Success: true, SectionCount: count}, nil
}

// CreateSection добавляет секцию в конец её списка соседей.
func (s *OrderingService) CreateSection(ctx context.Context, params models.CreateSectionParams, actorID string) (models.Section, error) {
	name, err := cleanName(params.Name)
	if err != nil {
		return models.Section{}, err
	}
	if params.ServerID == "" {
		return models.Section{}, validationf("serverId is required")
	}

	var created models.Section
	err = s.mutate(ctx, "create_section", func(ctx context.Context, r repository.Repos) (string, error) {
		if err := requireAdmin(ctx, r, params.ServerID, actorID); err != nil {
			return "", err
		}
		stamps, err := r.Stamps.Read(ctx, repository.SectionScopeKey(params.ServerID, params.ParentID))
		if err != nil {
			return "", err
		}
		if err := ordering.AssertParentInServer(ctx, r.Sections, params.ServerID, params.ParentID); err != nil {
			return "", err
		}
		created, err = r.Sections.CreateAtEnd(ctx, params.ServerID, params.ParentID, name)
		if err != nil {
			return "", err
		}
		if err := verifySectionScopes(ctx, r, params.ServerID, params.ParentID); err != nil {
			return "", err
		}
		return params.ServerID, r.Stamps.Bump(ctx, stamps)
	})
	if err != nil {
		return models.Section{}, err
	}
	return created, nil
}

// RenameSection переименовывает секцию сервера serverID; позиция не меняется.
func (s *OrderingService) RenameSection(ctx context.Context, serverID, sectionID, name, actorID string) (models.Section, error) {
	if serverID == "" || sectionID == "" {
		return models.Section{}, validationf("serverId and sectionId are required")
	}
	name, err := cleanName(name)
	if err != nil {
		return models.Section{}, err
	}

	var renamed models.Section
	err = s.mutate(ctx, "rename_section", func(ctx context.Context, r repository.Repos) (string, error) {
		if err := requireAdmin(ctx, r, serverID, actorID); err != nil {
			return "", err
		}
		sec, err := r.Sections.Get(ctx, sectionID)
		if err != nil {
			return "", err
		}
		if err := ordering.AssertSameServer(sec.ID, sec.ServerID, serverID); err != nil {
			return "", err
		}
		renamed, err = r.Sections.Rename(ctx, sectionID, name)
		return sec.ServerID, err
	})
	if err != nil {
		return models.Section{}, err
	}
	return renamed, nil
}

// DeleteSection удаляет секцию; дочерние секции и каналы уходят в секцию по умолчанию.
// Саму секцию по умолчанию удалить нельзя. Если её нет — дети уходят к родителю удаляемой.
func (s *OrderingService) DeleteSection(ctx context.Context, serverID, sectionID, actorID string) error {
	if serverID == "" || sectionID == "" {
		return validationf("serverId and sectionId are required")
	}

	return s.mutate(ctx, "delete_section", func(ctx context.Context, r repository.Repos) (string, error) {
		if err := requireAdmin(ctx, r, serverID, actorID); err != nil {
			return "", err
		}
		sec, err := r.Sections.Get(ctx, sectionID)
		if err != nil {
			return "", err
		}
		if err := ordering.AssertSameServer(sec.ID, sec.ServerID, serverID); err != nil {
			return "", err
		}

		fallback, err := s.resolveFallback(ctx, r, sec)
		if err != nil {
			return "", err
		}

		stamps, err := r.Stamps.Read(ctx,
			repository.SectionScopeKey(sec.ServerID, sec.ParentID),
			repository.SectionScopeKey(sec.ServerID, &sec.ID),
			repository.ChannelScopeKey(sec.ServerID, &sec.ID),
			repository.SectionScopeKey(sec.ServerID, fallback),
			repository.ChannelScopeKey(sec.ServerID, fallback),
			repository.HierarchyKey(sec.ServerID),
		)
		if err != nil {
			return "", err
		}

		fresh, err := r.Sections.Get(ctx, sectionID)
		if err != nil {
			return "", err
		}
		if !sameParent(fresh.ParentID, sec.ParentID) {
			return "", fmt.Errorf("%w: section %s moved since it was read", ordering.ErrConcurrentModification, sec.ID)
		}

		children, err := r.Sections.ListSiblings(ctx, sec.ServerID, &sec.ID)
		if err != nil {
			return "", err
		}
		for _, child := range children {
			if err := ordering.AssertNoCycle(ctx, r.Sections, child.ID, fallback); err != nil {
				return "", err
			}
		}

		if err := r.Sections.DeleteAndReassignChildren(ctx, sec.ID, fallback); err != nil {
			return "", err
		}
		if err := verifySectionScopes(ctx, r, sec.ServerID, sec.ParentID, fallback); err != nil {
			return "", err
		}
		if err := verifyChannelScopes(ctx, r, sec.ServerID, fallback); err != nil {
			return "", err
		}
		return sec.ServerID, r.Stamps.Bump(ctx, stamps)
	})
}

// resolveFallback находит секцию по умолчанию сервера по имени.
func (s *OrderingService) resolveFallback(ctx context.Context, r repository.Repos, sec models.Section) (*string, error) {
	srv, err := r.Servers.Get(ctx, sec.ServerID)
	if err != nil {
		return nil, err
	}
	name := srv.DefaultSectionName
	if strings.TrimSpace(name) == "" {
		name = s.defaultSectionName
	}

	def, err := r.Sections.FindByName(ctx, sec.ServerID, name)
	if errors.Is(err, ordering.ErrNotFound) {
		logger.WithCtx(ctx).Info("ordering: секция по умолчанию не найдена, дети уходят к родителю",
			zap.String("server_id", sec.ServerID), zap.String("default_name", name))
		return sec.ParentID, nil
	}
	if err != nil {
		return nil, err
	}
	if def.ID == sec.ID {
		return nil, validationf("default section %q cannot be deleted", name)
	}
	return &def.ID, nil
}
