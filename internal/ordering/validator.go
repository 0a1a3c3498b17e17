package ordering

import (
	"context"
	"fmt"
)

// SectionRef — минимум о секции, нужный для проверок дерева.
type SectionRef struct {
	ID       string
	ServerID string
	ParentID *string
}

// SectionLookup читает секции; в сервисе реализуется репозиторием внутри той же транзакции.
type SectionLookup interface {
	SectionRef(ctx context.Context, id string) (SectionRef, error)
}

// AssertSameServer: узел nodeID (принадлежит nodeServerID) должен быть из serverID.
func AssertSameServer(nodeID, nodeServerID, serverID string) error {
	if nodeServerID != serverID {
		return fmt.Errorf("%w: %s does not belong to server %s", ErrScopeViolation, nodeID, serverID)
	}
	return nil
}

// AssertNoCycle проходит цепочку предков candidateParentID и падает, если встречает sectionID.
// nil-родитель (корень) всегда допустим.
func AssertNoCycle(ctx context.Context, lookup SectionLookup, sectionID string, candidateParentID *string) error {
	if candidateParentID == nil {
		return nil
	}
	if *candidateParentID == sectionID {
		return fmt.Errorf("%w: section %s cannot be its own parent", ErrCycleDetected, sectionID)
	}

	visited := map[string]struct{}{}
	cur := candidateParentID
	for cur != nil {
		if *cur == sectionID {
			return fmt.Errorf("%w: section %s is an ancestor of %s", ErrCycleDetected, sectionID, *candidateParentID)
		}
		if _, ok := visited[*cur]; ok {
			// цепочка уже зациклена в хранилище
			return fmt.Errorf("%w: ancestor chain of %s loops at %s", ErrCycleDetected, *candidateParentID, *cur)
		}
		visited[*cur] = struct{}{}

		ref, err := lookup.SectionRef(ctx, *cur)
		if err != nil {
			return err
		}
		cur = ref.ParentID
	}
	return nil
}

// AssertValidSectionTarget: непустая целевая секция канала должна быть из того же сервера.
func AssertValidSectionTarget(ctx context.Context, lookup SectionLookup, channelServerID string, candidateSectionID *string) error {
	if candidateSectionID == nil {
		return nil
	}
	ref, err := lookup.SectionRef(ctx, *candidateSectionID)
	if err != nil {
		return err
	}
	if ref.ServerID != channelServerID {
		return fmt.Errorf("%w: section %s belongs to another server", ErrScopeViolation, *candidateSectionID)
	}
	return nil
}

// AssertParentInServer — то же для родителя секции.
func AssertParentInServer(ctx context.Context, lookup SectionLookup, serverID string, parentID *string) error {
	return AssertValidSectionTarget(ctx, lookup, serverID, parentID)
}
