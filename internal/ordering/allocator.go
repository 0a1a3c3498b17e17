package ordering

import (
	"fmt"
	"slices"
	"sort"

	"clubhouse/internal/models"
)

// Mapping — итоговые позиции всех узлов одного списка соседей.
type Mapping map[string]int

// Positions превращает упорядоченный список id в плотную нумерацию 0..n-1.
func Positions(ordered []string) Mapping {
	m := make(Mapping, len(ordered))
	for i, id := range ordered {
		m[id] = i
	}
	return m
}

// OrderedIDs возвращает id соседей в порядке позиций (при равенстве — по id).
func OrderedIDs(siblings []models.Sibling) []string {
	sorted := slices.Clone(siblings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Position != sorted[j].Position {
			return sorted[i].Position < sorted[j].Position
		}
		return sorted[i].ID < sorted[j].ID
	})
	ids := make([]string, len(sorted))
	for i, s := range sorted {
		ids[i] = s.ID
	}
	return ids
}

// Remove убирает id из списка; порядок остальных сохраняется.
func Remove(ordered []string, id string) []string {
	out := make([]string, 0, len(ordered))
	for _, v := range ordered {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// SingleMove вставляет movedID на позицию targetIndex.
// Индекс зажимается в [0, len(current)], за пределами — в конец.
func SingleMove(current []string, movedID string, targetIndex int) []string {
	base := Remove(current, movedID)
	if targetIndex < 0 {
		targetIndex = 0
	}
	if targetIndex > len(base) {
		targetIndex = len(base)
	}
	out := make([]string, 0, len(base)+1)
	out = append(out, base[:targetIndex]...)
	out = append(out, movedID)
	out = append(out, base[targetIndex:]...)
	return out
}

// BulkReplace проверяет полный новый порядок списка соседей scope.
// Дубликаты отбрасываются (остаётся первое вхождение). Чужой id — ErrScopeViolation,
// пропущенный id — ErrValidation: bulk-запрос не может добавлять или удалять узлы.
func BulkReplace(orderedIDs []string, scope []string) ([]string, error) {
	if len(orderedIDs) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one id", ErrValidation)
	}

	members := make(map[string]struct{}, len(scope))
	for _, id := range scope {
		members[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(orderedIDs))
	out := make([]string, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		if _, ok := members[id]; !ok {
			return nil, fmt.Errorf("%w: id %s is not in this sibling list", ErrScopeViolation, id)
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	if len(out) != len(members) {
		return nil, fmt.Errorf("%w: order has %d ids, sibling list has %d", ErrValidation, len(out), len(members))
	}
	return out, nil
}

// CrossListMove переносит movedID из source в dest на targetIndex.
// Возвращает оба новых списка целиком.
func CrossListMove(source, dest []string, movedID string, targetIndex int) (newSource, newDest []string) {
	return Remove(source, movedID), SingleMove(dest, movedID, targetIndex)
}

// CheckDense проверяет, что позиции образуют ровно {0..n-1}.
func CheckDense(siblings []models.Sibling) error {
	seen := make([]bool, len(siblings))
	for _, s := range siblings {
		if s.Position < 0 || s.Position >= len(siblings) {
			return fmt.Errorf("position %d of %s out of range [0,%d)", s.Position, s.ID, len(siblings))
		}
		if seen[s.Position] {
			return fmt.Errorf("duplicate position %d", s.Position)
		}
		seen[s.Position] = true
	}
	return nil
}
