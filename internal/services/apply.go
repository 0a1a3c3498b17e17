package services

import (
	"context"

	"clubhouse/internal/models"
)

// ApplyResult — общий ответ Apply; заполнены поля, относящиеся к варианту запроса.
type ApplyResult struct {
	Success  bool             `json:"success"`
	Count    int              `json:"count,omitempty"`
	Channels []models.Channel `json:"channels,omitempty"`
}

// Apply разбирает OrderingRequest по Kind/Entity и вызывает соответствующую операцию.
func (s *OrderingService) Apply(ctx context.Context, serverID string, req models.OrderingRequest, actorID string) (ApplyResult, error) {
	switch req.Kind {
	case models.KindSingleMove:
		if req.Move == nil || req.Bulk != nil {
			return ApplyResult{}, validationf("single_move requires move and no bulk")
		}
	case models.KindBulkReplace:
		if req.Bulk == nil || req.Move != nil {
			return ApplyResult{}, validationf("bulk_replace requires bulk and no move")
		}
	default:
		return ApplyResult{}, validationf("unknown request kind %q", req.Kind)
	}

	switch {
	case req.Entity == models.EntitySection && req.Kind == models.KindSingleMove:
		ok, err := s.ReorderSection(ctx, models.ReorderSectionRequest{
			SectionID:   req.Move.NodeID,
			ServerID:    serverID,
			NewPosition: req.Move.NewPosition,
			NewParentID: req.Move.NewParentID,
		}, actorID)
		return ApplyResult{Success: ok}, err

	case req.Entity == models.EntitySection:
		res, err := s.ReorderSectionScope(ctx, serverID, req.Bulk.ParentID, req.Bulk.OrderedIDs, actorID)
		return ApplyResult{Success: res.Success, Count: res.SectionCount}, err

	case req.Entity == models.EntityChannel && req.Kind == models.KindSingleMove:
		chs, err := s.ReorderChannels(ctx, models.ReorderChannelsRequest{
			ServerID:     serverID,
			Moves:        []models.ChannelMove{{ID: req.Move.NodeID, Position: req.Move.NewPosition}},
			NewSectionID: req.Move.NewParentID,
		}, actorID)
		return ApplyResult{Success: err == nil, Count: len(chs), Channels: chs}, err

	case req.Entity == models.EntityChannel:
		res, err := s.ReorderChannelsBulk(ctx, serverID, req.Bulk.ParentID, req.Bulk.OrderedIDs, actorID)
		return ApplyResult{Success: res.Success, Count: res.ChannelCount}, err
	}

	return ApplyResult{}, validationf("unknown entity %q", req.Entity)
}
