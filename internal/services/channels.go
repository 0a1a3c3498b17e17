package services

import (
	"context"
	"fmt"

	"clubhouse/internal/models"
	"clubhouse/internal/ordering"
	"clubhouse/internal/repository"
)

// channelLists — рабочие списки каналов внутри одной транзакции, по ключу списка.
type channelLists struct {
	r        repository.Repos
	serverID string
	lists    map[string][]string
	sections map[string]*string
	order    []string
}

func newChannelLists(r repository.Repos, serverID string) *channelLists {
	return &channelLists{r: r, serverID: serverID, lists: map[string][]string{}, sections: map[string]*string{}}
}

func (c *channelLists) get(ctx context.Context, sectionID *string) ([]string, error) {
	key := repository.ChannelScopeKey(c.serverID, sectionID)
	if l, ok := c.lists[key]; ok {
		return l, nil
	}
	sibs, err := c.r.Channels.ListSiblings(ctx, c.serverID, sectionID)
	if err != nil {
		return nil, err
	}
	l := ordering.OrderedIDs(sibs)
	c.lists[key] = l
	c.sections[key] = sectionID
	c.order = append(c.order, key)
	return l, nil
}

func (c *channelLists) set(sectionID *string, ids []string) {
	c.lists[repository.ChannelScopeKey(c.serverID, sectionID)] = ids
}

func (c *channelLists) persist(ctx context.Context) error {
	for _, key := range c.order {
		if err := c.r.Channels.ApplyPositions(ctx, c.serverID, c.sections[key], ordering.Positions(c.lists[key])); err != nil {
			return err
		}
	}
	for _, key := range c.order {
		if err := verifyChannelScopes(ctx, c.r, c.serverID, c.sections[key]); err != nil {
			return err
		}
	}
	return nil
}

// ReorderChannels применяет перемещения по очереди к рабочим спискам и пишет результат одним коммитом.
// NewSectionID: не задан — канал остаётся в своей секции; null — без секции; id — в эту секцию.
func (s *OrderingService) ReorderChannels(ctx context.Context, req models.ReorderChannelsRequest, actorID string) ([]models.Channel, error) {
	if len(req.Moves) == 0 {
		return nil, validationf("moves must contain at least one move")
	}
	for _, m := range req.Moves {
		if m.ID == "" {
			return nil, validationf("move id is required")
		}
		if m.Position < 0 {
			return nil, validationf("position of %s must be >= 0", m.ID)
		}
	}

	var updated []models.Channel
	err := s.mutate(ctx, "reorder_channels", func(ctx context.Context, r repository.Repos) (string, error) {
		first, err := r.Channels.Get(ctx, req.Moves[0].ID)
		if err != nil {
			return "", err
		}
		serverID := first.ServerID
		if req.ServerID != "" {
			serverID = req.ServerID
		}
		if err := requireAdmin(ctx, r, serverID, actorID); err != nil {
			return "", err
		}

		origin := map[string]*string{}
		var movedIDs []string
		for _, m := range req.Moves {
			if _, seen := origin[m.ID]; seen {
				continue
			}
			ch, err := r.Channels.Get(ctx, m.ID)
			if err != nil {
				return "", err
			}
			if err := ordering.AssertSameServer(ch.ID, ch.ServerID, serverID); err != nil {
				return "", err
			}
			origin[ch.ID] = ch.SectionID
			movedIDs = append(movedIDs, ch.ID)
		}

		keys := []string{}
		for _, sec := range origin {
			keys = append(keys, repository.ChannelScopeKey(serverID, sec))
		}
		if req.NewSectionID.Set {
			keys = append(keys, repository.ChannelScopeKey(serverID, req.NewSectionID.ID))
		}
		stamps, err := r.Stamps.Read(ctx, keys...)
		if err != nil {
			return "", err
		}

		if req.NewSectionID.Set {
			if err := ordering.AssertValidSectionTarget(ctx, r.Sections, serverID, req.NewSectionID.ID); err != nil {
				return "", err
			}
		}

		lists := newChannelLists(r, serverID)
		loc := map[string]*string{}
		for id, sec := range origin {
			l, err := lists.get(ctx, sec)
			if err != nil {
				return "", err
			}
			if !contains(l, id) {
				return "", fmt.Errorf("%w: channel %s moved since it was read", ordering.ErrConcurrentModification, id)
			}
			loc[id] = sec
		}

		for _, m := range req.Moves {
			from := loc[m.ID]
			to := from
			if req.NewSectionID.Set {
				to = req.NewSectionID.ID
			}

			src, err := lists.get(ctx, from)
			if err != nil {
				return "", err
			}
			if sameParent(from, to) {
				lists.set(from, ordering.SingleMove(src, m.ID, m.Position))
				continue
			}
			dst, err := lists.get(ctx, to)
			if err != nil {
				return "", err
			}
			newSrc, newDst := ordering.CrossListMove(src, dst, m.ID, m.Position)
			lists.set(from, newSrc)
			lists.set(to, newDst)
			loc[m.ID] = to
		}

		for _, id := range movedIDs {
			if sameParent(origin[id], loc[id]) {
				continue
			}
			if err := r.Channels.MoveToSection(ctx, id, loc[id]); err != nil {
				return "", err
			}
		}
		if err := lists.persist(ctx); err != nil {
			return "", err
		}

		updated = updated[:0]
		for _, id := range movedIDs {
			ch, err := r.Channels.Get(ctx, id)
			if err != nil {
				return "", err
			}
			updated = append(updated, ch)
		}
		return serverID, r.Stamps.Bump(ctx, stamps)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ReorderChannelsBulk — полная замена порядка каналов одной секции (nil — без секции).
func (s *OrderingService) ReorderChannelsBulk(ctx context.Context, serverID string, sectionID *string, orderedIDs []string, actorID string) (models.BulkReorderResult, error) {
	if serverID == "" {
		return models.BulkReorderResult{}, validationf("serverId is required")
	}
	if len(orderedIDs) == 0 {
		return models.BulkReorderResult{}, validationf("channelOrder must contain at least one id")
	}

	var count int
	err := s.mutate(ctx, "reorder_channels_bulk", func(ctx context.Context, r repository.Repos) (string, error) {
		if err := requireAdmin(ctx, r, serverID, actorID); err != nil {
			return "", err
		}
		if err := ordering.AssertValidSectionTarget(ctx, r.Sections, serverID, sectionID); err != nil {
			return "", err
		}
		stamps, err := r.Stamps.Read(ctx, repository.ChannelScopeKey(serverID, sectionID))
		if err != nil {
			return "", err
		}
		sibs, err := r.Channels.ListSiblings(ctx, serverID, sectionID)
		if err != nil {
			return "", err
		}
		final, err := ordering.BulkReplace(orderedIDs, ordering.OrderedIDs(sibs))
		if err != nil {
			return "", err
		}
		if err := r.Channels.ApplyPositions(ctx, serverID, sectionID, ordering.Positions(final)); err != nil {
			return "", err
		}
		if err := verifyChannelScopes(ctx, r, serverID, sectionID); err != nil {
			return "", err
		}
		count = len(final)
		return serverID, r.Stamps.Bump(ctx, stamps)
	})
	if err != nil {
		return models.BulkReorderResult{}, err
	}
	return models.BulkReorderResult{Success: true, ChannelCount: count}, nil
}

func (s *OrderingService) CreateChannel(ctx context.Context, params models.CreateChannelParams, actorID string) (models.Channel, error) {
	name, err := cleanName(params.Name)
	if err != nil {
		return models.Channel{}, err
	}
	if params.ServerID == "" {
		return models.Channel{}, validationf("serverId is required")
	}
	typ := params.Type
	if typ == "" {
		typ = models.ChannelTypeText
	}
	if typ != models.ChannelTypeText {
		return models.Channel{}, validationf("unsupported channel type %q", typ)
	}

	var created models.Channel
	err = s.mutate(ctx, "create_channel", func(ctx context.Context, r repository.Repos) (string, error) {
		if err := requireAdmin(ctx, r, params.ServerID, actorID); err != nil {
			return "", err
		}
		stamps, err := r.Stamps.Read(ctx, repository.ChannelScopeKey(params.ServerID, params.SectionID))
		if err != nil {
			return "", err
		}
		if err := ordering.AssertValidSectionTarget(ctx, r.Sections, params.ServerID, params.SectionID); err != nil {
			return "", err
		}
		created, err = r.Channels.CreateAtEnd(ctx, params.ServerID, params.SectionID, name, typ)
		if err != nil {
			return "", err
		}
		if err := verifyChannelScopes(ctx, r, params.ServerID, params.SectionID); err != nil {
			return "", err
		}
		return params.ServerID, r.Stamps.Bump(ctx, stamps)
	})
	if err != nil {
		return models.Channel{}, err
	}
	return created, nil
}

func (s *OrderingService) DeleteChannel(ctx context.Context, serverID, channelID, actorID string) error {
	if serverID == "" || channelID == "" {
		return validationf("serverId and channelId are required")
	}

	return s.mutate(ctx, "delete_channel", func(ctx context.Context, r repository.Repos) (string, error) {
		if err := requireAdmin(ctx, r, serverID, actorID); err != nil {
			return "", err
		}
		ch, err := r.Channels.Get(ctx, channelID)
		if err != nil {
			return "", err
		}
		if err := ordering.AssertSameServer(ch.ID, ch.ServerID, serverID); err != nil {
			return "", err
		}
		stamps, err := r.Stamps.Read(ctx, repository.ChannelScopeKey(ch.ServerID, ch.SectionID))
		if err != nil {
			return "", err
		}
		sibs, err := r.Channels.ListSiblings(ctx, ch.ServerID, ch.SectionID)
		if err != nil {
			return "", err
		}
		if !contains(ordering.OrderedIDs(sibs), ch.ID) {
			return "", fmt.Errorf("%w: channel %s moved since it was read", ordering.ErrConcurrentModification, ch.ID)
		}
		if err := r.Channels.Delete(ctx, ch.ID); err != nil {
			return "", err
		}
		if err := verifyChannelScopes(ctx, r, ch.ServerID, ch.SectionID); err != nil {
			return "", err
		}
		return ch.ServerID, r.Stamps.Bump(ctx, stamps)
	})
}
