package services

import (
	"context"
	"testing"

	"clubhouse/internal/models"
	"clubhouse/internal/ordering"
	"clubhouse/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoSections: A(a0,a1,a2), B(b0,b1), без секции u0.
func twoSections() *memDB {
	db := newMemDB()
	db.addServer(srv, "general", admin)
	db.addSection("A", srv, "A", nil)
	db.addSection("B", srv, "B", nil)
	for _, id := range []string{"a0", "a1", "a2"} {
		db.addChannel(id, srv, ptr("A"))
	}
	for _, id := range []string{"b0", "b1"} {
		db.addChannel(id, srv, ptr("B"))
	}
	db.addChannel("u0", srv, nil)
	return db
}

func TestReorderChannels_CrossListMove(t *testing.T) {
	db := twoSections()
	svc := newService(db)

	updated, err := svc.ReorderChannels(context.Background(), models.ReorderChannelsRequest{
		ServerID:     srv,
		Moves:        []models.ChannelMove{{ID: "a1", Position: 1}},
		NewSectionID: models.Some("B"),
	}, admin)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "B", *updated[0].SectionID)
	assert.Equal(t, 1, updated[0].Position)

	st := db.snapshot()
	assert.Equal(t, []string{"a0", "a2"}, channelOrder(st, srv, ptr("A")))
	assert.Equal(t, []string{"b0", "a1", "b1"}, channelOrder(st, srv, ptr("B")))
	assertConsistent(t, st)
}

func TestReorderChannels_WithinSection(t *testing.T) {
	db := twoSections()
	svc := newService(db)

	_, err := svc.ReorderChannels(context.Background(), models.ReorderChannelsRequest{
		Moves: []models.ChannelMove{{ID: "a2", Position: 0}, {ID: "a0", Position: 2}},
	}, admin)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a1", "a0"}, channelOrder(db.snapshot(), srv, ptr("A")))
}

func TestReorderChannels_ToUngrouped(t *testing.T) {
	db := twoSections()
	svc := newService(db)

	updated, err := svc.ReorderChannels(context.Background(), models.ReorderChannelsRequest{
		ServerID:     srv,
		Moves:        []models.ChannelMove{{ID: "b0", Position: 0}, {ID: "a0", Position: 5}},
		NewSectionID: models.Null(),
	}, admin)
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Nil(t, updated[0].SectionID)

	st := db.snapshot()
	assert.Equal(t, []string{"b0", "u0", "a0"}, channelOrder(st, srv, nil))
	assert.Equal(t, []string{"a1", "a2"}, channelOrder(st, srv, ptr("A")))
	assert.Equal(t, []string{"b1"}, channelOrder(st, srv, ptr("B")))
	assertConsistent(t, st)
}

func TestReorderChannels_BatchIsAtomic(t *testing.T) {
	db := twoSections()
	db.addServer(other, "general", admin)
	db.addChannel("x0", other, nil)
	svc := newService(db)
	before := db.snapshot()

	_, err := svc.ReorderChannels(context.Background(), models.ReorderChannelsRequest{
		ServerID: srv,
		Moves:    []models.ChannelMove{{ID: "a2", Position: 0}, {ID: "x0", Position: 0}},
	}, admin)
	require.ErrorIs(t, err, ordering.ErrScopeViolation)
	assert.Equal(t, before.channels, db.snapshot().channels)

	_, err = svc.ReorderChannels(context.Background(), models.ReorderChannelsRequest{
		ServerID: srv,
		Moves:    []models.ChannelMove{{ID: "a2", Position: 0}, {ID: "missing", Position: 0}},
	}, admin)
	require.ErrorIs(t, err, ordering.ErrNotFound)
	assert.Equal(t, before.channels, db.snapshot().channels)
	assert.Zero(t, db.commits)
}

func TestReorderChannels_Rejected(t *testing.T) {
	db := twoSections()
	db.addServer(other, "general", admin)
	db.addSection("X", other, "X", nil)
	svc := newService(db)
	ctx := context.Background()

	_, err := svc.ReorderChannels(ctx, models.ReorderChannelsRequest{ServerID: srv}, admin)
	assert.ErrorIs(t, err, ordering.ErrValidation)

	_, err = svc.ReorderChannels(ctx, models.ReorderChannelsRequest{ServerID: srv, Moves: []models.ChannelMove{{ID: "a0", Position: -1}}}, admin)
	assert.ErrorIs(t, err, ordering.ErrValidation)

	_, err = svc.ReorderChannels(ctx, models.ReorderChannelsRequest{
		ServerID:     srv,
		Moves:        []models.ChannelMove{{ID: "a0", Position: 0}},
		NewSectionID: models.Some("X"),
	}, admin)
	assert.ErrorIs(t, err, ordering.ErrScopeViolation)

	_, err = svc.ReorderChannels(ctx, models.ReorderChannelsRequest{ServerID: srv, Moves: []models.ChannelMove{{ID: "a0"}}}, "u-guest")
	assert.ErrorIs(t, err, ordering.ErrForbidden)

	assert.Zero(t, db.commits)
}

func TestReorderChannels_ConcurrentModification(t *testing.T) {
	db := twoSections()
	svc := newService(db)
	db.interleave = func(st *memState) {
		st.stamps[repository.ChannelScopeKey(srv, ptr("B"))]++
	}

	_, err := svc.ReorderChannels(context.Background(), models.ReorderChannelsRequest{
		ServerID:     srv,
		Moves:        []models.ChannelMove{{ID: "a1", Position: 0}},
		NewSectionID: models.Some("B"),
	}, admin)
	require.ErrorIs(t, err, ordering.ErrConcurrentModification)
	assert.Equal(t, "A", *db.snapshot().channels["a1"].SectionID)
}

func TestReorderChannelsBulk(t *testing.T) {
	db := twoSections()
	svc := newService(db)
	ctx := context.Background()

	res, err := svc.ReorderChannelsBulk(ctx, srv, ptr("A"), []string{"a2", "a0", "a1"}, admin)
	require.NoError(t, err)
	assert.Equal(t, models.BulkReorderResult{Success: true, ChannelCount: 3}, res)
	assert.Equal(t, []string{"a2", "a0", "a1"}, channelOrder(db.snapshot(), srv, ptr("A")))

	// повтор ничего не меняет
	_, err = svc.ReorderChannelsBulk(ctx, srv, ptr("A"), []string{"a2", "a0", "a1"}, admin)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2", "a0", "a1"}, channelOrder(db.snapshot(), srv, ptr("A")))

	res, err = svc.ReorderChannelsBulk(ctx, srv, nil, []string{"u0"}, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChannelCount)

	_, err = svc.ReorderChannelsBulk(ctx, srv, ptr("A"), []string{"a0", "b0", "a1", "a2"}, admin)
	assert.ErrorIs(t, err, ordering.ErrScopeViolation)
	_, err = svc.ReorderChannelsBulk(ctx, srv, ptr("A"), []string{"a0", "a1"}, admin)
	assert.ErrorIs(t, err, ordering.ErrValidation)
	_, err = svc.ReorderChannelsBulk(ctx, srv, ptr("A"), nil, admin)
	assert.ErrorIs(t, err, ordering.ErrValidation)
	_, err = svc.ReorderChannelsBulk(ctx, srv, ptr("nope"), []string{"a0"}, admin)
	assert.ErrorIs(t, err, ordering.ErrNotFound)
}

func TestCreateChannel(t *testing.T) {
	db := twoSections()
	svc := newService(db)
	ctx := context.Background()

	ch, err := svc.CreateChannel(ctx, models.CreateChannelParams{Name: "новости", ServerID: srv, SectionID: ptr("B")}, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, ch.Position)
	assert.Equal(t, models.ChannelTypeText, ch.Type)

	ch, err = svc.CreateChannel(ctx, models.CreateChannelParams{Name: "лобби", ServerID: srv}, admin)
	require.NoError(t, err)
	assert.Nil(t, ch.SectionID)
	assert.Equal(t, 1, ch.Position)
	assertConsistent(t, db.snapshot())

	_, err = svc.CreateChannel(ctx, models.CreateChannelParams{Name: "голос", ServerID: srv, Type: "VOICE"}, admin)
	assert.ErrorIs(t, err, ordering.ErrValidation)
	_, err = svc.CreateChannel(ctx, models.CreateChannelParams{Name: "", ServerID: srv}, admin)
	assert.ErrorIs(t, err, ordering.ErrValidation)
}

func TestDeleteChannel_Redensifies(t *testing.T) {
	db := twoSections()
	svc := newService(db)

	require.NoError(t, svc.DeleteChannel(context.Background(), srv, "a0", admin))

	st := db.snapshot()
	assert.Equal(t, []string{"a1", "a2"}, channelOrder(st, srv, ptr("A")))
	assert.Equal(t, 0, st.channels["a1"].Position)
	assertConsistent(t, st)

	assert.ErrorIs(t, svc.DeleteChannel(context.Background(), srv, "a0", admin), ordering.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteChannel(context.Background(), srv, "a1", "u-guest"), ordering.ErrForbidden)
}

func TestDeleteChannel_OtherServerPath(t *testing.T) {
	db := twoSections()
	db.addServer(other, "general", admin)
	db.addChannel("x0", other, nil)
	svc := newService(db)

	err := svc.DeleteChannel(context.Background(), srv, "x0", admin)
	assert.ErrorIs(t, err, ordering.ErrScopeViolation)
	assert.Contains(t, db.snapshot().channels, "x0")
	assert.Zero(t, db.commits)

	assert.ErrorIs(t, svc.DeleteChannel(context.Background(), "", "a0", admin), ordering.ErrValidation)
}
