package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"clubhouse/internal/models"
	"clubhouse/internal/ordering"
	"clubhouse/internal/repository"
)

// memState — копия «базы»: транзакция работает с клоном и подменяет его при коммите.
type memState struct {
	servers  map[string]models.Server
	admins   map[string]map[string]bool
	sections map[string]models.Section
	channels map[string]models.Channel
	stamps   map[string]int64
}

func newMemState() *memState {
	return &memState{
		servers:  map[string]models.Server{},
		admins:   map[string]map[string]bool{},
		sections: map[string]models.Section{},
		channels: map[string]models.Channel{},
		stamps:   map[string]int64{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.servers {
		c.servers[k] = v
	}
	for k, v := range s.admins {
		m := map[string]bool{}
		for u, ok := range v {
			m[u] = ok
		}
		c.admins[k] = m
	}
	for k, v := range s.sections {
		c.sections[k] = v
	}
	for k, v := range s.channels {
		c.channels[k] = v
	}
	for k, v := range s.stamps {
		c.stamps[k] = v
	}
	return c
}

type memDB struct {
	mu    sync.Mutex
	state *memState
	seq   int

	// interleave вызывается после чтения версий — имитирует чужой коммит посреди транзакции.
	interleave func(st *memState)
	failCommit bool
	commits    int
}

func newMemDB() *memDB { return &memDB{state: newMemState()} }

func (db *memDB) InTx(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	work := db.state.clone()
	if err := fn(ctx, db.repos(work)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: commit: %w", ordering.ErrStorageFailure, err)
	}
	if db.failCommit {
		return fmt.Errorf("%w: commit: connection reset", ordering.ErrStorageFailure)
	}
	db.state = work
	db.commits++
	return nil
}

func (db *memDB) InReadTx(ctx context.Context, fn func(ctx context.Context, r repository.Repos) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(ctx, db.repos(db.state.clone()))
}

func (db *memDB) repos(st *memState) repository.Repos {
	return repository.Repos{
		Sections: &memSections{db: db, st: st},
		Channels: &memChannels{db: db, st: st},
		Servers:  &memServers{st: st},
		Stamps:   &memStamps{db: db, st: st},
	}
}

func (db *memDB) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%d", prefix, db.seq)
}

// snapshot — состояние после последнего коммита.
func (db *memDB) snapshot() *memState {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.state.clone()
}

func notFound(what, id string) error {
	return fmt.Errorf("%w: %s %s", ordering.ErrNotFound, what, id)
}

func eqPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ----- servers -----

type memServers struct{ st *memState }

func (m *memServers) Get(_ context.Context, id string) (models.Server, error) {
	s, ok := m.st.servers[id]
	if !ok {
		return models.Server{}, notFound("server", id)
	}
	return s, nil
}

func (m *memServers) IsAdmin(_ context.Context, serverID, userID string) (bool, error) {
	return m.st.admins[serverID][userID], nil
}

func (m *memServers) Touch(_ context.Context, serverID string) error {
	s := m.st.servers[serverID]
	s.UpdatedAt = time.Now()
	m.st.servers[serverID] = s
	return nil
}

// ----- stamps -----

type memStamps struct {
	db *memDB
	st *memState
}

func (m *memStamps) Read(_ context.Context, keys ...string) (map[string]int64, error) {
	out := map[string]int64{}
	for _, k := range keys {
		out[k] = m.st.stamps[k]
	}
	if m.db.interleave != nil {
		m.db.interleave(m.st)
	}
	return out, nil
}

func (m *memStamps) Bump(_ context.Context, read map[string]int64) error {
	for k, v := range read {
		if m.st.stamps[k] != v {
			return fmt.Errorf("%w: sibling list %s changed", ordering.ErrConcurrentModification, k)
		}
	}
	for k := range read {
		m.st.stamps[k]++
	}
	return nil
}

// ----- sections -----

type memSections struct {
	db *memDB
	st *memState
}

func (m *memSections) Get(_ context.Context, id string) (models.Section, error) {
	s, ok := m.st.sections[id]
	if !ok {
		return models.Section{}, notFound("section", id)
	}
	return s, nil
}

func (m *memSections) SectionRef(ctx context.Context, id string) (ordering.SectionRef, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return ordering.SectionRef{}, err
	}
	return ordering.SectionRef{ID: s.ID, ServerID: s.ServerID, ParentID: s.ParentID}, nil
}

func (m *memSections) ListSiblings(_ context.Context, serverID string, parentID *string) ([]models.Sibling, error) {
	var out []models.Sibling
	for _, s := range m.st.sections {
		if s.ServerID == serverID && eqPtr(s.ParentID, parentID) {
			out = append(out, models.Sibling{ID: s.ID, Position: s.Position})
		}
	}
	sortSiblings(out)
	return out, nil
}

func (m *memSections) ListByServer(_ context.Context, serverID string) ([]models.Section, error) {
	var out []models.Section
	for _, s := range m.st.sections {
		if s.ServerID == serverID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memSections) FindByName(_ context.Context, serverID, name string) (models.Section, error) {
	var found []models.Section
	for _, s := range m.st.sections {
		if s.ServerID == serverID && s.Name == name {
			found = append(found, s)
		}
	}
	if len(found) == 0 {
		return models.Section{}, notFound("section named", name)
	}
	sort.Slice(found, func(i, j int) bool {
		ri, rj := found[i].ParentID == nil, found[j].ParentID == nil
		if ri != rj {
			return ri
		}
		return found[i].Position < found[j].Position
	})
	return found[0], nil
}

func (m *memSections) ApplyPositions(_ context.Context, serverID string, parentID *string, mp ordering.Mapping) error {
	for id, pos := range mp {
		s, ok := m.st.sections[id]
		if !ok || s.ServerID != serverID || !eqPtr(s.ParentID, parentID) {
			return fmt.Errorf("%w: sections row %s left its sibling list", ordering.ErrConcurrentModification, id)
		}
		s.Position = pos
		m.st.sections[id] = s
	}
	total := 0
	for _, s := range m.st.sections {
		if s.ServerID == serverID && eqPtr(s.ParentID, parentID) {
			total++
		}
	}
	if total != len(mp) {
		return fmt.Errorf("%w: sections list has %d rows, mapping covers %d", ordering.ErrConcurrentModification, total, len(mp))
	}
	return nil
}

func (m *memSections) Reparent(_ context.Context, sectionID string, newParentID *string) error {
	s, ok := m.st.sections[sectionID]
	if !ok {
		return fmt.Errorf("%w: section %s disappeared", ordering.ErrConcurrentModification, sectionID)
	}
	s.ParentID = newParentID
	m.st.sections[sectionID] = s
	return nil
}

func (m *memSections) CreateAtEnd(ctx context.Context, serverID string, parentID *string, name string) (models.Section, error) {
	sibs, _ := m.ListSiblings(ctx, serverID, parentID)
	now := time.Now()
	s := models.Section{
		ID:        m.db.nextID("sec"),
		ServerID:  serverID,
		Name:      name,
		Position:  len(sibs),
		ParentID:  parentID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.st.sections[s.ID] = s
	return s, nil
}

func (m *memSections) Rename(_ context.Context, sectionID, name string) (models.Section, error) {
	s, ok := m.st.sections[sectionID]
	if !ok {
		return models.Section{}, notFound("section", sectionID)
	}
	s.Name = name
	m.st.sections[sectionID] = s
	return s, nil
}

func (m *memSections) DeleteAndReassignChildren(ctx context.Context, sectionID string, fallbackSectionID *string) error {
	sec, err := m.Get(ctx, sectionID)
	if err != nil {
		return err
	}
	channels := &memChannels{db: m.db, st: m.st}

	childSibs, _ := m.ListSiblings(ctx, sec.ServerID, &sec.ID)
	destSibs, _ := m.ListSiblings(ctx, sec.ServerID, fallbackSectionID)
	destOrder := append(ordering.Remove(ordering.OrderedIDs(destSibs), sec.ID), ordering.OrderedIDs(childSibs)...)

	chanSibs, _ := channels.ListSiblings(ctx, sec.ServerID, &sec.ID)
	destChanSibs, _ := channels.ListSiblings(ctx, sec.ServerID, fallbackSectionID)
	destChanOrder := append(ordering.OrderedIDs(destChanSibs), ordering.OrderedIDs(chanSibs)...)

	for _, c := range childSibs {
		s := m.st.sections[c.ID]
		s.ParentID = fallbackSectionID
		m.st.sections[c.ID] = s
	}
	for _, c := range chanSibs {
		ch := m.st.channels[c.ID]
		ch.SectionID = fallbackSectionID
		m.st.channels[c.ID] = ch
	}
	delete(m.st.sections, sec.ID)

	if err := m.ApplyPositions(ctx, sec.ServerID, fallbackSectionID, ordering.Positions(destOrder)); err != nil {
		return err
	}
	if err := channels.ApplyPositions(ctx, sec.ServerID, fallbackSectionID, ordering.Positions(destChanOrder)); err != nil {
		return err
	}
	if !eqPtr(sec.ParentID, fallbackSectionID) {
		rest, _ := m.ListSiblings(ctx, sec.ServerID, sec.ParentID)
		return m.ApplyPositions(ctx, sec.ServerID, sec.ParentID, ordering.Positions(ordering.OrderedIDs(rest)))
	}
	return nil
}

// ----- channels -----

type memChannels struct {
	db *memDB
	st *memState
}

func (m *memChannels) Get(_ context.Context, id string) (models.Channel, error) {
	c, ok := m.st.channels[id]
	if !ok {
		return models.Channel{}, notFound("channel", id)
	}
	return c, nil
}

func (m *memChannels) ListSiblings(_ context.Context, serverID string, sectionID *string) ([]models.Sibling, error) {
	var out []models.Sibling
	for _, c := range m.st.channels {
		if c.ServerID == serverID && eqPtr(c.SectionID, sectionID) {
			out = append(out, models.Sibling{ID: c.ID, Position: c.Position})
		}
	}
	sortSiblings(out)
	return out, nil
}

func (m *memChannels) ListByServer(_ context.Context, serverID string) ([]models.Channel, error) {
	var out []models.Channel
	for _, c := range m.st.channels {
		if c.ServerID == serverID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memChannels) ApplyPositions(_ context.Context, serverID string, sectionID *string, mp ordering.Mapping) error {
	for id, pos := range mp {
		c, ok := m.st.channels[id]
		if !ok || c.ServerID != serverID || !eqPtr(c.SectionID, sectionID) {
			return fmt.Errorf("%w: channels row %s left its sibling list", ordering.ErrConcurrentModification, id)
		}
		c.Position = pos
		m.st.channels[id] = c
	}
	total := 0
	for _, c := range m.st.channels {
		if c.ServerID == serverID && eqPtr(c.SectionID, sectionID) {
			total++
		}
	}
	if total != len(mp) {
		return fmt.Errorf("%w: channels list has %d rows, mapping covers %d", ordering.ErrConcurrentModification, total, len(mp))
	}
	return nil
}

func (m *memChannels) MoveToSection(_ context.Context, channelID string, newSectionID *string) error {
	c, ok := m.st.channels[channelID]
	if !ok {
		return fmt.Errorf("%w: channel %s disappeared", ordering.ErrConcurrentModification, channelID)
	}
	c.SectionID = newSectionID
	m.st.channels[channelID] = c
	return nil
}

func (m *memChannels) CreateAtEnd(ctx context.Context, serverID string, sectionID *string, name string, typ models.ChannelType) (models.Channel, error) {
	sibs, _ := m.ListSiblings(ctx, serverID, sectionID)
	now := time.Now()
	c := models.Channel{
		ID:        m.db.nextID("ch"),
		ServerID:  serverID,
		Name:      name,
		Type:      typ,
		SectionID: sectionID,
		Position:  len(sibs),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.st.channels[c.ID] = c
	return c, nil
}

func (m *memChannels) Delete(ctx context.Context, channelID string) error {
	c, err := m.Get(ctx, channelID)
	if err != nil {
		return err
	}
	delete(m.st.channels, channelID)
	rest, _ := m.ListSiblings(ctx, c.ServerID, c.SectionID)
	return m.ApplyPositions(ctx, c.ServerID, c.SectionID, ordering.Positions(ordering.OrderedIDs(rest)))
}

func sortSiblings(s []models.Sibling) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Position != s[j].Position {
			return s[i].Position < s[j].Position
		}
		return s[i].ID < s[j].ID
	})
}

// ----- seed helpers -----

func (db *memDB) addServer(id, defaultSection string, admins ...string) {
	db.state.servers[id] = models.Server{ID: id, Name: id, DefaultSectionName: defaultSection}
	db.state.admins[id] = map[string]bool{}
	for _, a := range admins {
		db.state.admins[id][a] = true
	}
}

func (db *memDB) addSection(id, serverID, name string, parentID *string) {
	pos := 0
	for _, s := range db.state.sections {
		if s.ServerID == serverID && eqPtr(s.ParentID, parentID) {
			pos++
		}
	}
	db.state.sections[id] = models.Section{ID: id, ServerID: serverID, Name: name, Position: pos, ParentID: parentID}
}

func (db *memDB) addChannel(id, serverID string, sectionID *string) {
	pos := 0
	for _, c := range db.state.channels {
		if c.ServerID == serverID && eqPtr(c.SectionID, sectionID) {
			pos++
		}
	}
	db.state.channels[id] = models.Channel{ID: id, ServerID: serverID, Name: id, Type: models.ChannelTypeText, SectionID: sectionID, Position: pos}
}
