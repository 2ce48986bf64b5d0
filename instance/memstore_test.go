package instance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store. Transactions run against a copy that is only
// committed when fn succeeds, and the active-name uniqueness of the real schema is enforced.
type memStore struct {
	mu         sync.Mutex
	instances  map[string]*Instance
	info       map[string][]Info
	events     []Event
	heartbeats []Heartbeat

	// failure injection
	eventErr      error
	deactivateErr error
	expireErr     map[string]error
	beforeExpire  func(s *memStore, id string)
	beforeCreate  func(s *memStore)
}

var _ Store = &memStore{}

func newMemStore() *memStore {
	return &memStore{
		instances: make(map[string]*Instance),
		info:      make(map[string][]Info),
		expireErr: make(map[string]error),
	}
}

func (s *memStore) clone() *memStore {
	c := &memStore{
		instances:     make(map[string]*Instance, len(s.instances)),
		info:          make(map[string][]Info, len(s.info)),
		events:        append([]Event(nil), s.events...),
		heartbeats:    append([]Heartbeat(nil), s.heartbeats...),
		eventErr:      s.eventErr,
		deactivateErr: s.deactivateErr,
		expireErr:     s.expireErr,
		beforeExpire:  s.beforeExpire,
		beforeCreate:  s.beforeCreate,
	}
	for id, inst := range s.instances {
		cp := *inst
		c.instances[id] = &cp
	}
	for id, info := range s.info {
		c.info[id] = append([]Info(nil), info...)
	}
	return c
}

func (s *memStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.clone()
	if err := fn(tx); err != nil {
		return err
	}
	s.instances = tx.instances
	s.info = tx.info
	s.events = tx.events
	s.heartbeats = tx.heartbeats
	return nil
}

func (s *memStore) nameTaken(name, exceptID string) bool {
	for _, inst := range s.instances {
		if inst.Active && inst.Name == name && inst.ID != exceptID {
			return true
		}
	}
	return false
}

func (s *memStore) GetByID(ctx context.Context, id string) (*Instance, error) {
	inst, ok := s.instances[id]
	if !ok {
		return nil, nil
	}
	cp := *inst
	return &cp, nil
}

func (s *memStore) FindActiveByName(ctx context.Context, name string) (*Instance, error) {
	for _, inst := range s.instances {
		if inst.Active && inst.Name == name {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) Create(ctx context.Context, inst *Instance) error {
	if _, ok := s.instances[inst.ID]; ok {
		return fmt.Errorf("duplicate id %s", inst.ID)
	}
	if s.beforeCreate != nil {
		s.beforeCreate(s)
	}
	if inst.Active && s.nameTaken(inst.Name, inst.ID) {
		return ErrNameTaken
	}
	cp := *inst
	s.instances[inst.ID] = &cp
	return nil
}

func (s *memStore) Refresh(ctx context.Context, opt RefreshOption) (int64, error) {
	inst, ok := s.instances[opt.InstanceID]
	if !ok {
		return 0, nil
	}
	if s.nameTaken(inst.Name, inst.ID) {
		return 0, ErrNameTaken
	}
	inst.Address = nullable(opt.Addresses.Address)
	inst.IPv4 = nullable(opt.Addresses.IPv4)
	inst.IPv6 = nullable(opt.Addresses.IPv6)
	inst.Active = true
	inst.LastHeartbeat = opt.LastHeartbeat
	if opt.Port > 0 {
		inst.Port = opt.Port
	}
	if opt.Version != "" {
		inst.Version = opt.Version
	}
	return 1, nil
}

func (s *memStore) Deactivate(ctx context.Context, opt DeactivateOption) (int64, error) {
	if s.deactivateErr != nil {
		return 0, s.deactivateErr
	}
	var n int64
	for _, inst := range s.instances {
		if !inst.Active {
			continue
		}
		if opt.ClientID != "" && (inst.ClientID != opt.ClientID || inst.ID == opt.ExceptID) {
			continue
		}
		if opt.InstanceID != "" && inst.ID != opt.InstanceID {
			continue
		}
		inst.Active = false
		if opt.ClearAddresses {
			inst.Address, inst.IPv4, inst.IPv6 = nil, nil, nil
		}
		if !opt.LastHeartbeat.IsZero() {
			inst.LastHeartbeat = opt.LastHeartbeat
		}
		n++
	}
	return n, nil
}

func (s *memStore) ReplaceInfo(ctx context.Context, id string, info []Info) error {
	rows := make([]Info, len(info))
	for i := range info {
		rows[i] = Info{ID: uint(i + 1), InstanceID: id, Name: info[i].Name, Value: info[i].Value}
	}
	s.info[id] = rows
	return nil
}

func (s *memStore) AppendEvent(ctx context.Context, id string, eventType EventType, at time.Time) error {
	if s.eventErr != nil {
		return s.eventErr
	}
	s.events = append(s.events, Event{
		ID:         uint(len(s.events) + 1),
		InstanceID: id,
		EventType:  eventType,
		CreatedAt:  at,
	})
	return nil
}

func (s *memStore) AppendHeartbeat(ctx context.Context, hb *Heartbeat) error {
	cp := *hb
	cp.ID = uint(len(s.heartbeats) + 1)
	s.heartbeats = append(s.heartbeats, cp)
	return nil
}

func (s *memStore) summaries(keep func(*Instance) bool) []Summary {
	seen := make(map[Summary]struct{})
	results := make([]Summary, 0)
	for _, inst := range s.instances {
		if !keep(inst) {
			continue
		}
		sum := Summary{Name: inst.Name, Version: inst.Version}
		if _, ok := seen[sum]; ok {
			continue
		}
		seen[sum] = struct{}{}
		results = append(results, sum)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Name == results[j].Name {
			return results[i].Version < results[j].Version
		}
		return results[i].Name < results[j].Name
	})
	return results
}

func (s *memStore) ListActive(ctx context.Context) ([]Summary, error) {
	return s.summaries(func(inst *Instance) bool { return inst.Active }), nil
}

func (s *memStore) ListSeenSince(ctx context.Context, since time.Time) ([]Summary, error) {
	return s.summaries(func(inst *Instance) bool { return !inst.LastHeartbeat.Before(since) }), nil
}

func (s *memStore) ListInfo(ctx context.Context, id string) ([]Info, error) {
	return append([]Info{}, s.info[id]...), nil
}

func (s *memStore) ListExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids := make([]string, 0)
	for _, inst := range s.instances {
		if inst.Active && inst.LastHeartbeat.Before(cutoff) {
			ids = append(ids, inst.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) Expire(ctx context.Context, id string, cutoff time.Time) (int64, error) {
	if s.beforeExpire != nil {
		s.beforeExpire(s, id)
	}
	if err := s.expireErr[id]; err != nil {
		return 0, err
	}
	inst, ok := s.instances[id]
	if !ok || !inst.Active || !inst.LastHeartbeat.Before(cutoff) {
		return 0, nil
	}
	inst.Active = false
	inst.Address, inst.IPv4, inst.IPv6 = nil, nil, nil
	return 1, nil
}

// test helpers, called outside of any transaction

func (s *memStore) get(id string) *Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil
	}
	cp := *inst
	return &cp
}

func (s *memStore) put(inst Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = &inst
}

func (s *memStore) activeCount(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, inst := range s.instances {
		if inst.Active && inst.ClientID == clientID {
			n++
		}
	}
	return n
}

func (s *memStore) eventTypes(id string) []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]EventType, 0)
	for _, e := range s.events {
		if e.InstanceID == id {
			types = append(types, e.EventType)
		}
	}
	return types
}

func (s *memStore) heartbeatCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, hb := range s.heartbeats {
		if hb.InstanceID == id {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
