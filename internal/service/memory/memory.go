package memory

import (
	"fmt"
	"sync"

	"github.com/loykin/samgo/internal/service"
)

// Service is an in-process achievement service. It keeps catalogs and unlock
// state in memory and is used for dry runs and tests.
type Service struct {
	mu       sync.Mutex
	catalogs map[uint32][]service.Definition
	achieved map[uint32]map[string]bool
	appID    uint32
	inited   bool
	cb       func(service.StatsReceived)
	pending  []service.StatsReceived
	requests int
	applied  []string

	// InitErr, when set, makes Init fail.
	InitErr error
}

var _ service.Service = (*Service)(nil)

func New() *Service {
	return &Service{
		catalogs: make(map[uint32][]service.Definition),
		achieved: make(map[uint32]map[string]bool),
	}
}

// AddGame appends definitions to the catalog of appID, in enumeration order.
func (s *Service) AddGame(appID uint32, defs ...service.Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalogs[appID] = append(s.catalogs[appID], defs...)
	if s.achieved[appID] == nil {
		s.achieved[appID] = make(map[string]bool)
	}
}

// SetState seeds the unlock state of one achievement.
func (s *Service) SetState(appID uint32, id string, achieved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.achieved[appID] == nil {
		s.achieved[appID] = make(map[string]bool)
	}
	s.achieved[appID][id] = achieved
}

// Inject queues an arbitrary completion for the next RunCallbacks.
func (s *Service) Inject(ev service.StatsReceived) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
}

// Requests reports how many stats requests reached the service.
func (s *Service) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Applied lists applied mutations as "set:ID" or "clear:ID" in call order.
func (s *Service) Applied() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.applied...)
}

// IsAchieved reports the stored unlock state.
func (s *Service) IsAchieved(appID uint32, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.achieved[appID][id]
}

// Closed reports whether the session is shut down (or was never initialized).
func (s *Service) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.inited
}

func (s *Service) Init(appID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InitErr != nil {
		return fmt.Errorf("%w: %w", service.ErrInit, s.InitErr)
	}
	s.appID = appID
	s.inited = true
	if s.achieved[appID] == nil {
		s.achieved[appID] = make(map[string]bool)
	}
	return nil
}

func (s *Service) Shutdown() {
	s.mu.Lock()
	s.inited = false
	s.mu.Unlock()
}

func (s *Service) OnStatsReceived(fn func(service.StatsReceived)) {
	s.mu.Lock()
	s.cb = fn
	s.mu.Unlock()
}

func (s *Service) RequestCurrentStats() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inited {
		return false
	}
	s.requests++
	s.pending = append(s.pending, service.StatsReceived{GameID: uint64(s.appID), Result: service.ResultOK})
	return true
}

func (s *Service) RunCallbacks() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	cb := s.cb
	s.mu.Unlock()
	if cb == nil {
		return
	}
	for _, ev := range pending {
		cb(ev)
	}
}

func (s *Service) NumAchievements() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.catalogs[s.appID])
}

func (s *Service) AchievementName(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	defs := s.catalogs[s.appID]
	if i < 0 || i >= len(defs) {
		return ""
	}
	return defs[i].ID
}

func (s *Service) AchievementDisplayAttribute(id, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.lookupLocked(id)
	if !ok {
		return ""
	}
	switch key {
	case "name":
		return d.Name
	case "desc":
		return d.Description
	case "hidden":
		if d.Hidden {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

func (s *Service) Achievement(id string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookupLocked(id); !ok {
		return false, false
	}
	return s.achieved[s.appID][id], true
}

func (s *Service) AchievementIcon(id string) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.lookupLocked(id)
	if !ok {
		return 0
	}
	return d.Icon
}

func (s *Service) SetAchievement(id string) bool { return s.apply(id, true) }

func (s *Service) ClearAchievement(id string) bool { return s.apply(id, false) }

func (s *Service) StoreStats() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inited
}

func (s *Service) apply(id string, achieved bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := "clear:"
	if achieved {
		op = "set:"
	}
	s.applied = append(s.applied, op+id)
	if _, ok := s.lookupLocked(id); !ok {
		return false
	}
	s.achieved[s.appID][id] = achieved
	return true
}

func (s *Service) lookupLocked(id string) (service.Definition, bool) {
	for _, d := range s.catalogs[s.appID] {
		if d.ID == id {
			return d, true
		}
	}
	return service.Definition{}, false
}
