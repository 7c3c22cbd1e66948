package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Result is the outcome carried by an asynchronous completion.
type Result int

const (
	ResultOK Result = iota + 1
	ResultFail
)

func (r Result) String() string {
	if r == ResultOK {
		return "ok"
	}
	return "fail"
}

// StatsReceived is delivered by RunCallbacks after RequestCurrentStats.
type StatsReceived struct {
	GameID uint64
	Result Result
}

// Definition describes one achievement of a game catalog.
type Definition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Hidden      bool   `json:"hidden"`
	Icon        int32  `json:"icon"`
}

// ErrInit reports that a session could not be initialized.
var ErrInit = errors.New("achievement service init failed")

// Service is the achievement service session owned by the emulated game process.
// Accessors are synchronous; the stats-ready completion is the one asynchronous
// event and is only delivered from RunCallbacks.
type Service interface {
	Init(appID uint32) error
	Shutdown()
	OnStatsReceived(fn func(StatsReceived))
	RequestCurrentStats() bool
	RunCallbacks()

	NumAchievements() int
	AchievementName(i int) string
	// AchievementDisplayAttribute returns "name", "desc" or "hidden" for id,
	// or "" when unknown.
	AchievementDisplayAttribute(id, key string) string
	Achievement(id string) (achieved bool, ok bool)
	AchievementIcon(id string) int32

	SetAchievement(id string) bool
	ClearAchievement(id string) bool
	StoreStats() bool
}

// EnvAppID is the environment variable carrying the application id to the
// emulated process.
const EnvAppID = "SteamAppId"

// ParseAppID validates a decimal application id.
func ParseAppID(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty app id")
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid app id %q: %w", s, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("invalid app id %q", s)
	}
	return uint32(v), nil
}
