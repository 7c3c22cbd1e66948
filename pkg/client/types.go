package client

import "time"

// LaunchRequest starts the emulated game for an application id.
type LaunchRequest struct {
	AppID uint32 `json:"app_id"`
}

// Handle identifies the live emulated game process.
type Handle struct {
	PID       int       `json:"pid"`
	SessionID string    `json:"session_id"`
	AppID     uint32    `json:"app_id"`
	StartedAt time.Time `json:"started_at"`
}

type LaunchResponse struct {
	OK     bool    `json:"ok"`
	Handle *Handle `json:"handle,omitempty"`
}

// MutationRequest asks for an achievement to be unlocked or relocked.
type MutationRequest struct {
	ID       string `json:"id"`
	Achieved bool   `json:"achieved"`
	Queue    bool   `json:"queue,omitempty"`
}

type PendingMutation struct {
	ID       string `json:"id"`
	Achieved bool   `json:"achieved"`
}

type Achievement struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	Achieved           bool    `json:"achieved"`
	Hidden             bool    `json:"hidden"`
	IconHandle         int32   `json:"icon_handle"`
	GlobalAchievedRate float32 `json:"global_achieved_rate"`
}

type AchievementsResponse struct {
	Count        int           `json:"count"`
	Achievements []Achievement `json:"achievements"`
}

type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// Status mirrors the supervisor status.
type Status struct {
	State        string    `json:"state"`
	Handle       *Handle   `json:"handle,omitempty"`
	Achievements int       `json:"achievements"`
	Achieved     int       `json:"achieved"`
	Pending      int       `json:"pending"`
	Unconfirmed  int       `json:"unconfirmed"`
	LastRefresh  time.Time `json:"last_refresh"`
	Refreshes    uint64    `json:"refreshes"`
	Mutations    uint64    `json:"mutations"`
	Desyncs      uint64    `json:"desyncs"`
	Usage        *Usage    `json:"usage,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
