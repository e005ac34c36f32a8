package moderation

import (
	"strings"
	"time"
)

// Metadata describes one uploaded window. Identity fields are read from the
// host's telemetry at flush time.
type Metadata struct {
	UserID          string
	RoomID          string
	UserName        string
	Language        string
	DurationSeconds float64
	WindowID        string
}

// ActionItem is one enforcement action recommended by the backend.
type ActionItem struct {
	Action            string    `json:"action"`
	DurationInMinutes int       `json:"duration_in_minutes"`
	Reason            string    `json:"reason"`
	EndDate           time.Time `json:"end_date,omitempty"`

	// EffectiveUntil is derived from the verdict's server time, never from
	// the local clock. Zero when the server time was missing.
	EffectiveUntil time.Time `json:"effective_until,omitempty"`
}

// Verdict is the moderation decision for one uploaded window.
type Verdict struct {
	PolicyName   string       `json:"policy_name"`
	HasViolation bool         `json:"has_violation"`
	Actions      []ActionItem `json:"actions"`
	ServerTime   time.Time    `json:"server_time"`
}

// RemoteConfig is the tunable policy the backend publishes.
type RemoteConfig struct {
	SamplingRate                float64 `json:"samplingRate"`
	IsSmartSamplingEnabled      bool    `json:"isSmartSamplingEnabled"`
	AudioSilenceThreshold       float64 `json:"audioSilenceThreshold"`
	PlayerStatsExpiryInDays     int     `json:"playerStatsExpiryInDays"`
	SessionPulseIntervalSeconds int     `json:"sessionPulseIntervalSeconds"`
}

// ActionLog is the enforcement currently recorded against a player.
type ActionLog struct {
	ActionValue       string    `json:"action_value"`
	EndDate           time.Time `json:"end_date"`
	IsActive          bool      `json:"is_active"`
	DurationInMinutes int       `json:"duration_in_minutes"`
}

// PlayerStatus is the backend's view of a player's standing.
type PlayerStatus struct {
	HasViolation    bool       `json:"has_violation"`
	ActiveActionLog *ActionLog `json:"active_action_log,omitempty"`
	ServerTime      time.Time  `json:"server_time"`
}

// ModerationEvent is the record created by a player report.
type ModerationEvent struct {
	ID                   string    `json:"id"`
	ProductID            string    `json:"productId"`
	ReporterPlayerUserID string    `json:"reporterPlayerUserId"`
	ReporterRole         string    `json:"reporterRole"`
	TargetPlayerUserID   string    `json:"targetPlayerUserId"`
	EventType            string    `json:"eventType"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// envelope is the common response wrapper of every backend endpoint.
type envelope[T any] struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

type recommendationData struct {
	Recommendation struct {
		PolicyName   string       `json:"policyName"`
		HasViolation bool         `json:"hasViolation"`
		Actions      []actionWire `json:"actions"`
	} `json:"recommendation"`
	ServerTime string `json:"serverTime"`
}

type actionWire struct {
	Action            string `json:"action"`
	DurationInMinutes int    `json:"durationInMinutes"`
	ActionEndDate     string `json:"actionEndDate"`
	Reason            string `json:"reason"`
}

type playerStatusData struct {
	HasViolation    bool `json:"hasViolation"`
	ActiveActionLog *struct {
		ActionValue       string `json:"actionValue"`
		EndDate           string `json:"endDate"`
		IsActive          bool   `json:"isActive"`
		DurationInMinutes int    `json:"durationInMinutes"`
	} `json:"activeActionLog"`
	ServerTime string `json:"serverTime"`
}

type playerRequest struct {
	PlayerUserID string `json:"playerUserId"`
}

type reportRequest struct {
	ReporterPlayerUserID string `json:"reporterPlayerUserId"`
	TargetPlayerUserID   string `json:"targetPlayerUserId"`
}

// serverTimeLayouts are the timestamp forms the backend has been seen to
// emit. Timestamps without a zone are UTC.
var serverTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseServerTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range serverTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (d *recommendationData) verdict() *Verdict {
	v := &Verdict{
		PolicyName:   d.Recommendation.PolicyName,
		HasViolation: d.Recommendation.HasViolation,
		Actions:      make([]ActionItem, 0, len(d.Recommendation.Actions)),
	}
	v.ServerTime, _ = parseServerTime(d.ServerTime)

	for _, a := range d.Recommendation.Actions {
		item := ActionItem{
			Action:            a.Action,
			DurationInMinutes: a.DurationInMinutes,
			Reason:            a.Reason,
		}
		item.EndDate, _ = parseServerTime(a.ActionEndDate)
		if !v.ServerTime.IsZero() {
			item.EffectiveUntil = v.ServerTime.Add(time.Duration(a.DurationInMinutes) * time.Minute)
		}
		v.Actions = append(v.Actions, item)
	}
	return v
}

func (d *playerStatusData) status() *PlayerStatus {
	s := &PlayerStatus{HasViolation: d.HasViolation}
	s.ServerTime, _ = parseServerTime(d.ServerTime)
	if l := d.ActiveActionLog; l != nil {
		s.ActiveActionLog = &ActionLog{
			ActionValue:       l.ActionValue,
			IsActive:          l.IsActive,
			DurationInMinutes: l.DurationInMinutes,
		}
		s.ActiveActionLog.EndDate, _ = parseServerTime(l.EndDate)
	}
	return s
}
