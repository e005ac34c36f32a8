package fakebackend

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/skypro1111/voicesafe/internal/audio"
)

const maxUploadBytes = 10 << 20

// Options configures the fake backend's behavior.
type Options struct {
	// AppKey is the expected bearer token. Empty accepts any request.
	AppKey string

	SamplingRate                float64
	SmartSampling               bool
	SilenceThreshold            float64
	SessionPulseIntervalSeconds int
	PlayerStatsExpiryInDays     int

	// ViolationEvery flags every Nth upload as a violation. Zero never does.
	ViolationEvery int
	Action         string
	ActionMinutes  int

	// Latency is added to every moderation upload.
	Latency time.Duration

	Logger *slog.Logger
	Clock  func() time.Time
}

// Upload is one received moderation request.
type Upload struct {
	UserID          string
	RoomID          string
	UserName        string
	Language        string
	DurationSeconds float64
	RequestID       string
	Info            *audio.WAVInfo
	Violation       bool
}

// Backend is an in-memory stand-in for the moderation service.
type Backend struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	uploads  []Upload
	sessions map[string]int
	reports  int
	sanction map[string]time.Time
}

// New creates a backend with defaults filled in.
func New(opts Options) *Backend {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Action == "" {
		opts.Action = "mute"
	}
	if opts.ActionMinutes <= 0 {
		opts.ActionMinutes = 5
	}
	return &Backend{
		opts:     opts,
		logger:   opts.Logger.With(slog.String("component", "fakebackend")),
		now:      opts.Clock,
		sessions: make(map[string]int),
		sanction: make(map[string]time.Time),
	}
}

// Handler returns the backend's router.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(b.authenticate)

	r.Get("/remote-config", b.handleRemoteConfig)
	r.Post("/products/moderation", b.handleModeration)
	r.Post("/products/moderation/{eventType}", b.handleReport)
	r.Post("/player/session/{op}", b.handleSession)
	r.Get("/player/status/{userID}", b.handlePlayerStatus)

	return r
}

func (b *Backend) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.opts.AppKey != "" && r.Header.Get("Authorization") != "Bearer "+b.opts.AppKey {
			b.fail(w, http.StatusUnauthorized, "invalid app key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) handleRemoteConfig(w http.ResponseWriter, r *http.Request) {
	b.ok(w, map[string]any{
		"samplingRate":                b.opts.SamplingRate,
		"isSmartSamplingEnabled":      b.opts.SmartSampling,
		"audioSilenceThreshold":       b.opts.SilenceThreshold,
		"playerStatsExpiryInDays":     b.opts.PlayerStatsExpiryInDays,
		"sessionPulseIntervalSeconds": b.opts.SessionPulseIntervalSeconds,
	})
}

func (b *Backend) handleModeration(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		b.fail(w, http.StatusBadRequest, "error parsing form")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		b.fail(w, http.StatusBadRequest, "missing audio part")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		b.fail(w, http.StatusInternalServerError, "error reading audio")
		return
	}
	info, err := audio.GetWAVInfo(data)
	if err != nil {
		b.fail(w, http.StatusBadRequest, fmt.Sprintf("invalid WAV: %v", err))
		return
	}

	up := Upload{
		UserID:    r.FormValue("userId"),
		RoomID:    r.FormValue("roomId"),
		UserName:  r.FormValue("username"),
		Language:  r.FormValue("language"),
		RequestID: r.Header.Get("X-Request-ID"),
		Info:      info,
	}
	up.DurationSeconds, _ = strconv.ParseFloat(r.FormValue("durationInSeconds"), 64)
	if up.UserID == "" || up.RoomID == "" {
		b.fail(w, http.StatusBadRequest, "userId and roomId are required")
		return
	}

	if b.opts.Latency > 0 {
		select {
		case <-time.After(b.opts.Latency):
		case <-r.Context().Done():
			return
		}
	}

	now := b.now().UTC()
	b.mu.Lock()
	n := len(b.uploads) + 1
	up.Violation = b.opts.ViolationEvery > 0 && n%b.opts.ViolationEvery == 0
	b.uploads = append(b.uploads, up)
	if up.Violation {
		b.sanction[up.UserID] = now.Add(time.Duration(b.opts.ActionMinutes) * time.Minute)
	}
	b.mu.Unlock()

	b.logger.Info("Moderation request received",
		slog.String("request_id", up.RequestID),
		slog.String("user_id", up.UserID),
		slog.String("room_id", up.RoomID),
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(data)),
		slog.Float64("duration_seconds", up.DurationSeconds),
		slog.Bool("violation", up.Violation),
	)

	actions := []map[string]any{}
	if up.Violation {
		actions = append(actions, map[string]any{
			"action":            b.opts.Action,
			"durationInMinutes": b.opts.ActionMinutes,
			"actionEndDate":     now.Add(time.Duration(b.opts.ActionMinutes) * time.Minute).Format(time.RFC3339),
			"reason":            "toxicity",
		})
	}
	b.ok(w, map[string]any{
		"recommendation": map[string]any{
			"policyName":   "default",
			"hasViolation": up.Violation,
			"actions":      actions,
		},
		"serverTime": now.Format(time.RFC3339Nano),
	})
}

func (b *Backend) handleSession(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "op")
	switch op {
	case "start", "end", "pulse":
	default:
		b.fail(w, http.StatusNotFound, "unknown session operation")
		return
	}

	var req struct {
		PlayerUserID string `json:"playerUserId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerUserID == "" {
		b.fail(w, http.StatusBadRequest, "playerUserId is required")
		return
	}

	b.mu.Lock()
	b.sessions[op]++
	b.mu.Unlock()

	b.logger.Debug("Session call received", slog.String("op", op), slog.String("user_id", req.PlayerUserID))
	b.ok(w, map[string]any{})
}

func (b *Backend) handleReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReporterPlayerUserID string `json:"reporterPlayerUserId"`
		TargetPlayerUserID   string `json:"targetPlayerUserId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReporterPlayerUserID == "" || req.TargetPlayerUserID == "" {
		b.fail(w, http.StatusBadRequest, "reporter and target are required")
		return
	}

	b.mu.Lock()
	b.reports++
	b.mu.Unlock()

	now := b.now().UTC()
	b.ok(w, map[string]any{
		"id":                   uuid.NewString(),
		"productId":            "fake",
		"reporterPlayerUserId": req.ReporterPlayerUserID,
		"reporterRole":         "player",
		"targetPlayerUserId":   req.TargetPlayerUserID,
		"eventType":            chi.URLParam(r, "eventType"),
		"createdAt":            now,
		"updatedAt":            now,
	})
}

func (b *Backend) handlePlayerStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	now := b.now().UTC()

	b.mu.Lock()
	until, sanctioned := b.sanction[userID]
	b.mu.Unlock()

	data := map[string]any{
		"hasViolation": sanctioned,
		"serverTime":   now.Format(time.RFC3339Nano),
	}
	if sanctioned {
		data["activeActionLog"] = map[string]any{
			"actionValue":       b.opts.Action,
			"endDate":           until.Format(time.RFC3339),
			"isActive":          until.After(now),
			"durationInMinutes": b.opts.ActionMinutes,
		}
	}
	b.ok(w, data)
}

// Uploads returns a copy of every received upload.
func (b *Backend) Uploads() []Upload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Upload(nil), b.uploads...)
}

// SessionCalls returns how many session calls of op were received.
func (b *Backend) SessionCalls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[op]
}

// Reports returns how many player reports were received.
func (b *Backend) Reports() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reports
}

func (b *Backend) ok(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusOK, true, "", data)
}

func (b *Backend) fail(w http.ResponseWriter, status int, message string) {
	b.logger.Warn("Rejecting request", slog.Int("status", status), slog.String("message", message))
	writeEnvelope(w, status, false, message, nil)
}

func writeEnvelope(w http.ResponseWriter, status int, ok bool, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"ok":      ok,
		"message": strings.TrimSpace(message),
		"data":    data,
	})
}
