package recording

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/skypro1111/voicesafe/internal/moderation"
	"github.com/skypro1111/voicesafe/internal/policy"
)

type uploadResult struct {
	windowID string
	verdict  *moderation.Verdict
	err      error
	duration time.Duration
}

type configResult struct {
	remote *moderation.RemoteConfig
	err    error
}

// dispatchUpload hands a finished window to the uploader on its own
// goroutine. The result is applied by a later Tick.
func (m *Machine) dispatchUpload(wav []byte, windowID string, tel Telemetry, durationSeconds float64) {
	meta := moderation.Metadata{
		UserID:          tel.UserID,
		RoomID:          tel.RoomID,
		UserName:        tel.UserName,
		Language:        tel.Language,
		DurationSeconds: durationSeconds,
		WindowID:        windowID,
	}

	m.uploadsInFlight++
	m.metrics.RecordUploadStarted(len(wav))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.UploadTimeout)
		defer cancel()

		start := time.Now()
		res := uploadResult{windowID: windowID}
		func() {
			defer func() {
				if r := recover(); r != nil {
					res.err = errors.New("uploader panicked")
					m.logger.Error("Uploader panicked", slog.Any("panic", r), slog.String("window_id", windowID))
				}
			}()
			res.verdict, res.err = m.uploader.Submit(ctx, wav, meta)
		}()
		res.duration = time.Since(start)

		select {
		case m.uploads <- res:
		case <-m.ctx.Done():
		}
	}()
}

// scheduleConfigFetch starts a remote policy fetch on the first tick, every
// refresh interval after that, and whenever one was requested. Only one
// fetch runs at a time.
func (m *Machine) scheduleConfigFetch(dt time.Duration) {
	if m.fetcher == nil {
		return
	}
	m.sinceFetch = addSaturating(m.sinceFetch, dt)
	if m.fetchInFlight {
		return
	}

	due := !m.fetchedOnce ||
		m.refreshRequested.Load() ||
		(m.cfg.ConfigRefreshInterval > 0 && m.sinceFetch >= m.cfg.ConfigRefreshInterval)
	if !due {
		return
	}

	m.refreshRequested.Store(false)
	m.fetchedOnce = true
	m.fetchInFlight = true
	m.sinceFetch = 0

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.UploadTimeout)
		defer cancel()

		var res configResult
		func() {
			defer func() {
				if r := recover(); r != nil {
					res.err = errors.New("config fetcher panicked")
					m.logger.Error("Config fetcher panicked", slog.Any("panic", r))
				}
			}()
			res.remote, res.err = m.fetcher.FetchRemoteConfig(ctx)
		}()

		select {
		case m.configs <- res:
		case <-m.ctx.Done():
		}
	}()
}

// drainCompletions applies every finished upload and fetch without blocking.
func (m *Machine) drainCompletions() {
	for {
		select {
		case res := <-m.uploads:
			m.uploadsInFlight--
			m.applyUpload(res)
		case res := <-m.configs:
			m.fetchInFlight = false
			m.applyConfig(res)
		default:
			return
		}
	}
}

func (m *Machine) applyUpload(res uploadResult) {
	log := m.logger.With(
		slog.String("window_id", res.windowID),
		slog.Duration("upload_time", res.duration),
	)

	if res.err != nil {
		kind := uploadFailureKind(res.err)
		m.counters.UploadsFailed++
		m.metrics.RecordUploadFailure(kind, res.duration.Seconds())
		log.Warn("Window upload failed",
			slog.String("kind", kind),
			slog.String("error", res.err.Error()),
		)
		return
	}

	m.counters.UploadsSucceeded++
	m.metrics.RecordUploadSuccess(res.duration.Seconds())

	v := res.verdict
	if v == nil || !v.HasViolation {
		log.Debug("Window passed moderation")
		return
	}
	if len(v.Actions) == 0 {
		log.Info("Violation reported without actions", slog.String("policy", v.PolicyName))
		return
	}

	action := v.Actions[0]
	m.metrics.RecordViolation(action.Action)
	log.Info("Violation detected",
		slog.String("policy", v.PolicyName),
		slog.String("action", action.Action),
		slog.Int("duration_minutes", action.DurationInMinutes),
		slog.Time("server_time", v.ServerTime),
	)
	if len(v.Actions) > 1 {
		log.Debug("Dropping additional actions", slog.Int("dropped", len(v.Actions)-1))
	}

	if m.onAction == nil {
		return
	}
	m.counters.ActionsForwarded++
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Action callback panicked", slog.Any("panic", r))
			}
		}()
		m.onAction(action, v.ServerTime)
	}()
}

func (m *Machine) applyConfig(res configResult) {
	m.counters.ConfigFetches++

	if res.err == nil && res.remote == nil {
		res.err = errors.New("empty remote config")
	}
	if res.err != nil {
		m.counters.ConfigFailures++
		m.lastConfigError = res.err.Error()
		m.metrics.RecordConfigFetch(false, 0, 0)
		m.logger.Warn("Remote config unavailable, keeping previous parameters",
			slog.String("error", res.err.Error()),
		)
		return
	}

	p, err := m.policy.ApplyRemote(*res.remote)
	if err != nil {
		m.counters.ConfigFailures++
		m.lastConfigError = err.Error()
		m.metrics.RecordConfigFetch(false, 0, 0)
		m.logger.Warn("Rejected remote config", slog.String("error", err.Error()))
		return
	}

	m.lastConfigError = ""
	intermission := -1.0
	if p.Intermission != policy.Never {
		intermission = p.Intermission.Seconds()
	}
	m.metrics.RecordConfigFetch(true, p.SamplingRate, intermission)
	m.logger.Info("Applied remote config",
		slog.Float64("sampling_rate", p.SamplingRate),
		slog.Duration("intermission", p.Intermission),
		slog.Float64("silence_threshold", float64(p.SilenceThreshold)),
		slog.Duration("pulse_interval", p.SessionPulseInterval),
		slog.Bool("smart_sampling", p.SmartSampling),
	)
}

func uploadFailureKind(err error) string {
	switch {
	case errors.Is(err, moderation.ErrRejected):
		return "rejected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
