// Package session orchestrates the stream-session lifecycle: starting and
// stopping sources through the registry, session identity and persistence,
// HLS URL normalization and error surfacing.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"media-analyzer-go/config"
	"media-analyzer-go/internal/core/models"
	"media-analyzer-go/internal/core/pubsub"
	"media-analyzer-go/internal/integrations/registry"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Phase is the session state machine's state. An error is a side-channel,
// not a phase: it coexists with Idle or Active and is cleared explicitly or
// by the next successful operation.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseStarting Phase = "starting"
	PhaseActive   Phase = "active"
	PhaseStopping Phase = "stopping"
)

// State is the observable session state snapshot.
type State struct {
	Phase   Phase                 `json:"phase"`
	Session *models.StreamSession `json:"session"`
	Streams []models.Stream       `json:"streams"`
	Error   string                `json:"error,omitempty"`
}

// Registry is the slice of the registry client the manager uses.
type Registry interface {
	List(ctx context.Context) ([]models.Stream, error)
	Create(ctx context.Context, name string, sourceType models.SourceType, mode models.ProcessingMode) (*models.Stream, error)
	StartWebcam(ctx context.Context) (*models.Stream, error)
	Start(ctx context.Context, streamKey string) (string, error)
	Stop(ctx context.Context, streamKey string) error
	Delete(ctx context.Context, id int) error
}

// Analysis is the slice of the analysis aggregator the manager drives.
type Analysis interface {
	Connect(streamKey, sessionID string) (string, error)
	Disconnect()
}

// Store persists the session across restarts.
type Store interface {
	Save(session models.StreamSession) error
	Load() (*models.StreamSession, bool, error)
	Clear() error
}

// ErrNoActiveStream is returned by DiscoverActive when no attempt found an
// active stream.
var ErrNoActiveStream = errors.New("no active stream found")

// Manager is the stream-session state machine. Operations are not locked
// against each other: a single operator drives them one at a time, and the
// only ordering enforced is that a start always stops the previous session
// first.
type Manager struct {
	registry Registry
	analysis Analysis
	store    Store

	hlsPrefix         string
	maxAge            time.Duration
	settleDelay       time.Duration
	validateOnRestore bool
	discoverDelay     time.Duration

	state *pubsub.Value[State]
}

// NewManager creates a session manager.
func NewManager(reg Registry, analysis Analysis, store Store, backendCfg config.BackendConfig, sessionCfg config.SessionConfig) *Manager {
	return &Manager{
		registry:          reg,
		analysis:          analysis,
		store:             store,
		hlsPrefix:         strings.TrimSuffix(backendCfg.HLSPrefix, "/"),
		maxAge:            sessionCfg.MaxAge,
		settleDelay:       sessionCfg.SettleDelay,
		validateOnRestore: sessionCfg.ValidateOnRestore,
		discoverDelay:     time.Second,
		state:             pubsub.NewValue(State{Phase: PhaseIdle}),
	}
}

// State exposes the observable session state.
func (m *Manager) State() *pubsub.Value[State] {
	return m.state
}

// CurrentSession returns the live session, or nil.
func (m *Manager) CurrentSession() *models.StreamSession {
	return m.state.Get().Session
}

// ClearError clears the error side-channel.
func (m *Manager) ClearError() {
	m.update(func(s *State) { s.Error = "" })
}

// StartWebcam stops any existing session, asks the backend to start the
// webcam source and activates a new session for it.
func (m *Manager) StartWebcam(ctx context.Context) error {
	return m.start(ctx, func(ctx context.Context) (string, string, error) {
		stream, err := m.registry.StartWebcam(ctx)
		if err != nil {
			return "", "", err
		}
		return stream.StreamKey, stream.HLSPlaylistURL, nil
	}, models.SourceWebcam)
}

// StartRtmp stops any existing session, starts ingestion for streamKey and
// activates a new session for it.
func (m *Manager) StartRtmp(ctx context.Context, streamKey string) error {
	return m.start(ctx, func(ctx context.Context) (string, string, error) {
		hlsURL, err := m.registry.Start(ctx, streamKey)
		if err != nil {
			return "", "", err
		}
		return streamKey, hlsURL, nil
	}, models.SourceRTMP)
}

func (m *Manager) start(ctx context.Context, startFn func(context.Context) (string, string, error), sourceType models.SourceType) error {
	m.update(func(s *State) {
		s.Phase = PhaseStarting
		s.Error = ""
	})

	// Stop always precedes start: best-effort ordering, a no-op when idle.
	if err := m.StopCurrent(ctx); err != nil {
		log.Warnf("Stopping previous session before start failed: %v", err)
	}
	m.update(func(s *State) {
		s.Phase = PhaseStarting
		s.Error = ""
	})

	streamKey, hlsURL, err := startFn(ctx)
	if err != nil {
		msg := errorMessage(err)
		m.update(func(s *State) {
			s.Phase = PhaseIdle
			s.Error = msg
		})
		log.Errorf("Failed to start %s stream: %v", sourceType, err)
		return err
	}

	session := models.StreamSession{
		ID:         uuid.NewString(),
		StreamKey:  streamKey,
		HLSURL:     m.NormalizeHLSURL(hlsURL),
		SourceType: sourceType,
		StartedAt:  time.Now(),
	}

	if err := m.store.Save(session); err != nil {
		log.Warnf("Failed to persist session: %v", err)
	}

	m.update(func(s *State) {
		s.Phase = PhaseActive
		s.Session = &session
	})

	if _, err := m.analysis.Connect(session.StreamKey, session.ID); err != nil {
		log.Warnf("Failed to connect analysis feed: %v", err)
	}

	// Give the backend a moment to materialize the HLS playlist before the
	// stream list is refreshed and a player picks up the URL.
	m.settle(ctx)
	m.Refresh(ctx)

	log.Infof("Started %s session %s for stream %s", sourceType, session.ID, streamKey)
	return nil
}

// StopCurrent stops the live session. It is a no-op without one. The backend
// stop is best-effort: its failure is recorded in the error side-channel,
// but the local session is cleared regardless.
func (m *Manager) StopCurrent(ctx context.Context) error {
	session := m.CurrentSession()
	if session == nil {
		return nil
	}

	m.update(func(s *State) {
		s.Phase = PhaseStopping
		s.Error = ""
	})

	stopErr := m.registry.Stop(ctx, session.StreamKey)
	if stopErr != nil {
		log.Errorf("Failed to stop stream %s: %v", session.StreamKey, stopErr)
	}

	m.analysis.Disconnect()

	if err := m.store.Clear(); err != nil {
		log.Warnf("Failed to clear persisted session: %v", err)
	}

	m.update(func(s *State) {
		s.Phase = PhaseIdle
		s.Session = nil
		if stopErr != nil {
			s.Error = errorMessage(stopErr)
		}
	})

	m.Refresh(ctx)

	if stopErr != nil {
		return stopErr
	}
	log.Infof("Stopped session %s", session.ID)
	return nil
}

// CreateRtmpSource registers a new RTMP source and refreshes the stream
// list. It does not select or start the new source.
func (m *Manager) CreateRtmpSource(ctx context.Context, name string) (*models.Stream, error) {
	stream, err := m.registry.Create(ctx, name, models.SourceRTMP, models.ModeLive)
	if err != nil {
		msg := errorMessage(err)
		m.update(func(s *State) { s.Error = msg })
		return nil, err
	}

	m.Refresh(ctx)
	return stream, nil
}

// DeleteSource deletes a registry entry and refreshes the stream list.
// Callers must not pass the active source; that precondition is checked at
// the API layer, which knows the id-to-key mapping from the stream list.
func (m *Manager) DeleteSource(ctx context.Context, id int) error {
	if err := m.registry.Delete(ctx, id); err != nil {
		msg := errorMessage(err)
		m.update(func(s *State) { s.Error = msg })
		return err
	}

	m.Refresh(ctx)
	return nil
}

// Restore reactivates a persisted session if it is younger than the
// configured maximum age; older sessions are discarded. When restore
// validation is enabled, the registry must still report the stream active,
// otherwise the session is discarded as stale.
func (m *Manager) Restore(ctx context.Context) error {
	session, ok, err := m.store.Load()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	age := time.Since(session.StartedAt)
	if age >= m.maxAge {
		log.Infof("Discarding persisted session %s (age %s)", session.ID, age.Round(time.Second))
		if err := m.store.Clear(); err != nil {
			log.Warnf("Failed to clear expired session: %v", err)
		}
		return nil
	}

	if m.validateOnRestore {
		active, err := m.streamIsActive(ctx, session.StreamKey)
		if err != nil {
			log.Warnf("Could not validate persisted session %s: %v", session.ID, err)
		} else if !active {
			log.Infof("Discarding persisted session %s: backend no longer reports stream %s active",
				session.ID, session.StreamKey)
			if err := m.store.Clear(); err != nil {
				log.Warnf("Failed to clear stale session: %v", err)
			}
			return nil
		}
	}

	m.update(func(s *State) {
		s.Phase = PhaseActive
		s.Session = session
		s.Error = ""
	})

	if _, err := m.analysis.Connect(session.StreamKey, session.ID); err != nil {
		log.Warnf("Failed to reconnect analysis feed for restored session: %v", err)
	}

	log.Infof("Restored session %s for stream %s", session.ID, session.StreamKey)
	return nil
}

// DiscoverActive looks for a backend-side active stream, retrying a fixed
// three attempts one second apart. This is the legacy fallback used when no
// local session exists.
func (m *Manager) DiscoverActive(ctx context.Context) (*models.Stream, error) {
	const attempts = 3

	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.discoverDelay):
			}
		}

		streams, err := m.registry.List(ctx)
		if err != nil {
			log.Warnf("Active-stream discovery attempt %d failed: %v", i+1, err)
			continue
		}
		for idx := range streams {
			if streams[idx].Status == models.StatusActive {
				return &streams[idx], nil
			}
		}
	}

	return nil, ErrNoActiveStream
}

// Refresh reloads the stream list from the registry. Failures are logged
// only; the list keeps its previous value.
func (m *Manager) Refresh(ctx context.Context) {
	streams, err := m.registry.List(ctx)
	if err != nil {
		log.Errorf("Failed to load streams: %v", err)
		return
	}
	m.update(func(s *State) { s.Streams = streams })
}

// NormalizeHLSURL rewrites a backend-provided playlist URL to the
// browser-relative HLS prefix, keeping only the final path segment. The
// backend's host and port are internal topology the player must not see.
func (m *Manager) NormalizeHLSURL(hlsURL string) string {
	parts := strings.Split(hlsURL, "/")
	filename := parts[len(parts)-1]
	return m.hlsPrefix + "/" + filename
}

func (m *Manager) streamIsActive(ctx context.Context, streamKey string) (bool, error) {
	streams, err := m.registry.List(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range streams {
		if s.StreamKey == streamKey {
			return s.Status == models.StatusActive, nil
		}
	}
	return false, nil
}

func (m *Manager) settle(ctx context.Context) {
	if m.settleDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(m.settleDelay):
	}
}

func (m *Manager) update(mutate func(*State)) {
	s := m.state.Get()
	mutate(&s)
	m.state.Set(s)
}

// errorMessage maps an operation failure to the human-readable string the
// state's error side-channel carries. A backend 409 surfaces the backend's
// conflict reason verbatim.
func errorMessage(err error) string {
	var apiErr *registry.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if apiErr.Status == 409 {
			return "Stream conflict - another stream may be active"
		}
		return apiErr.Error()
	}
	return err.Error()
}
