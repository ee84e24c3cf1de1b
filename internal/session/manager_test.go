package session

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"media-analyzer-go/config"
	"media-analyzer-go/internal/core/models"
	"media-analyzer-go/internal/integrations/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	streams    []models.Stream
	listErrs   []error
	listCalls  int
	webcamErr  error
	startErr   error
	stopErr    error
	stopped    []string
	started    []string
	created    []string
	deleted    []int
	webcamHLS  string
	rtmpHLS    string
	webcamKey  string
}

func (f *fakeRegistry) List(ctx context.Context) ([]models.Stream, error) {
	call := f.listCalls
	f.listCalls++
	if call < len(f.listErrs) && f.listErrs[call] != nil {
		return nil, f.listErrs[call]
	}
	return f.streams, nil
}

func (f *fakeRegistry) Create(ctx context.Context, name string, sourceType models.SourceType, mode models.ProcessingMode) (*models.Stream, error) {
	f.created = append(f.created, name)
	return &models.Stream{ID: len(f.created), Name: name, SourceType: sourceType}, nil
}

func (f *fakeRegistry) StartWebcam(ctx context.Context) (*models.Stream, error) {
	if f.webcamErr != nil {
		return nil, f.webcamErr
	}
	key := f.webcamKey
	if key == "" {
		key = "webcam-9516729d"
	}
	f.started = append(f.started, key)
	return &models.Stream{StreamKey: key, HLSPlaylistURL: f.webcamHLS}, nil
}

func (f *fakeRegistry) Start(ctx context.Context, streamKey string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, streamKey)
	return f.rtmpHLS, nil
}

func (f *fakeRegistry) Stop(ctx context.Context, streamKey string) error {
	f.stopped = append(f.stopped, streamKey)
	return f.stopErr
}

func (f *fakeRegistry) Delete(ctx context.Context, id int) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeAnalysis struct {
	connected    []string
	sessions     []string
	disconnects  int
}

func (f *fakeAnalysis) Connect(streamKey, sessionID string) (string, error) {
	f.connected = append(f.connected, streamKey)
	f.sessions = append(f.sessions, sessionID)
	return sessionID, nil
}

func (f *fakeAnalysis) Disconnect() { f.disconnects++ }

type fakeStore struct {
	session *models.StreamSession
	loadErr error
	saves   int
	clears  int
}

func (f *fakeStore) Save(session models.StreamSession) error {
	f.session = &session
	f.saves++
	return nil
}

func (f *fakeStore) Load() (*models.StreamSession, bool, error) {
	if f.loadErr != nil {
		return nil, false, f.loadErr
	}
	if f.session == nil {
		return nil, false, nil
	}
	return f.session, true, nil
}

func (f *fakeStore) Clear() error {
	f.session = nil
	f.clears++
	return nil
}

func newTestManager(reg *fakeRegistry, analysis *fakeAnalysis, store *fakeStore) *Manager {
	m := NewManager(reg, analysis, store,
		config.BackendConfig{HLSPrefix: "/streaming"},
		config.SessionConfig{MaxAge: time.Hour, SettleDelay: 0, ValidateOnRestore: false},
	)
	m.discoverDelay = 0
	return m
}

func TestStartWebcam_ActivatesSession(t *testing.T) {
	reg := &fakeRegistry{webcamHLS: "http://nginx-rtmp:8081/webcam-9516729d.m3u8"}
	analysis := &fakeAnalysis{}
	store := &fakeStore{}
	m := newTestManager(reg, analysis, store)

	require.NoError(t, m.StartWebcam(context.Background()))

	state := m.State().Get()
	assert.Equal(t, PhaseActive, state.Phase)
	require.NotNil(t, state.Session)
	assert.Equal(t, "webcam-9516729d", state.Session.StreamKey)
	assert.Equal(t, "/streaming/webcam-9516729d.m3u8", state.Session.HLSURL)
	assert.Equal(t, models.SourceWebcam, state.Session.SourceType)
	assert.NotEmpty(t, state.Session.ID)
	assert.Empty(t, state.Error)

	// Session was persisted and the analysis feed connected with its id.
	assert.Equal(t, 1, store.saves)
	require.Len(t, analysis.connected, 1)
	assert.Equal(t, "webcam-9516729d", analysis.connected[0])
	assert.Equal(t, state.Session.ID, analysis.sessions[0])
}

func TestStartRtmp_NormalizesHLSURL(t *testing.T) {
	reg := &fakeRegistry{rtmpHLS: "http://nginx-rtmp:8081/hls/rtmp-7.m3u8"}
	m := newTestManager(reg, &fakeAnalysis{}, &fakeStore{})

	require.NoError(t, m.StartRtmp(context.Background(), "rtmp-7"))

	session := m.CurrentSession()
	require.NotNil(t, session)
	assert.Equal(t, "/streaming/rtmp-7.m3u8", session.HLSURL)
	assert.Equal(t, models.SourceRTMP, session.SourceType)
}

func TestStart_ConflictSurfacesBackendMessage(t *testing.T) {
	reg := &fakeRegistry{webcamErr: &registry.APIError{
		Status:  http.StatusConflict,
		Message: "Another stream is already active",
	}}
	m := newTestManager(reg, &fakeAnalysis{}, &fakeStore{})

	err := m.StartWebcam(context.Background())
	require.Error(t, err)

	state := m.State().Get()
	assert.Equal(t, PhaseIdle, state.Phase)
	assert.Nil(t, state.Session)
	assert.Equal(t, "Another stream is already active", state.Error)
}

func TestStart_BodylessConflictGetsFallbackMessage(t *testing.T) {
	reg := &fakeRegistry{webcamErr: &registry.APIError{Status: http.StatusConflict}}
	m := newTestManager(reg, &fakeAnalysis{}, &fakeStore{})

	require.Error(t, m.StartWebcam(context.Background()))
	assert.Equal(t, "Stream conflict - another stream may be active", m.State().Get().Error)
}

func TestStart_StopsPreviousSessionFirst(t *testing.T) {
	reg := &fakeRegistry{
		webcamHLS: "http://nginx-rtmp:8081/webcam-1.m3u8",
		rtmpHLS:   "http://nginx-rtmp:8081/rtmp-7.m3u8",
		webcamKey: "webcam-1",
	}
	analysis := &fakeAnalysis{}
	m := newTestManager(reg, analysis, &fakeStore{})

	require.NoError(t, m.StartWebcam(context.Background()))
	first := m.CurrentSession().ID
	require.NoError(t, m.StartRtmp(context.Background(), "rtmp-7"))

	// The webcam was stopped before the RTMP source started.
	assert.Equal(t, []string{"webcam-1"}, reg.stopped)
	assert.Equal(t, []string{"webcam-1", "rtmp-7"}, reg.started)

	// Exactly one session is live, and it is a new one.
	session := m.CurrentSession()
	require.NotNil(t, session)
	assert.NotEqual(t, first, session.ID)
	assert.Equal(t, "rtmp-7", session.StreamKey)
}

func TestStopCurrent_NoopWhenIdle(t *testing.T) {
	reg := &fakeRegistry{}
	m := newTestManager(reg, &fakeAnalysis{}, &fakeStore{})

	require.NoError(t, m.StopCurrent(context.Background()))
	assert.Empty(t, reg.stopped)
	assert.Equal(t, PhaseIdle, m.State().Get().Phase)
}

func TestStopCurrent_BackendFailureStillClearsSession(t *testing.T) {
	reg := &fakeRegistry{webcamHLS: "http://nginx-rtmp:8081/webcam-1.m3u8", webcamKey: "webcam-1"}
	analysis := &fakeAnalysis{}
	store := &fakeStore{}
	m := newTestManager(reg, analysis, store)

	require.NoError(t, m.StartWebcam(context.Background()))
	reg.stopErr = errors.New("backend unreachable")

	err := m.StopCurrent(context.Background())
	require.Error(t, err)

	state := m.State().Get()
	assert.Equal(t, PhaseIdle, state.Phase)
	assert.Nil(t, state.Session)
	assert.Equal(t, "backend unreachable", state.Error)
	assert.Equal(t, 1, analysis.disconnects)
	assert.Nil(t, store.session)
}

func TestClearError(t *testing.T) {
	reg := &fakeRegistry{webcamErr: &registry.APIError{Status: http.StatusConflict}}
	m := newTestManager(reg, &fakeAnalysis{}, &fakeStore{})

	require.Error(t, m.StartWebcam(context.Background()))
	require.NotEmpty(t, m.State().Get().Error)

	m.ClearError()
	assert.Empty(t, m.State().Get().Error)
}

func TestRestore_ReactivatesRecentSession(t *testing.T) {
	store := &fakeStore{session: &models.StreamSession{
		ID:        "persisted",
		StreamKey: "webcam-1",
		HLSURL:    "/streaming/webcam-1.m3u8",
		StartedAt: time.Now().Add(-30 * time.Minute),
	}}
	analysis := &fakeAnalysis{}
	m := newTestManager(&fakeRegistry{}, analysis, store)

	require.NoError(t, m.Restore(context.Background()))

	state := m.State().Get()
	assert.Equal(t, PhaseActive, state.Phase)
	require.NotNil(t, state.Session)
	assert.Equal(t, "persisted", state.Session.ID)

	// The analysis feed reattaches under the restored session id.
	require.Len(t, analysis.sessions, 1)
	assert.Equal(t, "persisted", analysis.sessions[0])
}

func TestRestore_DiscardsExpiredSession(t *testing.T) {
	store := &fakeStore{session: &models.StreamSession{
		ID:        "stale",
		StreamKey: "webcam-1",
		StartedAt: time.Now().Add(-2 * time.Hour),
	}}
	m := newTestManager(&fakeRegistry{}, &fakeAnalysis{}, store)

	require.NoError(t, m.Restore(context.Background()))

	assert.Equal(t, PhaseIdle, m.State().Get().Phase)
	assert.Nil(t, m.CurrentSession())
	assert.Nil(t, store.session)
}

func TestRestore_NoopWithoutPersistedSession(t *testing.T) {
	m := newTestManager(&fakeRegistry{}, &fakeAnalysis{}, &fakeStore{})

	require.NoError(t, m.Restore(context.Background()))
	assert.Equal(t, PhaseIdle, m.State().Get().Phase)
}

func TestRestore_ValidationDiscardsInactiveStream(t *testing.T) {
	store := &fakeStore{session: &models.StreamSession{
		ID:        "persisted",
		StreamKey: "webcam-1",
		StartedAt: time.Now().Add(-10 * time.Minute),
	}}
	reg := &fakeRegistry{streams: []models.Stream{
		{ID: 1, StreamKey: "webcam-1", Status: models.StatusInactive},
	}}
	m := NewManager(reg, &fakeAnalysis{}, store,
		config.BackendConfig{HLSPrefix: "/streaming"},
		config.SessionConfig{MaxAge: time.Hour, ValidateOnRestore: true},
	)

	require.NoError(t, m.Restore(context.Background()))

	assert.Equal(t, PhaseIdle, m.State().Get().Phase)
	assert.Nil(t, store.session)
}

func TestRestore_ValidationKeepsActiveStream(t *testing.T) {
	store := &fakeStore{session: &models.StreamSession{
		ID:        "persisted",
		StreamKey: "webcam-1",
		StartedAt: time.Now().Add(-10 * time.Minute),
	}}
	reg := &fakeRegistry{streams: []models.Stream{
		{ID: 1, StreamKey: "webcam-1", Status: models.StatusActive},
	}}
	m := NewManager(reg, &fakeAnalysis{}, store,
		config.BackendConfig{HLSPrefix: "/streaming"},
		config.SessionConfig{MaxAge: time.Hour, ValidateOnRestore: true},
	)

	require.NoError(t, m.Restore(context.Background()))
	assert.Equal(t, PhaseActive, m.State().Get().Phase)
}

func TestDiscoverActive_RetriesUntilFound(t *testing.T) {
	reg := &fakeRegistry{
		streams:  []models.Stream{{ID: 1, StreamKey: "webcam-1", Status: models.StatusActive}},
		listErrs: []error{errors.New("boot race"), errors.New("boot race")},
	}
	m := newTestManager(reg, &fakeAnalysis{}, &fakeStore{})

	stream, err := m.DiscoverActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "webcam-1", stream.StreamKey)
	assert.Equal(t, 3, reg.listCalls)
}

func TestDiscoverActive_GivesUpAfterThreeAttempts(t *testing.T) {
	reg := &fakeRegistry{streams: []models.Stream{
		{ID: 1, StreamKey: "webcam-1", Status: models.StatusInactive},
	}}
	m := newTestManager(reg, &fakeAnalysis{}, &fakeStore{})

	_, err := m.DiscoverActive(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveStream)
	assert.Equal(t, 3, reg.listCalls)
}

func TestRefresh_KeepsListOnFailure(t *testing.T) {
	reg := &fakeRegistry{streams: []models.Stream{{ID: 1, StreamKey: "webcam-1"}}}
	m := newTestManager(reg, &fakeAnalysis{}, &fakeStore{})

	m.Refresh(context.Background())
	require.Len(t, m.State().Get().Streams, 1)

	reg.listErrs = []error{nil, errors.New("backend down")}
	reg.listCalls = 1
	m.Refresh(context.Background())
	assert.Len(t, m.State().Get().Streams, 1)
}

func TestNormalizeHLSURL(t *testing.T) {
	m := newTestManager(&fakeRegistry{}, &fakeAnalysis{}, &fakeStore{})

	tests := []struct {
		in   string
		want string
	}{
		{"http://nginx-rtmp:8081/webcam-9516729d.m3u8", "/streaming/webcam-9516729d.m3u8"},
		{"http://nginx-rtmp:8081/hls/rtmp-7.m3u8", "/streaming/rtmp-7.m3u8"},
		{"rtmp-7.m3u8", "/streaming/rtmp-7.m3u8"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.NormalizeHLSURL(tt.in))
	}
}

func TestCreateRtmpSource_RefreshesList(t *testing.T) {
	reg := &fakeRegistry{}
	m := newTestManager(reg, &fakeAnalysis{}, &fakeStore{})

	stream, err := m.CreateRtmpSource(context.Background(), "studio")
	require.NoError(t, err)
	assert.Equal(t, "studio", stream.Name)
	assert.Equal(t, []string{"studio"}, reg.created)
	assert.GreaterOrEqual(t, reg.listCalls, 1)
}

func TestDeleteSource(t *testing.T) {
	reg := &fakeRegistry{}
	m := newTestManager(reg, &fakeAnalysis{}, &fakeStore{})

	require.NoError(t, m.DeleteSource(context.Background(), 42))
	assert.Equal(t, []int{42}, reg.deleted)
}
