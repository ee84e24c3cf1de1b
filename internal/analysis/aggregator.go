// Package analysis accumulates the live analysis state for the current
// stream session: the latest detections, the latest visual summary and a
// short history of recent analyses.
package analysis

import (
	"sync"

	"media-analyzer-go/internal/core/models"
	"media-analyzer-go/internal/core/pubsub"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// historyDepth bounds the recent-analyses ring.
const historyDepth = 10

// Channel is the slice of the realtime channel the aggregator drives.
type Channel interface {
	Subscribe(streamKey, sessionID string) error
	Unsubscribe()
	Disconnect()
}

// Aggregator folds inbound analysis events into current state. Events are
// accepted only while an active session id is set; anything arriving outside
// a session is a late echo from a closed one and is dropped. The guard is
// presence-only — it does not compare the event's own session id.
type Aggregator struct {
	mu            sync.Mutex
	channel       Channel
	activeSession string

	detections *pubsub.Value[[]models.DetectionResult]
	visual     *pubsub.Value[*models.VisualAnalysis]
	recent     *pubsub.Value[[]models.Analysis]
	accepted   *pubsub.Subject[models.Analysis]
}

// NewAggregator creates an aggregator fed by events and controlling channel.
// events is typically the channel's own analysis stream; it is passed
// separately so tests can inject events directly.
func NewAggregator(channel Channel, events *pubsub.Subject[models.Analysis]) *Aggregator {
	a := &Aggregator{
		channel:    channel,
		detections: pubsub.NewValue([]models.DetectionResult{}),
		visual:     pubsub.NewValue[*models.VisualAnalysis](nil),
		recent:     pubsub.NewValue([]models.Analysis{}),
		accepted:   pubsub.NewSubject[models.Analysis](),
	}
	events.Subscribe(a.handle)
	return a
}

// Detections holds the latest analysis's detection list, replaced wholesale
// on every accepted event. A frame with zero detections clears it.
func (a *Aggregator) Detections() *pubsub.Value[[]models.DetectionResult] {
	return a.detections
}

// Visual holds the latest visual summary. It is only replaced when an
// incoming analysis carries one.
func (a *Aggregator) Visual() *pubsub.Value[*models.VisualAnalysis] {
	return a.visual
}

// Recent holds up to the last 10 analyses, most recent first.
func (a *Aggregator) Recent() *pubsub.Value[[]models.Analysis] {
	return a.recent
}

// Accepted emits every analysis that passed the session gate, after it has
// been folded into state.
func (a *Aggregator) Accepted() *pubsub.Subject[models.Analysis] {
	return a.accepted
}

// ActiveSessionID returns the current session id, or "" when disconnected.
func (a *Aggregator) ActiveSessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activeSession
}

// Connect assigns a new active session id (generating one if sessionID is
// empty), clears all state and subscribes the realtime channel to streamKey.
// It returns the session id in use.
func (a *Aggregator) Connect(streamKey, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	a.mu.Lock()
	a.activeSession = sessionID
	a.mu.Unlock()
	a.clearState()

	if err := a.channel.Subscribe(streamKey, sessionID); err != nil {
		a.mu.Lock()
		a.activeSession = ""
		a.mu.Unlock()
		return "", err
	}

	log.Infof("Analysis aggregator connected to stream %s (session %s)", streamKey, sessionID)
	return sessionID, nil
}

// Disconnect unsubscribes, closes the channel and clears all state and the
// active session id.
func (a *Aggregator) Disconnect() {
	a.channel.Unsubscribe()
	a.channel.Disconnect()

	a.mu.Lock()
	a.activeSession = ""
	a.mu.Unlock()
	a.clearState()

	log.Info("Analysis aggregator disconnected")
}

func (a *Aggregator) clearState() {
	a.detections.Set([]models.DetectionResult{})
	a.visual.Set(nil)
	a.recent.Set([]models.Analysis{})
}

func (a *Aggregator) handle(analysis models.Analysis) {
	a.mu.Lock()
	if a.activeSession == "" {
		a.mu.Unlock()
		log.Debugf("Dropping analysis %s: no active session", analysis.ID)
		return
	}
	a.mu.Unlock()

	history := a.recent.Get()
	updated := make([]models.Analysis, 0, historyDepth)
	updated = append(updated, analysis)
	if len(history) > historyDepth-1 {
		history = history[:historyDepth-1]
	}
	updated = append(updated, history...)
	a.recent.Set(updated)

	detections := analysis.Detections
	if detections == nil {
		detections = []models.DetectionResult{}
	}
	a.detections.Set(detections)

	if analysis.Visual != nil {
		a.visual.Set(analysis.Visual)
	}

	log.Debugf("Analysis update: %d detections, visual=%t, timestamp=%s",
		len(detections), analysis.Visual != nil, analysis.Timestamp)

	a.accepted.Emit(analysis)
}
