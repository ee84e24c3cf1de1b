// Package mqtt publishes session and detection summaries to an MQTT broker,
// for home-automation or monitoring consumers.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"media-analyzer-go/config"
	"media-analyzer-go/internal/core/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Notifier wraps the MQTT client and its configuration.
type Notifier struct {
	cfg    config.MQTTConfig
	client mqtt.Client
}

type sessionPayload struct {
	Event      string            `json:"event"`
	SessionID  string            `json:"session_id"`
	StreamKey  string            `json:"stream_key"`
	SourceType models.SourceType `json:"source_type,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

type analysisPayload struct {
	AnalysisID string  `json:"analysis_id"`
	StreamID   string  `json:"stream_id"`
	Detections int     `json:"detections"`
	Objects    int     `json:"objects"`
	Logos      int     `json:"logos"`
	Texts      int     `json:"texts"`
	Brightness float64 `json:"brightness,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

// NewNotifier creates and configures a new MQTT notifier. It returns
// (nil, nil) when MQTT is disabled in the configuration.
func NewNotifier(cfg config.MQTTConfig) (*Notifier, error) {
	if !cfg.Enabled {
		log.Info("MQTT notifier is disabled in the configuration.")
		return nil, nil
	}

	n := &Notifier{cfg: cfg}

	brokerURL := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Errorf("MQTT connection lost: %v. Attempting to reconnect...", err)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		log.Infof("Successfully connected to MQTT broker: %s", brokerURL)
	})
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	n.client = mqtt.NewClient(opts)
	return n, nil
}

// Start connects to the MQTT broker.
func (n *Notifier) Start() error {
	brokerURL := fmt.Sprintf("tcp://%s:%d", n.cfg.Broker, n.cfg.Port)
	log.Infof("Attempting to connect to MQTT broker: %s", brokerURL)
	if token := n.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker %s: %v", brokerURL, token.Error())
		// Rely on auto-reconnect from here on.
		return token.Error()
	}
	return nil
}

// Stop disconnects the MQTT client.
func (n *Notifier) Stop() {
	if n.client != nil && n.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		n.client.Disconnect(250)
		log.Info("MQTT client disconnected.")
	}
}

// PublishSessionStarted announces a newly activated stream session.
func (n *Notifier) PublishSessionStarted(session models.StreamSession) {
	n.publish("session", sessionPayload{
		Event:      "started",
		SessionID:  session.ID,
		StreamKey:  session.StreamKey,
		SourceType: session.SourceType,
		Timestamp:  time.Now(),
	})
}

// PublishSessionStopped announces the end of a stream session.
func (n *Notifier) PublishSessionStopped(sessionID, streamKey string) {
	n.publish("session", sessionPayload{
		Event:     "stopped",
		SessionID: sessionID,
		StreamKey: streamKey,
		Timestamp: time.Now(),
	})
}

// PublishAnalysis publishes a per-analysis detection summary.
func (n *Notifier) PublishAnalysis(analysis models.Analysis) {
	payload := analysisPayload{
		AnalysisID: analysis.ID,
		StreamID:   analysis.StreamID,
		Detections: len(analysis.Detections),
		Timestamp:  analysis.Timestamp,
	}
	for _, d := range analysis.Detections {
		switch d.DetectionType {
		case models.DetectionObject:
			payload.Objects++
		case models.DetectionLogo:
			payload.Logos++
		case models.DetectionText:
			payload.Texts++
		}
	}
	if analysis.Visual != nil {
		payload.Brightness = analysis.Visual.BrightnessLevel
	}
	n.publish("analysis", payload)
}

func (n *Notifier) publish(subtopic string, payload any) {
	if n.client == nil || !n.client.IsConnected() {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("Failed to marshal MQTT payload: %v", err)
		return
	}

	topic := n.cfg.TopicPrefix + "/" + subtopic
	token := n.client.Publish(topic, 0, false, data)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Warnf("Failed to publish to %s: %v", topic, token.Error())
		}
	}()
}
