package models

import (
	"time"

	"gorm.io/datatypes"
)

// SourceType identifies where a stream's video comes from.
type SourceType string

const (
	SourceRTMP   SourceType = "rtmp"
	SourceWebcam SourceType = "webcam"
	SourceFile   SourceType = "file"
	SourceURL    SourceType = "url"
)

// ProcessingMode selects how the backend analyzes a stream.
type ProcessingMode string

const (
	ModeLive  ProcessingMode = "live"
	ModeBatch ProcessingMode = "batch"
)

// StreamStatus is the backend-reported lifecycle state of a stream source.
type StreamStatus string

const (
	StatusInactive StreamStatus = "inactive"
	StatusStarting StreamStatus = "starting"
	StatusActive   StreamStatus = "active"
	StatusStopping StreamStatus = "stopping"
	StatusError    StreamStatus = "error"
)

// Stream mirrors a registry entry owned by the backend. The client treats it
// as read-only; the backend enforces that at most one stream is active.
type Stream struct {
	ID             int            `json:"id"`
	Name           string         `json:"name"`
	SourceType     SourceType     `json:"source_type"`
	ProcessingMode ProcessingMode `json:"processing_mode"`
	Status         StreamStatus   `json:"status"`
	StreamKey      string         `json:"stream_key"`
	HLSPlaylistURL string         `json:"hls_playlist_url,omitempty"`
	RTMPIngestURL  string         `json:"rtmp_ingest_url,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

// StreamSession is the client-owned, ephemeral record of a started stream.
// Exactly zero or one session is live at a time.
type StreamSession struct {
	ID         string     `json:"id"`
	StreamKey  string     `json:"streamKey"`
	HLSURL     string     `json:"hlsUrl"`
	SourceType SourceType `json:"sourceType"`
	StartedAt  time.Time  `json:"startedAt"`
}

// DetectionType classifies what kind of region a detection describes.
type DetectionType string

const (
	DetectionObject DetectionType = "object"
	DetectionLogo   DetectionType = "logo"
	DetectionText   DetectionType = "text"
)

// BoundingBox is a normalized unit-square rectangle: all fields are in [0,1]
// relative to the frame dimensions.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DetectionResult is a single labeled region found within a video frame.
type DetectionResult struct {
	ID            string         `json:"id"`
	Label         string         `json:"label"`
	Confidence    float64        `json:"confidence"`
	BBox          BoundingBox    `json:"bbox"`
	DetectionType DetectionType  `json:"detection_type"`
	Metadata      datatypes.JSON `json:"metadata,omitempty"`
}

// VisualAnalysis is a frame-level visual summary. DominantColors is ordered
// most dominant first, each entry an RGB triple.
type VisualAnalysis struct {
	DominantColors   [][]int  `json:"dominant_colors"`
	BrightnessLevel  float64  `json:"brightness_level"`
	ContrastLevel    *float64 `json:"contrast_level,omitempty"`
	SaturationLevel  *float64 `json:"saturation_level,omitempty"`
	ActivityScore    *float64 `json:"activity_score,omitempty"`
	SceneDescription string   `json:"scene_description,omitempty"`
}

// Analysis is one backend-emitted analysis event for a frame. Events arrive
// in backend order; the client never reorders them.
type Analysis struct {
	ID             string            `json:"id"`
	StreamID       string            `json:"stream_id"`
	SessionID      string            `json:"session_id,omitempty"`
	Timestamp      string            `json:"timestamp"`
	ProcessingTime float64           `json:"processing_time,omitempty"`
	AnalysisType   string            `json:"analysis_type"`
	FrameTimestamp float64           `json:"frame_timestamp"`
	Provider       string            `json:"provider"`
	Detections     []DetectionResult `json:"detections"`
	Visual         *VisualAnalysis   `json:"visual,omitempty"`
}
