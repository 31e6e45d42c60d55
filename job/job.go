package job

import "time"

// MediaType selects which stage sequence the pipeline runs for a job.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Valid reports whether the media type is one the pipeline knows how to run.
func (m MediaType) Valid() bool {
	return m == MediaImage || m == MediaVideo
}

// Status is the lifecycle state of a Job. Transitions only move forward:
// PENDING -> RUNNING -> {COMPLETED | FAILED | CANCELLED}, plus the
// PENDING -> CANCELLED shortcut for jobs cancelled before a worker starts.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ProcessOptions is the option snapshot captured at job creation. A later
// change by the caller never affects a job that is already stored.
type ProcessOptions struct {
	Scale        float64  `json:"scale,omitempty" form:"scale"`
	TargetWidth  int      `json:"targetWidth,omitempty" form:"targetWidth"`
	TargetHeight int      `json:"targetHeight,omitempty" form:"targetHeight"`
	VideoBitrate string   `json:"videoBitrate,omitempty" form:"videoBitrate"`
	OutputFormat string   `json:"outputFormat,omitempty" form:"outputFormat"`
	Mode         string   `json:"mode,omitempty" form:"mode"`
	Strength     *float64 `json:"strength,omitempty" form:"strength"`
	Interpolate  bool     `json:"interpolate,omitempty" form:"interpolate"`
	InterpFactor int      `json:"interpFactor,omitempty" form:"interpFactor"`
}

// Job is one unit of media-processing work and its tracked lifecycle. Records
// are mutated only through the Store, which hands out copies; a caller can
// never observe a half-written job.
type Job struct {
	ID              string         `json:"id"`
	InputPath       string         `json:"-"` // internal storage path, never exposed
	MediaType       MediaType      `json:"mediaType"`
	Options         ProcessOptions `json:"options"`
	Status          Status         `json:"status"`
	OutputPath      string         `json:"outputPath,omitempty"`
	Progress        float64        `json:"progress"`
	Error           string         `json:"error,omitempty"`
	CancelRequested bool           `json:"cancelRequested"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`

	// DownloadURL is filled in by the API layer on outgoing snapshots.
	DownloadURL string `json:"downloadUrl,omitempty"`
}
