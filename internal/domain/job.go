package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskType enumerates the generation work the platform accepts.
type TaskType string

const (
	TaskLogo              TaskType = "logo"
	TaskMockup            TaskType = "mockup"
	TaskBundleComposition TaskType = "bundle_composition"
	TaskAnalysis          TaskType = "analysis"
	TaskVideo             TaskType = "video"
)

// TaskTypes lists every supported task type in a stable order.
func TaskTypes() []TaskType {
	return []TaskType{TaskLogo, TaskMockup, TaskBundleComposition, TaskAnalysis, TaskVideo}
}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskLogo, TaskMockup, TaskBundleComposition, TaskAnalysis, TaskVideo:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed || s == JobStatusCancelled
}

var transitions = map[JobStatus][]JobStatus{
	JobStatusQueued:     {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusComplete, JobStatusQueued, JobStatusFailed, JobStatusCancelled},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the states that may transition into to.
func AllowedFrom(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusQueued, JobStatusProcessing} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

const (
	// DefaultMaxRetries bounds the number of re-enqueues after retryable failures.
	DefaultMaxRetries = 3
	MinPriority       = 0
	MaxPriority       = 9
	DefaultPriority   = 5
)

// Artifact describes one persisted output of a job.
type Artifact struct {
	Key    string `json:"key"`
	URL    string `json:"url"`
	MIME   string `json:"mime"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Bytes  int64  `json:"bytes"`
}

// JobResult is attached to a job once it completes.
type JobResult struct {
	ArtifactURL string         `json:"artifactURL,omitempty"`
	Artifacts   []Artifact     `json:"artifacts,omitempty"`
	Text        string         `json:"text,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	Model       string         `json:"model,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Job is one unit of asynchronous generation work. Jobs are never deleted.
type Job struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"ownerID"`
	EntityID        *string         `json:"entityID,omitempty"`
	Type            TaskType        `json:"type"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	Payload         json.RawMessage `json:"payload"`
	Result          *JobResult      `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	ErrorCode       string          `json:"errorCode,omitempty"`
	RetryCount      int             `json:"retryCount"`
	MaxRetries      int             `json:"maxRetries"`
	ModelUsed       string          `json:"modelUsed,omitempty"`
	Cost            float64         `json:"cost,omitempty"`
	Priority        int             `json:"priority"`
	CancelRequested bool            `json:"cancelRequested,omitempty"`
	SupersedesID    *string         `json:"supersedesID,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// NewJob builds a queued job with a fresh identifier.
func NewJob(ownerID string, entityID *string, taskType TaskType, payload json.RawMessage, priority int, now time.Time) *Job {
	now = now.UTC()
	return &Job{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		EntityID:   entityID,
		Type:       taskType,
		Status:     JobStatusQueued,
		Payload:    payload,
		MaxRetries: DefaultMaxRetries,
		Priority:   ClampPriority(priority),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ClampPriority keeps p inside [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// Clone returns a deep copy safe to hand to another goroutine.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.EntityID != nil {
		v := *j.EntityID
		c.EntityID = &v
	}
	if j.SupersedesID != nil {
		v := *j.SupersedesID
		c.SupersedesID = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		c.StartedAt = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	if j.Result != nil {
		r := *j.Result
		r.Artifacts = append([]Artifact(nil), j.Result.Artifacts...)
		c.Result = &r
	}
	return &c
}
