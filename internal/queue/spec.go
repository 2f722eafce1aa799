package queue

import (
	"time"

	"brandgen/internal/domain"
)

// Lane groups queues by latency expectations and sets their retry ceiling.
type Lane string

const (
	LaneInteractive Lane = "interactive"
	LaneStandard    Lane = "standard"
	LaneBackground  Lane = "background"
)

var laneCeilings = map[Lane]time.Duration{
	LaneInteractive: 30 * time.Second,
	LaneStandard:    2 * time.Minute,
	LaneBackground:  10 * time.Minute,
}

// Spec configures the queue serving one task type.
type Spec struct {
	Name     string
	TaskType domain.TaskType
	Lane     Lane
	// Concurrency is the fleet-wide in-flight ceiling.
	Concurrency int
	BaseDelay   time.Duration
}

var specs = []Spec{
	{Name: "logo-generation", TaskType: domain.TaskLogo, Lane: LaneInteractive, Concurrency: 8, BaseDelay: 2 * time.Second},
	{Name: "brand-analysis", TaskType: domain.TaskAnalysis, Lane: LaneInteractive, Concurrency: 8, BaseDelay: time.Second},
	{Name: "mockup-generation", TaskType: domain.TaskMockup, Lane: LaneStandard, Concurrency: 6, BaseDelay: 5 * time.Second},
	{Name: "video-generation", TaskType: domain.TaskVideo, Lane: LaneStandard, Concurrency: 2, BaseDelay: 10 * time.Second},
	{Name: "bundle-composition", TaskType: domain.TaskBundleComposition, Lane: LaneBackground, Concurrency: 2, BaseDelay: 15 * time.Second},
}

// Specs returns every queue spec.
func Specs() []Spec {
	return append([]Spec(nil), specs...)
}

// SpecFor returns the spec of the queue serving t.
func SpecFor(t domain.TaskType) (Spec, bool) {
	for _, s := range specs {
		if s.TaskType == t {
			return s, true
		}
	}
	return Spec{}, false
}

// MaxDelay is the lane's backoff ceiling.
func (s Spec) MaxDelay() time.Duration {
	return laneCeilings[s.Lane]
}

// Backoff returns min(base * 4^retryCount, ceiling), where retryCount is the
// number of retries already taken.
func (s Spec) Backoff(retryCount int) time.Duration {
	ceiling := s.MaxDelay()
	d := s.BaseDelay
	for i := 0; i < retryCount; i++ {
		if d >= ceiling {
			break
		}
		d *= 4
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}
