// Package pipeline turns a job payload into provider output and persisted
// artifacts. Each task type has one pipeline in a static registry.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"brandgen/internal/artifacts"
	"brandgen/internal/domain"
	"brandgen/internal/providers"
	"brandgen/internal/router"
)

// Phase is a progress checkpoint. Phase boundaries are where cancellation is
// observed.
type Phase struct {
	Name     string
	Progress int
}

var (
	PhaseComposing  = Phase{Name: "composing", Progress: 10}
	PhaseGenerating = Phase{Name: "generating", Progress: 40}
	PhasePersisting = Phase{Name: "persisting", Progress: 80}
	PhaseDone       = Phase{Name: "done", Progress: 100}
)

// Reporter receives phase transitions. A non-nil error, typically
// domain.ErrCancelled, aborts the pipeline.
type Reporter interface {
	Phase(ctx context.Context, p Phase) error
}

// Router is the routing dependency of a pipeline.
type Router interface {
	Route(ctx context.Context, tt domain.TaskType, call providers.Call) (*router.Result, error)
}

// Outcome is what a successful run stores on the job.
type Outcome struct {
	Result    *domain.JobResult
	ModelUsed string
	Cost      float64
	// Reused is set when a previous delivery already persisted the output.
	Reused bool
}

// Pipeline executes one job.
type Pipeline interface {
	Run(ctx context.Context, job *domain.Job, rep Reporter) (*Outcome, error)
}

// Deps are shared by every pipeline.
type Deps struct {
	Router Router
	Store  artifacts.Store
}

// Registry maps task types to pipelines.
type Registry map[domain.TaskType]Pipeline

// NewRegistry builds the registry. Every task type has an entry.
func NewRegistry(d Deps) Registry {
	return Registry{
		domain.TaskLogo:              &generation{deps: d, compose: composeLogo},
		domain.TaskMockup:            &generation{deps: d, compose: composeMockup},
		domain.TaskBundleComposition: &generation{deps: d, compose: composeBundle},
		domain.TaskAnalysis:          &generation{deps: d, compose: composeAnalysis},
		domain.TaskVideo:             &generation{deps: d, compose: composeVideo},
	}
}

// Lookup returns the pipeline for a task type.
func (r Registry) Lookup(tt domain.TaskType) (Pipeline, error) {
	p, ok := r[tt]
	if !ok {
		return nil, fmt.Errorf("%w: no pipeline for %q", domain.ErrInvalidPayload, tt)
	}
	return p, nil
}

type composeFunc func(p domain.Payload) (providers.Call, error)

// generation is compose, route, persist.
type generation struct {
	deps    Deps
	compose composeFunc
}

func (g *generation) Run(ctx context.Context, job *domain.Job, rep Reporter) (*Outcome, error) {
	if err := rep.Phase(ctx, PhaseComposing); err != nil {
		return nil, err
	}
	payload, err := domain.DecodePayload(job.Type, job.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	call, err := g.compose(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	call.RequestID = job.ID

	if m, ok, err := artifacts.LoadManifest(ctx, g.deps.Store, job.ID); err != nil {
		return nil, err
	} else if ok {
		return &Outcome{Result: m.Result(), ModelUsed: m.Provider + "/" + m.Model, Cost: m.Cost, Reused: true}, nil
	}

	if err := rep.Phase(ctx, PhaseGenerating); err != nil {
		return nil, err
	}
	res, err := g.deps.Router.Route(ctx, job.Type, call)
	if err != nil {
		return nil, err
	}
	if err := rep.Phase(ctx, PhasePersisting); err != nil {
		return nil, err
	}

	out := res.Output
	if job.Type != domain.TaskAnalysis && len(out.Assets) == 0 {
		return nil, providers.BadResponse(res.Provider, res.Model, errors.New("no assets returned"))
	}
	blobs := make([]artifacts.Blob, 0, len(out.Assets))
	for _, a := range out.Assets {
		blobs = append(blobs, artifacts.Blob{Data: a.Data, MIME: a.MIME, Width: a.Width, Height: a.Height})
	}
	m, err := artifacts.Persist(ctx, g.deps.Store, artifacts.Manifest{
		JobID:     job.ID,
		Text:      out.Text,
		Provider:  res.Provider,
		Model:     res.Model,
		Cost:      res.Cost,
		CreatedAt: job.UpdatedAt,
	}, blobs)
	if err != nil {
		return nil, err
	}
	result := m.Result()
	if res.FellBack {
		result.Metadata = map[string]any{"fallback": true}
	}
	return &Outcome{Result: result, ModelUsed: res.ModelUsed(), Cost: res.Cost}, nil
}
