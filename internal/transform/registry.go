package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/veilcall/morph/internal/domain"
)

// ModelParams are the resolved transformation parameters for one job.
// Zero-ref streams resolve to a nil entry, meaning "leave unchanged".
type ModelParams struct {
	Face  *ModelSpec
	Voice *ModelSpec
}

// ModelSpec is whatever the registry knows about one model.
type ModelSpec struct {
	Ref     domain.ModelRef    `json:"ref"`
	Name    string             `json:"name"`
	Weights map[string]float64 `json:"weights,omitempty"`
}

// Resolver maps a session's opaque model refs to transformation parameters.
// The pipeline calls it once per job, so implementations should be cheap.
type Resolver interface {
	Resolve(ctx context.Context, cfg domain.TransformConfig) (ModelParams, error)
}

// Static resolves from a fixed in-memory set. Unknown refs resolve to a
// bare spec rather than erroring, which keeps passthrough setups working
// without a registry.
type Static struct {
	mu    sync.RWMutex
	specs map[domain.ModelRef]*ModelSpec
}

func NewStatic(specs map[domain.ModelRef]*ModelSpec) *Static {
	if specs == nil {
		specs = make(map[domain.ModelRef]*ModelSpec)
	}
	return &Static{specs: specs}
}

func (s *Static) Add(spec *ModelSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[spec.Ref] = spec
}

func (s *Static) Resolve(_ context.Context, cfg domain.TransformConfig) (ModelParams, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ModelParams{
		Face:  s.lookup(cfg.Face),
		Voice: s.lookup(cfg.Voice),
	}, nil
}

func (s *Static) lookup(ref domain.ModelRef) *ModelSpec {
	if ref == "" {
		return nil
	}
	if spec, ok := s.specs[ref]; ok {
		return spec
	}
	return &ModelSpec{Ref: ref}
}

// HTTPRegistry resolves refs against an external model registry service
// (GET <base>/models/<ref>).
type HTTPRegistry struct {
	base   string
	client *http.Client
}

func NewHTTPRegistry(base string) *HTTPRegistry {
	return &HTTPRegistry{
		base:   base,
		client: &http.Client{Timeout: 2 * time.Second},
	}
}

func (r *HTTPRegistry) Resolve(ctx context.Context, cfg domain.TransformConfig) (ModelParams, error) {
	var params ModelParams
	var err error
	if params.Face, err = r.fetch(ctx, cfg.Face); err != nil {
		return ModelParams{}, err
	}
	if params.Voice, err = r.fetch(ctx, cfg.Voice); err != nil {
		return ModelParams{}, err
	}
	return params, nil
}

func (r *HTTPRegistry) fetch(ctx context.Context, ref domain.ModelRef) (*ModelSpec, error) {
	if ref == "" {
		return nil, nil
	}
	u := fmt.Sprintf("%s/models/%s", r.base, url.PathEscape(string(ref)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry fetch %q: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry fetch %q: status %d", ref, resp.StatusCode)
	}
	var spec ModelSpec
	if err := json.NewDecoder(resp.Body).Decode(&spec); err != nil {
		return nil, fmt.Errorf("registry decode %q: %w", ref, err)
	}
	if spec.Ref == "" {
		spec.Ref = ref
	}
	return &spec, nil
}
