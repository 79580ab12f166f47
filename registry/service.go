package registry

import (
	"context"
	"time"
)

//encore:service
type Service struct {
	reg *Registry
}

var svc *Service

func initService() (*Service, error) {
	svc = &Service{reg: New()}
	return svc, nil
}

// Registry exposes the live registry for in-process registration by
// other services' init code.
func (s *Service) Registry() *Registry { return s.reg }

type StartResponse struct {
	Results []InitResult `json:"results"`
}

//encore:api private method=POST path=/registry/start
func Start(ctx context.Context) (*StartResponse, error) {
	results, err := svc.reg.Start(ctx)
	if err != nil {
		return &StartResponse{Results: results}, err
	}
	return &StartResponse{Results: results}, nil
}

type ShutdownRequest struct {
	DeadlineMS int `json:"deadline_ms"`
}

type ShutdownResponse struct {
	Errors map[string]string `json:"errors"`
}

//encore:api private method=POST path=/registry/shutdown
func Shutdown(ctx context.Context, req *ShutdownRequest) (*ShutdownResponse, error) {
	deadline := time.Duration(req.DeadlineMS) * time.Millisecond
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	errs := svc.reg.Shutdown(ctx, deadline)
	out := make(map[string]string, len(errs))
	for k, v := range errs {
		out[k] = v.Error()
	}
	return &ShutdownResponse{Errors: out}, nil
}

type HealthResponse struct {
	Components []HealthReport `json:"components"`
}

//encore:api public method=GET path=/registry/health
func Health(ctx context.Context) (*HealthResponse, error) {
	return &HealthResponse{Components: svc.reg.Health(ctx)}, nil
}
