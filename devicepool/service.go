package devicepool

import (
	"context"
	"time"

	"encore.app/failover"
)

//encore:service
type Service struct {
	pool *Pool
}

var svc *Service

func initService() (*Service, error) {
	svc = &Service{pool: New(nil, nil, Config{
		Concurrency:    4,
		DefaultRPS:     20,
		ResponseTTL:    5 * time.Second,
		ResponseCacheN: 10000,
	})}
	return svc, nil
}

// Configure supplies the real client factory once device credentials are
// available, and wires the pool's active-device resolution through the
// failover service's live controller.
func (s *Service) Configure(factory ClientFactory, failoverSvc *failover.Service, config Config) {
	s.pool = New(factory, failoverSvc.Controller(), config)
}

type ExecuteRequest struct {
	DeviceID   string `json:"device_id"`
	Command    string `json:"command"`
	Group      string `json:"group,omitempty"`
	CacheReads bool   `json:"cache_reads"`
}

type ExecuteResponse struct {
	Output []byte `json:"output"`
}

//encore:api public method=POST path=/devicepool/execute
func Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	out, err := svc.pool.ExecuteCommand(ctx, req.DeviceID, req.Command, ExecuteOptions{
		Group:      req.Group,
		CacheReads: req.CacheReads,
	})
	if err != nil {
		return nil, err
	}
	return &ExecuteResponse{Output: out}, nil
}

type InvalidateRequest struct {
	DeviceID string `json:"device_id"`
}

//encore:api private method=POST path=/devicepool/invalidate
func Invalidate(ctx context.Context, req *InvalidateRequest) error {
	svc.pool.InvalidateDevice(req.DeviceID)
	return nil
}
