package failover

import (
	"context"
)

//encore:service
type Service struct {
	ctrl *Controller
}

var svc *Service

func initService() (*Service, error) {
	svc = &Service{ctrl: New(DefaultConfig())}
	return svc, nil
}

// Configure replaces the controller's configuration, e.g. to select a
// non-default target-selection strategy at startup.
func (s *Service) Configure(config Config) {
	s.ctrl = New(config)
}

// Controller exposes the live controller to in-process callers such as
// devicepool, which resolves active devices through it directly rather
// than over the network.
func (s *Service) Controller() *Controller { return s.ctrl }

type RegisterRequest struct {
	Device Device `json:"device"`
}

//encore:api private method=POST path=/failover/register
func Register(ctx context.Context, req *RegisterRequest) error {
	svc.ctrl.Register(req.Device)
	return nil
}

type ProbeRequest struct {
	DeviceID    string  `json:"device_id"`
	Healthy     bool    `json:"healthy"`
	HealthScore float64 `json:"health_score"`
}

//encore:api private method=POST path=/failover/probe
func RecordProbe(ctx context.Context, req *ProbeRequest) error {
	return svc.ctrl.RecordProbe(req.DeviceID, req.Healthy, req.HealthScore)
}

type TriggerRequest struct {
	DeviceID string `json:"device_id"`
}

//encore:api public method=POST path=/failover/trigger
func Trigger(ctx context.Context, req *TriggerRequest) error {
	return svc.ctrl.TriggerManual(req.DeviceID)
}

type ActiveResponse struct {
	DeviceID string `json:"device_id"`
	Found    bool   `json:"found"`
}

//encore:api public method=GET path=/failover/active/:group
func Active(ctx context.Context, group string) (*ActiveResponse, error) {
	id, ok := svc.ctrl.ActiveDevice(group)
	return &ActiveResponse{DeviceID: id, Found: ok}, nil
}

type HistoryResponse struct {
	Events []Event `json:"events"`
	Stats  Stats   `json:"stats"`
}

//encore:api public method=GET path=/failover/history
func History(ctx context.Context) (*HistoryResponse, error) {
	return &HistoryResponse{Events: svc.ctrl.History(), Stats: svc.ctrl.StatsSnapshot()}, nil
}
