package migration

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

//encore:service
type Service struct {
	runner *Runner
}

var svc *Service

func initService() (*Service, error) {
	svc = &Service{}
	return svc, nil
}

// Configure wires the runner to a live database, deferred the same way
// dbpool.Service.Configure is, so importing this package doesn't require a
// live Postgres instance.
func (s *Service) Configure(ctx context.Context, db *pgxpool.Pool) error {
	s.runner = New(db)
	return s.runner.EnsureSchema(ctx)
}

type RunRequest struct {
	Migrations        []*Migration `json:"migrations"`
	Direction         string       `json:"direction"` // "up" or "down"
	Target            int64        `json:"target,omitempty"`
	Force             bool         `json:"force,omitempty"`
	RollbackOnFailure bool         `json:"rollback_on_failure,omitempty"`
}

type RunResponse struct {
	Success bool `json:"success"`
}

//encore:api public method=POST path=/migration/run
func Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	dir := Up
	if req.Direction == "down" {
		dir = Down
	}
	err := svc.runner.Run(ctx, req.Migrations, Options{
		Direction: dir, Target: req.Target, Force: req.Force, RollbackOnFailure: req.RollbackOnFailure,
	})
	if err != nil {
		return nil, err
	}
	return &RunResponse{Success: true}, nil
}
