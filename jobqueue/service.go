package jobqueue

import (
	"context"

	"encore.dev/storage/sqldb"
)

var jobDB = sqldb.Named("jobqueue_db")

//encore:service
type Service struct {
	queue *Queue
}

var svc *Service

func initService() (*Service, error) {
	svc = &Service{queue: New(Config{MaxConcurrency: 8, MaxAttempts: 5})}
	return svc, nil
}

// Configure swaps in a durable SQL-backed store and resumes any jobs left
// pending or running from a prior process, then starts the worker loop
// for the given job kind in the background.
func (s *Service) Configure(ctx context.Context, kind string) error {
	store, err := NewSQLStore(jobDB)
	if err != nil {
		return err
	}
	s.queue = New(Config{MaxConcurrency: 8, MaxAttempts: 5, Store: store})
	if err := s.queue.Resume(ctx); err != nil {
		return err
	}
	go s.queue.Run(context.Background(), kind)
	return nil
}

// RegisterHandler exposes handler registration to in-process callers.
func (s *Service) RegisterHandler(kind string, h Handler) {
	s.queue.RegisterHandler(kind, h)
}

type EnqueueRequest struct {
	Band    Band   `json:"band"`
	Payload []byte `json:"payload"`
}

type EnqueueResponse struct {
	Job *Job `json:"job"`
}

//encore:api public method=POST path=/jobqueue/enqueue
func Enqueue(ctx context.Context, req *EnqueueRequest) (*EnqueueResponse, error) {
	job, err := svc.queue.Enqueue(ctx, req.Band, req.Payload)
	if err != nil {
		return nil, err
	}
	return &EnqueueResponse{Job: job}, nil
}

type DepthResponse struct {
	Depth map[Band]int `json:"depth"`
}

//encore:api public method=GET path=/jobqueue/depth
func Depth(ctx context.Context) (*DepthResponse, error) {
	return &DepthResponse{Depth: svc.queue.Depth()}, nil
}
