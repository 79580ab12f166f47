package dbpool

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"encore.app/pkg/logging"
)

//encore:service
type Service struct {
	mgr *Manager
}

var svc *Service

func initService() (*Service, error) {
	svc = &Service{}
	return svc, nil
}

// Configure builds the primary/replica pools from descriptors and starts
// the manager's health prober. Kept as an explicit call (not done inside
// initService) because dialing the database at Encore's generated-init
// time would make every test that imports this package require a live
// Postgres instance.
func (s *Service) Configure(ctx context.Context, primary Descriptor, replicas []Descriptor, probeInterval time.Duration, breakerCooldown time.Duration) error {
	pdb, err := pgxpool.New(ctx, primary.DSN)
	if err != nil {
		return err
	}
	primaryPool := newPool(primary, pdb, breakerCooldown)

	replicaPools := make([]*Pool, 0, len(replicas))
	for _, d := range replicas {
		rdb, err := pgxpool.New(ctx, d.DSN)
		if err != nil {
			return err
		}
		replicaPools = append(replicaPools, newPool(d, rdb, breakerCooldown))
	}

	s.mgr = New(primaryPool, replicaPools, probeInterval)
	return nil
}

type QueryRequest struct {
	SQL        string        `json:"sql"`
	Args       []interface{} `json:"args,omitempty"`
	Operation  string        `json:"operation"`
	UseReplica bool          `json:"use_replica"`
	TimeoutMS  int           `json:"timeout_ms"`
	Retries    int           `json:"retries"`
	RequestID  string        `json:"request_id,omitempty"`
}

type QueryResponse struct {
	Rows       []map[string]interface{} `json:"rows"`
	RowCount   int                      `json:"row_count"`
	Pool       string                   `json:"pool"`
	DurationMS int64                    `json:"duration_ms"`
}

//encore:api public method=POST path=/dbpool/query
func Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = logging.NewRequestID()
	}
	res, err := svc.mgr.Query(ctx, req.SQL, req.Args, QueryOptions{
		Operation:  req.Operation,
		UseReplica: req.UseReplica,
		Timeout:    time.Duration(req.TimeoutMS) * time.Millisecond,
		Retries:    req.Retries,
		RequestID:  requestID,
	})
	if err != nil {
		return nil, err
	}
	return &QueryResponse{Rows: res.Rows, RowCount: res.RowCount, Pool: res.Pool, DurationMS: res.Duration.Milliseconds()}, nil
}

type HealthResponse struct {
	Overall  bool            `json:"overall"`
	Primary  bool            `json:"primary"`
	Replicas map[string]bool `json:"replicas"`
}

//encore:api public method=GET path=/dbpool/health
func Health(ctx context.Context) (*HealthResponse, error) {
	st := svc.mgr.Status()
	return &HealthResponse{Overall: st.Overall, Primary: st.Primary, Replicas: st.Replicas}, nil
}
