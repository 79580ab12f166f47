package backup

import (
	"context"
	"time"

	"encore.dev/cron"
)

//encore:service
type Service struct {
	mgr *Manager
}

var svc *Service

func initService() (*Service, error) {
	svc = &Service{mgr: New(Config{Dir: "/var/lib/netbill/backups", Compress: true, Retention: 30 * 24 * time.Hour})}
	return svc, nil
}

// Configure replaces the manager's configuration, e.g. to set the dump/
// restore commands and encryption key at startup once secrets are loaded.
func (s *Service) Configure(config Config) {
	s.mgr = New(config)
}

type CreateRequest struct {
	Type Type `json:"type"`
}

type CreateResponse struct {
	Record *Record `json:"record"`
}

//encore:api public method=POST path=/backup/create
func Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	rec, err := svc.mgr.Create(ctx, req.Type)
	if err != nil {
		return nil, err
	}
	return &CreateResponse{Record: rec}, nil
}

type HistoryResponse struct {
	Records []Record `json:"records"`
}

//encore:api public method=GET path=/backup/history
func History(ctx context.Context) (*HistoryResponse, error) {
	return &HistoryResponse{Records: svc.mgr.History()}, nil
}

// dailyBackup runs a full backup once a day; retention cleanup follows
// immediately after so expired backups don't linger even a day longer
// than configured.
var dailyBackup = cron.NewJob("daily-full-backup", cron.JobConfig{
	Title:    "Daily full backup",
	Schedule: "0 3 * * *",
	Endpoint: RunDailyBackup,
})

//encore:api private method=POST path=/backup/cron/daily
func RunDailyBackup(ctx context.Context) error {
	if _, err := svc.mgr.Create(ctx, Full); err != nil {
		return err
	}
	svc.mgr.ApplyRetention()
	return nil
}
