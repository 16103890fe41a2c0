// Package service is the request/response boundary over ingestion, queries
// and campaigns. Every failure leaves as a *Rejection.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"followcast/internal/campaign"
	"followcast/internal/ingest"
	"followcast/internal/jobs"
	"followcast/internal/logging"
	"followcast/internal/model"
	"followcast/internal/query"
)

// Service keeps cache builds and campaign runs for one account mutually
// exclusive.
type Service struct {
	jobs      *jobs.Manager
	query     *query.Engine
	campaigns *campaign.Registry

	mu sync.Mutex
}

func New(jm *jobs.Manager, q *query.Engine, reg *campaign.Registry) *Service {
	reg.Busy = jm.Building
	return &Service{jobs: jm, query: q, campaigns: reg}
}

// BuildAck acknowledges a started cache build.
type BuildAck struct {
	Account   string      `json:"account"`
	Mode      ingest.Mode `json:"mode"`
	StartedAt time.Time   `json:"started_at"`
}

// CampaignAck acknowledges a started campaign run.
type CampaignAck struct {
	RunID      string `json:"run_id"`
	CampaignID string `json:"campaign_id"`
	Account    string `json:"account"`
	DryRun     bool   `json:"dry_run"`
}

func requireAccount(account string) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return "", reject(CodeInvalidInput, "account is required", nil)
	}
	return account, nil
}

func (s *Service) GetCacheStatus(ctx context.Context, account string) (model.CacheStatus, error) {
	account, err := requireAccount(account)
	if err != nil {
		return model.CacheStatus{}, err
	}
	st, err := s.jobs.Status(ctx, account)
	if err != nil {
		return model.CacheStatus{}, reject(CodeStorageError, "failed to read cache status", err)
	}
	return st, nil
}

// BuildCache starts a background build and returns at once.
func (s *Service) BuildCache(account, mode string) (BuildAck, error) {
	account, err := requireAccount(account)
	if err != nil {
		return BuildAck{}, err
	}
	m, err := ingest.ParseMode(mode)
	if err != nil {
		return BuildAck{}, &Rejection{Code: CodeInvalidInput, Message: err.Error(), Details: map[string]any{"mode": mode}}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.campaigns.Running(account) {
		return BuildAck{}, reject(CodeCampaignRunning, "a campaign is running for this account", nil)
	}
	task, err := s.jobs.StartBuild(account, m)
	if errors.Is(err, jobs.ErrBuildRunning) {
		return BuildAck{}, reject(CodeIngestionRunning, "a cache build is already running for this account", err)
	}
	if err != nil {
		return BuildAck{}, reject(CodeInternalError, "failed to start cache build", err)
	}
	logging.Info("cache_build_started", map[string]any{"account": account, "mode": string(m)})
	return BuildAck{Account: account, Mode: m, StartedAt: task.Started}, nil
}

func (s *Service) QueryFollowers(ctx context.Context, p query.Params) ([]model.Follower, error) {
	rows, err := s.query.Followers(ctx, p)
	if errors.Is(err, query.ErrInvalid) {
		return nil, reject(CodeInvalidInput, err.Error(), err)
	}
	if err != nil {
		return nil, reject(CodeStorageError, "failed to query followers", err)
	}
	return rows, nil
}

// RunCampaign validates d and starts it in the background.
func (s *Service) RunCampaign(d campaign.Descriptor) (CampaignAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.campaigns.Submit(d)
	if err != nil {
		return CampaignAck{}, campaignRejection(err)
	}
	snap := run.Snapshot()
	return CampaignAck{RunID: snap.RunID, CampaignID: snap.CampaignID, Account: snap.Account, DryRun: snap.DryRun}, nil
}

func campaignRejection(err error) *Rejection {
	var verr *campaign.ValidationError
	switch {
	case errors.As(err, &verr):
		details := make(map[string]any, len(verr.Fields))
		for k, v := range verr.Fields {
			details[k] = v
		}
		return &Rejection{Code: CodeValidationFailed, Message: "campaign descriptor is invalid", Details: details, Cause: err}
	case errors.Is(err, campaign.ErrInvalid):
		return reject(CodeValidationFailed, err.Error(), err)
	case errors.Is(err, campaign.ErrAlreadyRunning):
		return reject(CodeCampaignRunning, "a campaign is already running for this account", err)
	case errors.Is(err, campaign.ErrIngestionRunning):
		return reject(CodeIngestionRunning, "a cache build is running for this account", err)
	}
	return reject(CodeInternalError, "failed to start campaign", err)
}

// CampaignStatus returns the latest run for account.
func (s *Service) CampaignStatus(account string) (campaign.Snapshot, error) {
	account, err := requireAccount(account)
	if err != nil {
		return campaign.Snapshot{}, err
	}
	run, ok := s.campaigns.Last(account)
	if !ok {
		return campaign.Snapshot{}, reject(CodeNotFound, "no campaign has run for this account", nil)
	}
	return run.Snapshot(), nil
}
