package cron

import (
	"context"
	"sync"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"

	cron_config "github.com/credstack/credstack/internal/cron/config"
	"github.com/credstack/credstack/internal/logger"
	"github.com/credstack/credstack/internal/tracing"
)

const (
	// GroupOtp serializes the jobs that touch account otp columns
	GroupOtp = "otp"
)

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupOtp: new(sync.Mutex),
	},
}

// OTPJobs is the slice of the scheduler the cron manager drives.
type OTPJobs interface {
	PollOnce(ctx context.Context)
	SweepOnce(ctx context.Context)
}

type CronManager struct {
	log    logger.Logger
	cron   *cronv3.Cron
	stopCh chan struct{}
	jobIDs map[string]cronv3.EntryID
	jobs   OTPJobs
}

func NewCronManager(log logger.Logger, jobs OTPJobs) *CronManager {
	return &CronManager{
		log:    log,
		stopCh: make(chan struct{}),
		jobIDs: make(map[string]cronv3.EntryID),
		jobs:   jobs,
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

// Stop gracefully stops the cron manager and waits for running jobs
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	if cronConfig.CronScheduleOtpPoll != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleOtpPoll, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.jobs.PollOnce(context.Background())
		})
		if err != nil {
			cm.log.Fatalf("Could not add otp poll cron job: %v", err)
		}
		cm.jobIDs["otp_poll"] = id
		cm.log.Infof("Registered otp poll job with schedule: %s", cronConfig.CronScheduleOtpPoll)
	}

	if cronConfig.CronScheduleOtpSweep != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleOtpSweep, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupOtp].Lock()
			defer jobLocks.locks[GroupOtp].Unlock()
			cm.jobs.SweepOnce(context.Background())
		})
		if err != nil {
			cm.log.Fatalf("Could not add otp sweep cron job: %v", err)
		}
		cm.jobIDs["otp_sweep"] = id
		cm.log.Infof("Registered otp sweep job with schedule: %s", cronConfig.CronScheduleOtpSweep)
	}
}
