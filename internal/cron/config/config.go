package cron_config

type Config struct {
	// Mailbox poll pass, every 30 seconds
	CronScheduleOtpPoll string `env:"CRON_SCHEDULE_OTP_POLL" envDefault:"*/30 * * * * *"`
	// Expired code sweep, every 5 minutes
	CronScheduleOtpSweep string `env:"CRON_SCHEDULE_OTP_SWEEP" envDefault:"0 */5 * * * *"`
}
