package config

import "time"

type AppConfig struct {
	DBDriver      string              `yaml:"db_driver" env:"RESTOTRACK_DB_DRIVER" env-default:"sqlite"`
	DBURL         string              `yaml:"db_url" env:"RESTOTRACK_DB_URL"`
	DBPath        string              `yaml:"db_path" env:"RESTOTRACK_DB_PATH" env-default:"data/restotrack.db"`
	ListenAddr    string              `yaml:"listen_addr" env:"RESTOTRACK_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	AppEnv        string              `yaml:"app_env" env:"RESTOTRACK_APP_ENV"`
	EncryptionKey string              `yaml:"encryption_key" env:"RESTOTRACK_ENCRYPTION_KEY"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Escalation    EscalationConfig    `yaml:"escalation"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Unread        UnreadConfig        `yaml:"unread"`
}

type SchedulerConfig struct {
	Enabled         bool `yaml:"enabled" env:"RESTOTRACK_SCHEDULER_ENABLED" env-default:"true"`
	IntervalSeconds int  `yaml:"interval_seconds" env:"RESTOTRACK_SCHEDULER_INTERVAL_SECONDS" env-default:"15"`
	MaxJobsPerTick  int  `yaml:"max_jobs_per_tick" env:"RESTOTRACK_SCHEDULER_MAX_JOBS_PER_TICK" env-default:"20"`
}

type EscalationConfig struct {
	DefaultTimeoutMinutes int `yaml:"default_timeout_minutes" env:"RESTOTRACK_ESCALATION_DEFAULT_TIMEOUT_MINUTES" env-default:"10"`
}

type NotificationsConfig struct {
	EmailAPIURL    string `yaml:"email_api_url" env:"RESTOTRACK_NOTIFY_EMAIL_API_URL"`
	EmailAPIKeyEnc string `yaml:"email_api_key_enc" env:"RESTOTRACK_NOTIFY_EMAIL_API_KEY_ENC"`
	EmailFrom      string `yaml:"email_from" env:"RESTOTRACK_NOTIFY_EMAIL_FROM" env-default:"alerts@restotrack.local"`
	SMSAPIURL      string `yaml:"sms_api_url" env:"RESTOTRACK_NOTIFY_SMS_API_URL"`
	SMSAPIKeyEnc   string `yaml:"sms_api_key_enc" env:"RESTOTRACK_NOTIFY_SMS_API_KEY_ENC"`
	SMSFromNumber  string `yaml:"sms_from_number" env:"RESTOTRACK_NOTIFY_SMS_FROM_NUMBER"`
	TimeoutSec     int    `yaml:"timeout_sec" env:"RESTOTRACK_NOTIFY_TIMEOUT_SEC" env-default:"10"`
}

type UnreadConfig struct {
	CacheSize int `yaml:"cache_size" env:"RESTOTRACK_UNREAD_CACHE_SIZE" env-default:"4096"`
}

const minDispatchInterval = 5 * time.Second

func (c *AppConfig) DispatchInterval() time.Duration {
	interval := minDispatchInterval
	if c != nil && c.Scheduler.IntervalSeconds > 0 {
		interval = time.Duration(c.Scheduler.IntervalSeconds) * time.Second
	}
	if interval < minDispatchInterval {
		return minDispatchInterval
	}
	return interval
}

// EscalationTimeout maps an organization's configured timeout to a
// duration, falling back to the app-wide default when unset.
func (c *AppConfig) EscalationTimeout(minutes int) time.Duration {
	if minutes <= 0 {
		minutes = 10
		if c != nil && c.Escalation.DefaultTimeoutMinutes > 0 {
			minutes = c.Escalation.DefaultTimeoutMinutes
		}
	}
	return time.Duration(minutes) * time.Minute
}
