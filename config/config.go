package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v2"
)

type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type WebConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Secret string `yaml:"secret" json:"secret"`
}

type DBConfig struct {
	Type   string `yaml:"type" json:"type"`
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Name   string `yaml:"name" json:"name"`
	User   string `yaml:"user" json:"user"`
	Passwd string `yaml:"passwd" json:"passwd"`
	Debug  bool   `yaml:"debug" json:"debug"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

// WhatsappConfig carries the connection and dispatch policy knobs. The
// magic durations of the supervisor are deliberately configuration,
// not constants.
type WhatsappConfig struct {
	// ConnectWaitSec bounds how long a connect call waits on an
	// in-flight attempt for the same session before returning busy.
	ConnectWaitSec int `yaml:"connect_wait_sec" json:"connect_wait_sec"`
	// KeepaliveSec is the keep-alive ping interval.
	KeepaliveSec int `yaml:"keepalive_sec" json:"keepalive_sec"`
	// HealthIntervalSec is the health-check loop interval.
	HealthIntervalSec int `yaml:"health_interval_sec" json:"health_interval_sec"`
	// HealthGraceSec delays the first health reading after a connect.
	HealthGraceSec int `yaml:"health_grace_sec" json:"health_grace_sec"`
	// HealthThreshold is how many consecutive unhealthy readings
	// escalate to a reconnect.
	HealthThreshold int `yaml:"health_threshold" json:"health_threshold"`
	// BackoffLadderSec is the escalating generic reconnect delay
	// sequence; the last entry repeats indefinitely.
	BackoffLadderSec []int `yaml:"backoff_ladder_sec" json:"backoff_ladder_sec"`
	// TransientDelaySec is the single fixed retry delay applied to
	// known transient service errors.
	TransientDelaySec int `yaml:"transient_delay_sec" json:"transient_delay_sec"`
	// SendTimeoutSec bounds each outbound message send.
	SendTimeoutSec int `yaml:"send_timeout_sec" json:"send_timeout_sec"`
	// IntraDelayMs paces multiple messages to the same recipient.
	IntraDelayMs int `yaml:"intra_delay_ms" json:"intra_delay_ms"`
	// JobTTLMin is how long terminal bulk jobs stay queryable.
	JobTTLMin int `yaml:"job_ttl_min" json:"job_ttl_min"`
	// NotifyURL receives a best-effort POST when a bulk job ends.
	NotifyURL string `yaml:"notify_url" json:"notify_url"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system" json:"system"`
	Web      WebConfig      `yaml:"web" json:"web"`
	Database DBConfig       `yaml:"database" json:"database"`
	Whatsapp WhatsappConfig `yaml:"whatsapp" json:"whatsapp"`
	Logger   LogConfig      `yaml:"logger" json:"logger"`
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "wagate",
		Location: "Asia/Jakarta",
		Workdir:  "/var/wagate",
		Debug:    true,
	},
	Web: WebConfig{
		Host:   "0.0.0.0",
		Port:   1816,
		Secret: "9b6de5cc-wagate-1816-demo-string",
	},
	Database: DBConfig{
		Type:   "postgres",
		Host:   "127.0.0.1",
		Port:   5432,
		Name:   "wagate_v1",
		User:   "postgres",
		Passwd: "myroot",
		Debug:  false,
	},
	Whatsapp: WhatsappConfig{
		ConnectWaitSec:    30,
		KeepaliveSec:      240,
		HealthIntervalSec: 60,
		HealthGraceSec:    120,
		HealthThreshold:   3,
		BackoffLadderSec:  []int{5, 15, 30, 60, 120},
		TransientDelaySec: 60,
		SendTimeoutSec:    15,
		IntraDelayMs:      1500,
		JobTTLMin:         60,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/wagate/wagate.log",
	},
}

func setEnvValue(name string, f func(v string)) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		f(v)
	}
}

// LoadConfig reads the yaml config file and applies environment
// overrides. A missing file yields the defaults.
func LoadConfig(cfile string) *AppConfig {
	cfg := DefaultAppConfig
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			cfg = new(AppConfig)
			*cfg = *DefaultAppConfig
			if err := yaml.Unmarshal(data, cfg); err != nil {
				cfg = DefaultAppConfig
			}
		}
	}

	setEnvValue("WAGATE_SYSTEM_WORKDIR", func(v string) { cfg.System.Workdir = v })
	setEnvValue("WAGATE_SYSTEM_DEBUG", func(v string) { cfg.System.Debug = cast.ToBool(v) })
	setEnvValue("WAGATE_WEB_HOST", func(v string) { cfg.Web.Host = v })
	setEnvValue("WAGATE_WEB_PORT", func(v string) { cfg.Web.Port = cast.ToInt(v) })
	setEnvValue("WAGATE_WEB_SECRET", func(v string) { cfg.Web.Secret = v })
	setEnvValue("WAGATE_DB_TYPE", func(v string) { cfg.Database.Type = v })
	setEnvValue("WAGATE_DB_HOST", func(v string) { cfg.Database.Host = v })
	setEnvValue("WAGATE_DB_PORT", func(v string) { cfg.Database.Port = cast.ToInt(v) })
	setEnvValue("WAGATE_DB_NAME", func(v string) { cfg.Database.Name = v })
	setEnvValue("WAGATE_DB_USER", func(v string) { cfg.Database.User = v })
	setEnvValue("WAGATE_DB_PASSWD", func(v string) { cfg.Database.Passwd = v })
	setEnvValue("WAGATE_DB_DEBUG", func(v string) { cfg.Database.Debug = cast.ToBool(v) })
	setEnvValue("WAGATE_LOGGER_MODE", func(v string) { cfg.Logger.Mode = v })
	setEnvValue("WAGATE_WA_NOTIFY_URL", func(v string) { cfg.Whatsapp.NotifyURL = v })
	return cfg
}

// InitDirs creates the workdir layout used by logs and metrics.
func (c *AppConfig) InitDirs() {
	_ = os.MkdirAll(c.System.Workdir, 0755)
	_ = os.MkdirAll(filepath.Join(c.System.Workdir, "metrics"), 0755)
}
