package guardian

import (
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig mirrors the serve command's YAML config. Pointer fields
// distinguish "absent" from an explicit zero (a global buffer of 0 is valid).
type FileConfig struct {
	Bind string `yaml:"bind"`

	GlobalBuffer     *int64           `yaml:"global_buffer"`
	Buffers          map[string]int64 `yaml:"buffers"`
	WindowSeconds    *int             `yaml:"window_seconds"`
	ThresholdCount   *int             `yaml:"threshold_count"`
	MaxWindowEntries *int             `yaml:"max_window_entries"`
	Locale           string           `yaml:"locale"`

	SyslogAddr string `yaml:"syslog_addr"`
	Service    string `yaml:"service"`
	AuditDB    string `yaml:"audit_db"`

	NotifyTimeoutSeconds  *int `yaml:"notify_timeout_seconds"`
	HandlerTimeoutSeconds *int `yaml:"handler_timeout_seconds"`

	Debug bool `yaml:"debug"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
