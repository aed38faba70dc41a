package models

// Config is the top-level application configuration, loaded from JSON
// with environment overrides applied afterwards.
type Config struct {
	Server   ServerConfig   `json:"server"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Webhook  WebhookConfig  `json:"webhook"`
	Database DatabaseConfig `json:"database"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"logLevel"`
}

type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

type WhatsAppConfig struct {
	APIBaseURL            string `json:"apiBaseUrl"`
	TimeoutSec            int    `json:"timeoutSec"`
	StatusPollIntervalSec int    `json:"statusPollIntervalSec"`
}

type WebhookConfig struct {
	TimeoutSec int `json:"timeoutSec"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type TracingConfig struct {
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"useStdout"`
}

// ConfigError describes an invalid or incomplete configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
