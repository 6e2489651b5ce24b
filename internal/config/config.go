package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"anomaly-watchdog/internal/monitoring/analyzer"
	"anomaly-watchdog/internal/monitoring/engine"
	"anomaly-watchdog/internal/monitoring/models"
	"anomaly-watchdog/internal/monitoring/monitor"
	"anomaly-watchdog/internal/monitoring/notify"
	"anomaly-watchdog/internal/monitoring/prometheus"
	"anomaly-watchdog/internal/monitoring/scanner"
	"anomaly-watchdog/internal/monitoring/storage"
	"anomaly-watchdog/internal/validation"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix      = "WATCHDOG"
	dataDirName    = ".anomaly-watchdog"
	secretMask     = "********"
	checkpointFile = "checkpoint.json"
)

// Config configuração efetiva da aplicação
type Config struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	Debug   bool   `mapstructure:"debug" yaml:"debug"`

	// local ou prometheus
	Source string `mapstructure:"source" yaml:"source"`
	Entity string `mapstructure:"entity" yaml:"entity"`

	Detector   DetectorSection   `mapstructure:"detector" yaml:"detector"`
	Prometheus PrometheusSection `mapstructure:"prometheus" yaml:"prometheus"`
	Telegram   TelegramSection   `mapstructure:"telegram" yaml:"telegram"`
	Email      EmailSection      `mapstructure:"email" yaml:"email"`
	SNMP       SNMPSection       `mapstructure:"snmp" yaml:"snmp"`
	Results    ResultsSection    `mapstructure:"results" yaml:"results"`
	Web        WebSection        `mapstructure:"web" yaml:"web"`
}

// DetectorSection detector de padrões e cadência do engine
type DetectorSection struct {
	Interval              time.Duration               `mapstructure:"interval" yaml:"interval"`
	TickTimeout           time.Duration               `mapstructure:"tick_timeout" yaml:"tick_timeout"`
	HistorySize           int                         `mapstructure:"history_size" yaml:"history_size"`
	WindowSize            int                         `mapstructure:"window_size" yaml:"window_size"`
	SustainedMode         string                      `mapstructure:"sustained_mode" yaml:"sustained_mode"`
	SimultaneousRunLength int                         `mapstructure:"simultaneous_run_length" yaml:"simultaneous_run_length"`
	SensitiveRunLength    int                         `mapstructure:"sensitive_run_length" yaml:"sensitive_run_length"`
	Thresholds            map[string]models.Threshold `mapstructure:"thresholds" yaml:"thresholds"`
	LocalCPUInterval      time.Duration               `mapstructure:"local_cpu_interval" yaml:"local_cpu_interval"`
}

// PrometheusSection fonte node_exporter via Prometheus
type PrometheusSection struct {
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	Instance   string        `mapstructure:"instance" yaml:"instance"`
	RateWindow string        `mapstructure:"rate_window" yaml:"rate_window"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// TelegramSection canal de chat
type TelegramSection struct {
	Enabled       bool    `mapstructure:"enabled" yaml:"enabled"`
	Token         string  `mapstructure:"token" yaml:"token"`
	ChatID        string  `mapstructure:"chat_id" yaml:"chat_id"`
	ProxyHTTP     string  `mapstructure:"proxy_http" yaml:"proxy_http"`
	ProxyHTTPS    string  `mapstructure:"proxy_https" yaml:"proxy_https"`
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
}

// EmailSection canal SMTP
type EmailSection struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	To       string `mapstructure:"to" yaml:"to"`
	StartTLS bool   `mapstructure:"starttls" yaml:"starttls"`
}

// SNMPSection poller multi-host
type SNMPSection struct {
	Hosts       []string      `mapstructure:"hosts" yaml:"hosts"`
	Subnet      string        `mapstructure:"subnet" yaml:"subnet"`
	Community   string        `mapstructure:"community" yaml:"community"`
	Port        uint16        `mapstructure:"port" yaml:"port"`
	Version     string        `mapstructure:"version" yaml:"version"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxWorkers  int           `mapstructure:"max_workers" yaml:"max_workers"`
	HostTimeout time.Duration `mapstructure:"host_timeout" yaml:"host_timeout"`
	TrustedFile string        `mapstructure:"trusted_file" yaml:"trusted_file"`
	Rules       RulesSection  `mapstructure:"rules" yaml:"rules"`
}

// RulesSection limites e cooldowns das regras por host
type RulesSection struct {
	CPUPercent      float64       `mapstructure:"cpu_percent" yaml:"cpu_percent"`
	RAMPercent      float64       `mapstructure:"ram_percent" yaml:"ram_percent"`
	DiskPercent     float64       `mapstructure:"disk_percent" yaml:"disk_percent"`
	MinUptime       time.Duration `mapstructure:"min_uptime" yaml:"min_uptime"`
	NetLinkPercent  float64       `mapstructure:"net_link_percent" yaml:"net_link_percent"`
	CPUCooldown     time.Duration `mapstructure:"cpu_cooldown" yaml:"cpu_cooldown"`
	RAMCooldown     time.Duration `mapstructure:"ram_cooldown" yaml:"ram_cooldown"`
	DiskCooldown    time.Duration `mapstructure:"disk_cooldown" yaml:"disk_cooldown"`
	UptimeCooldown  time.Duration `mapstructure:"uptime_cooldown" yaml:"uptime_cooldown"`
	NetCooldown     time.Duration `mapstructure:"net_cooldown" yaml:"net_cooldown"`
	MACCooldown     time.Duration `mapstructure:"mac_cooldown" yaml:"mac_cooldown"`
	OfflineCooldown time.Duration `mapstructure:"offline_cooldown" yaml:"offline_cooldown"`
	NoHostCooldown  time.Duration `mapstructure:"nohost_cooldown" yaml:"nohost_cooldown"`
}

// ResultsSection banco SQLite de resultados
type ResultsSection struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxAge  time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// WebSection API somente leitura
type WebSection struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	Token          string   `mapstructure:"token" yaml:"token"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Variáveis sem prefixo mantidas por compatibilidade com instalações existentes
var legacyEnv = map[string]string{
	"telegram.token":       "TELEGRAM_TOKEN",
	"telegram.chat_id":     "TELEGRAM_CHAT_ID",
	"telegram.proxy_http":  "TELEGRAM_PROXY_HTTP",
	"telegram.proxy_https": "TELEGRAM_PROXY_HTTPS",
	"email.username":       "GMAIL_USER",
	"email.password":       "GMAIL_PASS",
	"snmp.subnet":          "SNMP_SUBNET",
	"snmp.community":       "SNMP_COMMUNITY",
}

// DefaultDataDir ~/.anomaly-watchdog
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return dataDirName
	}
	return filepath.Join(home, dataDirName)
}

func setDefaults(v *viper.Viper) {
	detector := analyzer.DefaultDetectorConfig()
	eng := engine.DefaultConfig()
	poll := scanner.DefaultPollConfig()
	rules := poll.Rules

	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("debug", false)
	v.SetDefault("source", "local")
	v.SetDefault("entity", "")

	v.SetDefault("detector.interval", eng.Interval)
	v.SetDefault("detector.tick_timeout", eng.TickTimeout)
	v.SetDefault("detector.history_size", eng.HistorySize)
	v.SetDefault("detector.window_size", detector.WindowSize)
	v.SetDefault("detector.sustained_mode", detector.SustainedMode.String())
	v.SetDefault("detector.simultaneous_run_length", detector.SimultaneousRunLength)
	v.SetDefault("detector.sensitive_run_length", detector.SensitiveRunLength)
	v.SetDefault("detector.local_cpu_interval", time.Second)
	for metric, th := range detector.Thresholds {
		v.SetDefault("detector.thresholds."+string(metric)+".limit", th.Limit)
		v.SetDefault("detector.thresholds."+string(metric)+".required_run_length", th.RequiredRunLength)
	}

	v.SetDefault("prometheus.endpoint", "http://localhost:9090")
	v.SetDefault("prometheus.instance", "")
	v.SetDefault("prometheus.rate_window", "1m")
	v.SetDefault("prometheus.timeout", 5*time.Second)

	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.rate_per_second", 1.0)

	v.SetDefault("email.enabled", true)
	v.SetDefault("email.host", "smtp.gmail.com")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.starttls", true)

	v.SetDefault("snmp.hosts", []string{})
	v.SetDefault("snmp.subnet", poll.Subnet)
	v.SetDefault("snmp.community", poll.SNMP.Community)
	v.SetDefault("snmp.port", poll.SNMP.Port)
	v.SetDefault("snmp.version", poll.SNMP.Version)
	v.SetDefault("snmp.interval", poll.Interval)
	v.SetDefault("snmp.max_workers", poll.MaxWorkers)
	v.SetDefault("snmp.host_timeout", poll.HostTimeout)
	v.SetDefault("snmp.trusted_file", poll.TrustedFile)
	v.SetDefault("snmp.rules.cpu_percent", rules.CPUPercent)
	v.SetDefault("snmp.rules.ram_percent", rules.RAMPercent)
	v.SetDefault("snmp.rules.disk_percent", rules.DiskPercent)
	v.SetDefault("snmp.rules.min_uptime", rules.MinUptime)
	v.SetDefault("snmp.rules.net_link_percent", rules.NetLinkPercent)
	v.SetDefault("snmp.rules.cpu_cooldown", rules.CPUCooldown)
	v.SetDefault("snmp.rules.ram_cooldown", rules.RAMCooldown)
	v.SetDefault("snmp.rules.disk_cooldown", rules.DiskCooldown)
	v.SetDefault("snmp.rules.uptime_cooldown", rules.UptimeCooldown)
	v.SetDefault("snmp.rules.net_cooldown", rules.NetCooldown)
	v.SetDefault("snmp.rules.mac_cooldown", rules.MACCooldown)
	v.SetDefault("snmp.rules.offline_cooldown", rules.OfflineCooldown)
	v.SetDefault("snmp.rules.nohost_cooldown", rules.NoHostCooldown)

	v.SetDefault("results.enabled", true)
	v.SetDefault("results.max_age", 7*24*time.Hour)

	v.SetDefault("web.port", 8080)
	v.SetDefault("web.token", "")
	v.SetDefault("web.allowed_origins", []string{"*"})
}

// Options controla de onde a configuração é lida
type Options struct {
	// Arquivo explícito (--config); vazio = busca config.yaml em . e ~/.anomaly-watchdog
	ConfigFile string
	// Arquivo .env; vazio = ".env" no diretório atual
	EnvFile string
}

// Load lê config.yaml, .env e variáveis de ambiente
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("$HOME", dataDirName))
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", legacy, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Sem arquivo: defaults + ambiente
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Email.To == "" {
		cfg.Email.To = cfg.Email.Username
	}
	cfg.DataDir = expandHome(cfg.DataDir)

	return &cfg, nil
}

// loadDotEnv exporta as chaves do .env sem sobrescrever o ambiente
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return fmt.Errorf("failed to export %s: %w", name, err)
		}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Validate valida a configuração completa (run e snmp).
// Retorna um único erro listando todos os problemas encontrados.
func (c *Config) Validate() error {
	result := validation.NewResult()

	if _, err := c.DetectorConfig(); err != nil {
		result.Check(err)
	}
	result.Check(validation.ValidatePositiveDuration(c.Detector.Interval, "detector.interval"))
	result.Check(validation.ValidatePositiveDuration(c.Detector.TickTimeout, "detector.tick_timeout"))
	if c.Detector.HistorySize < c.Detector.WindowSize {
		result.AddError("detector.history_size", fmt.Sprintf("%d", c.Detector.HistorySize),
			fmt.Sprintf("Deve ser >= window_size (%d)", c.Detector.WindowSize))
	}

	switch c.Source {
	case "local":
	case "prometheus":
		result.Check(validation.ValidateURL(c.Prometheus.Endpoint, "prometheus.endpoint", false))
		if c.Prometheus.Instance == "" {
			result.AddError("prometheus.instance", "", "Obrigatório com source=prometheus")
		}
	default:
		result.AddError("source", c.Source, "source desconhecida (use local ou prometheus)")
	}

	if !c.Telegram.Enabled && !c.Email.Enabled {
		result.AddError("notify", "", "Ao menos um canal de notificação deve estar habilitado")
	}
	if c.Telegram.Enabled {
		result.Merge(validation.ValidateCredentials("telegram",
			"TELEGRAM_TOKEN", c.Telegram.Token, "TELEGRAM_CHAT_ID", c.Telegram.ChatID))
		result.Check(validation.ValidateURL(c.Telegram.ProxyHTTP, "telegram.proxy_http", true))
		result.Check(validation.ValidateURL(c.Telegram.ProxyHTTPS, "telegram.proxy_https", true))
	}
	if c.Email.Enabled {
		result.Merge(validation.ValidateCredentials("email",
			"GMAIL_USER", c.Email.Username, "GMAIL_PASS", c.Email.Password))
		result.Check(validation.ValidatePort(c.Email.Port, "email.port"))
	}

	r := c.SNMP.Rules
	for name, d := range map[string]time.Duration{
		"cpu_cooldown":     r.CPUCooldown,
		"ram_cooldown":     r.RAMCooldown,
		"disk_cooldown":    r.DiskCooldown,
		"uptime_cooldown":  r.UptimeCooldown,
		"net_cooldown":     r.NetCooldown,
		"mac_cooldown":     r.MACCooldown,
		"offline_cooldown": r.OfflineCooldown,
		"nohost_cooldown":  r.NoHostCooldown,
	} {
		result.Check(validation.ValidateCooldown(d, "snmp.rules."+name))
	}
	result.Check(c.PollConfig().Validate())

	return result.Err()
}

// ValidateWeb valida apenas o necessário para a API
func (c *Config) ValidateWeb() error {
	result := validation.NewResult()
	result.Check(validation.ValidatePort(c.Web.Port, "web.port"))
	return result.Err()
}

// DetectorConfig converte a seção do detector
func (c *Config) DetectorConfig() (*analyzer.DetectorConfig, error) {
	mode, err := analyzer.ParseSustainedMode(c.Detector.SustainedMode)
	if err != nil {
		return nil, err
	}

	thresholds := models.ThresholdSet{}
	for name, th := range c.Detector.Thresholds {
		thresholds[models.Metric(strings.ToLower(name))] = th
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if c.Detector.WindowSize < 1 {
		return nil, fmt.Errorf("detector.window_size deve ser >= 1")
	}
	if c.Detector.SimultaneousRunLength < 1 || c.Detector.SensitiveRunLength < 1 {
		return nil, fmt.Errorf("run lengths do detector devem ser >= 1")
	}

	detector := analyzer.DefaultDetectorConfig()
	detector.Thresholds = thresholds
	detector.SustainedMode = mode
	detector.WindowSize = c.Detector.WindowSize
	detector.SimultaneousRunLength = c.Detector.SimultaneousRunLength
	detector.SensitiveRunLength = c.Detector.SensitiveRunLength
	return detector, nil
}

// EngineConfig cadência do engine
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Interval:    c.Detector.Interval,
		TickTimeout: c.Detector.TickTimeout,
		HistorySize: c.Detector.HistorySize,
	}
}

// LocalConfig fonte local
func (c *Config) LocalConfig() monitor.LocalConfig {
	return monitor.LocalConfig{CPUInterval: c.Detector.LocalCPUInterval, Entity: c.Entity}
}

// NodeSourceConfig fonte Prometheus
func (c *Config) NodeSourceConfig() prometheus.NodeSourceConfig {
	return prometheus.NodeSourceConfig{
		Endpoint:   c.Prometheus.Endpoint,
		Instance:   c.Prometheus.Instance,
		RateWindow: c.Prometheus.RateWindow,
		Timeout:    c.Prometheus.Timeout,
	}
}

// TelegramConfig canal de chat
func (c *Config) TelegramConfig() notify.TelegramConfig {
	return notify.TelegramConfig{
		Token:         c.Telegram.Token,
		ChatID:        c.Telegram.ChatID,
		ProxyHTTP:     c.Telegram.ProxyHTTP,
		ProxyHTTPS:    c.Telegram.ProxyHTTPS,
		RatePerSecond: c.Telegram.RatePerSecond,
	}
}

// EmailConfig canal SMTP
func (c *Config) EmailConfig() notify.EmailConfig {
	return notify.EmailConfig{
		Host:     c.Email.Host,
		Port:     c.Email.Port,
		Username: c.Email.Username,
		Password: c.Email.Password,
		To:       c.Email.To,
		StartTLS: c.Email.StartTLS,
	}
}

// PollConfig poller multi-host. Arquivo de confiáveis relativo ao data dir.
func (c *Config) PollConfig() *scanner.PollConfig {
	poll := scanner.DefaultPollConfig()
	poll.Hosts = c.SNMP.Hosts
	poll.Subnet = c.SNMP.Subnet
	poll.SNMP.Community = c.SNMP.Community
	poll.SNMP.Port = c.SNMP.Port
	poll.SNMP.Version = c.SNMP.Version
	poll.Interval = c.SNMP.Interval
	poll.MaxWorkers = c.SNMP.MaxWorkers
	poll.HostTimeout = c.SNMP.HostTimeout

	poll.TrustedFile = c.SNMP.TrustedFile
	if poll.TrustedFile != "" && !filepath.IsAbs(poll.TrustedFile) {
		poll.TrustedFile = filepath.Join(c.DataDir, poll.TrustedFile)
	}

	r := c.SNMP.Rules
	poll.Rules = scanner.HostRules{
		CPUPercent:      r.CPUPercent,
		RAMPercent:      r.RAMPercent,
		DiskPercent:     r.DiskPercent,
		MinUptime:       r.MinUptime,
		NetLinkPercent:  r.NetLinkPercent,
		CPUCooldown:     r.CPUCooldown,
		RAMCooldown:     r.RAMCooldown,
		DiskCooldown:    r.DiskCooldown,
		UptimeCooldown:  r.UptimeCooldown,
		NetCooldown:     r.NetCooldown,
		MACCooldown:     r.MACCooldown,
		OfflineCooldown: r.OfflineCooldown,
		NoHostCooldown:  r.NoHostCooldown,
	}
	return poll
}

// PersistenceConfig banco de resultados
func (c *Config) PersistenceConfig() *storage.PersistenceConfig {
	return &storage.PersistenceConfig{
		Enabled:     c.Results.Enabled,
		DBPath:      filepath.Join(c.DataDir, "results.db"),
		MaxAge:      c.Results.MaxAge,
		AutoCleanup: true,
	}
}

// CheckpointPath caminho do checkpoint do engine
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.DataDir, checkpointFile)
}

// LogsDir diretório dos logs rotacionados
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// Masked cópia com segredos ocultos
func (c Config) Masked() Config {
	c.Telegram.Token = mask(c.Telegram.Token)
	c.Email.Password = mask(c.Email.Password)
	c.Web.Token = mask(c.Web.Token)
	c.SNMP.Community = mask(c.SNMP.Community)
	return c
}

// YAML configuração efetiva com segredos mascarados
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Masked())
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return out, nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return secretMask
}
