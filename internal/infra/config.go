package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xela07ax/conformance-exporter/internal/domain"
)

// Config — корневая структура конфигурации экспортера.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	TestBed TestBedConfig `mapstructure:"testbed"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Logger  LoggerConfig  `mapstructure:"logger"`
}

// ServerConfig описывает HTTP-сервер со скрейп-эндпоинтом.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TestBedConfig — доступ к ITB и защита от его перегрузки.
type TestBedConfig struct {
	StartEndpoint  string        `mapstructure:"start_endpoint"`
	StatusEndpoint string        `mapstructure:"status_endpoint"`
	APIKey         string        `mapstructure:"api_key"`
	Actor          string        `mapstructure:"actor"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Лимитер и Circuit Breaker для запросов к ITB
	RateLimit     float64       `mapstructure:"rate_limit"`
	RateBurst     int           `mapstructure:"rate_burst"`
	CBMaxRequests uint32        `mapstructure:"cb_max_requests"`
	CBInterval    time.Duration `mapstructure:"cb_interval"`
	CBTimeout     time.Duration `mapstructure:"cb_timeout"`
	CBFailures    uint32        `mapstructure:"cb_failures"`
}

// MonitorConfig — что и как часто проверяем.
// Systems и SystemNames позиционно выровнены: i-е имя принадлежит i-й системе.
type MonitorConfig struct {
	IntervalSeconds int           `mapstructure:"interval_seconds"`
	Systems         []string      `mapstructure:"systems"`
	SystemNames     []string      `mapstructure:"system_names"`
	TestCases       []string      `mapstructure:"test_cases"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	SessionTimeout  time.Duration `mapstructure:"session_timeout"`
}

// RedisConfig — опциональная координация реплик. Пустой Addr — работаем в одиночку.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// Interval — сон между циклами.
func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

// MonitoredSystems собирает системы из выровненных списков. Вызывать после Validate.
func (m MonitorConfig) MonitoredSystems() []domain.MonitoredSystem {
	out := make([]domain.MonitoredSystem, 0, len(m.Systems))
	for i, id := range m.Systems {
		out = append(out, domain.MonitoredSystem{
			Name:      m.SystemNames[i],
			TestBedID: id,
			TestCases: m.TestCases,
		})
	}
	return out
}

// legacyEnv — имена переменных окружения, под которыми экспортер деплоился раньше.
var legacyEnv = map[string]string{
	"server.port":              "PORT",
	"monitor.interval_seconds": "TEST_INTERVAL_SECONDS",
	"monitor.systems":          "START_SYSTEM",
	"monitor.system_names":     "SYSTEM_NAMES",
	"monitor.test_cases":       "TEST_CASES",
	"testbed.start_endpoint":   "START_API_ENDPOINT",
	"testbed.status_endpoint":  "STATUS_API_ENDPOINT",
	"testbed.api_key":          "ITB_API_KEY",
	"testbed.actor":            "ACTOR_KEY",
	"logger.level":             "DEBUG_LEVEL",
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range legacyEnv {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Списки из ENV приходят строкой "a, b,c"
	cfg.Monitor.Systems = splitList(cfg.Monitor.Systems)
	cfg.Monitor.SystemNames = splitList(cfg.Monitor.SystemNames)
	cfg.Monitor.TestCases = splitList(cfg.Monitor.TestCases)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("testbed.request_timeout", 30*time.Second)
	v.SetDefault("testbed.rate_limit", 1.0)
	v.SetDefault("testbed.rate_burst", 1)
	v.SetDefault("testbed.cb_max_requests", 1)
	v.SetDefault("testbed.cb_interval", time.Minute)
	v.SetDefault("testbed.cb_timeout", 30*time.Second)
	v.SetDefault("testbed.cb_failures", 5)
	v.SetDefault("monitor.interval_seconds", 3600)
	v.SetDefault("monitor.settle_delay", 5*time.Second)
	v.SetDefault("monitor.poll_interval", 1*time.Second)
	v.SetDefault("monitor.cooldown", 3*time.Second)
	v.SetDefault("monitor.session_timeout", 30*time.Minute)
	v.SetDefault("redis.addr", "") // без дефолта REDIS_ADDR не попадет в Unmarshal
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 2*time.Hour)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// Validate отсекает конфиг, с которым нельзя однозначно сопоставить системы и метрики.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d is out of range", c.Server.Port))
	}
	if c.TestBed.StartEndpoint == "" {
		errs = append(errs, errors.New("testbed.start_endpoint is required"))
	}
	if c.TestBed.StatusEndpoint == "" {
		errs = append(errs, errors.New("testbed.status_endpoint is required"))
	}
	if c.Monitor.IntervalSeconds <= 0 {
		errs = append(errs, errors.New("monitor.interval_seconds must be positive"))
	}
	if c.Monitor.PollInterval <= 0 {
		errs = append(errs, errors.New("monitor.poll_interval must be positive"))
	}
	if len(c.Monitor.TestCases) == 0 {
		errs = append(errs, errors.New("monitor.test_cases: at least one test case is required"))
	}

	if c.Redis.Addr != "" && c.Redis.LockTTL <= 0 {
		errs = append(errs, errors.New("redis.lock_ttl must be positive when redis.addr is set"))
	}

	m := c.Monitor
	switch {
	case len(m.Systems) == 0:
		errs = append(errs, errors.New("monitor.systems: at least one system is required"))
	case len(m.Systems) != len(m.SystemNames):
		errs = append(errs, fmt.Errorf("monitor: %d systems but %d system names, lists must be aligned",
			len(m.Systems), len(m.SystemNames)))
	default:
		seen := make(map[string]string, len(m.SystemNames))
		for i, name := range m.SystemNames {
			if name == "" || m.Systems[i] == "" {
				errs = append(errs, fmt.Errorf("monitor: empty system id or name at position %d", i))
				continue
			}
			metric := domain.MonitoredSystem{Name: name}.MetricName()
			if strings.HasPrefix(metric, domain.ExporterMetricPrefix) {
				errs = append(errs, fmt.Errorf("monitor: system name %q maps to %s, prefix %s is reserved for exporter metrics",
					name, metric, domain.ExporterMetricPrefix))
				continue
			}
			if prev, dup := seen[metric]; dup {
				errs = append(errs, fmt.Errorf("monitor: system names %q and %q map to the same metric %s", prev, name, metric))
				continue
			}
			seen[metric] = name
		}
	}

	return errors.Join(errs...)
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
