package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"WorkshopPlatform/pkg/validation"
)

// EnvPrefix префикс переменных окружения (WORKSHOPCTL_SERVER и т.д.)
const EnvPrefix = "WORKSHOPCTL"

// Config представляет конфигурацию CLI
type Config struct {
	Server       string        `mapstructure:"server" yaml:"server"`
	Tenant       string        `mapstructure:"tenant" yaml:"tenant"`
	TenantHeader string        `mapstructure:"tenant_header" yaml:"tenant_header"`
	CSRFHeader   string        `mapstructure:"csrf_header" yaml:"csrf_header"`
	StateFile    string        `mapstructure:"state_file" yaml:"state_file"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Output       string        `mapstructure:"output" yaml:"output"`
	LogLevel     string        `mapstructure:"log_level" yaml:"log_level"`

	Refresh struct {
		// Throttle минимальный интервал между завершенными обновлениями
		Throttle time.Duration `mapstructure:"throttle" yaml:"throttle"`
		// Ahead за сколько до истечения сессия обновляется заранее
		Ahead time.Duration `mapstructure:"ahead" yaml:"ahead"`
		// NoticeDelay пауза между уведомлением об истечении и завершением
		NoticeDelay time.Duration `mapstructure:"notice_delay" yaml:"notice_delay"`
	} `mapstructure:"refresh" yaml:"refresh"`
}

// SetDefaults регистрирует значения по умолчанию в viper
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server", "http://localhost:8080")
	v.SetDefault("tenant_header", "X-Negocio-ID")
	v.SetDefault("csrf_header", "X-CSRF-Token")
	v.SetDefault("state_file", defaultStateFile())
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("output", "table")
	v.SetDefault("log_level", "warn")
	v.SetDefault("refresh.throttle", 5*time.Second)
	v.SetDefault("refresh.ahead", 2*time.Minute)
	v.SetDefault("refresh.notice_delay", 3*time.Second)
}

// Load читает конфигурацию: файл (если задан или найден в ~/.workshopctl),
// затем переменные окружения WORKSHOPCTL_*, затем флаги, привязанные к v
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	cfg.Server = strings.TrimRight(cfg.Server, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет валидность конфигурации
func (c *Config) Validate() error {
	validator := validation.NewValidator()

	if err := validator.ValidateRequiredFields(map[string]string{
		"server":     c.Server,
		"state_file": c.StateFile,
	}); err != nil {
		return fmt.Errorf("неверная конфигурация: %w", err)
	}
	if err := validator.ValidateEnum(c.Output, []string{"table", "json", "yaml"}, "output"); err != nil {
		return fmt.Errorf("неверная конфигурация: %w", err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("таймаут должен быть положительным")
	}
	if c.Refresh.Throttle < 0 || c.Refresh.Ahead < 0 || c.Refresh.NoticeDelay < 0 {
		return fmt.Errorf("интервалы обновления не могут быть отрицательными")
	}
	return nil
}

// Dir каталог CLI в домашней директории
func Dir() (string, error) {
	if home := os.Getenv(EnvPrefix + "_HOME"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("ошибка получения домашней директории: %w", err)
	}
	return filepath.Join(home, ".workshopctl"), nil
}

func defaultStateFile() string {
	dir, err := Dir()
	if err != nil {
		return "session.json"
	}
	return filepath.Join(dir, "session.json")
}
