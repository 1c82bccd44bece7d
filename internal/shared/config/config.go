package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/ini.v1"
	"transform_nexus/internal/shared/types"
)

// DefaultErrorLogName is the file name used when errorlog.file is not set.
const DefaultErrorLogName = "TCP Server Error.csv"

// Default 返回与原有界面一致的默认参数。
func Default() *types.Config {
	return &types.Config{
		ServerConf: types.ServerConf{
			Address:    "127.0.0.1",
			Port:       50000,
			Backlog:    2,
			BufferSize: 1024,
			Encoding:   "shift_jis",
			Transform:  "echo",
		},
		ErrorLogConf: types.ErrorLogConf{
			RetryInterval: 1000,
		},
		LogConf: types.LogConf{
			Level: "info",
		},
	}
}

// LoadIni 加载 server.ini，未出现的键保留 cfg 中已有的值。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	overrideFromEnvString(&cfg.ServerConf.Address, "TCP_SERVER_ADDRESS")
	overrideFromEnvInt(&cfg.ServerConf.Port, "TCP_SERVER_PORT")
	return Validate(cfg)
}

// Load returns the defaults overlaid with fileName. A missing file is not an error.
func Load(fileName string) (*types.Config, error) {
	cfg := Default()
	if _, err := os.Stat(fileName); err != nil {
		if os.IsNotExist(err) {
			overrideFromEnvString(&cfg.ServerConf.Address, "TCP_SERVER_ADDRESS")
			overrideFromEnvInt(&cfg.ServerConf.Port, "TCP_SERVER_PORT")
			return cfg, Validate(cfg)
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := LoadIni(cfg, fileName); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func Validate(cfg *types.Config) error {
	if cfg.ServerConf.Port < 0 || cfg.ServerConf.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.ServerConf.Port)
	}
	if cfg.ServerConf.Backlog <= 0 {
		return fmt.Errorf("server.backlog must be positive, got %d", cfg.ServerConf.Backlog)
	}
	if cfg.ServerConf.BufferSize <= 0 {
		return fmt.Errorf("server.buffer_size must be positive, got %d", cfg.ServerConf.BufferSize)
	}
	if cfg.ErrorLogConf.RetryInterval <= 0 {
		return fmt.Errorf("errorlog.retry_interval must be positive, got %d", cfg.ErrorLogConf.RetryInterval)
	}
	return nil
}

// ErrorLogPath resolves the error log location. Relative names are placed
// next to the running executable.
func ErrorLogPath(cfg *types.Config) string {
	name := cfg.ErrorLogConf.File
	if name == "" {
		name = DefaultErrorLogName
	}
	if filepath.IsAbs(name) {
		return name
	}
	exe, err := os.Executable()
	if err != nil {
		return name
	}
	return filepath.Join(filepath.Dir(exe), name)
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
