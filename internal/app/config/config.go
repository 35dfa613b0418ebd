package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	httpapi "github.com/JoeShih716/go-transfer-ledger/internal/app/core/adapter/in/http"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-transfer-ledger/internal/app/auth"
	"github.com/JoeShih716/go-transfer-ledger/pkg/logger"
	"github.com/JoeShih716/go-transfer-ledger/pkg/mysql"
	"github.com/JoeShih716/go-transfer-ledger/pkg/postgres"
)

// 儲存層種類
const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTP     httpapi.Config  `yaml:"http"`
	GRPC     GRPCConfig      `yaml:"grpc"`
	Store    StoreConfig     `yaml:"store"`
	MySQL    mysql.Config    `yaml:"mysql"`
	Postgres postgres.Config `yaml:"postgres"`
	Redis    redis.Config    `yaml:"redis"`
	Auth     auth.Config     `yaml:"auth"`
	Ledger   LedgerConfig    `yaml:"ledger"`
	Audit    AuditConfig     `yaml:"audit"`
	Log      logger.Config   `yaml:"log"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr" env:"GRPC_ADDR"`
}

// StoreConfig 選擇帳本儲存層
type StoreConfig struct {
	Driver  string `yaml:"driver" env:"STORE_DRIVER"`     // memory | mysql | postgres
	WALPath string `yaml:"wal_path" env:"STORE_WAL_PATH"` // 只有 memory 使用，空字串代表不持久化
}

type LedgerConfig struct {
	// OperationTimeout 單筆存款/轉帳 (含等鎖) 的上限
	OperationTimeout time.Duration `yaml:"operation_timeout" env:"LEDGER_OPERATION_TIMEOUT"`
}

type AuditConfig struct {
	Enabled  bool   `yaml:"enabled" env:"AUDIT_ENABLED"`
	Schedule string `yaml:"schedule" env:"AUDIT_SCHEDULE"` // cron 格式，支援 @every 1m
}

// Load 讀取設定
// 順序: YAML 檔 -> 預設值 -> .env -> 環境變數覆蓋 -> 驗證
//
// 參數:
//
//	path: YAML 檔路徑，檔案不存在時只用預設值與環境變數
//	envFiles: 要載入的 .env 檔，未指定時嘗試目前目錄的 .env
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// .env 不存在是正常情況 (例如正式環境直接注入環境變數)
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode env: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RequestTimeout == 0 {
		c.HTTP.RequestTimeout = httpapi.DefaultRequestTimeout
	}
	if c.HTTP.RateLimit == 0 {
		c.HTTP.RateLimit = httpapi.DefaultRateLimit
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":50051"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Ledger.OperationTimeout == 0 {
		c.Ledger.OperationTimeout = 5 * time.Second
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = auth.DefaultTokenTTL
	}
	if c.Audit.Schedule == "" {
		c.Audit.Schedule = "@every 1m"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	c.MySQL.SetDefaults()
	c.Postgres.SetDefaults()
}

// Validate 檢查必要欄位
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverMySQL:
		if c.MySQL.Host == "" || c.MySQL.DBName == "" {
			return errors.New("mysql.host and mysql.db_name are required for the mysql store")
		}
	case DriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("postgres.dsn (DATABASE_URL) is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (JWT_SECRET) is required")
	}
	if c.Ledger.OperationTimeout < 0 {
		return errors.New("ledger.operation_timeout must not be negative")
	}
	if c.Audit.Enabled {
		if _, err := cron.ParseStandard(c.Audit.Schedule); err != nil {
			return fmt.Errorf("invalid audit.schedule: %w", err)
		}
	}
	return nil
}
