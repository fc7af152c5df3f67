package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// 未確定編集ストアのバックエンド
const (
	PendingStorePostgres = "postgres"
	PendingStoreRedis    = "redis"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	CartServiceURL   string // リモートカートサービスのベースURL
	CartServiceToken string // ゲートウェイ呼び出しに付けるBearerトークン

	PendingStore string // postgres / redis

	PostgresUser     string // DBユーザー
	PostgresPassword string // DBパスワード
	PostgresDB       string // DB名
	PostgresHost     string // DBホスト（localhost）
	PostgresPort     int    // DBポート（5433）

	RedisURL   string        // PENDING_STORE=redis のとき必須
	SessionTTL time.Duration // redisストアの未確定編集の生存期間

	JWTSecret string // セッショントークン検証用シークレット

	GoEnv string // dev/prod
}

// Loadは環境変数
func Load() (Config, error) {
	cfg := Config{
		Port: os.Getenv("PORT"),

		CartServiceURL:   os.Getenv("CART_SERVICE_URL"),
		CartServiceToken: os.Getenv("CART_SERVICE_TOKEN"),

		PendingStore: os.Getenv("PENDING_STORE"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),

		RedisURL: os.Getenv("REDIS_URL"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		GoEnv: os.Getenv("GO_ENV"),
	}

	//必須チェック
	if cfg.Port == "" {
		return Config{}, fmt.Errorf("PORT is required")
	}
	if cfg.CartServiceURL == "" {
		return Config{}, fmt.Errorf("CART_SERVICE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.GoEnv == "" {
		return Config{}, fmt.Errorf("GO_ENV is required")
	}

	//ストア選択（default: postgres）
	if cfg.PendingStore == "" {
		cfg.PendingStore = PendingStorePostgres
	}
	switch cfg.PendingStore {
	case PendingStorePostgres:
		if cfg.PostgresUser == "" {
			return Config{}, fmt.Errorf("POSTGRES_USER is required")
		}
		if cfg.PostgresPassword == "" {
			return Config{}, fmt.Errorf("POSTGRES_PASSWORD is required")
		}
		if cfg.PostgresDB == "" {
			return Config{}, fmt.Errorf("POSTGRES_DB is required")
		}
		if cfg.PostgresHost == "" {
			return Config{}, fmt.Errorf("POSTGRES_HOST is required")
		}
		pgPort, err := mustAtoi("POSTGRES_PORT")
		if err != nil {
			return Config{}, err
		}
		cfg.PostgresPort = pgPort
	case PendingStoreRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL is required")
		}
	default:
		return Config{}, fmt.Errorf("PENDING_STORE must be postgres or redis")
	}

	//セッションTTL（default: 24h）
	cfg.SessionTTL = 24 * time.Hour
	if v := os.Getenv("SESSION_TTL_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			return Config{}, fmt.Errorf("SESSION_TTL_HOURS must be positive number")
		}
		cfg.SessionTTL = time.Duration(hours) * time.Hour
	}

	return cfg, nil
}

func mustAtoi(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}
