package main

import (
	"os"

	"cartsync/internal/config"
	"cartsync/internal/domain/model"
	"cartsync/internal/engine"
	"cartsync/internal/gateway"
	"cartsync/internal/handler"
	"cartsync/internal/infra/db"
	infraRepo "cartsync/internal/infra/repository"
	repo "cartsync/internal/repository"
	"cartsync/internal/server"
	"cartsync/internal/usecase"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	//.envは無くてもよい（コンテナでは実環境変数を使う）
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := newLogger(cfg)

	//未確定編集ストア
	var pendingRepo repo.PendingEditRepository
	switch cfg.PendingStore {
	case config.PendingStoreRedis:
		r, err := infraRepo.NewPendingEditRedisRepository(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		pendingRepo = r
	default:
		gormDB, err := db.Connect(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect db")
		}
		if err := gormDB.AutoMigrate(&model.PendingEdit{}); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate")
		}
		pendingRepo = infraRepo.NewPendingEditGormRepository(gormDB)
	}

	//外部コラボレータ
	cartGW := gateway.NewHTTPCartGateway(cfg.CartServiceURL, cfg.CartServiceToken, log)
	catalogGW := gateway.NewHTTPCatalogGateway(cfg.CartServiceURL, cfg.CartServiceToken, log)

	//エンジン
	registry := engine.NewRegistry(
		cartGW,
		pendingRepo,
		catalogGW,
		engine.DefaultBackoffPolicy(),
		engine.NewRealScheduler(),
		engine.NewRealClock(),
		log,
	)

	//Usecase生成
	cartUC := usecase.NewCartSyncUsecase(registry)

	//Handler生成
	cartH := handler.NewCartSyncHandler(cartUC)

	//Server起動
	addr := cfg.Port
	if addr[0] != ':' {
		addr = ":" + addr
	}

	log.Info().Str("addr", addr).Str("pending_store", cfg.PendingStore).Msg("starting cartsync")
	if err := server.Start(addr, cartH, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	if cfg.GoEnv == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
