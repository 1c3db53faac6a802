package main

import (
	"github.com/redis/go-redis/v9"

	"github.com/wfunc/rpgserver/config"
	"github.com/wfunc/rpgserver/logger"
	"github.com/wfunc/rpgserver/persistence"
	"github.com/wfunc/rpgserver/presence"
	"github.com/wfunc/rpgserver/server"
)

func main() {
	logger.Init()
	defer logger.Sync()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load config: %v", err)
	}

	pg := cfg.Database.Postgres
	store, err := persistence.NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	if err != nil {
		logger.Log.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	presenceStore := presence.NewRedisStore(rdb)

	srv := server.NewSessionServer(cfg, store, presenceStore)
	defer srv.Shutdown()

	if err := srv.Start(); err != nil {
		logger.Log.Fatalf("Server stopped: %v", err)
	}
}
