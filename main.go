package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fightlightdiamond/chemchat/global/config"
	"github.com/fightlightdiamond/chemchat/logger"
	mid "github.com/fightlightdiamond/chemchat/middleware"
	midsec "github.com/fightlightdiamond/chemchat/middleware/security"
	"github.com/fightlightdiamond/chemchat/module/chat"
	"github.com/fightlightdiamond/chemchat/module/chat/message"
	"github.com/fightlightdiamond/chemchat/module/chat/seq"
	"github.com/fightlightdiamond/chemchat/service/kafka"
	"github.com/fightlightdiamond/chemchat/service/mgo"
	"github.com/fightlightdiamond/chemchat/service/storage/pg"
	redisSrv "github.com/fightlightdiamond/chemchat/service/storage/redis"
)

func main() {
	config.LoadOverrides()
	config.ConfigIds()

	if err := config.ConfigRedis(); err != nil {
		logger.Errorf("redis init failed: %v", err)
		return
	}
	if err := config.ConfigPg(); err != nil {
		logger.Errorf("postgres init failed: %v", err)
		return
	}
	if err := config.ConfigMgo(); err != nil {
		logger.Errorf("mongo init failed: %v", err)
		return
	}
	defer pg.ClosePg()
	defer func() { _ = redisSrv.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := message.EnsureIndexes(ctx, mgo.GetDB()); err != nil {
		cancel()
		logger.Errorf("message index ensure failed: %v", err)
		return
	}
	cancel()

	// Kafka is the announcement channel, not the source of truth; a broker
	// outage degrades to store-only operation.
	if err := kafka.InitKafkaClient(); err != nil {
		logger.Warnf("kafka init failed, message events disabled: %v", err)
	} else if err := kafka.InitSyncProducerFromClient(); err != nil {
		logger.Warnf("kafka producer init failed, message events disabled: %v", err)
	}
	defer kafka.Close()

	msgStore := message.NewMongoStore(mgo.GetDB())
	coordinator := seq.New(
		seq.NewRedisCache(redisSrv.GetRedis()),
		seq.NewPgStore(pg.GetPool(), msgStore),
		config.SeqOptions(),
	)
	svc := message.NewService(msgStore, coordinator)

	chat.Init(svc, coordinator)
	mid.ConfigureAuth(midsec.DefaultOptions(config.GetJwtSecret()))

	r := gin.New()
	r.Use(gin.Logger(), mid.Recovery())
	chat.RegisterRoutes(r)

	addr := fmt.Sprintf(":%d", config.Global.Port)
	logger.Infof("chemchat seq service listening on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Errorf("http server exited: %v", err)
	}
}
