package main

import (
	"context"
	"fmt"
	"hash/crc32"
	"log"
	"net/http"

	"RTChat/global"
	"RTChat/logger"
	"RTChat/module/chat/store"
	"RTChat/service/broadcast"
	"RTChat/service/gateway"
	"RTChat/service/journal"
	"RTChat/service/mgo"
	"RTChat/service/storage"
	redisrv "RTChat/service/storage/redis"
	"RTChat/tools/ids"
	"RTChat/tools/security"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := global.Load()

	// distinct snowflake node per gateway process
	ids.SetNodeID(int64(crc32.ChecksumIEEE([]byte(cfg.GatewayID)) % 1024))

	if err := redisrv.Init(redisrv.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err != nil {
		log.Fatalf("redis init: %v", err)
	}

	ctx := context.Background()
	if err := mgo.Init(ctx, mgo.Config{URI: cfg.MongoURI, Database: cfg.MongoDB}); err != nil {
		log.Fatalf("mongo init: %v", err)
	}

	st := store.New(mgo.GetDB(), redisrv.Get())
	if err := st.EnsureIndexes(ctx); err != nil {
		log.Fatalf("ensure indexes: %v", err)
	}

	broker, err := broadcast.NewNatsBroker(broadcast.NatsConfig{
		Servers: cfg.NatsServers,
		Name:    cfg.GatewayID,
	})
	if err != nil {
		log.Fatalf("nats connect: %v", err)
	}
	defer broker.Close()

	deps := gateway.Deps{
		Messages: st,
		Receipts: st,
		Members:  st,
		Unread:   st,
		Presence: storage.NewRedisPresence(redisrv.Get()),
		Offline:  storage.NewRedisOfflineQueue(redisrv.Get()),
		Broker:   broker,
		Verifier: security.NewVerifier(security.DefaultOptions(cfg.JWTSecretBytes())),
	}

	if cfg.JournalEnabled {
		jcfg := journal.Config{Brokers: cfg.KafkaBrokers}
		prod, err := journal.NewProducer(jcfg)
		if err != nil {
			log.Fatalf("journal producer: %v", err)
		}
		defer prod.Close()
		deps.Journal = prod

		proj, err := journal.NewProjector(jcfg, st)
		if err != nil {
			log.Fatalf("journal projector: %v", err)
		}
		go func() {
			if err := proj.Run(ctx); err != nil {
				logger.Errorf("[journal] projector stopped: %v", err)
			}
		}()
	}

	g := gateway.New(gateway.Config{GatewayID: cfg.GatewayID}, deps)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/chat", g.HandleWS) // ws://host:port/chat?token=...
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "gateway": cfg.GatewayID})
	})
	// development convenience; production tokens come from the auth service
	r.POST("/auth/token", func(c *gin.Context) {
		var body struct {
			UserID string `json:"userId"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.UserID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId required"})
			return
		}
		token, exp, err := security.Generate(security.DefaultOptions(cfg.JWTSecretBytes()), body.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "expireAt": exp.Unix()})
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Infof("[HTTP] listening on %s gateway=%s", addr, cfg.GatewayID)
	if err := r.Run(addr); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
