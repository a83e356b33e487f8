// Command prefduelserver boots the preference-duel API: it loads config,
// connects Mongo and Redis, builds the recommender and game service, and
// serves the gin router (SPEC_FULL §5/§6).
package main

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/prefduel/prefduel/config"
	"github.com/prefduel/prefduel/persist/mongodb"
	"github.com/prefduel/prefduel/server"
	"github.com/prefduel/prefduel/service/game"
	"github.com/prefduel/prefduel/service/logger"
	"github.com/prefduel/prefduel/service/recommend"
	"github.com/prefduel/prefduel/service/redis"
)

func main() {
	cfg := config.LoadConfig()
	logger.Init()

	ctx := context.Background()

	clientOpts := options.Client().
		ApplyURI(cfg.MongoURL).
		SetMinPoolSize(cfg.MongoMinPoolSize).
		SetMaxPoolSize(cfg.MongoMaxPoolSize)
	mongoClient, err := mongodb.NewClient(ctx, clientOpts)
	if err != nil {
		panic(fmt.Sprintf("connecting to mongo: %s", err))
	}

	gameRepo, err := mongodb.NewGameMongoRepository(ctx, mongoClient)
	if err != nil {
		panic(fmt.Sprintf("ensuring game indexes: %s", err))
	}
	userRepo := mongodb.NewUserMongoRepository(mongoClient)
	sessionRepo := mongodb.NewSessionMongoRepository(mongoClient)
	productRepo, err := mongodb.NewProductMongoRepository(ctx, mongoClient)
	if err != nil {
		panic(fmt.Sprintf("ensuring product indexes: %s", err))
	}

	redisCache := redis.NewCache(cfg.RedisURL, cfg.RedisPass, redis.RecommenderLockCache)
	lockClient := redis.NewLockClient(redisCache)

	recommender := recommend.New(productRepo, sessionRepo, lockClient)
	ticker := time.NewTicker(time.Duration(cfg.RecommenderRefreshSecs) * time.Second)
	recommender.Run(ctx, ticker)

	gameService := game.New(gameRepo, userRepo, sessionRepo, productRepo, recommender, lockClient)

	router := server.NewRouter(gameService, recommender)
	if err := router.Run(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		panic(fmt.Sprintf("server exited: %s", err))
	}
}
