package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

//-------------------------------------------------------------
const (
	appEnv           = "APP_ENV"
	port             = "PORT"
	mongoURL         = "MONGODB_URL"
	mongoDBName      = "MONGODB_DB_NAME"
	mongoMinPoolSize = "MONGODB_MIN_POOL_SIZE"
	mongoMaxPoolSize = "MONGODB_MAX_POOL_SIZE"
	redisURL         = "REDIS_URL"
	redisPass        = "REDIS_PASS"
	tmdbAPIKey       = "TMDB_API_KEY"
	refreshInterval  = "RECOMMENDER_REFRESH_SECONDS"
)

// Config holds every value the server reads from the environment. Fields
// are resolved once at startup; nothing here is re-read after LoadConfig.
type Config struct {
	AppEnv                 string
	Port                   int
	MongoURL               string
	MongoDBName            string
	MongoMinPoolSize       uint64
	MongoMaxPoolSize       uint64
	RedisURL               string
	RedisPass              string
	TMDBAPIKey             string
	RecommenderRefreshSecs int
}

//-------------------------------------------------------------
// LoadConfig reads .env (if present) and the process environment into a
// Config, applying the defaults a local single-binary deployment needs to
// boot without any of it set.
func LoadConfig() *Config {
	viper.SetDefault(appEnv, "local")
	viper.SetDefault(port, 4000)
	viper.SetDefault(mongoURL, "mongodb://localhost:27017")
	viper.SetDefault(mongoDBName, "prefduel")
	viper.SetDefault(mongoMinPoolSize, 2)
	viper.SetDefault(mongoMaxPoolSize, 20)
	viper.SetDefault(redisURL, "localhost:6379")
	viper.SetDefault(redisPass, "")
	viper.SetDefault(tmdbAPIKey, "")
	viper.SetDefault(refreshInterval, 60)

	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
			panic(fmt.Sprintf("error reading in env file: %s", err))
		}
	}

	return &Config{
		AppEnv:                 viper.GetString(appEnv),
		Port:                   viper.GetInt(port),
		MongoURL:               viper.GetString(mongoURL),
		MongoDBName:            viper.GetString(mongoDBName),
		MongoMinPoolSize:       viper.GetUint64(mongoMinPoolSize),
		MongoMaxPoolSize:       viper.GetUint64(mongoMaxPoolSize),
		RedisURL:               viper.GetString(redisURL),
		RedisPass:              viper.GetString(redisPass),
		TMDBAPIKey:             viper.GetString(tmdbAPIKey),
		RecommenderRefreshSecs: viper.GetInt(refreshInterval),
	}
}
