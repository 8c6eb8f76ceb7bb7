package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"collab-board/api"
	"collab-board/hub"
	"collab-board/storage"
)

const defaultConflictSignalRate = 0.05

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := os.Getenv("TASKS_TABLE")
	activitiesTableName := os.Getenv("ACTIVITIES_TABLE")
	usersTableName := os.Getenv("USERS_TABLE")
	if connStr == "" || tasksTableName == "" || activitiesTableName == "" || usersTableName == "" {
		log.Fatal("missing storage config")
	}
	exportQueueName := os.Getenv("ACTIVITY_EXPORT_QUEUE")

	store, err := storage.New(connStr, tasksTableName, activitiesTableName, usersTableName, exportQueueName, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)

	cacheTTL := 30 * time.Second
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cached := storage.NewCache(store, rc, cacheTTL)

	deduperTTL := 24 * time.Hour
	if v := os.Getenv("DEDUPER_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid DEDUPER_TTL: %v", err)
		}
		deduperTTL = d
	}
	deduper := api.NewRedisDeduper(rc, deduperTTL)

	var auth *api.Auth
	if os.Getenv("LOCAL_AUTH_MODE") != "" {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	conflictRate := defaultConflictSignalRate
	if v := os.Getenv("CONFLICT_SIGNAL_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate < 0 || rate > 1 {
			log.Fatalf("invalid CONFLICT_SIGNAL_RATE: %v", err)
		}
		conflictRate = rate
	}

	broadcast := hub.New(logger)
	signaler := hub.NewConflictSignaler(broadcast, cached, conflictRate, logger)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.HeaderSessionID, api.HeaderIdempotencyKey},
	}))
	e.Use(echoprometheus.NewMiddleware("collab_board"))
	e.Use(api.GzipRequestMiddleware())
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, cached, auth, deduper, broadcast, signaler, logger)
	e.GET("/api/stream", broadcast.ServeSSE(auth))
	e.POST("/api/events", broadcast.Relay(auth))

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
