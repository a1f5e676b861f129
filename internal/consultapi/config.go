package consultapi

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type App struct {
	Rdb *redis.Client
	Db  *gorm.DB
	Aqc *asynq.Client
	Cfg *AppConfig
	// Gw is wired by the process entry point; tests substitute a fake.
	Gw PaymentGateway
}

type AppConfig struct {
	Settings AppSettings `json:"settings"`
}

type AppSettings struct {
	Fees   FeeSettings  `json:"fees"`
	Ref    RefSettings  `json:"ref"`
	Limits SettingLimit `json:"limits"`
}

type FeeSettings struct {
	PlatformRate    float64 `json:"platform_rate"`     // share of the session rate kept by the platform
	OfferBonusCents int64   `json:"offer_bonus_cents"` // flat first-contact bonus paid on an accepted offer
}

type RefSettings struct {
	// Schedule holds the bonus share per referral level, index 0 = level 1.
	// Levels beyond the schedule earn nothing.
	Schedule []float64 `json:"schedule"`
	MaxDepth int       `json:"max_depth"`
}

type SettingLimit struct {
	RateMinCents int64 `json:"rate_min_cents"`
	RateMaxCents int64 `json:"rate_max_cents"`
}

// Validate rejects any configuration that could produce a negative payout.
// A schedule plus platform fee exceeding the full rate must never reach the
// calculator.
func (c *AppConfig) Validate() error {
	fees := c.Settings.Fees
	ref := c.Settings.Ref
	if fees.PlatformRate < 0 || fees.PlatformRate > 1 {
		return fmt.Errorf("platform rate out of range: %v", fees.PlatformRate)
	}
	if fees.OfferBonusCents < 0 {
		return fmt.Errorf("offer bonus is negative: %d", fees.OfferBonusCents)
	}
	if ref.MaxDepth < 0 {
		return fmt.Errorf("referral max depth is negative: %d", ref.MaxDepth)
	}
	total := fees.PlatformRate
	for lvl, share := range ref.Schedule {
		if share < 0 {
			return fmt.Errorf("referral schedule lvl %d is negative: %v", lvl+1, share)
		}
		total += share
	}
	if total > 1 {
		return fmt.Errorf("platform fee plus referral schedule exceeds session rate: %v", total)
	}
	return nil
}

func DefaultConfig() *AppConfig {
	return &AppConfig{
		Settings: AppSettings{
			Fees: FeeSettings{
				PlatformRate:    0.15,
				OfferBonusCents: 50000,
			},
			Ref: RefSettings{
				Schedule: []float64{0.10, 0.01},
				MaxDepth: 4,
			},
			Limits: SettingLimit{
				RateMinCents: 1000,
				RateMaxCents: 100000,
			},
		},
	}
}

func Init() *App {
	loadEnv()
	redisClient := setupRedis()
	db := setupDb()
	asynqClient := setupAsynqClient()

	app := &App{
		Rdb: redisClient,
		Db:  db,
		Aqc: asynqClient,
		Cfg: LoadAppConfig(redisClient),
	}
	return app
}

// LoadAppConfig reads the operator override from redis, falling back to the
// defaults and seeding the cache on first run. Panics when the effective
// configuration is invalid: a bad referral schedule must kill the process, not
// silently produce negative payouts later.
func LoadAppConfig(rdb *redis.Client) *AppConfig {
	cfg := DefaultConfig()
	isSet := false
	appConfigRaw, _ := rdb.Get(context.Background(), "app_config").Result()
	if len(appConfigRaw) > 0 {
		loaded := &AppConfig{}
		if err := json.Unmarshal([]byte(appConfigRaw), loaded); err == nil {
			cfg = loaded
			isSet = true
		}
	}
	if !isSet {
		currentConfig, _ := json.Marshal(cfg)
		rdb.Set(context.Background(), "app_config", currentConfig, 0)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid payout configuration: %v", err))
	}
	return cfg
}

func setupRedis() *redis.Client {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})
	return redisClient
}

func setupDb() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		panic("failed to connect to the db")
	}
	err = db.AutoMigrate(
		&User{},
		&Session{},
		&ReferralEdge{},
		&ProfessionalFeedback{},
		&Offer{},
	)
	if err != nil {
		panic("failed to run migrations")
	}

	return db
}

func setupAsynqClient() *asynq.Client {
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	return asynqClient
}

// SetupAsynqServer builds the task server used by cmd/worker.
func SetupAsynqServer(concurrency int) *asynq.Server {
	if concurrency < 1 {
		concurrency = 10
	}
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"notify": 3,
				"review": 1,
			},
		},
	)
}

func loadEnv() {
	env := os.Getenv("APP_ENV")
	if "" == env {
		env = "development"
	}

	godotenv.Load(".env." + env + ".local")

	if "test" != env {
		godotenv.Load(".env.local")
	}
	godotenv.Load(".env." + env)
	godotenv.Load()
}
