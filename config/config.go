package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	JWT           JWTConfig
	OTP           OTPConfig
	Notifications NotificationsConfig
	Mail          MailConfig
	Redis         RedisConfig
	Cloudinary    CloudinaryConfig
	Admin         AdminConfig
}

type ServerConfig struct {
	Port         string        `env:"PORT" envDefault:"8080"`
	Env          string        `env:"APP_ENV" envDefault:"development"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"0s"` // streaming endpoints stay open
	RateLimit    int           `env:"RATE_LIMIT" envDefault:"100"`
	RateWindow   time.Duration `env:"RATE_WINDOW" envDefault:"60s"`
}

type DatabaseConfig struct {
	// Driver is "mysql" or "memory" (local development without a database).
	Driver          string        `env:"DB_DRIVER" envDefault:"mysql"`
	DSN             string        `env:"DB_DSN" envDefault:"flavorfleet:flavorfleet@tcp(localhost:3306)/flavorfleet?charset=utf8mb4&parseTime=True&loc=UTC"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"100"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
}

type JWTConfig struct {
	AccessSecret  string        `env:"JWT_ACCESS_SECRET" envDefault:"change-me-in-production"`
	RefreshSecret string        `env:"JWT_REFRESH_SECRET" envDefault:"change-me-refresh"`
	AccessExpiry  time.Duration `env:"JWT_ACCESS_EXPIRY" envDefault:"24h"`
	RefreshExpiry time.Duration `env:"JWT_REFRESH_EXPIRY" envDefault:"168h"`
	Issuer        string        `env:"JWT_ISSUER" envDefault:"flavorfleet"`
}

type OTPConfig struct {
	TTL time.Duration `env:"OTP_TTL" envDefault:"10m"`
	// Store is "memory" or "redis".
	Store      string        `env:"OTP_STORE" envDefault:"memory"`
	BcryptCost int           `env:"BCRYPT_COST" envDefault:"10"`
	RateLimit  int           `env:"OTP_RATE_LIMIT" envDefault:"5"`
	RateWindow time.Duration `env:"OTP_RATE_WINDOW" envDefault:"10m"`
}

type NotificationsConfig struct {
	ScheduleEvery   time.Duration `env:"NOTIFY_SCHEDULE_EVERY" envDefault:"60s"`
	LiveIdleTimeout time.Duration `env:"NOTIFY_LIVE_IDLE_TIMEOUT" envDefault:"30m"`
	// DeliveryWorkers bounds concurrent push/email deliveries per dispatch.
	DeliveryWorkers int `env:"NOTIFY_DELIVERY_WORKERS" envDefault:"8"`
}

type MailConfig struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	From                 string `env:"EMAIL_FROM" envDefault:"no-reply@flavorfleet.local"`
	ReplyTo              string `env:"EMAIL_REPLY_TO"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type CloudinaryConfig struct {
	CloudName string `env:"CLOUDINARY_CLOUD_NAME"`
	APIKey    string `env:"CLOUDINARY_API_KEY"`
	APISecret string `env:"CLOUDINARY_API_SECRET"`
	Folder    string `env:"CLOUDINARY_FOLDER" envDefault:"FlavorFleet/notifications"`
}

type AdminConfig struct {
	// Emails listed here get the ADMIN role when they complete signup.
	Emails []string `env:"ADMIN_EMAILS" envSeparator:","`
}

// IsAdminEmail reports whether email is configured as an admin address.
func (a AdminConfig) IsAdminEmail(email string) bool {
	for _, e := range a.Emails {
		if strings.EqualFold(strings.TrimSpace(e), email) {
			return true
		}
	}
	return false
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
