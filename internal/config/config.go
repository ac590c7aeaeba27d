package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config - конфигурация сервиса бронирований
type Config struct {
	Port    string
	GinMode string

	DB           DBConfig
	Redis        RedisConfig
	JWTSecret    string
	AdminUserIDs []uint

	Booking      BookingConfig
	Cancellation CancellationConfig
	Scheduler    SchedulerConfig

	FirebaseServerKey string
	SMTP              SMTPConfig
	GreenAPI          GreenAPIConfig
	Telegram          TelegramConfig
	Kafka             KafkaConfig

	DefaultTimezone string
}

type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

type BookingConfig struct {
	PendingTTL     time.Duration
	ExpiryInterval time.Duration
}

type CancellationConfig struct {
	Window    time.Duration
	Threshold int
}

type SchedulerConfig struct {
	Interval       time.Duration
	InterItemDelay time.Duration
	Retention      time.Duration
	SweepInterval  time.Duration
	MaxAttempts    int
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type GreenAPIConfig struct {
	InstanceID     string
	Token          string
	BaseURL        string
	OperatorChatID string
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Load читает .env (если есть) и переменные окружения
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Файл .env не найден, используем переменные окружения")
	}

	return Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: os.Getenv("GIN_MODE"),
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            os.Getenv("DB_USER"),
			Password:        os.Getenv("DB_PASSWORD"),
			Name:            os.Getenv("DB_NAME"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: time.Duration(getInt("DB_CONN_MAX_LIFETIME_MINUTES", 60)) * time.Minute,
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		JWTSecret:    os.Getenv("JWT_SECRET"),
		AdminUserIDs: getUintList("ADMIN_USER_IDS"),
		Booking: BookingConfig{
			PendingTTL:     getDuration("PENDING_BOOKING_TTL", 24*time.Hour),
			ExpiryInterval: getDuration("PENDING_BOOKING_SWEEP_INTERVAL", 15*time.Minute),
		},
		Cancellation: CancellationConfig{
			Window:    time.Duration(getInt("CANCELLATION_WINDOW_DAYS", 15)) * 24 * time.Hour,
			Threshold: getInt("CANCELLATION_THRESHOLD", 3),
		},
		Scheduler: SchedulerConfig{
			Interval:       getDuration("NOTIFICATION_QUEUE_INTERVAL", 30*time.Second),
			InterItemDelay: getDuration("NOTIFICATION_QUEUE_ITEM_DELAY", 200*time.Millisecond),
			Retention:      getDuration("NOTIFICATION_QUEUE_RETENTION", 24*time.Hour),
			SweepInterval:  getDuration("NOTIFICATION_QUEUE_SWEEP_INTERVAL", time.Hour),
			MaxAttempts:    getInt("NOTIFICATION_MAX_ATTEMPTS", 3),
		},
		FirebaseServerKey: os.Getenv("FIREBASE_SERVER_KEY"),
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnv("SMTP_PORT", "587"),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		},
		GreenAPI: GreenAPIConfig{
			InstanceID:     os.Getenv("GREEN_API_INSTANCE_ID"),
			Token:          os.Getenv("GREEN_API_TOKEN"),
			BaseURL:        os.Getenv("GREEN_API_BASE_URL"),
			OperatorChatID: os.Getenv("GREEN_API_OPERATOR_CHAT_ID"),
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			ChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("KAFKA_TOPIC", "booking-events"),
		},
		DefaultTimezone: getEnv("DEFAULT_TIMEZONE", "Asia/Almaty"),
	}
}

// DSN собирает строку подключения к Postgres
func (c DBConfig) DSN() string {
	return "host=" + c.Host + " port=" + c.Port + " user=" + c.User +
		" password=" + c.Password + " dbname=" + c.Name + " sslmode=disable"
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, err := strconv.Atoi(os.Getenv(key)); err == nil && val > 0 {
		return val
	}
	return fallback
}

// getDuration принимает формат time.ParseDuration ("30s", "24h")
func getDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key))); err == nil && d > 0 {
		return d
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getUintList(key string) []uint {
	var out []uint
	for _, part := range splitList(os.Getenv(key)) {
		if v, err := strconv.ParseUint(part, 10, 64); err == nil && v > 0 {
			out = append(out, uint(v))
		} else {
			log.Printf("Config: пропущено некорректное значение %s в %s", part, key)
		}
	}
	return out
}
