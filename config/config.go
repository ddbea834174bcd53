package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Service roles a process can run
const (
	RoleInventory = "inventory"
	RolePayment   = "payment"
	RoleOrder     = "order"
)

type Config struct {
	Server   ServerConfig
	Services ServicesConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Observ   ObservabilityConfig
	Business BusinessConfig
}

type ServerConfig struct {
	Role    string
	Port    string
	Env     string
	Version string
}

// ServicesConfig holds the base URLs of the components the order role calls
type ServicesConfig struct {
	CatalogURL      string
	InventoryURL    string
	PaymentURL      string
	UpstreamTimeout time.Duration
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers       []string
	TopicEvents   string
	ConsumerGroup string
}

type ObservabilityConfig struct {
	JaegerEndpoint string
}

type BusinessConfig struct {
	ReservationTTL       time.Duration
	SweepInterval        time.Duration
	OutboxInterval       time.Duration
	IdempotencyTTL       time.Duration
	DefaultCurrency      string
	DefaultPaymentMethod string
}

// ServiceName is the name reported in logs, traces and health checks
func (c *Config) ServiceName() string {
	return c.Server.Role + "-service"
}

func Load() *Config {
	_ = godotenv.Load()

	role := getEnv("SERVICE_ROLE", RoleOrder)

	cfg := &Config{
		Server: ServerConfig{
			Role:    role,
			Port:    getEnv("PORT", defaultPort(role)),
			Env:     getEnv("ENV", "development"),
			Version: getEnv("SERVICE_VERSION", "0.1.0"),
		},
		Services: ServicesConfig{
			CatalogURL:      getEnv("CATALOG_SERVICE_URL", "http://product-service:8082"),
			InventoryURL:    getEnv("INVENTORY_SERVICE_URL", "http://inventory-service:8086"),
			PaymentURL:      getEnv("PAYMENT_SERVICE_URL", "http://payment-service:8085"),
			UpstreamTimeout: getSeconds("UPSTREAM_TIMEOUT_SECONDS", 10),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "")),
			TopicEvents:   getEnv("KAFKA_TOPIC_EVENTS", "fulfillment-events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", role+"-service-group"),
		},
		Observ: ObservabilityConfig{
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),
		},
		Business: BusinessConfig{
			ReservationTTL:       getSeconds("RESERVATION_TTL_SECONDS", 1800),
			SweepInterval:        getSeconds("RESERVATION_SWEEP_INTERVAL_SECONDS", 60),
			OutboxInterval:       getSeconds("OUTBOX_INTERVAL_SECONDS", 5),
			IdempotencyTTL:       getSeconds("IDEMPOTENCY_TTL_SECONDS", 86400),
			DefaultCurrency:      getEnv("DEFAULT_CURRENCY", "USD"),
			DefaultPaymentMethod: getEnv("DEFAULT_PAYMENT_METHOD", "credit_card"),
		},
	}

	log.Printf("Config loaded: role=%s, env=%s, port=%s", cfg.Server.Role, cfg.Server.Env, cfg.Server.Port)
	return cfg
}

func defaultPort(role string) string {
	switch role {
	case RoleInventory:
		return "8086"
	case RolePayment:
		return "8085"
	default:
		return "8087"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultVal)))
	if err != nil {
		log.Printf("Invalid %s, using default %d: %v", key, defaultVal, err)
		return defaultVal
	}
	return n
}

func getSeconds(key string, defaultVal int) time.Duration {
	return time.Duration(getEnvInt(key, defaultVal)) * time.Second
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
