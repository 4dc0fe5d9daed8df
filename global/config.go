package global

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig carries everything a gateway process needs to boot. Values come
// from the environment, with a .env file as a convenience for development.
type AppConfig struct {
	Port      int
	GatewayID string
	JWTSecret string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI string
	MongoDB  string

	NatsServers []string

	KafkaBrokers   []string
	JournalEnabled bool
}

// Load reads the process configuration. A missing .env file is not an error.
func Load() *AppConfig {
	_ = godotenv.Load()
	return &AppConfig{
		Port:      envInt("RTCHAT_PORT", 8080),
		GatewayID: envStr("RTCHAT_GATEWAY_ID", "gateway-1"),
		JWTSecret: envStr("RTCHAT_JWT_SECRET", "dev-only-secret"),

		RedisAddr:     envStr("RTCHAT_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: envStr("RTCHAT_REDIS_PASSWORD", ""),
		RedisDB:       envInt("RTCHAT_REDIS_DB", 0),

		MongoURI: envStr("RTCHAT_MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  envStr("RTCHAT_MONGO_DB", "rtchat"),

		NatsServers: envList("RTCHAT_NATS_SERVERS", "nats://127.0.0.1:4222"),

		KafkaBrokers:   envList("RTCHAT_KAFKA_BROKERS", "127.0.0.1:9092"),
		JournalEnabled: envBool("RTCHAT_JOURNAL_ENABLED", false),
	}
}

func (c *AppConfig) JWTSecretBytes() []byte { return []byte(c.JWTSecret) }

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envList(key, def string) []string {
	raw := envStr(key, def)
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
