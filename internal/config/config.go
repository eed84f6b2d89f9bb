package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	AppPort    string
	AppEnv     string

	JWTSecret string

	VNPayTmnCode    string
	VNPayHashSecret string
	VNPayPayURL     string
	VNPayRefundURL  string
	VNPayReturnURL  string

	PayOSClientID    string
	PayOSAPIKey      string
	PayOSChecksumKey string
	PayOSReturnURL   string
	PayOSCancelURL   string

	// CommissionBps is the platform cut in basis points (300 = 3%).
	CommissionBps int64
	// AutoCompleteDays is how long a delivered order may sit without a
	// dispute before the reconcile job completes it.
	AutoCompleteDays int
	// RefundMaxAttempts bounds provider refund retries before the order
	// is escalated to disputed.
	RefundMaxAttempts int
}

func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     os.Getenv("DB_HOST"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBPort:     os.Getenv("DB_PORT"),
		AppPort:    os.Getenv("APP_PORT"),
		AppEnv:     os.Getenv("APP_ENV"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		VNPayTmnCode:    os.Getenv("VNPAY_TMN_CODE"),
		VNPayHashSecret: os.Getenv("VNPAY_HASH_SECRET"),
		VNPayPayURL:     os.Getenv("VNPAY_PAY_URL"),
		VNPayRefundURL:  os.Getenv("VNPAY_REFUND_URL"),
		VNPayReturnURL:  os.Getenv("VNPAY_RETURN_URL"),

		PayOSClientID:    os.Getenv("PAYOS_CLIENT_ID"),
		PayOSAPIKey:      os.Getenv("PAYOS_API_KEY"),
		PayOSChecksumKey: os.Getenv("PAYOS_CHECKSUM_KEY"),
		PayOSReturnURL:   os.Getenv("PAYOS_RETURN_URL"),
		PayOSCancelURL:   os.Getenv("PAYOS_CANCEL_URL"),

		CommissionBps:     envInt64("COMMISSION_BPS", 300),
		AutoCompleteDays:  envInt("AUTO_COMPLETE_DAYS", 7),
		RefundMaxAttempts: envInt("REFUND_MAX_ATTEMPTS", 5),
	}

	if cfg.DBHost == "" {
		log.Fatal("Environment variables not loaded properly")
	}
	if cfg.AppPort == "" {
		cfg.AppPort = "8080"
	}

	return cfg
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return n
}
