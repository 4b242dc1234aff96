package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Host      string
	Port      int
	UDPPort   int // 0 disables the datagram relay
	AdminAddr string

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	DatagramTimeout   time.Duration
	CleanupInterval   time.Duration
	WriteTimeout      time.Duration
	OutboxSize        int

	RoomMaxPlayers   int
	RoomPasswordCost int

	DatabaseURL string

	LogLevel  string
	LogFormat string
}

func Default() Config {
	return Config{
		Host:              "localhost",
		Port:              12345,
		UDPPort:           12346,
		AdminAddr:         "localhost:8080",
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		DatagramTimeout:   90 * time.Second,
		CleanupInterval:   5 * time.Minute,
		WriteTimeout:      10 * time.Second,
		OutboxSize:        64,
		RoomMaxPlayers:    2,
		RoomPasswordCost:  bcrypt.MinCost,
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

// Load starts from Default, reads an optional .env file (ENV_FILE overrides
// the path) and then applies environment variables.
func Load() (Config, error) {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", path, err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv applies variables from lookup over Default.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	e := envReader{lookup: lookup}

	e.str("RELAY_HOST", &c.Host)
	e.integer("RELAY_PORT", &c.Port)
	e.integer("RELAY_UDP_PORT", &c.UDPPort)
	e.str("RELAY_ADMIN_ADDR", &c.AdminAddr)
	e.duration("HEARTBEAT_INTERVAL", &c.HeartbeatInterval)
	e.duration("HEARTBEAT_TIMEOUT", &c.HeartbeatTimeout)
	e.duration("DATAGRAM_TIMEOUT", &c.DatagramTimeout)
	e.duration("CLEANUP_INTERVAL", &c.CleanupInterval)
	e.duration("WRITE_TIMEOUT", &c.WriteTimeout)
	e.integer("OUTBOX_SIZE", &c.OutboxSize)
	e.integer("ROOM_MAX_PLAYERS", &c.RoomMaxPlayers)
	e.integer("ROOM_PASSWORD_COST", &c.RoomPasswordCost)
	e.str("DATABASE_URL", &c.DatabaseURL)
	e.str("LOG_LEVEL", &c.LogLevel)
	e.str("LOG_FORMAT", &c.LogFormat)

	if e.err != nil {
		return Config{}, e.err
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("RELAY_PORT out of range: %d", c.Port)
	case c.UDPPort < 0 || c.UDPPort > 65535:
		return fmt.Errorf("RELAY_UDP_PORT out of range: %d", c.UDPPort)
	case c.HeartbeatInterval <= 0 || c.CleanupInterval <= 0:
		return errors.New("sweep intervals must be positive")
	case c.HeartbeatTimeout <= 0 || c.DatagramTimeout <= 0:
		return errors.New("heartbeat timeouts must be positive")
	case c.OutboxSize <= 0:
		return errors.New("OUTBOX_SIZE must be positive")
	case c.RoomMaxPlayers <= 0:
		return errors.New("ROOM_MAX_PLAYERS must be positive")
	case c.RoomPasswordCost < bcrypt.MinCost || c.RoomPasswordCost > bcrypt.MaxCost:
		return fmt.Errorf("ROOM_PASSWORD_COST must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

// Addr is the stream listener address.
func (c Config) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

// NewLogger builds the process logger from LogLevel and LogFormat.
func NewLogger(c Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	var zc zap.Config
	switch strings.ToLower(c.LogFormat) {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok || v == "" || e.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok || v == "" || e.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = fmt.Errorf("%s: %w", key, err)
		return
	}
	*dst = d
}
