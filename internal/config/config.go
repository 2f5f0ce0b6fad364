package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "HUDDLE"

type LogConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Listen           string
	AllowedOrigins   []string
	ModerationPolicy string
	JWTSecret        string
	Redis            RedisConfig
	PresenceTTL      time.Duration
	Log              LogConfig
}

type PeerConfig struct {
	ServerURL         string
	Name              string
	Token             string
	ICEServers        []string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Video             bool
	Audio             bool
	Log               LogConfig
}

func SetServerDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("moderation.policy", "host")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("presence.ttl", 24*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func SetPeerDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "ws://localhost:8080/ws")
	v.SetDefault("name", "")
	v.SetDefault("token", "")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302", "stun:stun.cloudflare.com:3478"})
	v.SetDefault("reconnect_attempts", 5)
	v.SetDefault("reconnect_delay", time.Second)
	v.SetDefault("video", true)
	v.SetDefault("audio", true)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "console")
}

// read wires the config file and environment into v. A missing config file
// is not an error; every key has a default.
func read(v *viper.Viper, configFile string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		return nil
	}
	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("config_file", configFile).Msg("No config file found")
		return nil
	}
	v.SetConfigFile(configFile)
	return v.ReadInConfig()
}

func LoadServer(v *viper.Viper, configFile string) (*ServerConfig, error) {
	SetServerDefaults(v)
	if err := read(v, configFile); err != nil {
		return nil, err
	}

	return &ServerConfig{
		Listen:           v.GetString("listen"),
		AllowedOrigins:   splitList(v.GetStringSlice("allowed_origins")),
		ModerationPolicy: v.GetString("moderation.policy"),
		JWTSecret:        v.GetString("auth.jwt_secret"),
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		PresenceTTL: v.GetDuration("presence.ttl"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}, nil
}

func LoadPeer(v *viper.Viper, configFile string) (*PeerConfig, error) {
	SetPeerDefaults(v)
	if err := read(v, configFile); err != nil {
		return nil, err
	}

	cfg := &PeerConfig{
		ServerURL:         v.GetString("server_url"),
		Name:              v.GetString("name"),
		Token:             v.GetString("token"),
		ICEServers:        splitList(v.GetStringSlice("ice_servers")),
		ReconnectAttempts: v.GetInt("reconnect_attempts"),
		ReconnectDelay:    v.GetDuration("reconnect_delay"),
		Video:             v.GetBool("video"),
		Audio:             v.GetBool("audio"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	if cfg.ServerURL == "" {
		return nil, errors.New("server_url must be set")
	}
	return cfg, nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
