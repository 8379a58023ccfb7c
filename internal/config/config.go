package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	HTTP     HTTPConfig     `toml:"http"`
	Database DatabaseConfig `toml:"database"`
	Gameplay GameplayConfig `toml:"gameplay"`
	Gates    GatesConfig    `toml:"gates"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Session  SessionConfig  `toml:"session"`
	Rates    RatesConfig    `toml:"rates"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	ID        int    `toml:"id"`
	StartTime int64  // set at boot, not from config
}

type HTTPConfig struct {
	BindAddress     string        `toml:"bind_address"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	CommandDeadline time.Duration `toml:"command_deadline"`
}

type DatabaseConfig struct {
	// DSN empty = progress persistence disabled (live state rebuilds from
	// spawn tables; the asset ledger is the durable store).
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	SaveInterval    time.Duration `toml:"save_interval"`
}

type GameplayConfig struct {
	TickInterval     time.Duration `toml:"tick_interval"`
	MoveSpeed        float64       `toml:"move_speed"`        // world units per tick
	ArrivalThreshold float64       `toml:"arrival_threshold"` // stop distance for move orders
	AttackRange      float64       `toml:"attack_range"`
	InteractRange    float64       `toml:"interact_range"` // nodes, NPCs, corpses
	PortalRange      float64       `toml:"portal_range"`
	AggroRange       float64       `toml:"aggro_range"`
	MaxLevel         int           `toml:"max_level"`
	CorpseSkinWindow time.Duration `toml:"corpse_skin_window"`
	DeathDurability  float64       `toml:"death_durability"` // fraction of max durability lost on death
	DeathHPFraction  float64       `toml:"death_hp_fraction"`
	MobRespawnDelay  time.Duration `toml:"mob_respawn_delay"`
	EventLogSize     int           `toml:"event_log_size"`
	InboxSize        int           `toml:"inbox_size"`

	StartZone string  `toml:"start_zone"` // zone for fresh characters
	StartX    float64 `toml:"start_x"`
	StartY    float64 `toml:"start_y"`
}

type GatesConfig struct {
	KeeperInterval  time.Duration `toml:"keeper_interval"`
	SurgeInterval   time.Duration `toml:"surge_interval"`
	GateLifetime    time.Duration `toml:"gate_lifetime"`
	InstanceTimeout time.Duration `toml:"instance_timeout"`
	CleanupDelay    time.Duration `toml:"cleanup_delay"`
	MinGates        int           `toml:"min_gates"`
	MaxGates        int           `toml:"max_gates"`
	DangerChance    float64       `toml:"danger_chance"`
	MaxPartySize    int           `toml:"max_party_size"`
}

type LedgerConfig struct {
	MaxRetries  int           `toml:"max_retries"`
	BackoffBase time.Duration `toml:"backoff_base"`
	QueueSize   int           `toml:"queue_size"`
}

type SessionConfig struct {
	TTL             time.Duration `toml:"ttl"`
	ChallengeWindow time.Duration `toml:"challenge_window"` // allowed clock skew on verify
}

type RatesConfig struct {
	ExpRate  float64 `toml:"exp_rate"`
	DropRate float64 `toml:"drop_rate"`
	GoldRate float64 `toml:"gold_rate"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

// Defaults returns the built-in configuration. Tests build on this directly.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "Runevale",
			ID:   1,
		},
		HTTP: HTTPConfig{
			BindAddress:     "0.0.0.0:8790",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CommandDeadline: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			SaveInterval:    30 * time.Second,
		},
		Gameplay: GameplayConfig{
			TickInterval:     500 * time.Millisecond,
			MoveSpeed:        24,
			ArrivalThreshold: 15,
			AttackRange:      40,
			InteractRange:    60,
			PortalRange:      30,
			AggroRange:       220,
			MaxLevel:         60,
			CorpseSkinWindow: 90 * time.Second,
			DeathDurability:  0.10,
			DeathHPFraction:  0.25,
			MobRespawnDelay:  30 * time.Second,
			EventLogSize:     256,
			InboxSize:        128,
			StartZone:        "meadowbrook",
			StartX:           400,
			StartY:           400,
		},
		Gates: GatesConfig{
			KeeperInterval:  5 * time.Second,
			SurgeInterval:   5 * time.Minute,
			GateLifetime:    3 * time.Minute,
			InstanceTimeout: 30 * time.Minute,
			CleanupDelay:    15 * time.Second,
			MinGates:        3,
			MaxGates:        6,
			DangerChance:    0.05,
			MaxPartySize:    6,
		},
		Ledger: LedgerConfig{
			MaxRetries:  3,
			BackoffBase: 1 * time.Second,
			QueueSize:   256,
		},
		Session: SessionConfig{
			TTL:             24 * time.Hour,
			ChallengeWindow: 5 * time.Minute,
		},
		Rates: RatesConfig{
			ExpRate:  1.0,
			DropRate: 1.0,
			GoldRate: 1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
