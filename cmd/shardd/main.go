// Command shardd runs one Runevale world shard: the zone simulation, the
// dungeon gate keeper, the ledger serializer, and the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/runevale/server/internal/api"
	"github.com/runevale/server/internal/auth"
	"github.com/runevale/server/internal/config"
	"github.com/runevale/server/internal/data"
	"github.com/runevale/server/internal/gates"
	"github.com/runevale/server/internal/ledger"
	"github.com/runevale/server/internal/persist"
	"github.com/runevale/server/internal/scripting"
	"github.com/runevale/server/internal/sim"
	"github.com/runevale/server/internal/world"
)

func main() {
	configPath := flag.String("config", "config/server.toml", "path to the server config")
	dataDir := flag.String("data", "data/yaml", "directory holding the static data catalogs")
	scriptDir := flag.String("scripts", "scripts", "optional lua override directory")
	flag.Parse()

	if err := run(*configPath, *dataDir, *scriptDir); err != nil {
		fmt.Fprintln(os.Stderr, "shardd:", err)
		os.Exit(1)
	}
}

func run(configPath, dataDir, scriptDir string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting shard",
		zap.String("name", cfg.Server.Name),
		zap.Int("id", cfg.Server.ID))

	tables, err := loadTables(dataDir)
	if err != nil {
		return err
	}
	log.Info("catalogs loaded",
		zap.Int("items", tables.items.Count()),
		zap.Int("mobs", tables.mobs.Count()),
		zap.Int("zones", tables.zones.Count()),
		zap.Int("dungeons", tables.dungeons.Count()),
		zap.Int("techniques", tables.techniques.Count()),
		zap.Int("classes", tables.classes.Count()))

	script, err := scripting.NewEngine(log)
	if err != nil {
		return fmt.Errorf("scripting: %w", err)
	}
	defer script.Close()
	if err := script.LoadDir(scriptDir); err != nil {
		return fmt.Errorf("scripting overrides: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var progress sim.ProgressStore
	if cfg.Database.DSN != "" {
		if err := persist.Migrate(cfg.Database.DSN, log); err != nil {
			return err
		}
		pool, err := persist.Connect(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		progress = persist.NewProgressRepo(pool)
	} else {
		log.Info("progress persistence disabled")
	}

	// TODO: swap MemLedger for the chain adapter once its RPC surface lands.
	assets := ledger.NewMemLedger()
	ser := ledger.NewSerializer(cfg.Ledger, log)
	serDone := make(chan struct{})
	go func() {
		ser.Run(ctx)
		close(serDone)
	}()
	gold := ledger.NewGoldLedger()

	w := world.New(cfg, log, tables.zones, tables.mobs, tables.items, nil)
	engine := sim.NewEngine(cfg, log, w, script, tables.techniques, tables.classes, ser, assets, gold, progress)
	engine.StartPersistence(ctx)

	keeper := gates.NewKeeper(cfg, log, w, tables.dungeons, ser, assets, nil, w.Now().UnixNano())
	keeper.Start()

	sessions := auth.NewStore(cfg.Session, nil)
	sessionStop := make(chan struct{})
	sessions.StartCleanup(sessionStop)

	// Warm the start zone so the first player does not pay creation cost.
	w.GetOrCreate(cfg.Gameplay.StartZone)

	srv := api.NewServer(cfg, log, sessions, engine, keeper)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-srvErr:
		if err != nil {
			log.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	close(sessionStop)
	keeper.Stop()
	engine.Shutdown()

	// Stop accepting ledger work, then let the queue drain before exit so no
	// accepted mint or burn is lost.
	ser.Close()
	ser.Flush()
	cancel()
	<-serDone

	log.Info("shard stopped")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.Defaults()
		return cfg, nil
	}
	return config.Load(path)
}

type tableSet struct {
	items      *data.ItemTable
	mobs       *data.MobTable
	zones      *data.ZoneTable
	dungeons   *data.DungeonTable
	techniques *data.TechniqueTable
	classes    *data.ClassTable
}

func loadTables(dir string) (*tableSet, error) {
	var t tableSet
	var err error
	if t.items, err = data.LoadItemTable(filepath.Join(dir, "items.yaml")); err != nil {
		return nil, err
	}
	if t.mobs, err = data.LoadMobTable(filepath.Join(dir, "mobs.yaml")); err != nil {
		return nil, err
	}
	if t.zones, err = data.LoadZoneTable(filepath.Join(dir, "zones.yaml")); err != nil {
		return nil, err
	}
	if t.dungeons, err = data.LoadDungeonTable(filepath.Join(dir, "dungeons.yaml")); err != nil {
		return nil, err
	}
	if t.techniques, err = data.LoadTechniqueTable(filepath.Join(dir, "techniques.yaml")); err != nil {
		return nil, err
	}
	if t.classes, err = data.LoadClassTable(filepath.Join(dir, "classes.yaml")); err != nil {
		return nil, err
	}
	return &t, nil
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
