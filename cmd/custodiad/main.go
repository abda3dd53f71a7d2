package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"custodia/config"
	"custodia/core/events"
	"custodia/core/state"
	"custodia/native/escrow"
	"custodia/native/reputation"
	"custodia/observability/logging"
	"custodia/rpc"
	"custodia/storage"
)

const envVar = "CUSTODIA_ENV"

// logEmitter forwards every native-module event to the structured log.
type logEmitter struct {
	log *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	attrs := make([]any, 0, len(payload.Attributes)*2)
	for k, v := range payload.Attributes {
		attrs = append(attrs, k, v)
	}
	l.log.Info(payload.Type, attrs...)
}

func parseAddressList(raw string) ([][20]byte, error) {
	var out [][20]byte
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimPrefix(strings.TrimSpace(part), "0x")
		if trimmed == "" {
			continue
		}
		decoded, err := hex.DecodeString(trimmed)
		if err != nil || len(decoded) != 20 {
			return nil, fmt.Errorf("invalid address %q", part)
		}
		var addr [20]byte
		copy(addr[:], decoded)
		out = append(out, addr)
	}
	return out, nil
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	bootstrapFlag := flag.String("bootstrap-arbitrators", "", "Comma-separated hex addresses to seed as arbitrators at startup")
	memFlag := flag.Bool("mem", false, "DEV ONLY: run against an in-memory store instead of LevelDB")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var logger *slog.Logger
	if strings.TrimSpace(cfg.LogFile) != "" {
		sink := logging.RotatingFile(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays)
		logger = logging.SetupWithOutput("custodiad", env, sink)
	} else {
		logger = logging.Setup("custodiad", env)
	}

	var db storage.Database
	if *memFlag {
		db = storage.NewMemDB()
	} else {
		path := filepath.Join(cfg.DataDir, "state")
		leveldb, err := storage.NewLevelDB(path)
		if err != nil {
			logger.Error("failed to open state database", "path", path, "err", err)
			os.Exit(1)
		}
		db = leveldb
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close state database", "err", err)
		}
	}()

	manager := state.NewManager(db)
	reputationStore := reputation.NewStore(manager)
	ledger := escrow.NewLedger(manager)
	engine := escrow.NewEngine(ledger, reputationStore, manager)

	emitter := logEmitter{log: logger}
	engine.SetEmitter(emitter)
	reputationStore.SetEmitter(emitter)

	if *bootstrapFlag != "" {
		addrs, err := parseAddressList(*bootstrapFlag)
		if err != nil {
			logger.Error("invalid bootstrap arbitrator list", "err", err)
			os.Exit(1)
		}
		for _, addr := range addrs {
			created, err := reputationStore.BootstrapArbitrator(addr)
			if err != nil {
				logger.Error("failed to bootstrap arbitrator", "err", err)
				os.Exit(1)
			}
			if created {
				logger.Info("seeded arbitrator", "address", "0x"+hex.EncodeToString(addr[:]))
			}
		}
	}

	logger.Info("custodia escrow ledger starting",
		"network", cfg.NetworkName,
		"rpc", cfg.RPCAddress,
		"vault", "0x"+hex.EncodeToString(escrow.VaultAddress[:]),
	)

	server := rpc.NewServer(engine, reputationStore, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "err", err)
		os.Exit(1)
	}
}
