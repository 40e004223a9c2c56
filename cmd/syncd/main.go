package main

import (
	"context"
	"flag"
	"lmsync-backend/lib/chrono"
	"lmsync-backend/lib/configutil"
	"lmsync-backend/lib/serviceutil"
	"lmsync-backend/lib/sqliteutil"
	"lmsync-backend/lib/syncledger"
	ledgerdb "lmsync-backend/lib/syncledger/db"
	"lmsync-backend/lib/telemetry"
	"lmsync-backend/services/calsync"
	"lmsync-backend/services/calsync/gcal"
	"lmsync-backend/services/keychain"
	keychaindb "lmsync-backend/services/keychain/db"
	"log/slog"
	"net/http"
	"time"
)

type DatabaseConfig struct {
	Driver      string `json:"driver"`
	KeychainDsn string `json:"keychain_dsn"`
	LedgerDsn   string `json:"ledger_dsn"`
}

type PortalConfig struct {
	BaseUrl string `json:"base_url"`
}

type GoogleConfig struct {
	ClientId     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectUri  string `json:"redirect_uri"`
	CalendarId   string `json:"calendar_id"`
}

type Config struct {
	Database    DatabaseConfig    `json:"database"`
	Portal      PortalConfig      `json:"portal"`
	Google      GoogleConfig      `json:"google"`
	CourseNames map[string]string `json:"course_names"`
	Cron        string            `json:"cron"`
	Port        int               `json:"port"`
	Telemetry   telemetry.Config  `json:"telemetry"`
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	telemetry.InitSlog(*verbose)

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Cron == "" {
		cfg.Cron = "*/10 * * * *"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}

	t, err := telemetry.Setup(ctx, "syncd", cfg.Telemetry)
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer t.Shutdown(context.Background())

	keychainDb, err := sqliteutil.OpenDB(cfg.Database.Driver, cfg.Database.KeychainDsn, keychaindb.Schema)
	if err != nil {
		serviceutil.Fatal("open keychain db", err)
	}
	defer keychainDb.Close()

	ledgerDb, err := sqliteutil.OpenDB(cfg.Database.Driver, cfg.Database.LedgerDsn, ledgerdb.Schema)
	if err != nil {
		serviceutil.Fatal("open ledger db", err)
	}
	defer ledgerDb.Close()

	provider := keychain.NewService(keychainDb, keychain.Options{
		ClientId:     cfg.Google.ClientId,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectUri:  cfg.Google.RedirectUri,
	})
	go provider.RefreshDaemon(ctx, time.Minute)

	sink := gcal.NewSink(provider, gcal.SinkOptions{
		CalendarId: cfg.Google.CalendarId,
	})
	runner := calsync.NewRunner(
		syncledger.NewStore(ledgerDb),
		sink,
		calsync.RunnerOptions{
			PortalBaseUrl: cfg.Portal.BaseUrl,
			CourseNames:   cfg.CourseNames,
		},
	)
	orchestrator := calsync.NewOrchestrator(runner, provider, calsync.OrchestratorOptions{})

	// a pass can outlive the cron interval; overlapping passes would
	// race the ledger's check-then-record pair and double-sync events
	runAll := chrono.SkipOverlap("sync pass", func() {
		users, err := provider.Users(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to list users", "err", err)
			return
		}
		orchestrator.RunAll(ctx, users)
	})

	err = chrono.NewStandardCron().Cron(cfg.Cron, runAll)
	if err != nil {
		serviceutil.Fatal("schedule sync pass", err)
	}
	go runAll()

	mux := http.NewServeMux()
	provider.RegisterHandlers(mux)

	go serviceutil.StartHttpServer(cfg.Port, mux)
	<-ctx.Done()
}
