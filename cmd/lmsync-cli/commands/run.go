package commands

import (
	"lmsync-backend/lib/configutil"
	"lmsync-backend/lib/serviceutil"
	"lmsync-backend/lib/sqliteutil"
	"lmsync-backend/lib/syncledger"
	ledgerdb "lmsync-backend/lib/syncledger/db"
	"lmsync-backend/services/calsync"
	"lmsync-backend/services/calsync/gcal"
	"lmsync-backend/services/keychain"
	keychaindb "lmsync-backend/services/keychain/db"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

type runConfig struct {
	Database struct {
		Driver      string `json:"driver"`
		KeychainDsn string `json:"keychain_dsn"`
		LedgerDsn   string `json:"ledger_dsn"`
	} `json:"database"`
	Portal struct {
		BaseUrl string `json:"base_url"`
	} `json:"portal"`
	Google struct {
		ClientId     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
		RedirectUri  string `json:"redirect_uri"`
		CalendarId   string `json:"calendar_id"`
	} `json:"google"`
	CourseNames map[string]string `json:"course_names"`
}

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Executes a single sync pass over every enrolled user.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg, err := configutil.ReadConfig[runConfig]("config.json5")
		if err != nil {
			serviceutil.Fatal("read config", err)
		}
		if cfg.Database.Driver == "" {
			cfg.Database.Driver = "sqlite"
		}

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
		sink := gcal.NewSink(provider, gcal.SinkOptions{CalendarId: cfg.Google.CalendarId})
		runner := calsync.NewRunner(
			syncledger.NewStore(ledgerDb),
			sink,
			calsync.RunnerOptions{
				PortalBaseUrl: cfg.Portal.BaseUrl,
				CourseNames:   cfg.CourseNames,
			},
		)
		orchestrator := calsync.NewOrchestrator(runner, provider, calsync.OrchestratorOptions{})

		users, err := provider.Users(ctx)
		if err != nil {
			serviceutil.Fatal("list users", err)
		}

		t1 := time.Now()
		orchestrator.RunAll(ctx, users)
		t2 := time.Now()

		slog.Info("sync pass finished", "users", len(users), "seconds", t2.Sub(t1).Seconds())
	},
}
