package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/scrollDynasty/softforlogic-sub000/lib/configutil"
	"github.com/scrollDynasty/softforlogic-sub000/lib/loads"
	"github.com/scrollDynasty/softforlogic-sub000/lib/profit"
	"github.com/scrollDynasty/softforlogic-sub000/lib/serviceutil"
	"github.com/scrollDynasty/softforlogic-sub000/lib/sqliteutil"
	"github.com/scrollDynasty/softforlogic-sub000/services/alert"
	"github.com/scrollDynasty/softforlogic-sub000/services/dispatch"
	"github.com/scrollDynasty/softforlogic-sub000/services/loadboard"
	"github.com/scrollDynasty/softforlogic-sub000/services/notify"
	"github.com/scrollDynasty/softforlogic-sub000/services/recovery"
	"github.com/scrollDynasty/softforlogic-sub000/services/scanner"
	"github.com/scrollDynasty/softforlogic-sub000/services/sentstore"
)

type StoreConfig struct {
	// Driver selects "sqlite" (the default) or "postgres".
	Driver string `json:"driver"`
	// Database is the sqlite file path or the postgres connection url.
	Database string `json:"database"`
	// RetentionDays bounds how long sent records are kept.
	RetentionDays int `json:"retention_days"`
}

type Config struct {
	Port     int                         `json:"port"`
	Board    loadboard.Config            `json:"board"`
	Criteria loads.SearchCriteria        `json:"criteria"`
	Profit   profit.Config               `json:"profit"`
	Store    StoreConfig                 `json:"store"`
	Telegram notify.TelegramConfig       `json:"telegram"`
	Smtp     *alert.SmtpConfig           `json:"smtp"`
	Claims   *dispatch.RedisClaimsConfig `json:"claims"`
}

func InitStore(ctx context.Context, cfg StoreConfig) (sentstore.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		db, err := sqliteutil.OpenDB(sentstore.Schema, cfg.Database)
		if err != nil {
			return nil, err
		}
		return sentstore.NewSqlite(db), nil
	case "postgres":
		return sentstore.NewPostgres(ctx, cfg.Database)
	}
	return nil, fmt.Errorf("unknown store driver '%s'", cfg.Driver)
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	once := flag.Bool("once", false, "Run a single scan cycle and exit.")
	dryRun := flag.Bool("dry-run", false, "Log notifications instead of delivering them.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	InitTelemetry(ctx, *verbose)

	cfg, err := configutil.ReadConfig[Config]("scand.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	store, err := InitStore(ctx, cfg.Store)
	if err != nil {
		serviceutil.Fatal("init sent store", err)
	}
	retention := time.Hour * 24 * 30
	if cfg.Store.RetentionDays > 0 {
		retention = time.Hour * 24 * time.Duration(cfg.Store.RetentionDays)
	}
	go sentstore.RunRetention(ctx, store, time.Hour, retention)

	var sink notify.Sink = notify.NewTelegram(cfg.Telegram)
	if *dryRun {
		sink = notify.Logger{}
	}

	alerts := alert.Multi{alert.Slog{}}
	if cfg.Smtp != nil {
		alerts = append(alerts, alert.NewEmail(*cfg.Smtp))
	}

	var claims dispatch.ClaimCache = dispatch.NoopClaims{}
	if cfg.Claims != nil {
		claims = dispatch.NewRedisClaims(*cfg.Claims)
	}

	board, err := loadboard.NewClient(cfg.Board)
	if err != nil {
		serviceutil.Fatal("init load board client", err)
	}
	// fail fast on bad credentials; session loss later on is the
	// recovery manager's problem
	err = board.Authenticate(ctx)
	if err != nil {
		serviceutil.Fatal("authenticate with the load board", err)
	}

	pipeline := dispatch.NewPipeline(
		profit.NewEstimator(cfg.Profit),
		store, sink, claims,
		dispatch.Options{},
	)
	controller := scanner.NewController()
	// the scheduler needs the manager and recovery's stop step needs
	// the scheduler; recovery only ever runs from inside a tick, well
	// after this closure's target exists
	var scheduler *scanner.Scheduler
	manager := recovery.NewManager(board, alerts, recovery.Options{
		DiagnosticsDir: cfg.Board.DiagnosticsDir,
		Stop: func() {
			scheduler.CancelInflight()
		},
	})
	scheduler = scanner.NewScheduler(board, pipeline, controller, manager, alerts, scanner.Options{
		Criteria: cfg.Criteria,
	})

	mux := http.NewServeMux()
	RegisterStatus(mux, controller, scheduler, manager)
	port := cfg.Port
	if port <= 0 {
		port = 8000
	}
	go serviceutil.StartHttpServer(port, mux)

	if *once {
		_, err = scheduler.RunOnce(ctx)
		if err != nil {
			serviceutil.Fatal("scan cycle", err)
		}
		return
	}

	err = scheduler.Run(ctx)
	if err != nil {
		serviceutil.Fatal("scan loop", err)
	}
}
