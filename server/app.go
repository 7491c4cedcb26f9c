package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"relist/config"
	"relist/internal/api"
	"relist/internal/controller"
	"relist/internal/creds"
	"relist/internal/db"
	"relist/internal/health"
	"relist/internal/logs"
	"relist/internal/middleware"
	"relist/internal/models"
	"relist/internal/notify"
	"relist/internal/portal"
	"relist/internal/repo"
	"relist/internal/scheduler"
	"relist/internal/worker"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server
	cron       *cron.Cron

	jobs      *repo.JobStore
	evaluator *scheduler.Evaluator
	worker    *worker.Worker
	creds     *creds.Manager

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	/* 1) Логи */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	/* 2) DB */
	d, err := db.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	a.db = d

	if err := a.db.AutoMigrate(
		&models.Listing{},
		&models.ScheduleDefinition{},
		&models.ScheduleTarget{},
		&models.RefreshJob{},
		&models.SyncAudit{},
		&models.ExternalCredential{},
		&models.Notification{},
	); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	/* 3) Хранилища */
	listings := repo.NewListingStore(a.db)
	schedules := repo.NewScheduleStore(a.db)
	a.jobs = repo.NewJobStore(a.db)
	audits := repo.NewAuditStore(a.db)
	credStore := repo.NewCredentialStore(a.db)
	notifications := repo.NewNotificationStore(a.db)

	/* 4) Портал и сервисы */
	pc := portal.NewClient(portal.Config{
		BaseURL:      a.cfg.Portal.BaseURL,
		Publisher:    a.cfg.Portal.Publisher,
		Contract:     a.cfg.Portal.Contract,
		ClientID:     a.cfg.Portal.Client,
		Company:      a.cfg.Portal.Company,
		AppVersion:   a.cfg.Portal.AppVersion,
		ContractType: a.cfg.Portal.ContractType,
		Timeout:      a.cfg.PortalTimeout(),
	})

	var sessions creds.SessionStore
	if a.cfg.Redis.Addr != "" {
		sessions = creds.NewRedisSessions(a.cfg.Redis.Addr)
	} else {
		sessions = creds.NewMemorySessions()
	}

	emitter := notify.New(notifications)
	box := creds.NewBox(a.cfg.Crypto.MasterKey)
	a.creds = creds.NewManager(credStore, sessions, pc, box, emitter)
	if h := a.cfg.Sync.RenewThresholdHrs; h > 0 {
		a.creds.RenewThreshold = time.Duration(h) * time.Hour
	}

	rec := controller.NewReconciler(listings, audits, a.creds, pc, a.cfg.Portal.Provider)
	if a.cfg.Sync.MaxAssets > 0 {
		rec.MaxAssets = a.cfg.Sync.MaxAssets
	}
	a.evaluator = scheduler.NewEvaluator(schedules, a.jobs)
	a.worker = worker.New(a.jobs, rec, int64(a.cfg.Sync.WorkerPool))

	/* 5) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	health.RegisterRoutesWithDB(a.Router, a.db) // /healthz, /readyz

	api.RegisterRoutes(a.Router, &api.Handler{
		Listings:      listings,
		Schedules:     schedules,
		Jobs:          a.jobs,
		Audits:        audits,
		Notifications: notifications,
		Creds:         a.creds,
		Reconciler:    rec,
		Provider:      a.cfg.Portal.Provider,
	})

	/* 6) Фоновые циклы */
	a.initCron()

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

// initCron вешает периодику: материализация расписаний, разбор
// очереди, продление токенов, чистка старых задач.
func (a *App) initCron() {
	a.cron = cron.New()

	mustAdd := func(spec string, fn func()) {
		if _, err := a.cron.AddFunc(spec, fn); err != nil {
			log.Fatalf("cron entry %q: %v", spec, err)
		}
	}

	mustAdd("@every "+a.cfg.Sync.TickInterval, func() {
		if n := a.evaluator.RunDue(a.ctx); n > 0 {
			logs.Logger.Infof("scheduler: %d job(s) enqueued", n)
		}
	})
	mustAdd("@every "+a.cfg.Sync.ClaimInterval, func() {
		a.worker.Drain(a.ctx)
	})
	mustAdd("@every "+a.cfg.Sync.RenewInterval, func() {
		a.creds.SweepRenewals(a.ctx)
	})
	mustAdd("@daily", func() {
		cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Sync.JobRetentionDays)
		n, err := a.jobs.PurgeTerminalBefore(a.ctx, cutoff)
		if err != nil {
			logs.Logger.Errorf("job purge: %v", err)
			return
		}
		if n > 0 {
			logs.Logger.Infof("job purge: %d old job(s) removed", n)
		}
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	a.cron.Start()

	// Жёсткие таймауты — это важно для production
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()

	// сперва останавливаем периодику и ждём начатые задачи
	cronCtx := a.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(30 * time.Second):
		logs.Logger.Warn("cron jobs still running after 30s, giving up")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	return nil
}
