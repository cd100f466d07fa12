package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roost/config"
	"roost/internal/cmdqueue"
	"roost/internal/configsvc"
	"roost/internal/db"
	"roost/internal/devctrl"
	"roost/internal/health"
	"roost/internal/logs"
	"roost/internal/masters"
	"roost/internal/middleware"
	"roost/internal/models"
	"roost/internal/registry"
	"roost/internal/repo"
	"roost/internal/scripts"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	Router     *mux.Router
	httpServer *http.Server

	db     *gorm.DB
	ctx    context.Context
	cancel context.CancelFunc

	registry *registry.Service
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	// 1) Логи
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	// 2) БД (опционально; пустой driver = чисто in-memory)
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			log.Fatalf("db open failed: %v", err)
		}
		a.db = d
	}

	// ---- DB migrations (only if DB is connected) ----
	if a.db != nil {
		// 1) One-off rename of legacy columns (MySQL/MariaDB safe)
		if err := db.MigrateLegacyColumns(a.db); err != nil {
			logs.Logger.Warnf("legacy columns migration: %v", err)
		}

		// 2) AutoMigrate all domain models
		if err := a.db.AutoMigrate(
			&models.Device{},
			&models.DeviceLog{},
			&models.MasterInstance{},
			&models.ConfigTemplate{},
			&models.Command{},
			&models.ScriptVersion{},
			&models.LibraryScript{},
		); err != nil {
			logs.Logger.Errorf("automigrate: %v", err)
		}

		// 3) Composite indexes AutoMigrate does not cover
		if err := db.EnsureIndexes(a.db); err != nil {
			logs.Logger.Warnf("ensure indexes: %v", err)
		}
	}

	// 3) Роутер + middleware
	a.Router = mux.NewRouter()
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.LoggerMW)

	a.RegisterServiceInfo("/")

	// 4) Health маршруты
	if a.db != nil {
		health.RegisterRoutesWithDB(a.Router, a.db) // /healthz и /readyz
	} else {
		health.RegisterRoutes(a.Router) // только /healthz
	}

	// 5) Хранилища: gorm поверх БД или in-memory fallback
	var (
		devStore    registry.Store
		masterStore masters.Store
		cfgStore    configsvc.Store
		cmdStore    cmdqueue.Store
		scriptStore scripts.Store
	)
	if a.db != nil {
		devStore = repo.NewDeviceStore(a.db)
		masterStore = repo.NewMasterStore(a.db)
		cfgStore = configsvc.NewRepo(a.db)
		cmdStore = repo.NewCommandStore(a.db)
		scriptStore = repo.NewScriptStore(a.db)
	}

	// 6) Сервисы
	reg := registry.NewService(devStore, registry.Options{
		OfflineThreshold:  a.cfg.Fleet.OfflineThreshold,
		RegistrationGrace: a.cfg.Fleet.RegistrationGrace,
		DefaultCheckIn:    int(a.cfg.Fleet.HeartbeatInterval.Seconds()),
	})
	a.registry = reg

	masterSvc := masters.NewService(masterStore, reg)
	cfgSvc := configsvc.NewService(cfgStore)
	queueSvc := cmdqueue.NewService(cmdStore, reg)
	scriptSvc := scripts.NewService(scriptStore)

	// 7) Операторский API (/api/v1)
	registry.NewHTTP(reg).RegisterRoutes(a.Router)
	masters.NewHTTP(masterSvc).RegisterRoutes(a.Router)
	configsvc.NewHTTP(cfgSvc).RegisterRoutes(a.Router)
	cmdqueue.NewHTTP(queueSvc).RegisterRoutes(a.Router)
	scripts.NewHTTP(scriptSvc).RegisterRoutes(a.Router)

	// 8) Контроллер устройств (/fleet)
	devctrl.NewController(reg, masterSvc, cfgSvc, queueSvc, scriptSvc, a.cfg.Fleet.CommandBatch).
		RegisterRoutes(a.Router)

	a.Router.Walk(func(rt *mux.Route, r *mux.Router, ancestors []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return ErrNotInitialized
	}
	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigs; a.cancel() }()

	// liveness sweeper: the only writer of the offline status
	if interval := a.cfg.Fleet.SweepInterval; interval > 0 {
		go func() {
			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				select {
				case <-a.ctx.Done():
					return
				case now := <-t.C:
					n, err := a.registry.SweepLiveness(now)
					if err != nil {
						logs.Logger.Warnf("liveness sweep: %v", err)
						continue
					}
					if n > 0 {
						logs.Logger.Infof("liveness sweep: %d device(s) offline", n)
					}
				}
			}
		}()
	}

	a.httpServer = &http.Server{
		Addr:         bind,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.httpServer.Shutdown(ctx)
	return nil
}

var ErrNotInitialized = &initError{"server not initialized (call Initialize(cfg) first)"}

type initError struct{ s string }

func (e *initError) Error() string { return e.s }
