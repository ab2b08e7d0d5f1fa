package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"supply-billing/internal/audit"
	"supply-billing/internal/config"
	"supply-billing/internal/eventing"
	eventingrepo "supply-billing/internal/eventing/infrastructure/postgres"
	"supply-billing/internal/logging"
	"supply-billing/internal/observability/metrics"
	"supply-billing/internal/platform/db"
	platformredis "supply-billing/internal/platform/redis"
	reconapp "supply-billing/internal/reconciliation/application"
	reconrepo "supply-billing/internal/reconciliation/infrastructure/postgres"
	reconmetrics "supply-billing/internal/reconciliation/metrics"
	reconnotify "supply-billing/internal/reconciliation/notify"
	settlementapp "supply-billing/internal/settlement/application"
	settlement "supply-billing/internal/settlement/domain"
	"supply-billing/internal/settlement/infrastructure/memory"
	settlementrepo "supply-billing/internal/settlement/infrastructure/postgres"
	"supply-billing/internal/settlement/infrastructure/redislock"
	"supply-billing/internal/settlement/infrastructure/spotprice"
	settlementinterfaces "supply-billing/internal/settlement/interfaces"
)

const (
	outboxRelayInterval = 10 * time.Second
	spotImportInterval  = time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config error", zap.Error(err))
	}
	logger, err := logging.NewLogger(cfg.Logging.Level)
	if err != nil {
		zap.NewExample().Fatal("logger error", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("db open error", zap.Error(err))
	}
	defer database.Close()

	metrics.Init(database, logger)

	var locker settlementapp.Locker = memory.NewLocker()
	if cfg.Redis.Addr != "" {
		client, err := platformredis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("redis error", zap.Error(err))
		}
		defer client.Close()
		redisLocker, err := redislock.New(client, "")
		if err != nil {
			logger.Fatal("redis locker error", zap.Error(err))
		}
		locker = redisLocker
	} else {
		logger.Warn("REDIS_ADDR not set, using in-process locks")
	}

	seriesRepo := settlementrepo.NewTimeSeriesRepository(database)
	priceRepo := settlementrepo.NewPriceRepository(database)
	rateRepo := settlementrepo.NewRateSeriesRepository(database)
	settlementRepo := settlementrepo.NewSettlementRepository(database)
	auditLog := audit.NewRepository(database)

	spotClient, err := spotprice.NewClient(cfg.SpotPrice.BaseURL,
		spotprice.WithPageSize(cfg.SpotPrice.PageSize),
		spotprice.WithTimeout(cfg.SpotPrice.Timeout),
	)
	if err != nil {
		logger.Fatal("spot price client error", zap.Error(err))
	}
	priceService, err := settlementapp.NewPriceService(priceRepo, rateRepo,
		settlementapp.WithSpotPriceSource(spotClient),
		settlementapp.WithPriceLogger(logger),
	)
	if err != nil {
		logger.Fatal("price service error", zap.Error(err))
	}

	outboxStore := eventingrepo.NewOutboxStore(database)
	relay := eventing.NewRelay(outboxStore, eventing.NewLogSink(logger), logger)
	publisher := settlementinterfaces.FanoutPublisher{
		settlementinterfaces.NewLoggingPublisher(logger),
		settlementinterfaces.NewOutboxPublisher(eventing.NewPublisher(outboxStore, nil)),
	}

	settlementService, err := settlementapp.NewSettlementService(settlementRepo, seriesRepo, priceRepo, rateRepo,
		settlementapp.WithPublisher(publisher),
		settlementapp.WithCorrectionLocker(locker, cfg.Settlement.LockTTL),
		settlementapp.WithCalculator(settlement.NewCalculator(settlement.WithCurrency(cfg.Settlement.Currency))),
		settlementapp.WithDocumentPrefix(cfg.Settlement.DocumentPrefix),
		settlementapp.WithRequireCompletePrices(cfg.Settlement.RequireCompletePrices),
		settlementapp.WithAuditLogger(auditLog),
		settlementapp.WithSettlementLogger(logger),
	)
	if err != nil {
		logger.Fatal("settlement service error", zap.Error(err))
	}

	notifiers := []reconnotify.Notifier{reconnotify.NewLogNotifier(logger)}
	if cfg.Reconciliation.WebhookURL != "" {
		webhookOpts := []reconnotify.WebhookOption{reconnotify.WithWebhookSecret(cfg.Reconciliation.WebhookSecret)}
		if cfg.Reconciliation.WebhookTemplate != "" {
			tmpl, err := reconnotify.ParseAlertTemplate(cfg.Reconciliation.WebhookTemplate)
			if err != nil {
				logger.Fatal("webhook template error", zap.Error(err))
			}
			webhookOpts = append(webhookOpts, reconnotify.WithWebhookTemplate(tmpl))
		}
		notifiers = append(notifiers, reconnotify.NewWebhookNotifier(cfg.Reconciliation.WebhookURL, webhookOpts...))
	}
	runner, err := reconapp.NewRunner(
		reconrepo.NewResultRepository(database),
		reconrepo.NewChargeTotalsReader(database),
		reconrepo.NewWholesaleSettlementRepository(database),
		cfg.Reconciliation,
		reconapp.WithNotifier(reconnotify.NewMultiNotifier(notifiers...)),
		reconapp.WithMetrics(reconmetrics.New(nil)),
		reconapp.WithRunnerAudit(auditLog),
		reconapp.WithRunnerLogger(logger),
	)
	if err != nil {
		logger.Fatal("reconciliation runner error", zap.Error(err))
	}
	scheduler, err := reconapp.NewScheduler(runner, cfg.Reconciliation.Schedule.GridAreas, cfg.Reconciliation.Schedule.DailyAt, logger)
	if err != nil {
		logger.Fatal("reconciliation scheduler error", zap.Error(err))
	}

	go relay.Run(ctx, outboxRelayInterval)
	go scheduler.Start(ctx)
	go runSpotImport(ctx, priceService, cfg.SpotPrice.Areas, logger)

	mux := http.NewServeMux()
	mux.Handle("/documents/settlements/", settlementDocumentHandler(settlementService))
	mux.Handle("/reports/reconciliation/", reconciliationReportHandler(runner))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: loggingMiddleware(mux, logger)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
}

// runSpotImport refreshes yesterday through tomorrow for every area on each tick.
func runSpotImport(ctx context.Context, prices *settlementapp.PriceService, areas []string, logger *zap.Logger) {
	importAll := func(now time.Time) {
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		from, to := day.AddDate(0, 0, -1), day.AddDate(0, 0, 2)
		for _, area := range areas {
			if _, err := prices.ImportSpotPrices(ctx, area, from, to); err != nil {
				logger.Warn("spot price import failed", zap.String("area", area), zap.Error(err))
			}
		}
	}

	importAll(time.Now().UTC())
	ticker := time.NewTicker(spotImportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			importAll(tick.UTC())
		}
	}
}

// settlementDocumentHandler serves /documents/settlements/{id}.pdf and {id}.xlsx.
func settlementDocumentHandler(service *settlementapp.SettlementService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/documents/settlements/")
		id, format := name, ""
		if dot := strings.LastIndex(name, "."); dot > 0 {
			id, format = name[:dot], name[dot+1:]
		}

		s, err := service.Get(r.Context(), settlement.SettlementID(id))
		if errors.Is(err, settlement.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var (
			body        []byte
			contentType string
		)
		switch format {
		case "pdf":
			body, err = settlementinterfaces.BuildSettlementPDF(s)
			contentType = "application/pdf"
		case "xlsx":
			body, err = settlementinterfaces.BuildSettlementXLSX(s)
			contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		default:
			http.Error(w, "unsupported format", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", "attachment; filename=\""+s.DocumentNumber()+"."+format+"\"")
		_, _ = w.Write(body)
	})
}

// reconciliationReportHandler serves the XLSX report of a reconciliation result.
func reconciliationReportHandler(runner *reconapp.Runner) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/reports/reconciliation/")
		result, err := runner.Get(r.Context(), id)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+id+".xlsx\"")
		http.ServeFile(w, r, runner.ReportPath(result))
	})
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
