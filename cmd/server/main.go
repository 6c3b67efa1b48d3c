// Package main запускает сервис панели предиктивного обслуживания
// Сервис реализует:
// - HTTP API сессий панели (значения датчиков, сканирование, принудительная тревога)
// - Живой режим: скользящий ряд телеметрии (окно 40 отсчётов), поток кадров по WebSocket
// - Оценку риска отказа внешней моделью или синтетический fallback
// - Историю сканирований в Redis и уведомления о тревоге по MQTT
// - Экспорт метрик в Prometheus
package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"predmaint-service/internal/alerts"
	"predmaint-service/internal/cache"
	"predmaint-service/internal/classifier"
	"predmaint-service/internal/handlers"
	"predmaint-service/internal/log"
	"predmaint-service/internal/metrics"
	"predmaint-service/internal/risk"
	"predmaint-service/internal/session"
	"predmaint-service/internal/telemetry"
)

// Config содержит конфигурацию сервиса
type Config struct {
	ServerAddr         string
	ModelPath          string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	SeriesCapacity     int
	LiveTicks          int
	LiveInterval       time.Duration
	SessionIdleTimeout time.Duration
	MQTTBroker         string
	MQTTTopic          string
	Debug              bool
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
}

func main() {
	cfg := loadConfig()

	if err := log.Init(cfg.Debug); err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Infow("starting predictive maintenance service", "go", runtime.Version(), "cpus", runtime.NumCPU())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Модель загружается один раз и используется всеми сессиями только для чтения
	clf := classifier.LoadOrFallback(cfg.ModelPath)
	if clf != nil {
		metrics.ClassifierLoaded.Set(1)
	}

	sessions := session.NewManager(ctx, cfg.SeriesCapacity)
	go sessions.RunSweeper(ctx, time.Minute, cfg.SessionIdleTimeout)

	opts := handlers.Options{
		Sessions:   sessions,
		Simulator:  telemetry.NewSimulator(nil),
		Assessor:   risk.NewAssessor(nil),
		Classifier: clf,
		Live:       handlers.LiveConfig{Ticks: cfg.LiveTicks, Interval: cfg.LiveInterval},
	}

	redisCache := connectRedis(ctx, cfg)
	if redisCache != nil {
		opts.History = redisCache
	}

	notifier := connectMQTT(cfg)
	opts.Notifier = notifier

	handler := handlers.NewHandler(opts)

	// Настраиваем маршруты
	router := mux.NewRouter()
	handler.Register(router)

	// Prometheus метрики
	router.Handle("/prometheus", promhttp.Handler())

	// pprof для профилирования
	router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	router.Use(handlers.Middleware)

	cors := gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins([]string{"*"}),
		gorillahandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type"}),
	)
	recovery := gorillahandlers.RecoveryHandler(gorillahandlers.PrintRecoveryStack(cfg.Debug))

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      recovery(cors(router)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go updateMetricsLoop(ctx)

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Infow("server listening", "addr", cfg.ServerAddr, "mode", modeName(clf))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Infow("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Останавливаем живой режим всех сессий до закрытия потоков WebSocket
	cancel()
	sessions.CloseAll()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server shutdown error", "error", err)
	}

	notifier.Close()
	if redisCache != nil {
		redisCache.Close()
	}

	log.Infow("server stopped")
}

// connectRedis подключается к Redis с повторами; без Redis сервис работает без истории
func connectRedis(ctx context.Context, cfg Config) *cache.RedisCache {
	if cfg.RedisAddr == "" {
		log.Infow("redis address not set, scan history disabled")
		return nil
	}

	var err error
	for i := 0; i < 5; i++ {
		var c *cache.RedisCache
		c, err = cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err == nil {
			log.Infow("connected to redis", "addr", cfg.RedisAddr)
			return c
		}
		log.Warnw("redis connection attempt failed", "attempt", i+1, "error", err)
		if i < 4 {
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}

	log.Warnf("Failed to connect to Redis, running without scan history: %v", err)
	return nil
}

// connectMQTT подключается к брокеру уведомлений; без брокера уведомления не отправляются
func connectMQTT(cfg Config) alerts.Notifier {
	if cfg.MQTTBroker == "" {
		return alerts.Nop{}
	}

	clientID := "predmaint-" + strconv.Itoa(os.Getpid())
	n, err := alerts.NewMQTTNotifier(cfg.MQTTBroker, clientID, cfg.MQTTTopic)
	if err != nil {
		log.Warnw("mqtt notifier disabled", "broker", cfg.MQTTBroker, "error", err)
		return alerts.Nop{}
	}

	log.Infow("connected to mqtt broker", "broker", cfg.MQTTBroker, "topic", cfg.MQTTTopic)
	return n
}

func modeName(c risk.Classifier) string {
	if c == nil {
		return risk.SourceFallback
	}
	return risk.SourceModel
}

// loadConfig загружает конфигурацию из переменных окружения
func loadConfig() Config {
	return Config{
		ServerAddr:         getEnv("SERVER_ADDR", ":8080"),
		ModelPath:          getEnv("MODEL_PATH", "machine_failure_model.json"),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		SeriesCapacity:     getEnvInt("SERIES_CAPACITY", telemetry.DefaultCapacity),
		LiveTicks:          getEnvInt("LIVE_TICKS", session.DefaultLiveTicks),
		LiveInterval:       getEnvDuration("LIVE_INTERVAL", session.DefaultLiveInterval),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		MQTTBroker:         getEnv("MQTT_BROKER", ""),
		MQTTTopic:          getEnv("MQTT_TOPIC", alerts.DefaultTopic),
		Debug:              getEnvBool("DEBUG", false),
		ReadTimeout:        15 * time.Second,
		// 0: запись не ограничена, поток WebSocket открыт всё время живого режима
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
}

// getEnv получает переменную окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration получает длительность (например, 80ms)
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

// getEnvBool получает логическую переменную окружения
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// updateMetricsLoop периодически обновляет метрики Prometheus
func updateMetricsLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))
		case <-ctx.Done():
			return
		}
	}
}
