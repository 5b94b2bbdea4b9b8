package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edge-infer/internal/buckets"
	"edge-infer/internal/database"
	"edge-infer/internal/emitter"
	"edge-infer/internal/engine"
	"edge-infer/internal/inference"
	"edge-infer/internal/link"
	"edge-infer/internal/model"
	"edge-infer/internal/routers"
	"edge-infer/internal/session"
	"edge-infer/internal/shared"

	_ "github.com/go-sql-driver/mysql"
	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Flags / ENV Variables
	variant := flag.String("variant", string(shared.VariantText), "Wire protocol: text or binary")
	addr := flag.String("addr", "", "Session listen address (default :8080 text, :3333 binary)")
	adminAddr := flag.String("admin-addr", shared.DefaultAdminAddr, "Admin server address, empty disables it")
	modelPath := flag.String("model", "model.eimf", "Model blob, or ONNX graph when -engine=onnx")
	engineName := flag.String("engine", "interpreter", "Engine: interpreter or onnx")
	onnxLib := flag.String("onnx-lib", "", "Path to the onnxruntime shared library")
	onnxMetadata := flag.String("onnx-metadata", "", "Tensor metadata JSON for the ONNX graph")
	field := flag.String("field", shared.DefaultArrayField, "JSON field carrying the pixel array")
	readTimeout := flag.Duration("read-timeout", shared.DefaultReadTimeout, "Per read timeout")
	headerTimeout := flag.Duration("header-timeout", shared.DefaultHeaderTimeout, "Text header phase timeout")
	bodyTimeout := flag.Duration("body-timeout", shared.DefaultBodyTimeout, "Body phase timeout")
	writeTimeout := flag.Duration("write-timeout", shared.DefaultWriteTimeout, "Response write timeout")
	maxBody := flag.Int("max-body", 0, "Body cap in bytes (default 50000 text, 1MiB binary)")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	redisAddr := flag.String("redis-addr", "", "Redis host:port, empty disables publishing")
	redisChannel := flag.String("redis-channel", shared.DefaultRedisChannel, "Redis channel for results")
	writeDSN := flag.String("dsn", "", "Inference log DSN, empty disables the log")
	debug := flag.Bool("debug", false, "Debug enabled")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Model init, fatal on failure
	m, eng, err := loadEngine(*engineName, *modelPath, *onnxLib, *onnxMetadata)
	if err != nil {
		log.Fatalw("Failed to initialize model", "error", err, "model", *modelPath, "engine", *engineName)
	}
	invoker := inference.NewInvoker(eng, m, log)
	defer func() {
		_ = invoker.Close()
	}()

	// Result sinks
	var sinks []session.Sink
	if *redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: "",
			DB:       0,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalw("failed ping to redis db", "error", err)
		}
		em := emitter.New(redisClient, *redisChannel, log)
		sinks = append(sinks, em)
		defer func() {
			em.Close()
			_ = redisClient.Close()
		}()
	}
	if *writeDSN != "" {
		writeDB, err := sql.Open("mysql", *writeDSN)
		if err != nil {
			log.Fatalw("failed initializing sqlClient", "error", err)
		}
		if err := writeDB.Ping(); err != nil {
			log.Fatalw("failed ping to sql db", "error", err)
		}
		resultLog := buckets.NewResultLog(log, database.NewMySQLStore(writeDB), buckets.DefaultConfig())
		sinks = append(sinks, resultLog)
		defer func() {
			resultLog.Shutdown()
			_ = writeDB.Close()
		}()
	}

	// Session handler
	var handler session.Handler
	switch shared.Variant(*variant) {
	case shared.VariantText:
		if *addr == "" {
			*addr = shared.DefaultTextAddr
		}
		frame := session.DefaultFrameConfig()
		frame.HeaderTimeout = *headerTimeout
		frame.BodyTimeout = *bodyTimeout
		if *maxBody > 0 {
			frame.MaxBodyBytes = *maxBody
		}
		handler = session.NewTextHandler(invoker, session.TextConfig{Frame: frame, Field: *field, Addr: *addr})
	case shared.VariantBinary:
		if *addr == "" {
			*addr = shared.DefaultBinaryAddr
		}
		handler = session.NewBinaryHandler(invoker, nil, session.BinaryConfig{MaxBytes: *maxBody, Timeout: *bodyTimeout})
	default:
		log.Fatalw("Unknown variant", "variant", *variant)
	}

	ln, err := link.Listen(ctx, link.DefaultConfig(*addr), log)
	if err != nil {
		log.Fatalw("Failed to establish link", "error", err)
	}

	if *adminAddr != "" {
		e := routers.NewAdminServer(invoker, routers.AdminConfig{MetricsAPIKey: *metricsAPIKey}, shared.HeapFree, log)
		go func() {
			if err := e.Start(*adminAddr); err != nil && err != http.ErrServerClosed {
				log.Errorw("Admin server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownDelay)
			defer cancel()
			if err := e.Shutdown(shutdownCtx); err != nil {
				log.Warnw("Failed shutting down admin server", "error", err)
			}
		}()
	}

	cfg := session.DriverConfig{
		ReadTimeout:  *readTimeout,
		WriteTimeout: *writeTimeout,
		Sinks:        sinks,
	}
	driver := session.NewDriver(handler, cfg, log)
	start := time.Now()
	if err := driver.Serve(ctx, ln); err != nil {
		log.Errorw("Session driver stopped", "error", err)
	}
	log.Infow("Shutting down", "uptime", time.Since(start).String())
}

func loadEngine(name, modelPath, onnxLib, onnxMetadata string) (*model.Model, engine.Engine, error) {
	switch name {
	case "interpreter":
		m, err := model.LoadFile(modelPath)
		if err != nil {
			return nil, nil, err
		}
		it, err := engine.NewInterpreter(m, 0)
		if err != nil {
			return nil, nil, err
		}
		return m, it, nil
	case "onnx":
		if onnxMetadata == "" {
			return nil, nil, fmt.Errorf("-onnx-metadata is required with -engine=onnx")
		}
		m, err := model.LoadMetadata(onnxMetadata)
		if err != nil {
			return nil, nil, err
		}
		o, err := engine.NewONNX(onnxLib, modelPath, m, 0)
		if err != nil {
			return nil, nil, err
		}
		return m, o, nil
	default:
		return nil, nil, fmt.Errorf("unknown engine %q", name)
	}
}
