package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	awsapi "github.com/aws/aws-sdk-go/service/sqs"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sqskit/internal/sqs"
	"sqskit/internal/sqs/awssqs"
	"sqskit/internal/sqs/container"
	"sqskit/internal/sqs/metrics"
	"sqskit/internal/sqs/template"
	"sqskit/internal/sqs/tracing"
)

type Config struct {
	SQSEndpoint           string        `env:"SQS_ENDPOINT" envDefault:"http://localhost:4566"`
	AWSRegion             string        `env:"AWS_REGION" envDefault:"us-east-1"`
	StandardQueue         string        `env:"STANDARD_QUEUE" envDefault:"e2e-orders"`
	FifoQueue             string        `env:"FIFO_QUEUE" envDefault:"e2e-orders.fifo"`
	EventCount            int           `env:"EVENT_COUNT" envDefault:"100"`
	PublishRounds         int           `env:"PUBLISH_ROUNDS" envDefault:"1"`
	MaxConcurrentMessages int           `env:"MAX_CONCURRENT_MESSAGES" envDefault:"5"`
	StopTimeout           time.Duration `env:"STOP_TIMEOUT" envDefault:"20s"`
	LogLevel              string        `env:"LOG_LEVEL" envDefault:"info"`
	MetricsPort           int           `env:"METRICS_PORT" envDefault:"9090"`
	MetricsTimeout        time.Duration `env:"METRICS_TIMEOUT" envDefault:"30s"`
	TracingServiceName    string        `env:"TRACING_SERVICE_NAME" envDefault:"sqskit-e2e"`
	TracingServiceVersion string        `env:"TRACING_SERVICE_VERSION" envDefault:"1.0.0"`
	OTLPEndpoint          string        `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	TracingSampleRate     float64       `env:"TRACING_SAMPLE_RATE" envDefault:"1.0"`
}

type order struct {
	OrderID    string  `json:"order_id"`
	CustomerID string  `json:"customer_id"`
	ProductID  string  `json:"product_id"`
	Amount     float64 `json:"amount"`
	Timestamp  string  `json:"timestamp"`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", cfg.LogLevel, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.SetSystemInfo("e2e-test", time.Now().Format(time.RFC3339))

	tracingConfig := tracing.Config{
		ServiceName:    cfg.TracingServiceName,
		ServiceVersion: cfg.TracingServiceVersion,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRate:     cfg.TracingSampleRate,
	}
	tracer, tracingCleanup, err := tracing.NewTracer(tracingConfig)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	sess, err := session.NewSession(&aws.Config{
		Region:   aws.String(cfg.AWSRegion),
		Endpoint: aws.String(cfg.SQSEndpoint),
	})
	if err != nil {
		log.Fatalf("failed to create AWS session: %v", err)
	}

	baseClient, err := awssqs.NewClient(awsapi.New(sess))
	if err != nil {
		log.Fatalf("failed to create sqs client: %v", err)
	}
	metricsClient := awssqs.NewMetricsClient(baseClient, metricsRegistry)
	client := awssqs.NewTracedClient(metricsClient, tracer)

	tmpl, err := template.NewTemplate(client, sqs.JSONConverter{}, sqs.TemplateConfig{}, logger)
	if err != nil {
		log.Fatalf("failed to create template: %v", err)
	}

	var processed atomic.Int64

	c, err := container.New(client, sqs.ContainerConfig{StopTimeout: cfg.StopTimeout}, logger,
		container.WithMetrics(metricsRegistry),
	)
	if err != nil {
		log.Fatalf("failed to create container: %v", err)
	}

	metricsServer := metrics.NewServer(
		metrics.ServerConfig{
			Port:    cfg.MetricsPort,
			Timeout: cfg.MetricsTimeout,
		},
		metricsRegistry,
		logger,
		metrics.WithReadiness(func() (string, bool) {
			state := c.State()
			return state.String(), state == sqs.ContainerRunning
		}),
	)

	go func() {
		if err := metricsServer.Start(context.Background()); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("metrics server started",
		zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.MetricsPort)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.MetricsPort)),
	)

	standardListener := sqs.ListenerDefinition{
		Name: "orders",
		Config: sqs.ListenerConfig{
			Queue:                 cfg.StandardQueue,
			MaxConcurrentMessages: cfg.MaxConcurrentMessages,
			QueueNotFound:         sqs.QueueNotFoundCreate,
		},
		Handler: sqs.Typed(sqs.JSONConverter{}, func(ctx context.Context, o order, msg sqs.Message) error {
			processed.Add(1)
			logger.Debug("processed order",
				zap.String("orderId", o.OrderID),
				zap.String("messageId", msg.ID),
			)
			return nil
		}),
	}
	if err := c.Register(standardListener); err != nil {
		log.Fatalf("failed to register listener: %v", err)
	}

	fifoListener := sqs.ListenerDefinition{
		Name: "orders-fifo",
		Config: sqs.ListenerConfig{
			Queue:                 cfg.FifoQueue,
			MaxConcurrentMessages: cfg.MaxConcurrentMessages,
			FifoStrategy:          sqs.FifoStrict,
			QueueNotFound:         sqs.QueueNotFoundCreate,
		},
		Handler: sqs.Typed(sqs.JSONConverter{}, func(ctx context.Context, o order, msg sqs.Message) error {
			processed.Add(1)
			logger.Debug("processed fifo order",
				zap.String("orderId", o.OrderID),
				zap.String("group", msg.GroupID),
			)
			return nil
		}),
	}
	if err := c.Register(fifoListener); err != nil {
		log.Fatalf("failed to register listener: %v", err)
	}

	if err := c.Start(); err != nil {
		log.Fatalf("failed to start container: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()

	now := time.Now()
	for round := 0; round < cfg.PublishRounds && ctx.Err() == nil; round++ {
		if err := publish(ctx, tmpl, cfg, logger); err != nil {
			logger.Error("failed to publish events", zap.Error(err))
			break
		}
	}

	// wait until everything published has been consumed, or a signal arrives
	expected := int64(cfg.EventCount * cfg.PublishRounds * 2)
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-tick.C:
			if processed.Load() >= expected {
				break wait
			}
		}
	}

	if err := c.Stop(cfg.StopTimeout); err != nil {
		logger.Error("failed to stop container", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop metrics server", zap.Error(err))
	}

	fmt.Printf("\n\n TEST COMPLETE IN %.2f seconds, processed %d messages\n", time.Since(now).Seconds(), processed.Load())
}

func publish(ctx context.Context, tmpl *template.Template, cfg Config, logger *zap.Logger) error {
	orders := events(cfg.EventCount)

	for start := 0; start < len(orders); start += sqs.MaxBatchSize {
		batch := orders[start:min(start+sqs.MaxBatchSize, len(orders))]
		payloads := make([]any, len(batch))
		for i, o := range batch {
			payloads[i] = o
		}

		if _, err := tmpl.SendBatch(ctx, cfg.StandardQueue, payloads); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}

		for _, o := range batch {
			group := "customer-" + o.CustomerID
			if _, err := tmpl.Send(ctx, cfg.FifoQueue, o,
				template.WithGroupID(group),
				template.WithDedupID(uuid.NewString()),
			); err != nil {
				return fmt.Errorf("failed to send fifo message: %w", err)
			}
		}
	}

	logger.Info(fmt.Sprintf("published %d events to each queue", len(orders)))

	return nil
}

func events(count int) []order {
	customers := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	products := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "10"}
	orders := make([]order, 0, count)

	for i := 0; i < count; i++ {
		orders = append(orders, order{
			OrderID:    fmt.Sprintf("ORD-%04d", i+1),
			CustomerID: customers[rand.Intn(len(customers))],
			ProductID:  products[rand.Intn(len(products))],
			Amount:     10.0 + rand.Float64()*990.0,
			Timestamp:  time.Now().Format(time.RFC3339),
		})
	}

	return orders
}
