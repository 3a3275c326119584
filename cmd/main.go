package main

import (
	"context"
	"os"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"didi-mentor/handler"
	"didi-mentor/internal/config"
	"didi-mentor/internal/gateway"
	"didi-mentor/internal/integrations/gemini"
	"didi-mentor/internal/integrations/paramstore"
	"didi-mentor/internal/integrations/proxy"
	"didi-mentor/internal/logging"
	"didi-mentor/internal/repository"
	"didi-mentor/internal/telemetry"
	"didi-mentor/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(ctx)
	if err != nil {
		logging.New(os.Stderr, "error", "json").Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}
	log := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	// ---- Tracing ----
	tracing, err := telemetry.Setup(ctx, telemetry.Options{Exporter: cfg.TraceExporter, ServiceName: "didi-mentor"})
	if err != nil {
		log.Error().Err(err).Msg("failed to set up tracing")
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load AWS config")
		os.Exit(1)
	}

	// ---- Clients ----
	var providers []gateway.Provider
	if cfg.HasProxy() {
		proxyClient, err := proxy.NewClient(cfg.ProxyURL, proxy.WithTimeout(cfg.ProxyTimeout))
		if err != nil {
			log.Error().Err(err).Msg("failed to create proxy client")
			os.Exit(1)
		}
		providers = append(providers, gateway.NewProxyProvider(proxyClient))
	}

	geminiOpts := []gemini.Option{gemini.WithAPIKey(cfg.GeminiAPIKey), gemini.WithBaseURL(cfg.GeminiBaseURL)}
	if cfg.GeminiKeyParam != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			log.Error().Err(err).Msg("failed to create SSM client")
			os.Exit(1)
		}
		geminiOpts = append(geminiOpts, gemini.WithParamStore(ssmClient, cfg.GeminiKeyParam))
	}
	providers = append(providers,
		gateway.NewDirectProvider(gemini.NewClient(cfg.GeminiModel, geminiOpts...), cfg.DirectTimeout),
		gateway.NewMockProvider(),
	)

	gw, err := gateway.New(log, providers...)
	if err != nil {
		log.Error().Err(err).Msg("failed to create gateway")
		os.Exit(1)
	}

	store, err := newStore(cfg, awsCfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to create progress store")
		os.Exit(1)
	}

	// ---- Handler ----
	progress, err := usecase.NewProgressService(store, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to create progress service")
		os.Exit(1)
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve timezone")
		os.Exit(1)
	}
	h, err := handler.NewHandler(gw, progress, log,
		handler.WithCallDefaults(cfg.MaxCallTurns, cfg.Language),
		handler.WithLocation(loc),
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to create handler")
		os.Exit(1)
	}

	log.Info().
		Bool("proxy", cfg.HasProxy()).
		Bool("direct", cfg.HasDirectKey()).
		Str("model", cfg.GeminiModel).
		Str("tracing", cfg.TraceExporter).
		Msg("didi handler starting")
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := h.Handle(ctx, req)
		if ferr := tracing.Flush(ctx); ferr != nil {
			log.Warn().Err(ferr).Msg("failed to flush spans")
		}
		return resp, err
	})
}

// newStore prefers DynamoDB and falls back to a local SQLite file.
func newStore(cfg config.Config, awsCfg aws.Config, log *logging.Logger) (usecase.ProgressStore, error) {
	if cfg.StateTable != "" {
		return repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	}
	path := cfg.SQLitePath
	if path == "" {
		path = "/tmp/didi.db"
	}
	return repository.OpenSQLite(path, log)
}
