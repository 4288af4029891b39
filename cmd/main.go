package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"interview-agent/handler"
	"interview-agent/internal/integrations/assistant"
	"interview-agent/internal/integrations/interview"
	"interview-agent/internal/integrations/paramstore"
	"interview-agent/internal/repository"
	"interview-agent/internal/store"
	"interview-agent/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	scoreTable := mustEnv("SCORE_TABLE")
	paramPrefix := mustEnv("PARAM_PREFIX")
	apiHost := os.Getenv("API_HOST")
	minCut := envInt("PARAGRAPH_MIN_CUT", 0)
	maxCut := envInt("PARAGRAPH_MAX_CUT", 0)

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	params, err := paramstore.NewCache(ssmClient)
	if err != nil {
		slog.Error("failed to create SSM cache", "err", err)
		os.Exit(1)
	}

	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	archive, err := repository.New(dynamoClient, scoreTable)
	if err != nil {
		slog.Error("failed to create score archive", "err", err)
		os.Exit(1)
	}

	assistantClient := assistant.NewClient(
		assistant.WithBaseURL(apiHost),
		assistant.WithKeyFromParamStore(params, paramPrefix),
	)
	interviewClient := interview.NewClient(interview.WithBaseURL(apiHost))

	// ---- Service ----
	opts := []usecase.Option{
		usecase.WithArchiver(archive),
		usecase.WithEvents(usecase.NewBroadcaster(nil)),
		usecase.WithLogger(slog.Default()),
	}
	if minCut > 0 && maxCut > minCut {
		opts = append(opts, usecase.WithParagraphWindow(minCut, maxCut))
	}
	svc, err := usecase.NewService(store.New(), assistantClient, interviewClient, opts...)
	if err != nil {
		slog.Error("failed to create turn service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(svc)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
