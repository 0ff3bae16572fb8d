// Command bsdcoach runs an interactive coaching session on the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bsdcoach/pkg/coach"
	"bsdcoach/pkg/config"
	"bsdcoach/pkg/gate"
	"bsdcoach/pkg/guard"
	"bsdcoach/pkg/lexicon"
	"bsdcoach/pkg/llm"
	"bsdcoach/pkg/llm/anthropic"
	"bsdcoach/pkg/llm/google"
	"bsdcoach/pkg/llm/ollama"
	"bsdcoach/pkg/llm/openai"
	"bsdcoach/pkg/logx"
	"bsdcoach/pkg/metrics"
	"bsdcoach/pkg/persistence"
	"bsdcoach/pkg/proposer"
	"bsdcoach/pkg/stage"
	"bsdcoach/pkg/tokens"
)

const completionTimeout = 60 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bsdcoach: %v\n", err)
		os.Exit(1)
	}
}

//nolint:funlen // linear startup sequence
func run() error {
	configPath := flag.String("config", "", "path to JSON config file")
	lang := flag.String("lang", "", "session language tag (overrides config)")
	dbPath := flag.String("db", "", "path to the session database (overrides config)")
	provider := flag.String("provider", "", "model provider: anthropic, openai, ollama, google")
	model := flag.String("model", "", "model name (overrides config)")
	ollamaHost := flag.String("ollama-host", "", "ollama server URL")
	metricsAddr := flag.String("metrics-addr", "", "address for the /metrics endpoint (overrides config)")
	sessionID := flag.String("session", "", "conversation ID to resume; a new one is generated when empty")
	report := flag.Bool("report", false, "print a per-stage metrics report from Prometheus and exit")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		logx.SetDebug(true)
	}
	logx.SetSink(logx.NewRingSink(1000))
	log := logx.NewLogger("main")

	if err := config.Load(*configPath); err != nil {
		return err
	}
	cfg := config.Get()
	applyFlagOverrides(&cfg, *lang, *dbPath, *provider, *model, *ollamaHost, *metricsAddr)
	if err := config.Set(cfg); err != nil {
		return err
	}

	if *report {
		return printReport(cfg.PrometheusURL)
	}

	if config.SecretsFileExists(".") {
		password, err := config.PromptPassword("secrets password: ")
		if err != nil {
			return err
		}
		secrets, err := config.DecryptSecretsFile(".", password)
		if err != nil {
			return err
		}
		config.SetDecryptedSecrets(secrets)
	}

	pack, err := lexicon.Load(cfg.Language)
	if err != nil {
		return err
	}
	table, err := stage.LoadTable()
	if err != nil {
		return err
	}

	client, err := buildClient(cfg)
	if err != nil {
		return err
	}
	client = llm.Chain(client, llm.Timeout(completionTimeout), llm.Retry())

	if err := persistence.Initialize(cfg.DBPath); err != nil {
		return err
	}
	defer func() {
		if err := persistence.Close(); err != nil {
			log.Error("failed to close database: %v", err)
		}
	}()

	counter, err := tokens.NewCounter(cfg.Model)
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)
	metricsServer := startMetricsServer(cfg.MetricsAddr, log)

	engine := coach.NewEngine(coach.Options{
		Language: cfg.Language,
		Pack:     pack,
		Table:    table,
		Gate:     gate.NewEvaluator(table, pack),
		Guard: guard.New(table, pack, guard.Config{
			StallRepeats:       cfg.Thresholds.StallRepeats,
			MinSufficientTurns: cfg.Thresholds.MinSufficientTurns,
			MinCombinedChars:   cfg.Thresholds.MinCombinedChars,
		}),
		Proposer: proposer.New(client, table, counter).WithHistoryBudget(cfg.Thresholds.HistoryBudget),
		Store:    persistence.Ops(),
		Recorder: recorder,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conversationID := *sessionID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	log.Info("session %s starting (language %s, model %s)", conversationID, cfg.Language, client.ModelName())
	fmt.Printf("session: %s\n", conversationID)

	err = repl(ctx, engine, conversationID)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return err
}

func applyFlagOverrides(cfg *config.Config, lang, dbPath, provider, model, ollamaHost, metricsAddr string) {
	if lang != "" {
		cfg.Language = lang
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if provider != "" {
		cfg.Provider = provider
	}
	if model != "" {
		cfg.Model = model
	}
	if ollamaHost != "" {
		cfg.OllamaHost = ollamaHost
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
}

func buildClient(cfg config.Config) (llm.Client, error) {
	if cfg.Provider == config.ProviderOllama {
		return ollama.New(cfg.OllamaHost, cfg.Model), nil
	}
	apiKey, err := config.GetSecret(cfg.APIKeyEnvVar())
	if err != nil {
		return nil, fmt.Errorf("no API key for provider %s: %w", cfg.Provider, err)
	}
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return anthropic.New(apiKey, cfg.Model), nil
	case config.ProviderOpenAI:
		return openai.New(apiKey, cfg.Model), nil
	case config.ProviderGoogle:
		return google.New(apiKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func startMetricsServer(addr string, log *logx.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed: %v", err)
		}
	}()
	log.Info("metrics listening on %s", addr)
	return server
}

func printReport(prometheusURL string) error {
	qs, err := metrics.NewQueryService(prometheusURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, st := range stage.Order {
		rep, err := qs.StageReport(ctx, string(st))
		if err != nil {
			return err
		}
		fmt.Printf("%-16s turns=%d advances=%d forced=%d overrides=%d\n",
			rep.Stage, rep.Turns, rep.Advances, rep.ForcedAdvances, rep.GuardOverrides)
	}
	backward, err := qs.BackwardRejections(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("backward proposals rejected: %d\n", backward)
	return nil
}

func repl(ctx context.Context, engine *coach.Engine, conversationID string) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	fmt.Println("coach> Welcome. What would you like to work on today? (/quit to exit)")
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" || text == "/exit" {
			return nil
		}

		res, err := engine.HandleTurn(ctx, conversationID, text)
		if err != nil {
			fmt.Fprintf(os.Stderr, "coach error: %v\n", err)
			continue
		}
		fmt.Printf("coach> %s\n", res.Reply)
		if res.Archived {
			fmt.Println("coach> This session is complete. Well done.")
			return nil
		}
	}
}
