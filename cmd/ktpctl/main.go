// Command ktpctl imports line items into an order, prints order totals and
// manages ledger jobs from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/KantanPro/ktp-ledger/cmd/ktpledger/cli"
	"github.com/KantanPro/ktp-ledger/internal/app"
	"github.com/KantanPro/ktp-ledger/internal/ledger"
	"github.com/KantanPro/ktp-ledger/internal/ledger/remote"
	"github.com/KantanPro/ktp-ledger/internal/observability"
	"github.com/KantanPro/ktp-ledger/jobs"
)

const usage = `usage: ktpctl <command> [flags]

commands:
  import   append CSV rows to an order's invoice or cost table
  totals   print the totals of an order
  trigger  enqueue a ledger job
  queue    show the job queue state
`

func main() {
	if app.InTestMode() {
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "import":
		return runImport(ctx, args[1:], stdin, stdout, stderr)
	case "totals":
		return runTotals(ctx, args[1:], stdout, stderr)
	case "trigger":
		return runTrigger(ctx, args[1:], stdout, stderr)
	case "queue":
		return runQueue(ctx, args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return 2
	}
}

type remoteFlags struct {
	baseURL  string
	timeout  time.Duration
	pushURL  string
	logLevel string
}

func (f *remoteFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.baseURL, "url", envOr("KTP_URL", "http://127.0.0.1:8080"), "ledger server base URL")
	fs.DurationVar(&f.timeout, "timeout", 15*time.Second, "HTTP timeout per call")
	fs.StringVar(&f.pushURL, "pushgateway", os.Getenv("KTP_PUSHGATEWAY_URL"), "push sync metrics to this Prometheus Pushgateway")
	fs.StringVar(&f.logLevel, "log-level", "warn", "log level")
}

// ledgerCLI connects to the server and returns the helper plus a flush
// function pushing the sync counters when a Pushgateway is configured.
func (f *remoteFlags) ledgerCLI(ctx context.Context, stderr io.Writer) (*cli.LedgerCLI, func(), error) {
	logger := app.NewLogger(&app.Config{LogFormat: "pretty", LogLevel: f.logLevel})
	client := remote.NewClient(remote.Config{BaseURL: f.baseURL, Timeout: f.timeout}, nil)
	if err := client.Handshake(ctx); err != nil {
		return nil, nil, err
	}
	registry := prometheus.NewRegistry()
	recorder := observability.NewLedgerRecorder(registry)
	helper, err := cli.NewLedgerCLI(client, recorder, logger, ledger.AggregatorConfig{})
	if err != nil {
		return nil, nil, err
	}
	flush := func() {
		if f.pushURL == "" {
			return
		}
		if err := push.New(f.pushURL, "ktpctl").Gatherer(registry).Push(); err != nil {
			_, _ = fmt.Fprintf(stderr, "push metrics: %v\n", err)
		}
	}
	return helper, flush, nil
}

func runImport(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var remoteOpts remoteFlags
	remoteOpts.register(fs)
	orderID := fs.Int64("order", 0, "order id")
	itemType := fs.String("type", string(ledger.ItemTypeCost), "table: invoice or cost")
	file := fs.String("file", "-", "CSV file, - for stdin")
	jsonOut := fs.Bool("json", false, "print a JSON summary")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	source := stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "ledger import: %v\n", err)
			return 1
		}
		defer func() { _ = f.Close() }()
		source = f
	}

	helper, flush, err := remoteOpts.ledgerCLI(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ledger import: connect: %v\n", err)
		return 1
	}
	defer flush()
	return helper.ImportCommand(ctx, cli.ImportOptions{
		OrderID:    *orderID,
		ItemType:   ledger.ItemType(*itemType),
		Source:     source,
		JSONOutput: *jsonOut,
		Stdout:     stdout,
		Stderr:     stderr,
	})
}

func runTotals(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("totals", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var remoteOpts remoteFlags
	remoteOpts.register(fs)
	orderID := fs.Int64("order", 0, "order id")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	helper, flush, err := remoteOpts.ledgerCLI(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ledger totals: connect: %v\n", err)
		return 1
	}
	defer flush()
	return helper.TotalsCommand(ctx, cli.TotalsOptions{OrderID: *orderID, JSONOutput: *jsonOut, Stdout: stdout, Stderr: stderr})
}

func runTrigger(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	redisAddr := fs.String("redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "redis address")
	name := fs.String("job", jobs.TaskLedgerTotalsRefresh, "job name")
	orderID := fs.Int64("order", 0, "order id for totals refresh")
	retention := fs.Int("retention-hours", 0, "retention override for idempotency cleanup")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(*redisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()
	info, err := jobsCLI.Trigger(ctx, cli.TriggerParams{Name: *name, OrderID: *orderID, RetentionHours: *retention})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	return 0
}

func runQueue(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	redisAddr := fs.String("redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "redis address")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	jobsCLI, err := cli.NewJobsCLI(*redisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs queue: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()
	stats, err := jobsCLI.InspectQueue(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs queue: %v\n", err)
		return 1
	}
	if err := json.NewEncoder(stdout).Encode(stats); err != nil {
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
