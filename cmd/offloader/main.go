// Command offloader runs Monte Carlo pi estimates at a fixed rate, sending
// each to the compute service and falling back to a local run when the
// service cannot answer in time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/gridrelay/internal/config"
	"github.com/seantiz/gridrelay/internal/offload"
	"github.com/seantiz/gridrelay/internal/rpc"
	"github.com/seantiz/gridrelay/internal/task"
)

const metricsShutdownTimeout = 5 * time.Second

func main() {
	server := flag.String("server", "", "compute service address; empty runs every cycle locally")
	interval := flag.Duration("interval", offload.DefaultInterval, "time between cycles")
	deadline := flag.Duration("deadline", offload.DefaultDeadline, "bound on the remote path of a cycle")
	trials := flag.Int("trials", 1_000_000, "trials per estimate")
	metricsAddr := flag.String("metrics-addr", ":9100", "address serving /metrics; empty disables it")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "json", "log format (json, text)")
	flag.Parse()

	if *trials <= 0 || *interval <= 0 || *deadline <= 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := config.NewLogger(os.Stdout, config.ParseLogLevel(*logLevel), *logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *server, *interval, *deadline, *trials, *metricsAddr, logger); err != nil {
		logger.Error("offloader: exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, server string, interval, deadline time.Duration, trials int, metricsAddr string, logger *slog.Logger) error {
	var remote offload.Remote
	if server != "" {
		remote = rpc.NewClient(server)
	}

	logger.Info("offloader: starting",
		"server", server,
		"interval", interval.String(),
		"deadline", deadline.String(),
		"trials", trials,
	)

	job := &piJob{trials: trials}
	client := offload.NewClient[task.PiInput, task.PiOutput](task.PiTask{}, remote, logger, offload.WithDeadline(deadline))
	driver := offload.NewDriver[task.PiInput, task.PiOutput](client, job, interval, logger)
	driver.OnOutcome(func(out offload.Outcome, err error) {
		if err == nil {
			logger.Debug("running estimate", "task_id", out.TaskID, "runs", job.runs, "mean", job.mean)
		}
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return driver.Run(ctx) })
	if metricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, metricsAddr, logger) })
	}
	return g.Wait()
}

// piJob asks for a fixed number of trials with a fresh seed per cycle and
// keeps the running mean of applied estimates. It is driven by one driver.
type piJob struct {
	trials int
	seed   uint64
	runs   int
	mean   float64
}

func (j *piJob) Input() task.PiInput { return task.PiInput{Trials: j.trials} }

func (j *piJob) Seed() uint64 {
	j.seed++
	return j.seed
}

func (j *piJob) Apply(out task.PiOutput) {
	j.runs++
	j.mean += (out.Estimate - j.mean) / float64(j.runs)
}

// serveMetrics exposes the Prometheus registry until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
