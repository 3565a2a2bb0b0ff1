// Command gridclient is a pull client of the compute service. It keeps a
// session open, runs the task the service publishes, and exits 0 when the
// service requires a restart so a supervisor can relaunch it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seantiz/gridrelay/internal/config"
	"github.com/seantiz/gridrelay/internal/rpc"
	"github.com/seantiz/gridrelay/internal/session"
	"github.com/seantiz/gridrelay/internal/task"
)

const usage = "usage: gridclient [-interact MIN] [-connect MIN] <server-address> <binding> <client-id>"

type args struct {
	interact    time.Duration
	connect     time.Duration
	callTimeout time.Duration
	logLevel    string
	server      string
	binding     string
	clientID    string
}

func main() {
	a, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		os.Exit(2)
	}
	os.Exit(run(a))
}

// parseArgs reads the command line. Malformed input has already been
// reported to stderr when an error is returned.
func parseArgs(argv []string, stderr io.Writer) (args, error) {
	fs := flag.NewFlagSet("gridclient", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage)
		fs.PrintDefaults()
	}

	interact := fs.Float64("interact", session.DefaultInteractWait.Minutes(), "minutes between interact calls")
	connect := fs.Float64("connect", session.DefaultConnectWait.Minutes(), "minutes between connect attempts")
	callTimeout := fs.Duration("call-timeout", session.DefaultCallTimeout, "deadline for each call to the service")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")

	if err := fs.Parse(argv); err != nil {
		return args{}, err
	}
	if fs.NArg() != 3 || *interact <= 0 || *connect <= 0 || *callTimeout <= 0 {
		fs.Usage()
		return args{}, errors.New("malformed arguments")
	}

	return args{
		interact:    minutes(*interact),
		connect:     minutes(*connect),
		callTimeout: *callTimeout,
		logLevel:    *logLevel,
		server:      fs.Arg(0),
		binding:     fs.Arg(1),
		clientID:    fs.Arg(2),
	}, nil
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func run(a args) int {
	logger := config.NewLogger(os.Stdout, config.ParseLogLevel(a.logLevel), "json")
	logger.Info("gridclient: starting",
		"server", a.server,
		"binding", a.binding,
		"client_id", a.clientID,
	)

	mgr := session.NewManager(rpc.NewClient(a.server), task.Builtin(), session.Config{
		ClientID:     a.clientID,
		Binding:      a.binding,
		ConnectWait:  a.connect,
		InteractWait: a.interact,
		CallTimeout:  a.callTimeout,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := mgr.Run(ctx)
	if errors.Is(err, session.ErrRestartRequired) {
		logger.Info("gridclient: exiting for restart", "reason", err)
		return 0
	}
	if err != nil {
		logger.Error("gridclient: session failed", "error", err)
		return 1
	}
	logger.Info("gridclient: stopped")
	return 0
}
