package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	reporter "github.com/ethereum-optimism/infra/op-allure"
	"github.com/ethereum-optimism/infra/op-allure/exitcodes"
	"github.com/ethereum-optimism/infra/op-allure/flags"
	"github.com/ethereum-optimism/infra/op-allure/service"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	ctx := ctxinterrupt.WithSignalWaiterMain(context.Background())
	err := app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-allure"
	app.Usage = "Allure results writer for Go test runs"
	app.Description = "op-allure turns 'go test -json' streams and Ginkgo JSON reports into Allure results"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		cli.HandleExitCoder(exitError(err))
	}
	return app
}

// exitError maps typed errors onto the process exit code.
func exitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr cli.ExitCoder
	switch {
	case errors.As(err, &exitErr):
		return exitErr
	case reporter.IsRuntimeError(err):
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	case reporter.IsTestFailureError(err):
		return cli.Exit(err.Error(), exitcodes.TestFailure)
	default:
		return cli.Exit(err.Error(), exitcodes.TestFailure)
	}
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := reporter.NewConfig(ctx, log)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, reporter.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	var shutdownTracing func()
	if cfg.Tracing {
		_, shutdown, err := telemetry.SetupOpenTelemetry(
			ctx.Context,
			otelconfig.WithServiceName(ctx.App.Name),
			otelconfig.WithServiceVersion(ctx.App.Version),
		)
		if err != nil {
			return nil, reporter.NewRuntimeError(fmt.Errorf("failed to setup open telemetry: %w", err))
		}
		shutdownTracing = shutdown
	}

	svc, err := service.New(cfg, Version, closeApp)
	if err != nil {
		if shutdownTracing != nil {
			shutdownTracing()
		}
		return nil, reporter.NewRuntimeError(fmt.Errorf("failed to create service: %w", err))
	}
	if shutdownTracing != nil {
		return &tracedLifecycle{Lifecycle: svc, shutdown: shutdownTracing}, nil
	}
	return svc, nil
}

// tracedLifecycle flushes exported spans once the wrapped lifecycle stopped.
type tracedLifecycle struct {
	cliapp.Lifecycle
	shutdown func()
}

func (t *tracedLifecycle) Stop(ctx context.Context) error {
	err := t.Lifecycle.Stop(ctx)
	t.shutdown()
	return err
}
