package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

const EnvVarPrefix = "OP_ALLURE"

var (
	ResultsDir = &cli.StringFlag{
		Name:    "results-dir",
		Value:   "allure-results",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_DIR"),
		Usage:   "Directory to write Allure results to",
	}
	Input = &cli.StringFlag{
		Name:    "input",
		Value:   "-",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "INPUT"),
		Usage:   "Path to a 'go test -json' stream. '-' reads from stdin",
	}
	InputFormat = &cli.StringFlag{
		Name:    "input-format",
		Value:   "go-test",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "INPUT_FORMAT"),
		Usage:   "Format of the input: 'go-test' for a 'go test -json' stream, 'ginkgo' for a 'ginkgo --json-report' file",
	}
	Clean = &cli.BoolFlag{
		Name:    "clean",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CLEAN"),
		Usage:   "Remove previous contents of the results directory before writing",
	}
	ReportConfig = &cli.StringFlag{
		Name:    "report-config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "REPORT_CONFIG"),
		Usage:   "Path to a YAML file with categories, environment and labels (eg. 'allure.yaml')",
	}
	Environment = &cli.StringSliceFlag{
		Name:    "env",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENV"),
		Usage:   "Environment entry written to environment.properties, as KEY=VALUE. Repeatable",
	}
	WorkerID = &cli.StringFlag{
		Name:    "worker-id",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKER_ID"),
		Usage:   "Worker identity recorded as the thread label of every test",
	}
	IssueURL = &cli.StringFlag{
		Name:    "issue-url",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ISSUE_URL"),
		Usage:   "Base URL issue ids are appended to (eg. 'https://github.com/org/repo/issues/')",
	}
	TMSURL = &cli.StringFlag{
		Name:    "tms-url",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TMS_URL"),
		Usage:   "Base URL test management ids are appended to",
	}
	GoMod = &cli.StringFlag{
		Name:    "gomod",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GOMOD"),
		Usage:   "Path to the go.mod of the tested module. Package names are reported relative to its module path",
	}
	Summary = &cli.BoolFlag{
		Name:    "summary",
		Value:   true,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUMMARY"),
		Usage:   "Print a summary table once all results are written",
	}
	MetricsTextfile = &cli.StringFlag{
		Name:    "metrics-textfile",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "METRICS_TEXTFILE"),
		Usage:   "Write Prometheus metrics about the reported run to this file in textfile-collector format",
	}
	MetricsAddr = &cli.StringFlag{
		Name:    "metrics-addr",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "METRICS_ADDR"),
		Usage:   "Serve /metrics and /healthz on this address while reporting (eg. '0.0.0.0:7300'). Disabled when empty",
	}
	RawEventsLog = &cli.StringFlag{
		Name:    "raw-events-log",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RAW_EVENTS_LOG"),
		Usage:   "Copy the raw input to this file while it is reported (eg. 'raw_go_events.log')",
	}
	FailOnTestFailure = &cli.BoolFlag{
		Name:    "fail-on-test-failure",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "FAIL_ON_TEST_FAILURE"),
		Usage:   "Exit with code 1 when any reported test failed or broke",
	}
	Tracing = &cli.BoolFlag{
		Name:    "tracing",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TRACING"),
		Usage:   "Export OpenTelemetry spans for each replayed package (configured through OTEL_* env vars)",
	}
)

// requiredFlags carry defaults but must not be cleared to an empty value.
var requiredFlags = []cli.Flag{
	ResultsDir,
}

var optionalFlags = []cli.Flag{
	Input,
	InputFormat,
	Clean,
	ReportConfig,
	Environment,
	WorkerID,
	IssueURL,
	TMSURL,
	GoMod,
	Summary,
	MetricsTextfile,
	MetricsAddr,
	RawEventsLog,
	FailOnTestFailure,
	Tracing,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if ctx.String(f.Names()[0]) == "" {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
