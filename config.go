package reporter

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-allure/flags"
)

// Config holds the application configuration
type Config struct {
	ResultsDir        string            // Directory Allure results are written to
	Clean             bool              // Remove previous results before writing
	Input             string            // Report input, "-" for stdin
	InputFormat       InputFormat       // How Input is decoded
	ReportConfig      string            // Optional YAML file with categories, environment and labels
	Environment       []EnvironmentItem // Entries written to environment.properties, in order
	WorkerID          string            // Thread label applied when a test carries none
	IssueURL          string            // Base URL issue ids are appended to
	TMSURL            string            // Base URL test management ids are appended to
	GoMod             string            // go.mod of the tested module, used to shorten package names
	Summary           bool              // Print a summary table at the end of a run
	MetricsTextfile   string            // Prometheus textfile output path
	MetricsAddr       string            // Address of the metrics and healthz server, empty to disable
	RawEventsLog      string            // Copy of the raw input, empty to disable
	FailOnTestFailure bool              // Turn failed tests into exit code 1
	Tracing           bool              // Export OpenTelemetry spans
	Log               log.Logger
}

// InputFormat selects the decoder for the report input.
type InputFormat string

const (
	InputFormatGoTest InputFormat = "go-test"
	InputFormatGinkgo InputFormat = "ginkgo"
)

var ErrUnknownInputFormat = errors.New("unknown input format")

// ParseInputFormat validates an --input-format value.
func ParseInputFormat(s string) (InputFormat, error) {
	switch f := InputFormat(s); f {
	case InputFormatGoTest, InputFormatGinkgo:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownInputFormat, s)
}

// EnvironmentItem is one line of environment.properties.
type EnvironmentItem struct {
	Key   string
	Value string
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	resultsDir, err := filepath.Abs(ctx.String(flags.ResultsDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for results directory '%s': %w", ctx.String(flags.ResultsDir.Name), err)
	}

	env, err := ParseEnvironment(ctx.StringSlice(flags.Environment.Name))
	if err != nil {
		return nil, err
	}

	format, err := ParseInputFormat(ctx.String(flags.InputFormat.Name))
	if err != nil {
		return nil, err
	}

	return &Config{
		ResultsDir:        resultsDir,
		Clean:             ctx.Bool(flags.Clean.Name),
		Input:             ctx.String(flags.Input.Name),
		InputFormat:       format,
		ReportConfig:      ctx.String(flags.ReportConfig.Name),
		Environment:       env,
		WorkerID:          ctx.String(flags.WorkerID.Name),
		IssueURL:          ctx.String(flags.IssueURL.Name),
		TMSURL:            ctx.String(flags.TMSURL.Name),
		GoMod:             ctx.String(flags.GoMod.Name),
		Summary:           ctx.Bool(flags.Summary.Name),
		MetricsTextfile:   ctx.String(flags.MetricsTextfile.Name),
		MetricsAddr:       ctx.String(flags.MetricsAddr.Name),
		RawEventsLog:      ctx.String(flags.RawEventsLog.Name),
		FailOnTestFailure: ctx.Bool(flags.FailOnTestFailure.Name),
		Tracing:           ctx.Bool(flags.Tracing.Name),
		Log:               log,
	}, nil
}

// ParseEnvironment parses KEY=VALUE entries, keeping their order.
func ParseEnvironment(entries []string) ([]EnvironmentItem, error) {
	items := make([]EnvironmentItem, 0, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment entry %q: %w", entry, errMalformedEnvironment)
		}
		items = append(items, EnvironmentItem{Key: key, Value: value})
	}
	return items, nil
}

var errMalformedEnvironment = errors.New("expected KEY=VALUE")
