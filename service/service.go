// Package service runs one reporting pass as a cliapp.Lifecycle: it decodes the
// configured input, replays it through a reporter and writes the results,
// summary and metrics.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum/go-ethereum/log"

	reporter "github.com/ethereum-optimism/infra/op-allure"
	"github.com/ethereum-optimism/infra/op-allure/allure"
	"github.com/ethereum-optimism/infra/op-allure/ginkgoreport"
	"github.com/ethereum-optimism/infra/op-allure/gotest"
	"github.com/ethereum-optimism/infra/op-allure/logging"
	"github.com/ethereum-optimism/infra/op-allure/metrics"
	"github.com/ethereum-optimism/infra/op-allure/reporting"
	"github.com/ethereum-optimism/infra/op-allure/testlist"
)

// Service implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = (*Service)(nil)

type Service struct {
	config  *reporter.Config
	log     log.Logger
	version string

	files    *allure.FileWriter
	metrics  *metrics.Sink
	summary  *reporting.SummarySink
	reporter *reporter.Reporter
	server   *Server

	stdin  io.Reader
	stdout io.Writer

	running          atomic.Bool
	stats            reporting.Stats
	shutdownCallback func(error) // Callback to signal application shutdown
}

type Option func(*Service)

// WithStdio overrides the streams used for '-' input and the summary.
func WithStdio(stdin io.Reader, stdout io.Writer) Option {
	return func(s *Service) {
		s.stdin = stdin
		s.stdout = stdout
	}
}

func New(config *reporter.Config, version string, shutdownCallback func(error), opts ...Option) (*Service, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Log == nil {
		config.Log = log.Root()
	}

	config.Log.Debug("Creating service with config",
		"resultsDir", config.ResultsDir,
		"input", config.Input,
		"inputFormat", config.InputFormat,
		"clean", config.Clean)

	files, err := allure.NewFileWriter(config.ResultsDir, config.Clean)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare results directory: %w", err)
	}

	s := &Service{
		config:           config,
		log:              config.Log,
		version:          version,
		files:            files,
		metrics:          metrics.NewSink(config.Log),
		summary:          reporting.NewSummarySink(fmt.Sprintf("Allure Results (%s)", config.ResultsDir), true),
		stdin:            os.Stdin,
		stdout:           os.Stdout,
		shutdownCallback: shutdownCallback,
	}
	for _, opt := range opts {
		opt(s)
	}

	rt := allure.NewRuntime(
		allure.MultiWriter(s.files, s.metrics, s.summary),
		allure.WithLogger(config.Log),
	)
	s.reporter = reporter.New(rt, config)

	if err := s.applyReportSettings(); err != nil {
		return nil, err
	}
	return s, nil
}

// applyReportSettings writes categories and environment entries before any
// result so an interrupted run still carries them.
func (s *Service) applyReportSettings() error {
	if s.config.ReportConfig != "" {
		rc, err := reporter.LoadReportConfig(s.config.ReportConfig)
		if err != nil {
			return err
		}
		if err := rc.Apply(s.reporter); err != nil {
			return fmt.Errorf("failed to apply report config: %w", err)
		}
	}
	for _, item := range s.config.Environment {
		s.reporter.AddEnvironment(item.Key, item.Value)
	}
	return s.reporter.Err()
}

// Start reports the configured input and asks the application to exit once
// done.
// Start implements the cliapp.Lifecycle interface.
func (s *Service) Start(ctx context.Context) error {
	s.running.Store(true)

	if s.config.MetricsAddr != "" {
		s.server = NewServer(s.log, s.metrics.Registry())
		if err := s.server.Start(s.config.MetricsAddr); err != nil {
			return reporter.NewRuntimeError(fmt.Errorf("failed to start metrics server: %w", err))
		}
	}

	if err := s.Run(ctx); err != nil {
		s.metrics.RecordError("run", err)
		return reporter.NewRuntimeError(err)
	}

	if s.config.FailOnTestFailure && s.stats.HasFailures() {
		s.log.Warn("Reported run contains failures, returning exit code 1",
			"failed", s.stats.Failed, "broken", s.stats.Broken)
		return reporter.NewTestFailureError(fmt.Sprintf("%d failed, %d broken of %d tests",
			s.stats.Failed, s.stats.Broken, s.stats.Total))
	}

	go func() {
		s.shutdownCallback(nil)
	}()
	return nil
}

// Run performs one reporting pass.
func (s *Service) Run(ctx context.Context) error {
	in, closeInput, err := s.openInput()
	if err != nil {
		return err
	}
	defer closeInput()

	if s.config.RawEventsLog != "" {
		raw, err := logging.NewRawEventsLog(s.config.RawEventsLog)
		if err != nil {
			return err
		}
		defer func() {
			if err := raw.Close(); err != nil {
				s.log.Warn("Failed to write raw events log", "path", raw.Path(), "err", err)
			}
		}()
		in = raw.Tee(in)
	}

	switch s.config.InputFormat {
	case reporter.InputFormatGinkgo:
		err = s.reportGinkgo(in)
	default:
		err = s.reportGoTest(ctx, in)
	}
	if err != nil {
		return err
	}

	s.stats = s.summary.Stats()
	s.log.Info("Reporting completed",
		"dir", s.files.Dir(),
		"tests", s.stats.Total,
		"passed", s.stats.Passed,
		"failed", s.stats.Failed,
		"broken", s.stats.Broken,
		"skipped", s.stats.Skipped)

	if s.config.Summary {
		if err := s.summary.Render(s.stdout); err != nil {
			return fmt.Errorf("failed to print summary: %w", err)
		}
	}
	if s.config.MetricsTextfile != "" {
		if err := s.metrics.WriteTextfile(s.config.MetricsTextfile); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) reportGoTest(ctx context.Context, in io.Reader) error {
	var opts []gotest.ReplayerOption
	if s.config.GoMod != "" {
		idx, err := testlist.NewIndex(s.config.GoMod)
		if err != nil {
			return err
		}
		opts = append(opts, gotest.WithModulePath(idx.ModulePath()), gotest.WithSourceLocator(idx))
	}

	replayer := gotest.NewReplayer(s.reporter, s.log, opts...)
	collector := gotest.NewCollector(s.log)
	return gotest.Read(in, collector, func(pkg *gotest.Package) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return replayer.Replay(ctx, pkg)
	})
}

func (s *Service) reportGinkgo(in io.Reader) error {
	reports, err := ginkgoreport.ReadReports(in)
	if err != nil {
		return err
	}
	for _, report := range reports {
		if err := ginkgoreport.Report(s.reporter, report, ginkgoreport.WithLogger(s.log)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) openInput() (io.Reader, func(), error) {
	if s.config.Input == "" || s.config.Input == "-" {
		return s.stdin, func() {}, nil
	}
	f, err := os.Open(s.config.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// Stats returns the totals of the last completed run.
func (s *Service) Stats() reporting.Stats {
	return s.stats
}

// Stop shuts the metrics server down, if any.
// Stop implements the cliapp.Lifecycle interface.
func (s *Service) Stop(ctx context.Context) error {
	if !s.running.Load() {
		s.log.Debug("Service already stopped, nothing to do")
		return nil
	}
	s.running.Store(false)

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop metrics server: %w", err)
		}
	}
	s.log.Info("op-allure stopped")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (s *Service) Stopped() bool {
	return !s.running.Load()
}
