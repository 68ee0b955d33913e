package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-allure/allure"
)

const (
	MetricsNamespace = "op_allure"
)

var nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z ]+`)

// Sink counts what the reporter persists. It implements allure.Writer and is
// meant to sit beside the real writer in an allure.MultiWriter.
type Sink struct {
	log      log.Logger
	registry *prometheus.Registry

	mu          sync.Mutex
	containers  map[string]struct{}
	testsTotal  *prometheus.CounterVec
	stepsTotal  *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	groupsTotal prometheus.Counter
	attachments *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
}

var _ allure.Writer = (*Sink)(nil)

// NewSink registers the collectors on a private registry, so several sinks
// can live in one process.
func NewSink(logger log.Logger) *Sink {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Sink{
		log:        logger,
		registry:   registry,
		containers: make(map[string]struct{}),
		testsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "tests_total",
			Help:      "Count of finalized tests",
		}, []string{
			"status",
		}),
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "steps_total",
			Help:      "Count of finalized steps, including nested steps",
		}, []string{
			"status",
		}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "test_duration_seconds",
			Help:      "Duration of finalized tests",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{
			"status",
		}),
		groupsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "groups_total",
			Help:      "Count of distinct groups written",
		}),
		attachments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "attachment_bytes_total",
			Help:      "Bytes of attachment content written",
		}, []string{
			"extension",
		}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "errors_total",
			Help:      "Count of errors",
		}, []string{
			"error",
		}),
	}
}

// Registry exposes the sink's registry for gathering.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Sink) WriteResult(result *allure.TestResult) error {
	status := statusLabel(result.Status)
	s.log.Debug("metric inc", "m", "tests_total", "status", status)
	s.testsTotal.WithLabelValues(status).Inc()
	if result.Stop >= result.Start && result.Start > 0 {
		s.durations.WithLabelValues(status).Observe(float64(result.Stop-result.Start) / 1000)
	}
	s.countSteps(result.Steps)
	return nil
}

func (s *Sink) countSteps(steps []*allure.StepResult) {
	for _, step := range steps {
		s.stepsTotal.WithLabelValues(statusLabel(step.Status)).Inc()
		s.countSteps(step.Steps)
	}
}

// WriteContainer counts each group once, however many times it is rewritten.
func (s *Sink) WriteContainer(container *allure.TestResultContainer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.containers[container.UUID]; seen {
		return nil
	}
	s.containers[container.UUID] = struct{}{}
	s.groupsTotal.Inc()
	return nil
}

func (s *Sink) WriteAttachment(source string, content []byte) error {
	ext := "none"
	if i := strings.LastIndex(source, "."); i >= 0 {
		ext = source[i+1:]
	}
	s.attachments.WithLabelValues(ext).Add(float64(len(content)))
	return nil
}

func (s *Sink) WriteCategories([]allure.Category) error { return nil }

func (s *Sink) WriteEnvironmentInfo(*allure.Environment) error { return nil }

// RecordError counts an error under a sanitized label.
func (s *Sink) RecordError(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	s.log.Debug("metric inc", "m", "errors_total", "error", label)
	s.errorsTotal.WithLabelValues(label).Inc()
}

// WriteTextfile dumps the registry in the node exporter textfile format.
func (s *Sink) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, s.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func statusLabel(status allure.Status) string {
	if status == "" {
		return "unknown"
	}
	return string(status)
}

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}
