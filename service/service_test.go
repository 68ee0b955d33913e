package service

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reporter "github.com/ethereum-optimism/infra/op-allure"
	"github.com/ethereum-optimism/infra/op-allure/allure"
	"github.com/ethereum-optimism/infra/op-allure/metrics"
)

const failingStream = `{"Time":"2024-05-01T12:00:00Z","Action":"start","Package":"example.com/mod/pkg"}
{"Time":"2024-05-01T12:00:00.1Z","Action":"run","Package":"example.com/mod/pkg","Test":"TestA"}
{"Time":"2024-05-01T12:00:00.2Z","Action":"pass","Package":"example.com/mod/pkg","Test":"TestA","Elapsed":0.1}
{"Time":"2024-05-01T12:00:00.3Z","Action":"run","Package":"example.com/mod/pkg","Test":"TestB"}
{"Time":"2024-05-01T12:00:00.4Z","Action":"output","Package":"example.com/mod/pkg","Test":"TestB","Output":"    b_test.go:3: nope\n"}
{"Time":"2024-05-01T12:00:00.5Z","Action":"fail","Package":"example.com/mod/pkg","Test":"TestB","Elapsed":0.1}
{"Time":"2024-05-01T12:00:00.6Z","Action":"fail","Package":"example.com/mod/pkg","Elapsed":0.6}
`

const ginkgoReport = `[{"SuitePath":"/src/suite","SuiteDescription":"Suite","SpecReports":[
	{"ContainerHierarchyTexts":["A"],"LeafNodeType":"It","LeafNodeText":"works","State":"passed"},
	{"ContainerHierarchyTexts":["A"],"LeafNodeType":"It","LeafNodeText":"is pending","State":"pending"}
]}]`

func testConfig(t *testing.T) *reporter.Config {
	return &reporter.Config{
		ResultsDir:  filepath.Join(t.TempDir(), "allure-results"),
		Input:       "-",
		InputFormat: reporter.InputFormatGoTest,
		Summary:     true,
		Log:         testlog.Logger(t, log.LevelDebug),
	}
}

func countFiles(t *testing.T, dir, suffix string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			n++
		}
	}
	return n
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(nil, "test", func(error) {})
	require.Error(t, err)
}

func TestService_StartGoTest(t *testing.T) {
	cfg := testConfig(t)
	cfg.Environment = []reporter.EnvironmentItem{{Key: "network", Value: "devnet"}}
	cfg.MetricsTextfile = filepath.Join(t.TempDir(), "op_allure.prom")

	var stdout bytes.Buffer
	done := make(chan error, 1)
	svc, err := New(cfg, "test", func(err error) { done <- err }, WithStdio(strings.NewReader(failingStream), &stdout))
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback was not called")
	}

	assert.Equal(t, 2, svc.Stats().Total)
	assert.Equal(t, 1, svc.Stats().Failed)
	assert.Equal(t, 2, countFiles(t, cfg.ResultsDir, "-result.json"))
	assert.Equal(t, 1, countFiles(t, cfg.ResultsDir, "-container.json"))
	assert.Contains(t, stdout.String(), "TOTAL")

	prom, err := os.ReadFile(cfg.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `op_allure_tests_total{status="failed"} 1`)

	env, err := os.ReadFile(filepath.Join(cfg.ResultsDir, allure.EnvironmentFilename))
	require.NoError(t, err)
	assert.Equal(t, "network = devnet\n", string(env))

	assert.False(t, svc.Stopped())
	require.NoError(t, svc.Stop(context.Background()))
	assert.True(t, svc.Stopped())
	require.NoError(t, svc.Stop(context.Background()), "stopping twice is harmless")
}

func TestService_FailOnTestFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.FailOnTestFailure = true
	cfg.Summary = false

	svc, err := New(cfg, "test", func(error) {}, WithStdio(strings.NewReader(failingStream), &bytes.Buffer{}))
	require.NoError(t, err)

	err = svc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, reporter.IsTestFailureError(err))
	assert.False(t, reporter.IsRuntimeError(err))
}

func TestService_FailedRunIsNotHiddenByRerun(t *testing.T) {
	const rerunStream = `{"Time":"2024-05-01T12:00:00Z","Action":"start","Package":"example.com/mod/pkg"}
{"Time":"2024-05-01T12:00:00.1Z","Action":"run","Package":"example.com/mod/pkg","Test":"TestA"}
{"Time":"2024-05-01T12:00:00.2Z","Action":"output","Package":"example.com/mod/pkg","Test":"TestA","Output":"    a_test.go:3: boom\n"}
{"Time":"2024-05-01T12:00:00.3Z","Action":"fail","Package":"example.com/mod/pkg","Test":"TestA","Elapsed":0.1}
{"Time":"2024-05-01T12:00:00.4Z","Action":"run","Package":"example.com/mod/pkg","Test":"TestA"}
{"Time":"2024-05-01T12:00:00.5Z","Action":"pass","Package":"example.com/mod/pkg","Test":"TestA","Elapsed":0.1}
{"Time":"2024-05-01T12:00:00.6Z","Action":"fail","Package":"example.com/mod/pkg","Elapsed":0.6}
`
	cfg := testConfig(t)
	cfg.FailOnTestFailure = true
	cfg.Summary = false

	svc, err := New(cfg, "test", func(error) {}, WithStdio(strings.NewReader(rerunStream), &bytes.Buffer{}))
	require.NoError(t, err)

	err = svc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, reporter.IsTestFailureError(err))
	assert.Equal(t, 2, svc.Stats().Total)
	assert.Equal(t, 1, svc.Stats().Failed)
	assert.Equal(t, 2, countFiles(t, cfg.ResultsDir, "-result.json"))
}

func TestService_StartGinkgo(t *testing.T) {
	cfg := testConfig(t)
	cfg.InputFormat = reporter.InputFormatGinkgo
	cfg.Input = filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(cfg.Input, []byte(ginkgoReport), 0o644))

	var stdout bytes.Buffer
	svc, err := New(cfg, "test", func(error) {}, WithStdio(strings.NewReader(""), &stdout))
	require.NoError(t, err)
	require.NoError(t, svc.Run(context.Background()))

	stats := svc.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Passed)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, countFiles(t, cfg.ResultsDir, "-result.json"))
}

func TestService_RunErrors(t *testing.T) {
	t.Run("missing input file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Input = filepath.Join(t.TempDir(), "missing.json")
		svc, err := New(cfg, "test", func(error) {})
		require.NoError(t, err)

		err = svc.Start(context.Background())
		require.Error(t, err)
		assert.True(t, reporter.IsRuntimeError(err))
	})

	t.Run("malformed ginkgo report", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.InputFormat = reporter.InputFormatGinkgo
		svc, err := New(cfg, "test", func(error) {}, WithStdio(strings.NewReader("{"), &bytes.Buffer{}))
		require.NoError(t, err)
		require.Error(t, svc.Run(context.Background()))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cfg := testConfig(t)
		svc, err := New(cfg, "test", func(error) {}, WithStdio(strings.NewReader(failingStream), &bytes.Buffer{}))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, svc.Run(ctx), context.Canceled)
	})
}

func TestService_ReportConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Summary = false
	cfg.ReportConfig = filepath.Join(t.TempDir(), "allure.yaml")
	require.NoError(t, os.WriteFile(cfg.ReportConfig, []byte(`
categories:
  - name: Timeouts
    messageRegex: ".*timed out.*"
    matchedStatuses: [broken]
environment:
  network: sepolia
  client: op-geth
labels:
  owner: infra
`), 0o644))

	svc, err := New(cfg, "test", func(error) {}, WithStdio(strings.NewReader(failingStream), &bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, svc.Run(context.Background()))

	env, err := os.ReadFile(filepath.Join(cfg.ResultsDir, allure.EnvironmentFilename))
	require.NoError(t, err)
	assert.Equal(t, "network = sepolia\nclient = op-geth\n", string(env))

	_, err = os.Stat(filepath.Join(cfg.ResultsDir, allure.CategoriesFilename))
	assert.NoError(t, err)
}

func TestService_MetricsServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Summary = false
	cfg.MetricsAddr = "127.0.0.1:0"

	svc, err := New(cfg, "test", func(error) {}, WithStdio(strings.NewReader(failingStream), &bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	require.NotNil(t, svc.server.Addr())

	resp, err := http.Get("http://" + svc.server.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, svc.Stop(context.Background()))
}

func TestServer_Handler(t *testing.T) {
	sink := metrics.NewSink(log.NewLogger(log.DiscardHandler()))
	require.NoError(t, sink.WriteResult(&allure.TestResult{Status: allure.StatusPassed}))
	srv := httptest.NewServer(NewServer(log.NewLogger(log.DiscardHandler()), sink.Registry()).Handler())
	defer srv.Close()

	tests := []struct {
		path     string
		wantBody string
	}{
		{"/healthz", "OK"},
		{"/metrics", `op_allure_tests_total{status="passed"} 1`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+tt.path, nil)
			require.NoError(t, err)
			req.Header.Set("Origin", "http://example.com")

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body bytes.Buffer
			_, err = body.ReadFrom(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, body.String(), tt.wantBody)
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestService_RawEventsLog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Summary = false
	cfg.RawEventsLog = filepath.Join(t.TempDir(), "logs", "raw_go_events.log")

	svc, err := New(cfg, "test", func(error) {}, WithStdio(strings.NewReader(failingStream), &bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, svc.Run(context.Background()))

	raw, err := os.ReadFile(cfg.RawEventsLog)
	require.NoError(t, err)
	assert.Equal(t, failingStream, string(raw))
	assert.Equal(t, 2, svc.Stats().Total)
}

func TestService_GoModShortensPackages(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Summary = false
	cfg.GoMod = filepath.Join(dir, "go.mod")
	require.NoError(t, os.WriteFile(cfg.GoMod, []byte("module example.com/mod\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "a_test.go"),
		[]byte("package pkg\n\nimport \"testing\"\n\nfunc TestA(t *testing.T) {}\n"), 0o644))

	svc, err := New(cfg, "test", func(error) {}, WithStdio(strings.NewReader(failingStream), &bytes.Buffer{}))
	require.NoError(t, err)
	require.NoError(t, svc.Run(context.Background()))

	entries, err := os.ReadDir(cfg.ResultsDir)
	require.NoError(t, err)
	var sawPath bool
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), "-result.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(cfg.ResultsDir, e.Name()))
		require.NoError(t, err)
		assert.Contains(t, string(data), `{"name":"package","value":"pkg"}`)
		if strings.Contains(string(data), `{"name":"Test Path","value":"pkg/a_test.go"}`) {
			sawPath = true
		}
	}
	assert.True(t, sawPath)

	t.Run("missing go.mod", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.GoMod = filepath.Join(t.TempDir(), "go.mod")
		svc, err := New(cfg, "test", func(error) {}, WithStdio(strings.NewReader(failingStream), &bytes.Buffer{}))
		require.NoError(t, err)
		require.Error(t, svc.Run(context.Background()))
	})
}
