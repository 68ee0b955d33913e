package gotest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = `{"Time":"2024-05-01T12:00:00Z","Action":"start","Package":"example.com/mod/pkg"}
{"Time":"2024-05-01T12:00:00.1Z","Action":"run","Package":"example.com/mod/pkg","Test":"TestA"}
{"Time":"2024-05-01T12:00:00.2Z","Action":"output","Package":"example.com/mod/pkg","Test":"TestA","Output":"=== RUN   TestA\n"}
{"Time":"2024-05-01T12:00:00.3Z","Action":"run","Package":"example.com/mod/pkg","Test":"TestA/sub"}
{"Time":"2024-05-01T12:00:00.4Z","Action":"pass","Package":"example.com/mod/pkg","Test":"TestA/sub","Elapsed":0.1}
{"Time":"2024-05-01T12:00:00.5Z","Action":"pass","Package":"example.com/mod/pkg","Test":"TestA","Elapsed":0.4}
not json at all
{"Time":"2024-05-01T12:00:00.6Z","Action":"output","Package":"example.com/mod/pkg","Output":"PASS\n"}
{"Time":"2024-05-01T12:00:00.7Z","Action":"pass","Package":"example.com/mod/pkg","Elapsed":0.7}
{"Time":"2024-05-01T12:00:01Z","Action":"start","Package":"example.com/mod/other"}
{"Time":"2024-05-01T12:00:01.1Z","Action":"run","Package":"example.com/mod/other","Test":"TestHangs"}
`

func TestCollector_Add(t *testing.T) {
	c := NewCollector(testlog.Logger(t, log.LevelDebug))
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Nil(t, c.Add(TestEvent{Time: start, Action: ActionStart, Package: "p"}))
	assert.Nil(t, c.Add(TestEvent{Time: start, Action: ActionRun, Package: "p", Test: "TestX"}))
	assert.Nil(t, c.Add(TestEvent{Action: ActionOutput, Package: "p", Test: "TestX", Output: "hello\n"}))
	assert.Nil(t, c.Add(TestEvent{Time: start.Add(time.Second), Action: ActionFail, Package: "p", Test: "TestX", Elapsed: 1}))

	pkg := c.Add(TestEvent{Time: start.Add(2 * time.Second), Action: ActionFail, Package: "p"})
	require.NotNil(t, pkg)
	assert.Equal(t, "p", pkg.Path)
	assert.Equal(t, ActionFail, pkg.Action)
	assert.Equal(t, start, pkg.Start)

	require.Len(t, pkg.Tests, 1)
	test := pkg.Test("TestX")
	require.NotNil(t, test)
	assert.True(t, test.Finished())
	assert.Equal(t, ActionFail, test.Action)
	assert.Equal(t, time.Second, test.Elapsed)
	assert.Equal(t, []string{"hello\n"}, test.Output)

	assert.Empty(t, c.Flush(), "completed packages are forgotten")
}

func TestCollector_RerunStartsNewAttempt(t *testing.T) {
	c := NewCollector(testlog.Logger(t, log.LevelDebug))
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	c.Add(TestEvent{Time: start, Action: ActionRun, Package: "p", Test: "TestA"})
	c.Add(TestEvent{Action: ActionOutput, Package: "p", Test: "TestA", Output: "boom\n"})
	c.Add(TestEvent{Time: start.Add(time.Second), Action: ActionFail, Package: "p", Test: "TestA", Elapsed: 1})
	c.Add(TestEvent{Time: start.Add(2 * time.Second), Action: ActionRun, Package: "p", Test: "TestA"})
	c.Add(TestEvent{Action: ActionOutput, Package: "p", Test: "TestA", Output: "=== RUN   TestA\n"})
	c.Add(TestEvent{Time: start.Add(3 * time.Second), Action: ActionPass, Package: "p", Test: "TestA", Elapsed: 1})
	pkg := c.Add(TestEvent{Time: start.Add(4 * time.Second), Action: ActionFail, Package: "p"})
	require.NotNil(t, pkg)

	require.Len(t, pkg.Tests, 2)
	attempts := pkg.Attempts("TestA")
	require.Len(t, attempts, 2)

	assert.Equal(t, 1, attempts[0].Attempt)
	assert.Equal(t, ActionFail, attempts[0].Action)
	assert.Equal(t, []string{"boom\n"}, attempts[0].Output)
	assert.Equal(t, start, attempts[0].Start)

	assert.Equal(t, 2, attempts[1].Attempt)
	assert.Equal(t, ActionPass, attempts[1].Action)
	assert.Equal(t, []string{"=== RUN   TestA\n"}, attempts[1].Output)
	assert.Equal(t, start.Add(2*time.Second), attempts[1].Start)

	assert.Same(t, attempts[1], pkg.Test("TestA"))
}

func TestCollector_DerivesStartFromElapsed(t *testing.T) {
	c := NewCollector(testlog.Logger(t, log.LevelDebug))
	end := time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC)

	c.Add(TestEvent{Time: end, Action: ActionPass, Package: "p", Test: "TestX", Elapsed: 2.5})
	pkgs := c.Flush()
	require.Len(t, pkgs, 1)
	assert.Equal(t, end.Add(-2500*time.Millisecond), pkgs[0].Test("TestX").Start)
}

func TestCollector_IgnoresEventsWithoutPackage(t *testing.T) {
	c := NewCollector(testlog.Logger(t, log.LevelDebug))
	assert.Nil(t, c.Add(TestEvent{Action: ActionOutput, Output: "stray\n"}))
	assert.Empty(t, c.Flush())
}

func TestTest_Segment(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"TestA", "TestA"},
		{"TestA/sub", "sub"},
		{"TestA/sub/deeper_case", "deeper_case"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, (&Test{Name: tt.name}).Segment())
		})
	}
}

func TestRead(t *testing.T) {
	c := NewCollector(testlog.Logger(t, log.LevelDebug))

	var got []*Package
	err := Read(strings.NewReader(sampleStream), c, func(pkg *Package) error {
		got = append(got, pkg)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "example.com/mod/pkg", got[0].Path)
	assert.Equal(t, ActionPass, got[0].Action)
	assert.Len(t, got[0].Tests, 2)
	assert.Equal(t, []string{"PASS\n"}, got[0].Output)

	assert.Equal(t, "example.com/mod/other", got[1].Path)
	assert.Empty(t, got[1].Action, "unfinished packages are flushed at the end")
	require.Len(t, got[1].Tests, 1)
	assert.False(t, got[1].Tests[0].Finished())
}

func TestRead_StopsOnCallbackError(t *testing.T) {
	c := NewCollector(testlog.Logger(t, log.LevelDebug))
	boom := errors.New("boom")

	calls := 0
	err := Read(strings.NewReader(sampleStream), c, func(*Package) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
