package reporter

import (
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-allure/types"
)

// selectFailure picks the expectation describing why a test failed. An
// uncaught error wins over assertion failures; otherwise the first one is used.
func selectFailure(expectations []types.FailedExpectation) (types.FailedExpectation, bool) {
	for _, e := range expectations {
		if e.IsThrow() {
			return e, true
		}
	}
	if len(expectations) > 0 {
		return expectations[0], true
	}
	return types.FailedExpectation{}, false
}

// cleanFailure strips terminal colors and drops the message from the head of
// the stack, since viewers render the two side by side.
func cleanFailure(e types.FailedExpectation) (message, trace string) {
	message = stripansi.Strip(e.Message)
	if e.Stack == "" {
		return message, ""
	}
	trace = stripansi.Strip(e.Stack)
	if message != "" {
		trace = strings.TrimPrefix(trace, message)
	}
	return message, trace
}
