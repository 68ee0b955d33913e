// Package exitcodes defines the process exit codes of op-allure.
package exitcodes

// * Success (0): every input was reported and no failure was requested
// * TestFailure (1): --fail-on-test-failure is set and a test failed or broke
// * RuntimeErr (2): the input or the results directory could not be handled
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
