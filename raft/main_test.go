package raft

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies every goroutine this package's tests spawn (one
// per Node.Run, one per timer) is gone once the package's tests
// finish, the way jmsadair's Raft implementation guards its own
// concurrency-heavy test suite.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
