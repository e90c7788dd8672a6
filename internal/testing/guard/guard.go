package guard

import (
	"os"
	"sync"
)

var once sync.Once

// EnsureTestMode marks the process as a test run so entrypoints refuse to
// start real servers or workers.
func EnsureTestMode() {
	once.Do(func() {
		if os.Getenv("HSHS_TEST_MODE") == "" {
			_ = os.Setenv("HSHS_TEST_MODE", "1")
		}
	})
}

func init() {
	EnsureTestMode()
}
