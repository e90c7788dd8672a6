package testing

import (
	"os"
	stdtesting "testing"

	"github.com/mehaotian/hshs-server-sub001/internal/testing/guard"
)

func TestMain(m *stdtesting.M) {
	guard.EnsureTestMode()
	os.Exit(m.Run())
}
