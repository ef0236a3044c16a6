// Package guard switches binaries into test mode when imported by their tests,
// so main() returns before dialing Postgres, Redis or MinIO.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("ODYSSEY_TEST_MODE") == "" {
			_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		}
	})
}
