package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("VELO_TEST_MODE") == "" {
			_ = os.Setenv("VELO_TEST_MODE", "1")
		}
	})
}
