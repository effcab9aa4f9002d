package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PAWDESK_TEST_MODE") == "" {
			_ = os.Setenv("PAWDESK_TEST_MODE", "1")
		}
	})
}
