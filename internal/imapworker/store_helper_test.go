package imapworker

import (
	"testing"

	"github.com/dusong7/nmail-go/internal/cache"
)

func newTestStore(t *testing.T) (*cache.Store, error) {
	t.Helper()
	return cache.New(t.TempDir(), false, nil)
}
