package memory

import (
	"testing"

	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/cache/cachetest"
)

func TestStoreConformance(t *testing.T) {
	cachetest.Run(t, func(t *testing.T) cache.Store {
		return New()
	})
}
