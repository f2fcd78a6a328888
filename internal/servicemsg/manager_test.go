package servicemsg

import (
	"testing"

	"github.com/minkcore/gdt/internal/pool"
)

func newTestPool(t *testing.T, capacity int) *pool.Pool[ServiceMessage] {
	t.Helper()
	return pool.New("smsg", capacity, func() *ServiceMessage {
		return New(0, 0, false)
	})
}
