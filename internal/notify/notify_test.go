package notify

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRecorder_ConcurrentNotices(t *testing.T) {
	rec := &Recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := KindNegativeBalance
			if i%2 == 0 {
				kind = KindUnmatchedPayment
			}
			rec.NotifyAdmins(context.Background(), Notice{Kind: kind, EntityID: uuid.New()})
		}(i)
	}
	wg.Wait()

	assert.Len(t, rec.Notices(), 20)
	assert.Equal(t, 10, rec.Count(KindNegativeBalance))
	assert.Equal(t, 10, rec.Count(KindUnmatchedPayment))
}

func TestLogNotifierDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		NewLogNotifier().NotifyAdmins(context.Background(), Notice{Kind: KindLedgerImbalance, Message: "x"})
	})
}
