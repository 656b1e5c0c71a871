package relay

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("StatusTicker", func() {
	var (
		mockCtrl *gomock.Controller
		sink     *MockSink
		tracker  *ActivityTracker
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		sink = NewMockSink(mockCtrl)
		tracker = NewActivityTracker()
	})

	It("should emit the current snapshot", func() {
		now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		tracker.now = func() time.Time { return now.Add(-3 * time.Second) }
		tracker.SetActiveConnections(2)
		tracker.AddMessages(5)
		tracker.Touch()

		ticker := NewStatusTicker(tracker, sink, time.Second)
		ticker.now = func() time.Time { return now }

		sink.EXPECT().Status(Status{
			ActiveConnections: 2,
			TotalMessages:     5,
			LastMessageAge:    3 * time.Second,
			HasMessages:       true,
		})

		ticker.Emit()
	})

	It("should report immediately and stop with the context", func() {
		ticker := NewStatusTicker(tracker, sink, time.Hour)
		reported := make(chan struct{})

		sink.EXPECT().Status(Status{}).Do(func(Status) { close(reported) })

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			ticker.Run(ctx)
			close(done)
		}()

		Eventually(reported).Should(BeClosed())
		cancel()
		Eventually(done).Should(BeClosed())
	})
})
