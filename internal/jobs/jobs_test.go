package jobs_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mkumbo/billing-gateway/internal/jobs"
)

func TestJobs(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Jobs Suite")
}

var _ = Describe("Dispatcher", func() {
	var dispatcher *jobs.Dispatcher

	newDispatcher := func(queueSize int) *jobs.Dispatcher {
		return jobs.NewDispatcher(jobs.Config{
			MaxWorkers:     2,
			JobQueueSize:   queueSize,
			DefaultRetries: 3,
			DefaultBackoff: time.Millisecond,
		}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}

	AfterEach(func() {
		if dispatcher != nil {
			dispatcher.Shutdown()
			dispatcher = nil
		}
	})

	It("runs a queued job", func() {
		dispatcher = newDispatcher(10)
		done := make(chan struct{})

		err := dispatcher.Enqueue(jobs.Job{
			Name: "control-number-request",
			Run: func(ctx context.Context) error {
				close(done)
				return nil
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Eventually(done, time.Second).Should(BeClosed())
	})

	It("retries until the job succeeds", func() {
		dispatcher = newDispatcher(10)
		var attempts atomic.Int32
		done := make(chan struct{})

		err := dispatcher.Enqueue(jobs.Job{
			Name: "flaky",
			Run: func(ctx context.Context) error {
				if attempts.Add(1) < 3 {
					return errors.New("transient")
				}
				close(done)
				return nil
			},
		})
		Expect(err).NotTo(HaveOccurred())
		Eventually(done, time.Second).Should(BeClosed())
		Expect(attempts.Load()).To(Equal(int32(3)))
	})

	It("invokes the failure callback once the retry budget is spent", func() {
		dispatcher = newDispatcher(10)
		var attempts atomic.Int32
		failed := make(chan error, 1)

		err := dispatcher.Enqueue(jobs.Job{
			Name:        "doomed",
			MaxAttempts: 2,
			Backoff:     time.Millisecond,
			Run: func(ctx context.Context) error {
				attempts.Add(1)
				return errors.New("gateway unreachable")
			},
			OnFailure: func(ctx context.Context, err error) {
				failed <- err
			},
		})
		Expect(err).NotTo(HaveOccurred())

		var lastErr error
		Eventually(failed, time.Second).Should(Receive(&lastErr))
		Expect(lastErr.Error()).To(ContainSubstring("gateway unreachable"))
		Expect(attempts.Load()).To(Equal(int32(2)))
	})

	It("rejects work when the queue is full", func() {
		dispatcher = newDispatcher(1)
		block := make(chan struct{})
		defer close(block)

		// Saturate both workers and the queue slot.
		waiting := func(ctx context.Context) error { <-block; return nil }
		for i := 0; i < 3; i++ {
			_ = dispatcher.Enqueue(jobs.Job{Name: "blocker", Run: waiting})
		}

		Eventually(func() error {
			return dispatcher.Enqueue(jobs.Job{Name: "overflow", Run: waiting})
		}, time.Second).Should(MatchError(jobs.ErrQueueFull))
	})
})
