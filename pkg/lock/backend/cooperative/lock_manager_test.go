package cooperative_test

import (
	"context"
	"time"

	"github.com/alexandreLamarre/lockstate/pkg/lock"
	"github.com/alexandreLamarre/lockstate/pkg/lock/backend/cooperative"
	"github.com/alexandreLamarre/lockstate/pkg/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"
)

var _ = Describe("Cooperative scheduler", Label("unit"), func() {
	var lm *cooperative.LockManager
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		lm = cooperative.NewLockManager(ctx, logger.NewNop())
		DeferCleanup(lm.Close)
	})

	It("should create registry entries lazily and only once per id", func() {
		Expect(lm.Release(ctx, "x")).To(Succeed())
		n, err := lm.Len(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(0))

		for i := 0; i < 3; i++ {
			Expect(lm.Acquire(ctx, "x")).To(Succeed())
			Expect(lm.Release(ctx, "x")).To(Succeed())
		}
		n, err = lm.Len(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
	})

	It("should grant waiters in the order they suspended", func() {
		Expect(lm.Acquire(ctx, "fifo")).To(Succeed())

		order := make(chan int, 3)
		for i := 0; i < 3; i++ {
			idx := i
			go func() {
				defer GinkgoRecover()
				Expect(lm.Acquire(ctx, "fifo")).To(Succeed())
				order <- idx
				Expect(lm.Release(ctx, "fifo")).To(Succeed())
			}()
			// let the waiter reach the scheduler before the next one
			time.Sleep(20 * time.Millisecond)
		}
		Expect(lm.Release(ctx, "fifo")).To(Succeed())

		for i := 0; i < 3; i++ {
			Eventually(order).Should(Receive(Equal(i)))
		}
	})

	It("should skip a waiter that gave up", func() {
		Expect(lm.Acquire(ctx, "skip")).To(Succeed())

		ctxT, caT := context.WithTimeout(ctx, 30*time.Millisecond)
		defer caT()
		Expect(lm.Acquire(ctxT, "skip")).To(MatchError(context.DeadlineExceeded))

		next := lo.Async(func() error {
			return lm.Acquire(ctx, "skip")
		})
		Consistently(next, 50*time.Millisecond).ShouldNot(Receive())
		Expect(lm.Release(ctx, "skip")).To(Succeed())
		Eventually(next).Should(Receive(BeNil()))
		Expect(lm.Release(ctx, "skip")).To(Succeed())
	})

	When("the scheduler is stopped", func() {
		It("should fail pending and new requests as backend failures", func() {
			Expect(lm.Acquire(ctx, "stop")).To(Succeed())
			pending := lo.Async(func() error {
				return lm.Acquire(ctx, "stop")
			})
			Consistently(pending, 50*time.Millisecond).ShouldNot(Receive())

			lm.Close()
			Eventually(pending).Should(Receive(MatchError(lock.ErrBackendUnavailable)))

			Expect(lm.Acquire(ctx, "other")).To(MatchError(lock.ErrBackendUnavailable))
			Expect(lm.Release(ctx, "stop")).To(MatchError(lock.ErrBackendUnavailable))
			_, err := lm.IsActivelyLocked(ctx, "stop")
			Expect(err).To(MatchError(lock.ErrBackendUnavailable))

			conditions, err := lm.Health(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(conditions).To(ConsistOf("cooperative scheduler stopped"))
		})

		It("should stop when its construction context is cancelled", func() {
			ctxca, ca := context.WithCancel(ctx)
			stopped := cooperative.NewLockManager(ctxca, logger.NewNop())
			ca()
			Eventually(func() error {
				return stopped.Release(ctx, "any")
			}).Should(MatchError(lock.ErrBackendUnavailable))
		})
	})
})
