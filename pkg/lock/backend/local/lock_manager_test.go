package local_test

import (
	"context"
	"sync"
	"time"

	"github.com/alexandreLamarre/lockstate/pkg/lock/backend/local"
	"github.com/alexandreLamarre/lockstate/pkg/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"
)

var _ = Describe("Local registry", Label("unit"), func() {
	var lm *local.LockManager
	var ctx context.Context

	BeforeEach(func() {
		lm = local.NewLockManager(logger.NewNop())
		ctx = context.Background()
	})

	size := func() int {
		n, err := lm.Len(ctx)
		Expect(err).NotTo(HaveOccurred())
		return n
	}

	It("should create registry entries lazily and only once per id", func() {
		Expect(size()).To(Equal(0))
		Expect(lm.Release(ctx, "x")).To(Succeed())
		locked, err := lm.IsActivelyLocked(ctx, "x")
		Expect(err).NotTo(HaveOccurred())
		Expect(locked).To(BeFalse())
		Expect(size()).To(Equal(0))

		for i := 0; i < 3; i++ {
			Expect(lm.Acquire(ctx, "x")).To(Succeed())
			Expect(lm.Release(ctx, "x")).To(Succeed())
		}
		Expect(size()).To(Equal(1))

		Expect(lm.Acquire(ctx, "y")).To(Succeed())
		Expect(size()).To(Equal(2))
	})

	It("should keep entries after release", func() {
		Expect(lm.Acquire(ctx, "kept")).To(Succeed())
		Expect(lm.Release(ctx, "kept")).To(Succeed())
		Expect(size()).To(Equal(1))
	})

	It("should not serialize unrelated ids behind a contested one", func() {
		Expect(lm.Acquire(ctx, "busy")).To(Succeed())
		waiting := lo.Async(func() error {
			return lm.Acquire(ctx, "busy")
		})
		Consistently(waiting, 50*time.Millisecond).ShouldNot(Receive())

		ctxT, caT := context.WithTimeout(ctx, 100*time.Millisecond)
		defer caT()
		Expect(lm.Acquire(ctxT, "free")).To(Succeed())
		Expect(lm.Release(ctx, "free")).To(Succeed())

		Expect(lm.Release(ctx, "busy")).To(Succeed())
		Eventually(waiting).Should(Receive(BeNil()))
		Expect(lm.Release(ctx, "busy")).To(Succeed())
	})

	It("should let exactly one of many contenders in at a time", func() {
		var mu sync.Mutex
		inside, maxInside := 0, 0
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				Expect(lm.Acquire(ctx, "hot")).To(Succeed())
				mu.Lock()
				inside++
				maxInside = max(maxInside, inside)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				Expect(lm.Release(ctx, "hot")).To(Succeed())
			}()
		}
		wg.Wait()
		Expect(maxInside).To(Equal(1))
	})

	It("should report a resource as held while it is handed to a waiter", func() {
		Expect(lm.Acquire(ctx, "handoff")).To(Succeed())
		waiting := lo.Async(func() error {
			return lm.Acquire(ctx, "handoff")
		})
		Consistently(waiting, 50*time.Millisecond).ShouldNot(Receive())

		Expect(lm.Release(ctx, "handoff")).To(Succeed())
		locked, err := lm.IsActivelyLocked(ctx, "handoff")
		Expect(err).NotTo(HaveOccurred())
		Expect(locked).To(BeTrue())

		Eventually(waiting).Should(Receive(BeNil()))
		Expect(lm.Release(ctx, "handoff")).To(Succeed())
		locked, err = lm.IsActivelyLocked(ctx, "handoff")
		Expect(err).NotTo(HaveOccurred())
		Expect(locked).To(BeFalse())
	})

	It("should report itself healthy", func() {
		conditions, err := lm.Health(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(conditions).To(BeEmpty())
	})
})
