package integration

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/alexandreLamarre/lockstate/pkg/lock"
	"github.com/alexandreLamarre/lockstate/pkg/test/conformance/tck"
	"github.com/alexandreLamarre/lockstate/pkg/util/future"
	"github.com/samber/lo"
)

// StateManagerTestSuite checks the locking contract against the state manager held by smF.
// Backends run it unmodified from their own suites.
func StateManagerTestSuite(smF future.Future[lock.StateManager]) func() {
	return func() {
		var sm lock.StateManager
		var factory *lock.Factory
		var ctx context.Context

		BeforeAll(func() {
			ctxca, ca := context.WithCancel(context.Background())
			DeferCleanup(func() {
				ca()
			})
			ctx = ctxca
			sm = smF.Get()
			factory = lock.NewFactory(sm)
		})

		When("multiple workers contend on the same resource", func() {
			It("should serialize them within the expected total runtime", Label("slow"), func() {
				report, err := tck.Check(ctx, sm,
					tck.WithWorkers(5),
					tck.WithHoldDuration(1*time.Second),
					tck.WithLogger(slog.New(slog.NewTextHandler(GinkgoWriter, nil))),
					tck.WithVerbose(true),
				)
				Expect(err).NotTo(HaveOccurred())
				Expect(report.MaxConcurrent).To(BeEquivalentTo(1))
				Expect(report.Elapsed).To(BeNumerically(">=", 5*time.Second))
				Expect(report.Elapsed).To(BeNumerically("<=", 6*time.Second))
			})

			It("should pass the conformance kit with short holds", func() {
				report, err := tck.Check(ctx, sm,
					tck.WithWorkers(10),
					tck.WithHoldDuration(20*time.Millisecond),
					tck.WithResourceID("short"),
				)
				Expect(err).NotTo(HaveOccurred())
				Expect(report.MaxConcurrent).To(BeEquivalentTo(1))
				Expect(report.Elapsed).To(BeNumerically(">=", 200*time.Millisecond))
			})
		})

		When("a single caller acquires and releases", func() {
			It("should report the lock as held only while it is held", func() {
				l := factory.Lock("a")
				Expect(l.Acquire(ctx)).To(Succeed())
				locked, err := l.Locked(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(locked).To(BeTrue())

				Expect(l.Release(ctx)).To(Succeed())
				locked, err = l.Locked(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(locked).To(BeFalse())
			})

			It("should not report a never acquired resource as locked", func() {
				locked, err := sm.IsActivelyLocked(ctx, "never-acquired")
				Expect(err).NotTo(HaveOccurred())
				Expect(locked).To(BeFalse())
			})
		})

		When("distinct resources are acquired concurrently", func() {
			It("should not block either caller on the other", func() {
				var wg sync.WaitGroup
				errs := make([]error, 2)
				for i, id := range []string{"a", "b"} {
					wg.Add(1)
					go func(i int, id string) {
						defer wg.Done()
						defer GinkgoRecover()
						ctxT, caT := context.WithTimeout(ctx, time.Second)
						defer caT()
						errs[i] = factory.Lock(id).Acquire(ctxT)
					}(i, id)
				}
				wg.Wait()
				Expect(errs).To(HaveEach(BeNil()))
				for _, id := range []string{"a", "b"} {
					locked, err := sm.IsActivelyLocked(ctx, id)
					Expect(err).NotTo(HaveOccurred())
					Expect(locked).To(BeTrue())
					Expect(sm.Release(ctx, id)).To(Succeed())
				}
			})
		})

		When("releasing resources that are not held", func() {
			It("should silently ignore an unknown resource", func() {
				Expect(sm.Release(ctx, "c")).To(Succeed())
				locked, err := sm.IsActivelyLocked(ctx, "c")
				Expect(err).NotTo(HaveOccurred())
				Expect(locked).To(BeFalse())
			})

			It("should tolerate a double release", func() {
				l := factory.Lock("double")
				Expect(l.Acquire(ctx)).To(Succeed())
				Expect(l.Release(ctx)).To(Succeed())
				Expect(l.Release(ctx)).To(Succeed())
				Expect(l.Acquire(ctx)).To(Succeed())
				Expect(l.Release(ctx)).To(Succeed())
			})
		})

		When("using handles for the same resource", func() {
			It("should treat them as interchangeable", func() {
				x := factory.Lock("shared")
				y := factory.Lock("shared")
				Expect(x).NotTo(BeIdenticalTo(y))

				Expect(x.Acquire(ctx)).To(Succeed())
				locked, err := y.Locked(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(locked).To(BeTrue())

				Expect(y.Release(ctx)).To(Succeed())
				locked, err = x.Locked(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(locked).To(BeFalse())
			})
		})

		When("a resource is contested", func() {
			It("should hand it to the waiter once released", func() {
				holder := factory.Lock("contested")
				Expect(holder.Acquire(ctx)).To(Succeed())

				acquired := lo.Async(func() error {
					return factory.Lock("contested").Acquire(ctx)
				})
				Consistently(acquired, 100*time.Millisecond).ShouldNot(Receive())

				Expect(holder.Release(ctx)).To(Succeed())
				Eventually(acquired).Should(Receive(BeNil()))
				locked, err := holder.Locked(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(locked).To(BeTrue())
				Expect(holder.Release(ctx)).To(Succeed())
			})

			It("should keep the resource held while it is handed to a waiter", func() {
				holder := factory.Lock("handoff")
				Expect(holder.Acquire(ctx)).To(Succeed())

				acquired := lo.Async(func() error {
					return factory.Lock("handoff").Acquire(ctx)
				})
				Consistently(acquired, 100*time.Millisecond).ShouldNot(Receive())

				Expect(holder.Release(ctx)).To(Succeed())
				locked, err := holder.Locked(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(locked).To(BeTrue())

				Eventually(acquired).Should(Receive(BeNil()))
				Expect(holder.Release(ctx)).To(Succeed())
			})

			It("should let a second release free the hold passed to the waiter", func() {
				holder := factory.Lock("released-twice")
				Expect(holder.Acquire(ctx)).To(Succeed())

				acquired := lo.Async(func() error {
					return factory.Lock("released-twice").Acquire(ctx)
				})
				Consistently(acquired, 100*time.Millisecond).ShouldNot(Receive())

				Expect(holder.Release(ctx)).To(Succeed())
				Expect(holder.Release(ctx)).To(Succeed())
				Eventually(acquired).Should(Receive(BeNil()))

				locked, err := holder.Locked(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(locked).To(BeFalse())
			})

			It("should let a waiter give up without ever holding the resource", func() {
				holder := factory.Lock("abandoned")
				Expect(holder.Acquire(ctx)).To(Succeed())

				ctxT, caT := context.WithTimeout(ctx, 50*time.Millisecond)
				defer caT()
				err := factory.Lock("abandoned").Acquire(ctxT)
				Expect(err).To(MatchError(context.DeadlineExceeded))

				Expect(holder.Release(ctx)).To(Succeed())
				locked, err := holder.Locked(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(locked).To(BeFalse())

				ctxT2, caT2 := context.WithTimeout(ctx, time.Second)
				defer caT2()
				Expect(holder.Acquire(ctxT2)).To(Succeed())
				Expect(holder.Release(ctx)).To(Succeed())
			})
		})

		When("the state manager exposes its registry size", func() {
			It("should keep a single entry per id", func() {
				sizer, ok := sm.(lock.RegistrySizer)
				if !ok {
					Skip("state manager does not expose its registry size")
				}
				before, err := sizer.Len(ctx)
				Expect(err).NotTo(HaveOccurred())
				for i := 0; i < 3; i++ {
					Expect(sm.Acquire(ctx, "sized")).To(Succeed())
					Expect(sm.Release(ctx, "sized")).To(Succeed())
				}
				after, err := sizer.Len(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(after).To(Equal(before + 1))
			})
		})

		When("using scoped acquisition", func() {
			It("should hold the lock for the duration of the scope", func() {
				l := factory.Lock("scoped")
				Expect(l.Do(ctx, func(ctx context.Context) error {
					locked, err := l.Locked(ctx)
					Expect(err).NotTo(HaveOccurred())
					Expect(locked).To(BeTrue())
					return nil
				})).To(Succeed())
				locked, err := l.Locked(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(locked).To(BeFalse())
			})

			It("should release and propagate the error of a failing scope unchanged", func() {
				l := factory.Lock("scoped-error")
				scopeErr := errors.New("scope failed")
				err := l.Do(ctx, func(ctx context.Context) error {
					return scopeErr
				})
				Expect(err).To(BeIdenticalTo(scopeErr))
				locked, err := l.Locked(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(locked).To(BeFalse())
			})

			It("should release when the scope panics", func() {
				l := factory.Lock("scoped-panic")
				Expect(func() {
					_ = l.Do(ctx, func(ctx context.Context) error {
						panic("scope panicked")
					})
				}).To(PanicWith("scope panicked"))
				locked, err := l.Locked(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(locked).To(BeFalse())
			})
		})
	}
}
