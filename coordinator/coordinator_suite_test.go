package coordinator

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
)

func TestCoordinator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Coordinator Suite")
}

var _ = Describe("Coordinator lease lifecycle", func() {
	var (
		ctx   context.Context
		store *BuntdbStore
		c     *Coordinator
		clock time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		store, err = OpenBuntdbStore(":memory:")
		Expect(err).NotTo(HaveOccurred())

		c, err = New(store, time.Second)
		Expect(err).NotTo(HaveOccurred())
		clock = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return clock }
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	Describe("acquire, renew, checkpoint, complete", func() {
		BeforeEach(func() {
			_, err := store.CreateIfAbsent(ctx, "shard-0", Body{State: Unassigned, Cursor: -1})
			Expect(err).NotTo(HaveOccurred())
		})

		It("grants exactly one lease for a single unassigned item", func() {
			lease, err := c.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(lease.Owner).To(Equal(c.WorkerID))

			_, err = c.Acquire(ctx)
			Expect(err).To(Equal(ErrNoWorkReadyNow))
		})

		It("advances the cursor monotonically and rejects a non-advancing checkpoint", func() {
			lease, err := c.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.PublishCheckpoint(ctx, lease, 5)).To(Succeed())
			Expect(lease.Cursor).To(Equal(int64(5)))

			err = c.PublishCheckpoint(ctx, lease, 5)
			Expect(err).To(HaveOccurred())
			Expect(cmn.IsKind(err, cmn.KindInvalidParameter)).To(BeTrue())
		})

		It("lets a second worker reclaim the item once the lease expires", func() {
			first, err := c.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())

			clock = clock.Add(2 * time.Hour)

			other, err := New(store, time.Second)
			Expect(err).NotTo(HaveOccurred())
			other.now = func() time.Time { return clock }

			second, err := other.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
			Expect(second.Owner).NotTo(Equal(first.Owner))

			err = c.Renew(ctx, first, 1)
			Expect(err).To(HaveOccurred())
		})

		It("completes an item and creates its successors idempotently", func() {
			lease, err := c.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())

			err = c.CompleteWithSuccessors(ctx, lease, []string{"shard-0a", "shard-0b"}, 0)
			Expect(err).NotTo(HaveOccurred())

			body, _, err := store.Read(ctx, "shard-0")
			Expect(err).NotTo(HaveOccurred())
			Expect(body.State).To(Equal(Completed))

			for _, id := range []string{"shard-0a", "shard-0b"} {
				b, _, err := store.Read(ctx, id)
				Expect(err).NotTo(HaveOccurred())
				Expect(b.State).To(Equal(Unassigned))
			}

			// Successor creation is idempotent: recreating one is a no-op.
			created, err := store.CreateIfAbsent(ctx, "shard-0a", Body{State: Unassigned, Cursor: -1})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
		})
	})

	It("reports NoMoreWork once every item is completed", func() {
		_, err := store.CreateIfAbsent(ctx, "shard-1", Body{State: Completed, Cursor: -1})
		Expect(err).NotTo(HaveOccurred())

		_, err = c.Acquire(ctx)
		Expect(err).To(Equal(ErrNoMoreWork))
	})
})
