package coordinator

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/teris-io/shortid"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
	"github.com/opensearch-project/reindex-from-snapshot/cmn/debug"
	"github.com/opensearch-project/reindex-from-snapshot/stats"
)

// acquireQueryLimit bounds how many candidate ids a single acquisition
// attempt considers before giving up and reporting NoWorkReadyNow, so one
// worker never scans the entire work-item space on every poll.
const acquireQueryLimit = 32

// maxAttemptExponent caps the exponential lease-growth of §4.3's backoff:
// base_lease * 2^attemptCounter never exceeds base_lease * 2^maxAttemptExponent.
const maxAttemptExponent = 10

// ErrNoWorkReadyNow and ErrNoMoreWork are the two empty-candidate outcomes
// of the acquisition protocol (§4.3 step 3/4).
var (
	ErrNoWorkReadyNow = cmn.NewError(cmn.KindOperationFailed, "no work item ready for acquisition right now")
	ErrNoMoreWork     = cmn.NewError(cmn.KindOperationFailed, "all work items completed")
)

// Coordinator drives the acquisition/renewal/completion protocol of §4.3
// against a Store. One Coordinator instance is shared across all items a
// worker process handles; WorkerID identifies it in every owned lease.
type Coordinator struct {
	Store     Store
	WorkerID  string
	BaseLease time.Duration
	now       func() time.Time

	// Stats, when non-nil, receives lease renewal/expiry counters.
	Stats *stats.Registry
}

// New builds a Coordinator with a freshly minted worker identity (per
// spec §6's opaque worker id), using shortid the way the teacher mints
// short, collision-resistant identifiers for ephemeral runtime objects.
func New(store Store, baseLease time.Duration) (*Coordinator, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, cmn.WrapError(cmn.KindOperationFailed, err, "generate worker id")
	}
	return &Coordinator{Store: store, WorkerID: id, BaseLease: baseLease, now: time.Now}, nil
}

// Lease represents one worker's ownership of one work item, returned by
// Acquire and threaded through Renew/Complete/CompleteWithSuccessors.
type Lease struct {
	ID        string
	Owner     string
	Version   int64
	ExpiresAt time.Time
	Cursor    int64
}

func leaseDuration(base time.Duration, attemptCounter int) time.Duration {
	exp := attemptCounter
	if exp > maxAttemptExponent {
		exp = maxAttemptExponent
	}
	return base << uint(exp)
}

// Acquire implements §4.3's acquisition protocol: scan candidates eligible
// for claim (UNASSIGNED, or LEASED with an expired lease), CAS-claim the
// first one that succeeds, and retry the next candidate on CAS failure.
func (c *Coordinator) Acquire(ctx context.Context) (*Lease, error) {
	now := c.now()
	ids, err := c.Store.QueryUnassigned(ctx, now, acquireQueryLimit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		storeStats, err := c.Store.Stats(ctx)
		if err != nil {
			return nil, err
		}
		if storeStats.Total > 0 && storeStats.Completed == storeStats.Total {
			return nil, ErrNoMoreWork
		}
		return nil, ErrNoWorkReadyNow
	}

	for _, id := range ids {
		body, version, err := c.Store.Read(ctx, id)
		if err != nil {
			glog.Warningf("coordinator: read %s failed during acquisition: %v", id, err)
			continue
		}
		if body.State == Completed {
			continue
		}
		newBody := body
		newBody.State = Leased
		newBody.Owner = c.WorkerID
		newBody.LeaseExpiry = now.Add(leaseDuration(c.BaseLease, body.AttemptCounter))
		newBody.AttemptCounter = body.AttemptCounter + 1

		ok, err := c.Store.CASUpdate(ctx, id, version, newBody)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // lost the race to another worker, try the next candidate
		}
		return &Lease{
			ID:        id,
			Owner:     c.WorkerID,
			Version:   version + 1,
			ExpiresAt: newBody.LeaseExpiry,
			Cursor:    body.Cursor,
		}, nil
	}
	return nil, ErrNoWorkReadyNow
}

// Renew extends l's lease. On CAS failure the lease is lost: the caller
// must cease all side effects on the target and abort its work without
// publishing further progress, per §4.3's lease-semantics contract.
func (c *Coordinator) Renew(ctx context.Context, l *Lease, attemptCounter int) error {
	debug.Assert(l.Owner == c.WorkerID, "Renew called with a lease owned by ", l.Owner, " not this coordinator ", c.WorkerID)
	body, version, err := c.Store.Read(ctx, l.ID)
	if err != nil {
		return err
	}
	if body.State != Leased || body.Owner != l.Owner {
		if c.Stats != nil {
			c.Stats.LeaseExpired.Inc()
		}
		return cmn.NewError(cmn.KindLeaseHeldElsewhere, "lease on %s lost: held by %q, not %q", l.ID, body.Owner, l.Owner)
	}
	newBody := body
	newBody.LeaseExpiry = c.now().Add(leaseDuration(c.BaseLease, attemptCounter))
	ok, err := c.Store.CASUpdate(ctx, l.ID, version, newBody)
	if err != nil {
		return err
	}
	if !ok {
		if c.Stats != nil {
			c.Stats.LeaseExpired.Inc()
		}
		return cmn.NewError(cmn.KindLeaseHeldElsewhere, "lease renewal CAS lost race on %s", l.ID)
	}
	l.Version = version + 1
	l.ExpiresAt = newBody.LeaseExpiry
	if c.Stats != nil {
		c.Stats.LeaseRenewals.Inc()
	}
	return nil
}

// PublishCheckpoint CAS-updates l's progress cursor to segmentOrdinal,
// requiring the caller still hold the lease. Checkpoint writes are
// strictly monotonic per item: a segmentOrdinal at or behind the current
// cursor is a caller bug, not a store error.
func (c *Coordinator) PublishCheckpoint(ctx context.Context, l *Lease, segmentOrdinal int64) error {
	debug.Assert(l.Owner == c.WorkerID, "PublishCheckpoint called with a lease owned by ", l.Owner, " not this coordinator ", c.WorkerID)
	body, version, err := c.Store.Read(ctx, l.ID)
	if err != nil {
		return err
	}
	if body.State != Leased || body.Owner != l.Owner {
		return cmn.NewError(cmn.KindLeaseHeldElsewhere, "lease on %s lost before checkpoint publish", l.ID)
	}
	if segmentOrdinal <= body.Cursor {
		return cmn.NewError(cmn.KindInvalidParameter, "checkpoint %d not monotonic after %d on %s", segmentOrdinal, body.Cursor, l.ID)
	}
	newBody := body
	newBody.Cursor = segmentOrdinal
	ok, err := c.Store.CASUpdate(ctx, l.ID, version, newBody)
	if err != nil {
		return err
	}
	if !ok {
		return cmn.NewError(cmn.KindLeaseHeldElsewhere, "checkpoint publish CAS lost race on %s", l.ID)
	}
	l.Version = version + 1
	l.Cursor = segmentOrdinal
	return nil
}

// Complete marks l's item COMPLETED, requiring the caller still hold the
// lease (§4.3's complete(id) contract).
func (c *Coordinator) Complete(ctx context.Context, l *Lease) error {
	debug.Assert(l.Owner == c.WorkerID, "Complete called with a lease owned by ", l.Owner, " not this coordinator ", c.WorkerID)
	body, version, err := c.Store.Read(ctx, l.ID)
	if err != nil {
		return err
	}
	if body.State != Leased || body.Owner != l.Owner {
		return cmn.NewError(cmn.KindLeaseHeldElsewhere, "lease on %s lost before completion", l.ID)
	}
	newBody := body
	newBody.State = Completed
	ok, err := c.Store.CASUpdate(ctx, l.ID, version, newBody)
	if err != nil {
		return err
	}
	if !ok {
		return cmn.NewError(cmn.KindLeaseHeldElsewhere, "completion CAS lost race on %s", l.ID)
	}
	return nil
}

// CompleteWithSuccessors completes l's item and then creates each
// successor in UNASSIGNED with the given starting acquisition exponent.
// The two steps are separate store operations, not one atomic update: if
// a successor creation fails, l's item stays COMPLETED and the successors
// after it are not created. Successor creation is idempotent: one that
// already exists is a no-op.
func (c *Coordinator) CompleteWithSuccessors(ctx context.Context, l *Lease, successorIDs []string, successorAttemptExponent int) error {
	if err := c.Complete(ctx, l); err != nil {
		return err
	}
	for _, sid := range successorIDs {
		created, err := c.Store.CreateIfAbsent(ctx, sid, Body{
			State:          Unassigned,
			AttemptCounter: successorAttemptExponent,
			Cursor:         -1,
		})
		if err != nil {
			return cmn.WrapError(cmn.KindOperationFailed, err, "create successor %s", sid)
		}
		if !created {
			glog.V(4).Infof("coordinator: successor %s already existed, treating as idempotent no-op", sid)
		}
	}
	return nil
}
