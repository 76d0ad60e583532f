package broker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/Travis-z/undermoon/internal/meta"
)

// TransferFunc performs the actual data movement of one migration. It
// must return promptly once ctx is cancelled; checkpoint as often as
// practical. The broker core only tracks bookkeeping, so the default
// implementation simulates a transfer by waiting one checkpoint interval.
type TransferFunc func(ctx context.Context, m meta.Migration) error

// SplitPolicy decides which slot ranges a half-mode migration moves.
// Given the source node's settled ranges it returns the ranges the source
// keeps and the ranges that move to the destination.
type SplitPolicy func(owned []meta.SlotRange) (keep, move []meta.SlotRange)

// MigrationCoordinator drives the lifecycle of slot migrations between
// two nodes of one cluster.
//
// StartMigration performs only the synchronous bookkeeping transaction:
// validate the pair, record the migration (created pending and marked
// running inside the same transaction), tag the moving ranges, pin both
// nodes. The data movement itself runs on a background goroutine that
// reports completion or failure back through its own short transaction,
// so a long transfer never holds the store's serialization point.
//
// Cancellation is cooperative: StopMigration settles the record first and
// then signals the background task, which observes the signal at its next
// checkpoint.
type MigrationCoordinator struct {
	store    *meta.Store
	logger   *zap.Logger
	split    SplitPolicy
	transfer TransferFunc
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc // migration key -> runner cancel
}

// NewMigrationCoordinator creates a coordinator with the midpoint split
// policy and the simulated default transfer.
func NewMigrationCoordinator(store *meta.Store, logger *zap.Logger) *MigrationCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &MigrationCoordinator{
		store:    store,
		logger:   logger,
		split:    MidpointSplit,
		interval: time.Second,
		ctx:      ctx,
		cancel:   cancel,
		running:  make(map[string]context.CancelFunc),
	}
	c.transfer = c.defaultTransfer
	return c
}

// SetSplitPolicy overrides the half-mode split policy. Must be called
// before any migration starts.
func (c *MigrationCoordinator) SetSplitPolicy(policy SplitPolicy) {
	c.split = policy
}

// SetTransferFunc overrides the data-movement implementation. Must be
// called before any migration starts.
func (c *MigrationCoordinator) SetTransferFunc(fn TransferFunc) {
	c.transfer = fn
}

// SetCheckpointInterval sets how long the default transfer waits and how
// often a transfer should observe cancellation. Must be called before any
// migration starts.
func (c *MigrationCoordinator) SetCheckpointInterval(d time.Duration) {
	c.interval = d
}

// StartMigration validates and records a migration from src to dst within
// the named cluster and launches the transfer in the background. The
// returned record is a snapshot taken at start; query the metadata
// snapshot for progress.
//
// Errors:
//   - ErrClusterNotFound if the cluster does not exist
//   - ErrInvalidNodePair if src == dst or either node is not a master
//     member of the cluster
//   - ErrMigrationConflict if src or dst already participates in an
//     active migration
func (c *MigrationCoordinator) StartMigration(cluster, src, dst string, mode meta.MigrationMode) (*meta.Migration, error) {
	if mode != meta.MigrationHalf && mode != meta.MigrationAll {
		return nil, meta.Errf(meta.ErrInvalidArgument, "unknown migration mode %q", mode)
	}

	var started meta.Migration
	err := c.store.Update(func(t *meta.Topology) error {
		if _, ok := t.Clusters[cluster]; !ok {
			return meta.Errf(meta.ErrClusterNotFound, "cluster %s does not exist", cluster)
		}
		if src == dst {
			return meta.Errf(meta.ErrInvalidNodePair, "source and destination are both %s", src)
		}
		for _, addr := range []string{src, dst} {
			n, ok := t.Nodes[addr]
			if !ok || n.ClusterName != cluster {
				return meta.Errf(meta.ErrInvalidNodePair,
					"node %s is not a member of cluster %s", addr, cluster)
			}
			if n.Role != meta.RoleMaster {
				return meta.Errf(meta.ErrInvalidNodePair,
					"node %s is a %s, migrations run between masters", addr, n.Role)
			}
		}
		if m := t.ActiveMigration(cluster, src, dst); m != nil {
			return meta.Errf(meta.ErrMigrationConflict,
				"migration %s -> %s is already %s", m.Src, m.Dst, m.Status)
		}
		if t.NodePinned(src) || t.NodePinned(dst) {
			return meta.Errf(meta.ErrMigrationConflict,
				"node %s or %s already participates in an active migration", src, dst)
		}

		srcNode := t.Nodes[src]
		var keep, move []meta.SlotRange
		if mode == meta.MigrationAll {
			move = slices.Clone(srcNode.Slots)
		} else {
			keep, move = c.split(srcNode.Slots)
		}
		srcNode.Slots = tagRanges(keep, move, dst)

		m := &meta.Migration{
			Cluster: cluster,
			Src:     src,
			Dst:     dst,
			Mode:    mode,
			Status:  meta.MigrationRunning,
			Ranges:  slices.Clone(move),
		}
		t.Migrations[m.Key()] = m
		started = *m
		started.Ranges = slices.Clone(m.Ranges)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.launch(started)
	c.logger.Info("migration started",
		zap.String("cluster", cluster),
		zap.String("src", src),
		zap.String("dst", dst),
		zap.String("mode", string(started.Mode)))
	return &started, nil
}

// StopMigration cancels the active migration for the unordered
// (cluster, src, dst) pair. Slot ownership is left exactly as it stood at
// the cancellation instant; there is no rollback to the pre-migration
// layout. Both nodes are unpinned.
//
// Errors:
//   - ErrMigrationNotFound if no migration is active for the pair
func (c *MigrationCoordinator) StopMigration(cluster, src, dst string) (*meta.Migration, error) {
	var stopped meta.Migration
	err := c.store.Update(func(t *meta.Topology) error {
		m := t.ActiveMigration(cluster, src, dst)
		if m == nil {
			return meta.Errf(meta.ErrMigrationNotFound,
				"no active migration between %s and %s in cluster %s", src, dst, cluster)
		}
		if srcNode := t.Nodes[m.Src]; srcNode != nil {
			untagRanges(srcNode, m.Dst)
		}
		m.Status = meta.MigrationCancelled
		stopped = *m
		stopped.Ranges = slices.Clone(m.Ranges)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if cancelRun, ok := c.running[stopped.Key()]; ok {
		cancelRun()
	}
	c.mu.Unlock()

	c.logger.Info("migration cancelled",
		zap.String("cluster", stopped.Cluster),
		zap.String("src", stopped.Src),
		zap.String("dst", stopped.Dst))
	return &stopped, nil
}

// Resume relaunches background transfers for migrations that were running
// when a persisted snapshot was taken. Call once at startup after the
// store is restored.
func (c *MigrationCoordinator) Resume() {
	var interrupted []meta.Migration
	c.store.View(func(t *meta.Topology) {
		for _, m := range t.Migrations {
			if m.Status == meta.MigrationRunning {
				cp := *m
				cp.Ranges = slices.Clone(m.Ranges)
				interrupted = append(interrupted, cp)
			}
		}
	})
	for _, m := range interrupted {
		c.logger.Info("resuming interrupted migration", zap.String("migration", m.Key()))
		c.launch(m)
	}
}

// Stop cancels every background transfer and waits for the runners to
// drain. Interrupted migrations stay running in the store and are picked
// up by Resume after a restart.
func (c *MigrationCoordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

func (c *MigrationCoordinator) launch(m meta.Migration) {
	runCtx, cancelRun := context.WithCancel(c.ctx)
	c.mu.Lock()
	c.running[m.Key()] = cancelRun
	c.mu.Unlock()
	c.wg.Add(1)
	go c.run(runCtx, m)
}

func (c *MigrationCoordinator) run(ctx context.Context, m meta.Migration) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.running, m.Key())
		c.mu.Unlock()
	}()

	err := c.transfer(ctx, m)
	switch {
	case ctx.Err() != nil:
		// Cancelled: either StopMigration already settled the record or
		// the coordinator is shutting down and Resume will take over.
		return
	case err != nil:
		c.logger.Error("migration transfer failed",
			zap.String("migration", m.Key()), zap.Error(err))
		c.settle(m, meta.MigrationFailed)
	default:
		c.settle(m, meta.MigrationCompleted)
	}
}

// settle commits the terminal state of a finished transfer. Completion
// moves the tagged ranges to the destination; failure leaves them with
// the source. Either way the tags are cleared and both nodes unpin.
func (c *MigrationCoordinator) settle(m meta.Migration, status meta.MigrationStatus) {
	err := c.store.Update(func(t *meta.Topology) error {
		rec, ok := t.Migrations[m.Key()]
		if !ok || rec.Status != meta.MigrationRunning {
			// Raced with StopMigration; the record is already settled.
			return nil
		}
		srcNode := t.Nodes[rec.Src]
		dstNode := t.Nodes[rec.Dst]

		if status == meta.MigrationCompleted && srcNode != nil && dstNode != nil {
			dropTaggedRanges(srcNode, rec.Dst)
			for _, r := range rec.Ranges {
				dstNode.Slots = append(dstNode.Slots, meta.SlotRange{Start: r.Start, End: r.End})
			}
			sortRanges(dstNode.Slots)
			if rec.Mode == meta.MigrationAll {
				c.retireSource(t, rec, srcNode)
			}
		} else if srcNode != nil {
			untagRanges(srcNode, rec.Dst)
		}
		rec.Status = status
		return nil
	})
	if err != nil {
		c.logger.Error("failed to settle migration",
			zap.String("migration", m.Key()), zap.Error(err))
		return
	}
	c.logger.Info("migration settled",
		zap.String("migration", m.Key()), zap.String("status", string(status)))
}

// retireSource removes the drained source from the cluster after an
// all-mode migration. Replicas that mirrored the source follow their data
// and re-point at the destination.
func (c *MigrationCoordinator) retireSource(t *meta.Topology, rec *meta.Migration, srcNode *meta.Node) {
	for _, p := range t.Replications {
		if p.Master == rec.Src {
			p.Master = rec.Dst
		}
	}
	if cl, ok := t.Clusters[rec.Cluster]; ok {
		detachNode(t, cl, srcNode)
	}
}

// MidpointSplit is the default SplitPolicy: it moves the upper half of
// the source's spanned slots, splitting the boundary range at the exact
// midpoint. Deterministic, which keeps the end-to-end tests stable.
func MidpointSplit(owned []meta.SlotRange) (keep, move []meta.SlotRange) {
	total := 0
	for _, r := range owned {
		total += r.Count()
	}
	want := total / 2

	keep = slices.Clone(owned)
	sortRanges(keep)
	for i := len(keep) - 1; i >= 0 && want > 0; i-- {
		r := keep[i]
		if r.Count() <= want {
			move = append(move, r)
			want -= r.Count()
			keep = keep[:i]
			continue
		}
		cut := r.End - want + 1
		move = append(move, meta.SlotRange{Start: cut, End: r.End})
		keep[i].End = cut - 1
		want = 0
	}
	sortRanges(move)
	return keep, move
}

// tagRanges rebuilds a source node's slot list from the kept ranges plus
// the moving ranges tagged with the destination address.
func tagRanges(keep, move []meta.SlotRange, dst string) []meta.SlotRange {
	out := slices.Clone(keep)
	for _, r := range move {
		out = append(out, meta.SlotRange{Start: r.Start, End: r.End, Migrating: dst})
	}
	sortRanges(out)
	return out
}

// untagRanges clears the migrating tag toward dst, leaving ownership with
// the node.
func untagRanges(n *meta.Node, dst string) {
	for i := range n.Slots {
		if n.Slots[i].Migrating == dst {
			n.Slots[i].Migrating = ""
		}
	}
}

// dropTaggedRanges removes the ranges tagged toward dst from the node.
func dropTaggedRanges(n *meta.Node, dst string) {
	kept := n.Slots[:0]
	for _, r := range n.Slots {
		if r.Migrating != dst {
			kept = append(kept, r)
		}
	}
	n.Slots = kept
}

func sortRanges(ranges []meta.SlotRange) {
	slices.SortFunc(ranges, func(a, b meta.SlotRange) int { return a.Start - b.Start })
}

// defaultTransfer stands in for the byte-level data mover, which lives
// outside the broker. It waits one checkpoint interval and succeeds,
// observing cancellation the whole time.
func (c *MigrationCoordinator) defaultTransfer(ctx context.Context, m meta.Migration) error {
	timer := time.NewTimer(c.interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
