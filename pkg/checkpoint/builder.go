package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/envelope"
	"github.com/bytecodealliance/registry-sub001/pkg/merklelog"
	"github.com/bytecodealliance/registry-sub001/pkg/persistence"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
	"github.com/bytecodealliance/registry-sub001/pkg/sparsemap"
	"github.com/bytecodealliance/registry-sub001/pkg/telemetry"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
)

// Leaf is one accepted record handed from the coordinator to the
// checkpoint builder: which log it was appended to, and the record's
// own id (§4.5's "accepted leaves").
type Leaf struct {
	LogID    digest.Digest
	RecordID digest.Digest
}

// Signed is a freshly emitted checkpoint, delivered to whatever reads
// Builder.Checkpoints() (the coordinator, to refresh its cached
// latest_checkpoint).
type Signed struct {
	Checkpoint TimestampedCheckpoint
	Envelope   envelope.Envelope
	// MapState is the verifiable map exactly as it stood when this
	// checkpoint was cut, retained (cheaply, thanks to sparsemap's
	// structural sharing) so prove_map_inclusion can serve proofs
	// against any past checkpoint, not just the current tip.
	MapState *sparsemap.Map
}

type submission struct {
	leaf Leaf
	resp chan uint64
}

type snapshotReq struct {
	resp chan snapshot
}

type snapshot struct {
	logLength uint64
	mapState  *sparsemap.Map
	leaves    []Leaf
}

// Config tunes the builder's channel capacity and tick interval (spec
// §4.5/§5), read from pkg/config at startup.
type Config struct {
	Interval        time.Duration
	ChannelCapacity int
}

// Builder runs the log-appender, map-updater, and checkpoint-signer
// tasks of §5's pipeline. The fourth task, coordinator, is C9
// (pkg/coordinator); it talks to Builder through Submit and
// Checkpoints rather than sharing the pipeline's internal channels.
type Builder struct {
	cfg     Config
	signer  wargcrypto.Signer
	store   persistence.Store
	metrics *telemetry.Metrics
	tree    *merklelog.Tree

	submitCh      chan submission
	logToMap      chan loggedLeaf
	snapshotReqCh chan snapshotReq
	checkpoints   chan Signed

	cancel context.CancelFunc
	done   chan struct{}
}

type loggedLeaf struct {
	leaf   Leaf
	index  uint64
	length uint64
}

// NewBuilder constructs a Builder over an empty log and map. Callers
// resuming from persisted state should call Restore before Start.
func NewBuilder(cfg Config, signer wargcrypto.Signer, store persistence.Store, metrics *telemetry.Metrics) *Builder {
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 1
	}
	return &Builder{
		cfg:           cfg,
		signer:        signer,
		store:         store,
		metrics:       metrics,
		tree:          merklelog.New(),
		submitCh:      make(chan submission, cfg.ChannelCapacity),
		logToMap:      make(chan loggedLeaf, cfg.ChannelCapacity),
		snapshotReqCh: make(chan snapshotReq),
		checkpoints:   make(chan Signed, 1),
	}
}

// Restore replays already-committed leaves into the log in
// registry_log_index order, without re-signing anything (§4.6's
// startup replay). It does not touch the map; the matching map is
// passed to Start as initialMap. It must be called before Start, and
// is not safe for concurrent use with Submit.
func (b *Builder) Restore(leaves []Leaf) {
	for _, l := range leaves {
		b.tree.Append(record.LogLeaf{LogID: l.LogID, RecordID: l.RecordID})
	}
}

// Tree exposes the underlying verifiable log for C9's
// prove_log_inclusion/prove_log_consistency.
func (b *Builder) Tree() *merklelog.Tree {
	return b.tree
}

// Start launches the log-appender, map-updater, and checkpoint-signer
// goroutines. initialMap should reflect the same leaves passed to
// Restore (an empty *sparsemap.Map if none). Cancelling ctx stops all
// three tasks after draining whatever is already in flight.
func (b *Builder) Start(ctx context.Context, initialMap *sparsemap.Map) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	mapDone := make(chan struct{})
	go b.runLogAppender(ctx)
	go b.runMapUpdater(ctx, initialMap, mapDone)
	go b.runCheckpointSigner(ctx, mapDone)
}

// Stop requests cancellation and waits for the map-updater and
// checkpoint-signer tasks to exit; it does not wait for the
// log-appender task.
func (b *Builder) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.done != nil {
		<-b.done
	}
}

// Submit hands one accepted leaf to the log-appender stage and blocks
// until it has been durably appended to the log, returning the index
// (registry_log_index) it was assigned. Submission order across calls
// is preserved end to end (§4.5 ordering guarantee (a)/(b)).
func (b *Builder) Submit(ctx context.Context, leaf Leaf) (uint64, error) {
	resp := make(chan uint64, 1)
	select {
	case b.submitCh <- submission{leaf: leaf, resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case idx := <-resp:
		return idx, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Checkpoints returns the channel the checkpoint-signer stage
// publishes newly signed checkpoints on.
func (b *Builder) Checkpoints() <-chan Signed {
	return b.checkpoints
}

// runLogAppender is the log-appender task: it owns appends to the
// verifiable log, the only mutation merklelog.Tree doesn't serialize
// internally on its own (append order must match submission order).
func (b *Builder) runLogAppender(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Drain whatever is already queued before exiting (spec
			// §5's cancellation-drains-input rule): a submitter
			// blocked in Submit must not be left hanging forever.
			b.drainSubmissions()
			return
		case sub := <-b.submitCh:
			idx := b.tree.Append(record.LogLeaf{LogID: sub.leaf.LogID, RecordID: sub.leaf.RecordID})
			sub.resp <- idx
			select {
			case b.logToMap <- loggedLeaf{leaf: sub.leaf, index: idx, length: idx + 1}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Builder) drainSubmissions() {
	for {
		select {
		case sub := <-b.submitCh:
			idx := b.tree.Append(record.LogLeaf{LogID: sub.leaf.LogID, RecordID: sub.leaf.RecordID})
			sub.resp <- idx
		default:
			return
		}
	}
}

// runMapUpdater is the map-updater task: for every appended leaf it
// replaces that log's mapping in the verifiable map and buffers the
// leaf (§4.5 (ii)/(iii)), and answers the checkpoint-signer's
// periodic snapshot requests.
func (b *Builder) runMapUpdater(ctx context.Context, m *sparsemap.Map, done chan<- struct{}) {
	defer close(done)
	if m == nil {
		m = sparsemap.New()
	}
	var buffered []Leaf
	var length uint64

	apply := func(ll loggedLeaf) {
		m = m.Insert(ll.leaf.LogID, record.MapLeaf{RecordID: ll.leaf.RecordID})
		buffered = append(buffered, ll.leaf)
		length = ll.length
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ll := <-b.logToMap:
					apply(ll)
				default:
					return
				}
			}
		case ll := <-b.logToMap:
			apply(ll)
		case req := <-b.snapshotReqCh:
			leaves := buffered
			buffered = nil
			req.resp <- snapshot{logLength: length, mapState: m, leaves: leaves}
		}
	}
}

// runCheckpointSigner is the checkpoint-signer task: on each tick it
// asks the map-updater for a snapshot, and if any leaves were added
// since the last tick, signs and persists a new checkpoint (spec
// §4.5: "If no leaves have been added since the last tick, the tick
// is a no-op").
func (b *Builder) runCheckpointSigner(ctx context.Context, mapDone <-chan struct{}) {
	defer close(b.done)
	interval := b.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-mapDone
			return
		case <-ticker.C:
			if err := b.tick(ctx); err != nil {
				continue
			}
		}
	}
}

func (b *Builder) tick(ctx context.Context) error {
	req := snapshotReq{resp: make(chan snapshot, 1)}
	select {
	case b.snapshotReqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	var snap snapshot
	select {
	case snap = <-req.resp:
	case <-ctx.Done():
		return ctx.Err()
	}
	if len(snap.leaves) == 0 {
		return nil
	}

	logRoot, err := b.tree.RootAt(snap.logLength)
	if err != nil {
		return fmt.Errorf("checkpoint: root at %d: %w", snap.logLength, err)
	}
	tcp := TimestampedCheckpoint{
		Checkpoint: Checkpoint{LogRoot: logRoot, LogLength: snap.logLength, MapRoot: snap.mapState.Root()},
		Timestamp:  time.Now().UTC(),
	}
	signed, err := Seal(tcp, b.signer)
	if err != nil {
		return fmt.Errorf("checkpoint: seal: %w", err)
	}
	if err := b.store.StoreCheckpoint(ctx, ID(signed), signed); err != nil {
		return fmt.Errorf("checkpoint: store: %w", err)
	}
	if b.metrics != nil {
		b.metrics.RecordCheckpoint(ctx, snap.logLength, int64(len(snap.leaves)))
	}

	out := Signed{Checkpoint: tcp, Envelope: signed, MapState: snap.mapState}
	select {
	case b.checkpoints <- out:
	case <-ctx.Done():
	default:
		// Coordinator hasn't drained the previous checkpoint yet, so
		// drop the notification rather than block the signer. The
		// checkpoint is already durable via store.StoreCheckpoint,
		// and GetLatestCheckpoint always returns this one.
		select {
		case <-b.checkpoints:
			b.checkpoints <- out
		default:
		}
	}
	return nil
}
