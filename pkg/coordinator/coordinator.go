// Package coordinator implements C9: the single entry point every
// client and mirror talks to (§4.6). It owns per-log validator
// state, serializes submissions into the verifiable log and map via
// the checkpoint builder (pkg/checkpoint), and answers proof and status
// queries by reading C6/C7 directly.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bytecodealliance/registry-sub001/pkg/checkpoint"
	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/envelope"
	"github.com/bytecodealliance/registry-sub001/pkg/operatorlog"
	"github.com/bytecodealliance/registry-sub001/pkg/packagelog"
	"github.com/bytecodealliance/registry-sub001/pkg/persistence"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
	"github.com/bytecodealliance/registry-sub001/pkg/sparsemap"
	"github.com/bytecodealliance/registry-sub001/pkg/telemetry"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// Outcome is what submit_operator/submit_package report back.
type Outcome string

const (
	Accepted        Outcome = "accepted"
	Rejected        Outcome = "rejected"
	AwaitingContent Outcome = "awaiting_content"
)

// SubmitResult is the result of one submission (§4.6).
type SubmitResult struct {
	Outcome  Outcome
	RecordID digest.Digest
	Reason   string
	Missing  []digest.Digest
}

// VerifyOutcome is verify_signed_checkpoint's result (§4.6).
type VerifyOutcome string

const (
	Verified                     VerifyOutcome = "verified"
	Invalid                      VerifyOutcome = "invalid"
	Unauthorized                 VerifyOutcome = "unauthorized"
	UnverifiedButKnownLength     VerifyOutcome = "unverified_but_known_length"
)

// packageEntry is the per-package-log bookkeeping the coordinator keeps:
// the log's id and its current validator state. Content digests still
// outstanding for an awaiting record are tracked by the persistence
// collaborator, not here.
type packageEntry struct {
	logID digest.Digest
	state packagelog.State
}

// Coordinator is C9. Zero value is not usable; construct with New.
type Coordinator struct {
	store   persistence.Store
	builder *checkpoint.Builder
	metrics *telemetry.Metrics
	signer  wargcrypto.Signer
	log     *slog.Logger

	// submitMu serializes submit_operator/submit_package across logs,
	// matching §5's "between logs, the coordinator imposes a
	// single-threaded serialization". Validator states are read and
	// written only while held.
	submitMu      sync.Mutex
	operatorLogID digest.Digest
	operatorState operatorlog.State
	packages      map[string]*packageEntry // keyed by logID.String()

	latestMu    sync.RWMutex
	latest      checkpoint.TimestampedCheckpoint
	latestEnv   envelope.Envelope
	mapHistory  map[uint64]*sparsemap.Map // checkpoint length -> map as of that checkpoint
}

// Config bundles the checkpoint builder's tuning knobs (§4.5/§5),
// sourced from pkg/config at process startup.
type Config struct {
	Checkpoint checkpoint.Config
}

// New constructs a Coordinator. It does not start the checkpoint
// pipeline or perform startup initialization; call Start for that.
func New(cfg Config, signer wargcrypto.Signer, store persistence.Store, metrics *telemetry.Metrics) *Coordinator {
	return &Coordinator{
		store:         store,
		builder:       checkpoint.NewBuilder(cfg.Checkpoint, signer, store, metrics),
		metrics:       metrics,
		signer:        signer,
		log:           slog.Default().With("component", "coordinator"),
		operatorLogID: record.OperatorLogID(),
		operatorState: operatorlog.NewState(),
		packages:      map[string]*packageEntry{},
		mapHistory:    map[uint64]*sparsemap.Map{},
	}
}

// Start performs §4.6's initialization (synthetic Init on an empty
// registry, or full replay otherwise), then launches the checkpoint
// pipeline and a goroutine that keeps the cached latest checkpoint
// fresh. ctx governs the pipeline's lifetime; call Stop to shut down.
func (c *Coordinator) Start(ctx context.Context) error {
	replayed, err := c.store.GetAllValidatedRecords(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: %w: replay records: %v", wargerr.Fatal, err)
	}
	checkpoints, err := c.store.GetAllCheckpoints(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: %w: replay checkpoints: %v", wargerr.Fatal, err)
	}

	if len(replayed) == 0 && len(checkpoints) == 0 {
		if err := c.bootstrap(ctx); err != nil {
			return err
		}
	} else {
		if err := c.replay(ctx, replayed, checkpoints); err != nil {
			return err
		}
	}

	c.builder.Start(ctx, c.currentMap())
	go c.pumpCheckpoints(ctx)
	return nil
}

// currentMap is only meaningful immediately after replay/bootstrap,
// before Start hands control of map mutation to the builder's
// map-updater task; it is reconstructed here from the same replayed
// leaves rather than kept around, since the builder owns the live copy
// from this point on.
func (c *Coordinator) currentMap() *sparsemap.Map {
	m := sparsemap.New()
	for logIDStr, pe := range c.packages {
		if pe.state.Head == nil {
			continue
		}
		logID, _ := digest.Parse(logIDStr)
		m = m.Insert(logID, record.MapLeaf{RecordID: pe.state.Head.RecordID})
	}
	if c.operatorState.Head != nil {
		m = m.Insert(c.operatorLogID, record.MapLeaf{RecordID: c.operatorState.Head.RecordID})
	}
	return m
}

// bootstrap constructs the synthetic operator Init record (§4.6)
// when no persisted state exists at all.
func (c *Coordinator) bootstrap(ctx context.Context) error {
	rec := record.Record{
		Version:   record.CurrentProtocolVersion,
		Timestamp: time.Now().UTC(),
		Entries:   []record.Entry{record.NewInitEntry(digest.Sha256, c.signer.Public())},
	}
	env, err := envelope.Seal(record.KindOperator, rec, c.signer)
	if err != nil {
		return fmt.Errorf("coordinator: %w: seal synthetic init: %v", wargerr.Fatal, err)
	}
	next, err := operatorlog.Apply(c.operatorState, env)
	if err != nil {
		return fmt.Errorf("coordinator: %w: synthetic init rejected: %v", wargerr.Fatal, err)
	}
	recordID := env.RecordID()
	if err := c.store.StoreOperatorRecord(ctx, c.operatorLogID, recordID, env); err != nil {
		return fmt.Errorf("coordinator: %w: store synthetic init: %v", wargerr.Fatal, err)
	}

	// The builder isn't running yet; append directly so the very first
	// checkpoint (length 1) is available the moment Start returns.
	idx := c.builder.Tree().Append(record.LogLeaf{LogID: c.operatorLogID, RecordID: recordID})
	if err := c.store.CommitOperatorRecord(ctx, c.operatorLogID, recordID, idx); err != nil {
		return fmt.Errorf("coordinator: %w: commit synthetic init: %v", wargerr.Fatal, err)
	}
	c.operatorState = next

	logRoot, err := c.builder.Tree().RootAt(1)
	if err != nil {
		return fmt.Errorf("coordinator: %w: %v", wargerr.Fatal, err)
	}
	m := sparsemap.New().Insert(c.operatorLogID, record.MapLeaf{RecordID: recordID})
	tcp := checkpoint.TimestampedCheckpoint{
		Checkpoint: checkpoint.Checkpoint{LogRoot: logRoot, LogLength: 1, MapRoot: m.Root()},
		Timestamp:  time.Now().UTC(),
	}
	signed, err := checkpoint.Seal(tcp, c.signer)
	if err != nil {
		return fmt.Errorf("coordinator: %w: seal first checkpoint: %v", wargerr.Fatal, err)
	}
	if err := c.store.StoreCheckpoint(ctx, checkpoint.ID(signed), signed); err != nil {
		return fmt.Errorf("coordinator: %w: store first checkpoint: %v", wargerr.Fatal, err)
	}
	c.setLatest(tcp, signed, m)
	c.log.Info("bootstrapped empty registry", "log_length", 1)
	return nil
}

// replay re-derives validator state and the log/map by feeding every
// persisted record back through the validators in registry_log_index
// order (§4.6), without re-signing the final checkpoint.
func (c *Coordinator) replay(ctx context.Context, records []persistence.ReplayRecord, checkpoints []persistence.StoredCheckpoint) error {
	for _, rr := range records {
		env := rr.Record.Envelope
		if rr.IsOperatorLog {
			next, err := operatorlog.Apply(c.operatorState, env)
			if err != nil {
				return fmt.Errorf("coordinator: %w: replay operator record: %v", wargerr.Fatal, err)
			}
			c.operatorState = next
		} else {
			pe := c.packageEntryFor(rr.LogID)
			next, err := packagelog.Apply(pe.state, env)
			if err != nil {
				return fmt.Errorf("coordinator: %w: replay package record: %v", wargerr.Fatal, err)
			}
			pe.state = next
		}
		if rr.Record.Status == persistence.StatusPublished {
			c.builder.Tree().Append(record.LogLeaf{LogID: rr.LogID, RecordID: rr.Record.RecordID})
		}
	}

	if len(checkpoints) > 0 {
		latestEnv := checkpoints[len(checkpoints)-1].Envelope
		tcp, err := checkpoint.Decode(latestEnv)
		if err != nil {
			return fmt.Errorf("coordinator: %w: decode latest checkpoint: %v", wargerr.Fatal, err)
		}
		// The exact map snapshot as of this persisted checkpoint isn't
		// reconstructed here (only the tip, by currentMap); prove_map_
		// inclusion against it becomes servable again once the next
		// tick republishes a checkpoint at or past this length.
		c.setLatest(tcp, latestEnv, nil)
	}
	c.log.Info("replayed persisted state", "records", len(records), "checkpoints", len(checkpoints))
	return nil
}

func (c *Coordinator) packageEntryFor(logID digest.Digest) *packageEntry {
	key := logID.String()
	pe, ok := c.packages[key]
	if !ok {
		pe = &packageEntry{logID: logID, state: packagelog.NewState()}
		c.packages[key] = pe
	}
	return pe
}

// pumpCheckpoints keeps the cached latest checkpoint fresh as the
// checkpoint-signer stage emits new ones.
func (c *Coordinator) pumpCheckpoints(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case signed, ok := <-c.builder.Checkpoints():
			if !ok {
				return
			}
			c.setLatest(signed.Checkpoint, signed.Envelope, signed.MapState)
			c.log.Info("checkpoint emitted", "log_length", signed.Checkpoint.LogLength)
		}
	}
}

func (c *Coordinator) setLatest(tcp checkpoint.TimestampedCheckpoint, env envelope.Envelope, mapState *sparsemap.Map) {
	c.latestMu.Lock()
	defer c.latestMu.Unlock()
	c.latest = tcp
	c.latestEnv = env
	if mapState != nil {
		c.mapHistory[tcp.LogLength] = mapState
	}
}

// mapAt returns the verifiable map exactly as it stood at checkpoint
// length n, if that checkpoint is still retained.
func (c *Coordinator) mapAt(n uint64) (*sparsemap.Map, bool) {
	c.latestMu.RLock()
	defer c.latestMu.RUnlock()
	m, ok := c.mapHistory[n]
	return m, ok
}

// Stop shuts down the checkpoint pipeline, draining in-flight work.
func (c *Coordinator) Stop() {
	c.builder.Stop()
}

// LatestCheckpoint implements latest_checkpoint().
func (c *Coordinator) LatestCheckpoint() (checkpoint.TimestampedCheckpoint, envelope.Envelope) {
	c.latestMu.RLock()
	defer c.latestMu.RUnlock()
	return c.latest, c.latestEnv
}

// VerifySignedCheckpoint implements verify_signed_checkpoint (spec
// §4.6). pub is the operator key to verify against; a caller unsure
// which key is currently authoritative should pass the one recorded in
// the operator log (c.operatorState after a status query), not a
// cached copy.
func (c *Coordinator) VerifySignedCheckpoint(pub wargcrypto.PublicKey, env envelope.Envelope) VerifyOutcome {
	tcp, err := checkpoint.Decode(env)
	if err != nil {
		return Invalid
	}
	ok, err := checkpoint.Verify(env, pub)
	if err != nil {
		return Invalid
	}

	c.submitMu.Lock()
	_, isOperatorKey := c.operatorState.Keys[wargcrypto.KeyID(pub).String()]
	c.submitMu.Unlock()
	if !isOperatorKey {
		return Unauthorized
	}
	if !ok {
		return Invalid
	}

	current, _ := c.LatestCheckpoint()
	if tcp.LogLength > current.LogLength {
		return UnverifiedButKnownLength
	}
	return Verified
}
