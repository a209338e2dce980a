package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rflorenc/state-handoff/internal/events"
	"github.com/rflorenc/state-handoff/internal/logfields"
	"github.com/rflorenc/state-handoff/internal/metrics"
	"github.com/rflorenc/state-handoff/internal/models"
	"github.com/rflorenc/state-handoff/internal/store"
)

// tx is one host transaction: a write batch plus the events it will emit.
type tx struct {
	h      *Host
	batch  *store.Batch
	events []events.Event
}

func newTx(h *Host) *tx {
	return &tx{h: h, batch: store.NewBatch(h.backend)}
}

func (t *tx) deps(inst *models.Instance) Deps {
	return Deps{
		Store:   t.batch.KV(string(inst.Address)),
		Querier: viewQuerier{h: t.h, view: t.batch.ReadOnly},
		Logger:  t.h.logger.With(logfields.Instance(string(inst.Address)), logfields.Kind(inst.Kind)),
	}
}

func (t *tx) record(inst *models.Instance, typ string, sender models.Addr, attrs []models.Attribute) {
	t.events = append(t.events, events.New(inst.Address, inst.Kind, typ, sender, attrs))
}

func (t *tx) execute(ctx context.Context, sender, addr models.Addr, codeHash string, msg json.RawMessage, depth int) (*Response, error) {
	if depth > maxDepth {
		return nil, ErrDepthExceeded
	}
	inst, c, err := t.h.resolve(addr, codeHash)
	if err != nil {
		return nil, err
	}

	env := Env{Time: t.h.now(), Sender: sender, Contract: ContractInfo{Address: inst.Address, CodeHash: inst.CodeHash}}
	start := time.Now()
	resp, err := c.contract.Execute(ctx, env, t.deps(inst), msg)
	action := MessageAction(msg)
	elapsed := time.Since(start)
	t.h.metrics.ObserveExecute(inst.Kind, c.metricAction(action), elapsed, metrics.Result(err))
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = NewResponse()
	}

	t.h.logger.Debug("Executed",
		logfields.Instance(string(inst.Address)),
		logfields.Kind(inst.Kind),
		logfields.Action(action),
		logfields.Sender(string(sender)),
		logfields.Depth(depth),
		logfields.DurationMS(float64(elapsed.Microseconds())/1000))
	t.record(inst, events.TypeExecute, sender, resp.Attributes)

	if err := t.dispatch(ctx, inst.Address, resp.Messages, depth+1); err != nil {
		return nil, err
	}
	return resp, nil
}

// dispatch delivers messages emitted by from, in order.
func (t *tx) dispatch(ctx context.Context, from models.Addr, msgs []Message, depth int) error {
	for _, m := range msgs {
		if m.CodeHash == "" {
			return fmt.Errorf("dispatch to %s: %w: no code hash given", m.Contract, ErrCodeHashMismatch)
		}
		if _, err := t.execute(ctx, from, m.Contract, m.CodeHash, m.Msg, depth); err != nil {
			return fmt.Errorf("dispatch to %s: %w", m.Contract, err)
		}
		if inst := t.h.instances.Get(m.Contract); inst != nil {
			t.h.metrics.IncMessageDispatched(inst.Kind)
		}
	}
	return nil
}

func (t *tx) commit(ctx context.Context) error {
	n := t.batch.Len()
	if err := t.batch.Commit(ctx); err != nil {
		return fmt.Errorf("committing %d writes: %w", n, err)
	}
	t.h.logger.Debug("Committed", logfields.Writes(n), slog.Int("events", len(t.events)))
	return nil
}

// publish fans committed events out. Publishing happens after commit, so a
// failing publisher is logged and does not undo the transaction.
func (t *tx) publish(ctx context.Context) {
	for _, e := range t.events {
		for _, p := range t.h.publishers {
			if err := p.Publish(ctx, e); err != nil {
				t.h.logger.Warn("Publishing event failed", logfields.Instance(string(e.Instance)), logfields.Error(err))
			}
		}
	}
}
