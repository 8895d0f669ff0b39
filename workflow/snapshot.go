package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/workflow/checkpoint"
	"github.com/BaSui01/agentgraph/workflow/wire"
)

// snapshotTypeID 是检查点载荷的类型标识
const snapshotTypeID = "agentgraph.workflow.snapshot.v1"

// runSnapshot 是超步边界上的完整 run 状态
type runSnapshot struct {
	Workflow  string                `json:"workflow"`
	RunID     string                `json:"run_id"`
	Superstep int                   `json:"superstep"`
	Pending   []pendingRecord       `json:"pending,omitempty"`
	FanIn     []fanInRecord         `json:"fan_in,omitempty"`
	States    map[string]wire.Value `json:"states,omitempty"`
	Shared    []sharedRecord        `json:"shared,omitempty"`
	Tokens    []tokenRecord         `json:"tokens,omitempty"`
	Lineage   []checkpoint.Info     `json:"lineage,omitempty"`
}

type pendingRecord struct {
	Source   string          `json:"source,omitempty"`
	Target   string          `json:"target"`
	Topic    string          `json:"topic"`
	Message  wire.Value      `json:"message,omitempty"`
	Batch    []wire.Value    `json:"batch,omitempty"`
	Response *responseRecord `json:"response,omitempty"`
}

type responseRecord struct {
	TokenID string     `json:"token_id"`
	Request wire.Value `json:"request"`
	Data    wire.Value `json:"data"`
}

type fanInRecord struct {
	Group  string       `json:"group"`
	Queues []fanInQueue `json:"queues"`
}

type fanInQueue struct {
	Source   string       `json:"source"`
	Messages []wire.Value `json:"messages"`
}

type sharedRecord struct {
	Scope string     `json:"scope"`
	Key   string     `json:"key"`
	Value wire.Value `json:"value"`
}

type tokenRecord struct {
	ID         string     `json:"id"`
	ExecutorID string     `json:"executor_id"`
	Request    wire.Value `json:"request"`
}

func (e *Engine) loadSnapshot(ctx context.Context, wf *Workflow, runID string, from checkpoint.Info) (*runSnapshot, error) {
	val, err := e.store.Retrieve(ctx, runID, from)
	if err != nil {
		return nil, err
	}
	if val.TypeID != snapshotTypeID {
		return nil, &wire.TypeMismatchError{Declared: val.TypeID, Requested: snapshotTypeID}
	}
	var snap runSnapshot
	if err := json.Unmarshal(val.Data, &snap); err != nil {
		return nil, &wire.TypeMismatchError{Declared: val.TypeID, Requested: snapshotTypeID, Cause: err}
	}
	if snap.Workflow != wf.Name() {
		return nil, fmt.Errorf("checkpoint %s belongs to workflow %q, not %q", from, snap.Workflow, wf.Name())
	}
	return &snap, nil
}

func (x *execution) snapshot(ctx context.Context) (*runSnapshot, error) {
	m := x.marshaller
	snap := &runSnapshot{
		Workflow:  x.wf.name,
		RunID:     x.run.ID(),
		Superstep: x.superstep,
		Lineage:   append([]checkpoint.Info(nil), x.lineage...),
	}

	for _, d := range x.pending {
		rec := pendingRecord{Source: d.source, Target: d.target, Topic: d.topic}
		switch {
		case d.batch:
			for _, item := range d.message.([]any) {
				v, err := m.Marshal(item)
				if err != nil {
					return nil, err
				}
				rec.Batch = append(rec.Batch, v)
			}
		default:
			if resp, ok := d.message.(ResumeResponse); ok {
				r, err := x.encodeResponse(resp)
				if err != nil {
					return nil, err
				}
				rec.Response = r
				break
			}
			v, err := m.Marshal(d.message)
			if err != nil {
				return nil, err
			}
			rec.Message = v
		}
		snap.Pending = append(snap.Pending, rec)
	}

	for _, id := range x.wf.fanInOrder {
		buf := x.fanIn[id]
		if len(buf) == 0 {
			continue
		}
		rec := fanInRecord{Group: id}
		for _, source := range x.wf.fanIns[id].sources {
			msgs := buf[source]
			if len(msgs) == 0 {
				continue
			}
			q := fanInQueue{Source: source}
			for _, msg := range msgs {
				v, err := m.Marshal(msg)
				if err != nil {
					return nil, err
				}
				q.Messages = append(q.Messages, v)
			}
			rec.Queues = append(rec.Queues, q)
		}
		snap.FanIn = append(snap.FanIn, rec)
	}

	for _, id := range x.wf.executorIDs {
		cp, ok := x.executors[id].(Checkpointable)
		if !ok {
			continue
		}
		state, err := cp.SaveState(ctx)
		if err != nil {
			return nil, fmt.Errorf("save state of %s: %w", id, err)
		}
		v, err := m.Marshal(state)
		if err != nil {
			return nil, fmt.Errorf("encode state of %s: %w", id, err)
		}
		if snap.States == nil {
			snap.States = make(map[string]wire.Value)
		}
		snap.States[id] = v
	}

	err := x.shared.each(func(scope, key string, value any) error {
		v, err := m.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode state %s/%s: %w", scope, key, err)
		}
		snap.Shared = append(snap.Shared, sharedRecord{Scope: scope, Key: key, Value: v})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, tok := range x.tokens {
		v, err := m.Marshal(tok.Request)
		if err != nil {
			return nil, err
		}
		snap.Tokens = append(snap.Tokens, tokenRecord{ID: tok.ID, ExecutorID: tok.ExecutorID, Request: v})
	}
	return snap, nil
}

func (x *execution) encodeResponse(resp ResumeResponse) (*responseRecord, error) {
	req, err := x.marshaller.Marshal(resp.Request)
	if err != nil {
		return nil, err
	}
	data, err := x.marshaller.Marshal(resp.Data)
	if err != nil {
		return nil, err
	}
	return &responseRecord{TokenID: resp.TokenID, Request: req, Data: data}, nil
}

// restore 用快照重建 execution；执行器私有状态以 PortableValue 交回，由执行器按需解析
func (x *execution) restore(ctx context.Context, snap *runSnapshot) error {
	m := x.marshaller
	x.superstep = snap.Superstep
	x.lineage = append([]checkpoint.Info(nil), snap.Lineage...)

	for _, rec := range snap.Pending {
		if _, ok := x.executors[rec.Target]; !ok {
			return fmt.Errorf("pending message for unknown executor %s", rec.Target)
		}
		d := delivery{source: rec.Source, target: rec.Target, topic: rec.Topic}
		switch {
		case rec.Response != nil:
			req, err := m.Decode(rec.Response.Request)
			if err != nil {
				return err
			}
			data, err := m.Decode(rec.Response.Data)
			if err != nil {
				return err
			}
			d.message = ResumeResponse{TokenID: rec.Response.TokenID, Request: req, Data: data}
		case rec.Batch != nil:
			batch := make([]any, 0, len(rec.Batch))
			for _, v := range rec.Batch {
				item, err := m.Decode(v)
				if err != nil {
					return err
				}
				batch = append(batch, item)
			}
			d.message = batch
			d.batch = true
		default:
			msg, err := m.Decode(rec.Message)
			if err != nil {
				return err
			}
			coerced, ok := x.coerce(rec.Target, msg)
			if !ok {
				return &wire.TypeMismatchError{Declared: rec.Message.TypeID, Requested: rec.Target}
			}
			d.message = coerced
		}
		x.pending = append(x.pending, d)
	}

	for _, rec := range snap.FanIn {
		if _, ok := x.wf.fanIns[rec.Group]; !ok {
			return fmt.Errorf("unknown fan-in group %s", rec.Group)
		}
		buf := make(map[string][]any, len(rec.Queues))
		for _, q := range rec.Queues {
			for _, v := range q.Messages {
				msg, err := m.Decode(v)
				if err != nil {
					return err
				}
				buf[q.Source] = append(buf[q.Source], msg)
			}
		}
		x.fanIn[rec.Group] = buf
	}

	for id, v := range snap.States {
		exec, ok := x.executors[id]
		if !ok {
			return fmt.Errorf("state for unknown executor %s", id)
		}
		cp, ok := exec.(Checkpointable)
		if !ok {
			x.logger.Warn("executor no longer checkpointable, state ignored", zap.String("executor", id))
			continue
		}
		p, err := m.Portable(v)
		if err != nil {
			return err
		}
		if err := cp.RestoreState(ctx, p); err != nil {
			return fmt.Errorf("restore state of %s: %w", id, err)
		}
	}

	for _, rec := range snap.Shared {
		value, err := m.Decode(rec.Value)
		if err != nil {
			return err
		}
		x.shared.apply(stateOp{scope: rec.Scope, key: rec.Key, value: value})
	}

	for _, rec := range snap.Tokens {
		req, err := m.Decode(rec.Request)
		if err != nil {
			return err
		}
		x.tokens = append(x.tokens, ResumptionToken{
			ID:         rec.ID,
			RunID:      snap.RunID,
			ExecutorID: rec.ExecutorID,
			Request:    req,
		})
	}
	return nil
}
