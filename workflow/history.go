package workflow

import (
	"sort"
	"sync"
	"time"
)

// ExecutorRecord 记录一次执行器调用
type ExecutorRecord struct {
	ExecutorID string        `json:"executor_id"`
	Superstep  int           `json:"superstep"`
	Input      string        `json:"input,omitempty"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
}

// RunHistory 记录一个 run 的完整执行路径（跨多次 Resume 累积）
type RunHistory struct {
	RunID       string            `json:"run_id"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time"`
	Status      RunStatus         `json:"status"`
	Supersteps  int               `json:"supersteps"`
	Checkpoints []string          `json:"checkpoints,omitempty"`
	Executors   []*ExecutorRecord `json:"executors"`
	Error       string            `json:"error,omitempty"`
}

// HistoryRecorder 从事件流构建 RunHistory。
// 通过 WithEventEmitter(ctx, recorder.Emitter()) 接入，或在自定义 emitter 中调用 Record。
type HistoryRecorder struct {
	mu        sync.RWMutex
	histories map[string]*RunHistory
	open      map[string]*ExecutorRecord
}

// NewHistoryRecorder 创建记录器
func NewHistoryRecorder() *HistoryRecorder {
	return &HistoryRecorder{
		histories: make(map[string]*RunHistory),
		open:      make(map[string]*ExecutorRecord),
	}
}

// Emitter 返回写入该记录器的 EventEmitter
func (h *HistoryRecorder) Emitter() EventEmitter {
	return h.Record
}

// Record 处理一个事件
func (h *HistoryRecorder) Record(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	hist, ok := h.histories[ev.RunID]
	if !ok {
		hist = &RunHistory{RunID: ev.RunID, StartTime: ev.Timestamp, Status: RunRunning}
		h.histories[ev.RunID] = hist
	}
	openKey := ev.RunID + "/" + ev.ExecutorID

	switch ev.Type {
	case EventRunStarted:
		hist.Status = RunRunning
		hist.Error = ""
	case EventExecutorInvoked:
		input, _ := ev.Data.(string)
		rec := &ExecutorRecord{
			ExecutorID: ev.ExecutorID,
			Superstep:  ev.Superstep,
			Input:      input,
			StartTime:  ev.Timestamp,
			Status:     string(RunRunning),
		}
		hist.Executors = append(hist.Executors, rec)
		h.open[openKey] = rec
	case EventExecutorCompleted, EventExecutorFailed:
		rec, ok := h.open[openKey]
		if !ok {
			return
		}
		delete(h.open, openKey)
		rec.EndTime = ev.Timestamp
		rec.Duration = rec.EndTime.Sub(rec.StartTime)
		rec.Status = string(RunCompleted)
		if ev.Type == EventExecutorFailed {
			rec.Status = string(RunFailed)
			if ev.Error != nil {
				rec.Error = ev.Error.Error()
			}
		}
	case EventSuperstepCompleted:
		hist.Supersteps = ev.Superstep
	case EventCheckpoint:
		if info, ok := ev.Data.(interface{ String() string }); ok {
			hist.Checkpoints = append(hist.Checkpoints, info.String())
		}
	case EventStatus:
		if status, ok := ev.Data.(RunStatus); ok {
			hist.Status = status
		}
		hist.EndTime = ev.Timestamp
		if ev.Error != nil {
			hist.Error = ev.Error.Error()
		}
	}
}

// Get 返回 run 的历史副本
func (h *HistoryRecorder) Get(runID string) (RunHistory, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hist, ok := h.histories[runID]
	if !ok {
		return RunHistory{}, false
	}
	return hist.clone(), true
}

// ListByStatus 返回指定状态的 run，按开始时间排序
func (h *HistoryRecorder) ListByStatus(status RunStatus) []RunHistory {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []RunHistory
	for _, hist := range h.histories {
		if hist.Status == status {
			result = append(result, hist.clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	return result
}

// ListByTimeRange 返回在 [start, end] 内开始的 run
func (h *HistoryRecorder) ListByTimeRange(start, end time.Time) []RunHistory {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []RunHistory
	for _, hist := range h.histories {
		if !hist.StartTime.Before(start) && !hist.StartTime.After(end) {
			result = append(result, hist.clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	return result
}

func (r *RunHistory) clone() RunHistory {
	c := *r
	c.Checkpoints = append([]string(nil), r.Checkpoints...)
	c.Executors = make([]*ExecutorRecord, len(r.Executors))
	for i, rec := range r.Executors {
		cp := *rec
		c.Executors[i] = &cp
	}
	return c
}
