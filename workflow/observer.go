package workflow

import "time"

// Observer 接收引擎的度量钩子，internal/metrics.Collector 是 Prometheus 实现。
type Observer interface {
	RunStarted(workflow string)
	RunFinished(workflow, status string, duration time.Duration)
	SuperstepCompleted(workflow string, duration time.Duration)
	ExecutorInvoked(workflow, executorID string, duration time.Duration, err error)
	CheckpointCommitted(workflow string, duration time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) RunStarted(string) {}
func (noopObserver) RunFinished(string, string, time.Duration) {}
func (noopObserver) SuperstepCompleted(string, time.Duration) {}
func (noopObserver) ExecutorInvoked(string, string, time.Duration, error) {}
func (noopObserver) CheckpointCommitted(string, time.Duration, error) {}

// MultiObserver 把钩子依次转发给多个 Observer，忽略 nil。
func MultiObserver(observers ...Observer) Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return noopObserver{}
	case 1:
		return out[0]
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) RunStarted(workflow string) {
	for _, o := range m {
		o.RunStarted(workflow)
	}
}

func (m multiObserver) RunFinished(workflow, status string, duration time.Duration) {
	for _, o := range m {
		o.RunFinished(workflow, status, duration)
	}
}

func (m multiObserver) SuperstepCompleted(workflow string, duration time.Duration) {
	for _, o := range m {
		o.SuperstepCompleted(workflow, duration)
	}
}

func (m multiObserver) ExecutorInvoked(workflow, executorID string, duration time.Duration, err error) {
	for _, o := range m {
		o.ExecutorInvoked(workflow, executorID, duration, err)
	}
}

func (m multiObserver) CheckpointCommitted(workflow string, duration time.Duration, err error) {
	for _, o := range m {
		o.CheckpointCommitted(workflow, duration, err)
	}
}
