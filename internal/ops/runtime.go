package ops

import (
	"sync/atomic"

	"github.com/yanun0323/logs"

	"mmhedge/internal/errors"
	"mmhedge/pkg/exception"
)

// Runtime holds the latest good configuration for hot reload.
type Runtime struct {
	v atomic.Value
}

func NewRuntime(loaded Loaded) *Runtime {
	var rc Runtime
	rc.v.Store(loaded)
	return &rc
}

func (r *Runtime) Load() Loaded {
	return r.v.Load().(Loaded)
}

func (r *Runtime) Update(loaded Loaded) {
	r.v.Store(loaded)
}

// Task returns the task with key, if configured.
func (r *Runtime) Task(key string) (Task, bool) {
	for _, t := range r.Load().Tasks {
		if t.Key() == key {
			return t, true
		}
	}
	return Task{}, false
}

// ForWallets drops tasks whose wallet is unknown, logging each one.
func ForWallets(tasks []Task, wallets Wallets) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if _, ok := wallets[t.Wallet]; !ok {
			logs.Errorf("skip task %s, err: %+v", t.Key(), errors.Wrapf(exception.ErrUnknownWallet, "wallet %s not in wallets file", t.Wallet))
			continue
		}
		out = append(out, t)
	}
	return out
}
