package client

import (
	"context"
	"sync"

	"github.com/portfolio-blog/backend/internal/counters"
)

// fakeAPI records calls. When gate is set, calls block until it is closed.
type fakeAPI struct {
	mu            sync.Mutex
	gate          chan struct{}
	viewCalls     []string
	reactionCalls []counters.ReactionKind
	viewErr       error
	reactionErr   error
	server        counters.ReactionCounts
}

func (f *fakeAPI) RecordView(_ context.Context, slug string) (int64, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewCalls = append(f.viewCalls, slug)
	if f.viewErr != nil {
		return 0, f.viewErr
	}
	return int64(len(f.viewCalls)), nil
}

func (f *fakeAPI) RecordReaction(_ context.Context, _ string, kind counters.ReactionKind) (counters.ReactionCounts, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactionCalls = append(f.reactionCalls, kind)
	if f.reactionErr != nil {
		return counters.ReactionCounts{}, f.reactionErr
	}
	f.server = f.server.Add(kind, 1)
	return f.server, nil
}

func (f *fakeAPI) wait() {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (f *fakeAPI) views() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.viewCalls)
}

func (f *fakeAPI) reactions() []counters.ReactionKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]counters.ReactionKind(nil), f.reactionCalls...)
}

func (f *fakeAPI) setReactionErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactionErr = err
}
