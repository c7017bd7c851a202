package completion

import (
	"context"
	"sync"
)

// Fake is a scripted Provider for tests.
type Fake struct {
	mu sync.Mutex

	Reply      string
	Err        error
	Result     Analysis
	AnalyzeErr error
	// ReplyFunc, when set, replaces Reply and Err.
	ReplyFunc func(ctx context.Context, req Request) (string, error)

	Requests []Request
	Analyzed []string
}

func (f *Fake) Complete(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, req)
	fn := f.ReplyFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	return f.Reply, nil
}

func (f *Fake) Analyze(ctx context.Context, transcript string) (Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Analyzed = append(f.Analyzed, transcript)
	if f.AnalyzeErr != nil {
		return Analysis{}, f.AnalyzeErr
	}
	return f.Result, nil
}

// Calls returns a snapshot of recorded Complete requests.
func (f *Fake) Calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.Requests))
	copy(out, f.Requests)
	return out
}
