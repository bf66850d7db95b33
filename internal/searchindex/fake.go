package searchindex

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client for tests. Operations complete after a
// configurable number of polls, or fail with a scripted error.
type Fake struct {
	mu sync.Mutex

	// PollsUntilDone is how many Operation calls an upload needs before
	// it reports done. Zero means done on the first poll.
	PollsUntilDone int

	// FailWith, when set, makes every operation finish with this error.
	FailWith *OperationError

	// UploadErr, when set, is returned by Upload.
	UploadErr error

	// NeverDone keeps operations pending forever, for timeout tests.
	NeverDone bool

	// Hits is returned by Query.
	Hits []QueryHit

	uploads  []UploadRequest
	polls    map[string]int
	deletes  []string
	sequence int
}

var _ Client = (*Fake)(nil)

// NewFake creates a Fake whose operations complete immediately.
func NewFake() *Fake {
	return &Fake{polls: map[string]int{}}
}

func (f *Fake) Upload(ctx context.Context, req UploadRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.UploadErr != nil {
		return "", f.UploadErr
	}

	f.sequence++
	ref := fmt.Sprintf("op-%d", f.sequence)
	f.uploads = append(f.uploads, req)
	f.polls[ref] = 0
	return ref, nil
}

func (f *Fake) Operation(ctx context.Context, ref string) (*Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.polls[ref]; !ok {
		return nil, fmt.Errorf("unknown operation %s", ref)
	}
	f.polls[ref]++

	op := &Operation{Ref: ref}
	if f.NeverDone || f.polls[ref] <= f.PollsUntilDone {
		return op, nil
	}

	op.Done = true
	if f.FailWith != nil {
		op.Failure = f.FailWith
		return op, nil
	}
	docRef := "remote-doc-" + ref
	op.DocumentRef = &docRef
	return op, nil
}

func (f *Fake) Query(ctx context.Context, req QueryRequest) ([]QueryHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]QueryHit(nil), f.Hits...), nil
}

func (f *Fake) Delete(ctx context.Context, documentRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, documentRef)
	return nil
}

// Uploads returns a copy of all upload requests seen so far.
func (f *Fake) Uploads() []UploadRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]UploadRequest(nil), f.uploads...)
}

// PollCount returns how many times an operation has been polled.
func (f *Fake) PollCount(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[ref]
}

// Deletes returns a copy of all deleted document refs.
func (f *Fake) Deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}
