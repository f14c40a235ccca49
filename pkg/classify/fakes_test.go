package classify

import (
	"context"
	"sync"
	"time"

	"github.com/menta2k/xray-classifier/pkg/client"
	"github.com/menta2k/xray-classifier/pkg/types"
)

// jpegHeader is enough for media type sniffing
var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}

type step struct {
	raw string
	err error
}

// fakeSession replays steps in order and repeats the last one
type fakeSession struct {
	mu       sync.Mutex
	steps    []step
	calls    int
	closed   bool
	payloads []*types.Payload
}

func (s *fakeSession) Invoke(_ context.Context, payload *types.Payload) (types.RawResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++
	s.payloads = append(s.payloads, payload)
	if st.err != nil {
		return nil, st.err
	}
	return types.RawResponse(st.raw), nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) invocations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeTransport struct {
	session *fakeSession
	openErr error
	opens   int
}

func newFakeTransport(steps ...step) *fakeTransport {
	return &fakeTransport{session: &fakeSession{steps: steps}}
}

func (t *fakeTransport) Target() string { return "fake://inference" }

func (t *fakeTransport) Open(context.Context) (client.Session, error) {
	t.opens++
	if t.openErr != nil {
		return nil, t.openErr
	}
	return t.session, nil
}

// recordingTimer fires immediately and remembers every requested wait
type recordingTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

// countingObserver tallies classifier events
type countingObserver struct {
	attempts int
	waits    []time.Duration
	outcomes []string
}

func (o *countingObserver) ObserveAttempt()                { o.attempts++ }
func (o *countingObserver) ObserveWait(wait time.Duration) { o.waits = append(o.waits, wait) }
func (o *countingObserver) ObserveOutcome(kind string, _ time.Duration) {
	o.outcomes = append(o.outcomes, kind)
}
