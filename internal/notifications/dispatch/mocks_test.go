package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"pushengine/internal/db"
	"pushengine/internal/lease"
	"pushengine/internal/notifications/push"
	"pushengine/internal/types"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testNow} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// --- job store ---

// fakeJobStore applies the same conditional-update rules as the SQL
// repository against an in-memory map.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*types.NotificationJob

	progressWrites []types.Progress
	createErr      error
	getErr         error
	transitionErr  error
	progressErr    error
	failErr        error
	listResult     []*types.NotificationJob
	listFilter     types.JobListFilter
	getCalls       int
}

func newFakeJobStore(jobs ...*types.NotificationJob) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[string]*types.NotificationJob)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeJobStore) Create(_ context.Context, job *types.NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	job.UpdatedAt = job.CreatedAt
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeJobStore) Get(_ context.Context, id string) (*types.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.getErr != nil {
		return nil, s.getErr
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundNotification, "not found", nil)
	}
	cp := *j
	cp.SendErrors = append([]string(nil), j.SendErrors...)
	return &cp, nil
}

func (s *fakeJobStore) List(_ context.Context, f types.JobListFilter) ([]*types.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listFilter = f
	return s.listResult, nil
}

func (s *fakeJobStore) TryTransition(_ context.Context, t db.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionErr != nil {
		return false, s.transitionErr
	}
	j, ok := s.jobs[t.JobID]
	if !ok || !statusIn(j.SendStatus, t.From) {
		return false, nil
	}
	j.SendStatus = t.To
	j.UpdatedAt = t.At
	if t.Reset {
		j.SendProgress, j.SendTotal, j.SuccessCount, j.FailureCount, j.ReceiverCount = 0, 0, 0, 0, 0
		j.SendErrors = nil
		j.SendCompletedAt = nil
	}
	if t.Start {
		at := t.At
		j.SendStartedAt = &at
		j.SendHeartbeatAt = &at
	}
	return true, nil
}

func (s *fakeJobStore) SetTotal(_ context.Context, id string, total int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.SendStatus != types.SendStatusSending {
		return false, nil
	}
	j.SendTotal = max(total, j.SendProgress)
	j.UpdatedAt = at
	return true, nil
}

func (s *fakeJobStore) WriteProgress(_ context.Context, id string, p types.Progress, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progressWrites = append(s.progressWrites, p)
	if s.progressErr != nil {
		return false, s.progressErr
	}
	j, ok := s.jobs[id]
	if !ok || j.SendStatus != types.SendStatusSending || j.SendProgress > p.Processed {
		return false, nil
	}
	j.SendProgress = p.Processed
	j.SendTotal = max(j.SendTotal, p.Processed)
	j.SuccessCount = p.Success
	j.FailureCount = p.Failure
	j.ReceiverCount = p.Success
	j.SendErrors = lastN(p.RecentErrors, types.MaxSendErrors)
	j.SendHeartbeatAt = &at
	return true, nil
}

func (s *fakeJobStore) Complete(_ context.Context, id string, c db.CompleteParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.SendStatus != types.SendStatusSending {
		return false, nil
	}
	at := c.At
	j.SendStatus = c.Status
	j.SendProgress = c.Progress.Processed
	j.SendTotal = max(c.Total, c.Progress.Processed)
	j.SuccessCount = c.Progress.Success
	j.FailureCount = c.Progress.Failure
	j.ReceiverCount = c.Progress.Success
	j.SendErrors = lastN(c.Progress.RecentErrors, types.MaxSendErrors)
	j.SendCompletedAt = &at
	return true, nil
}

func (s *fakeJobStore) Fail(_ context.Context, id string, f db.FailParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return false, s.failErr
	}
	j, ok := s.jobs[id]
	if !ok || (j.SendStatus != types.SendStatusQueued && j.SendStatus != types.SendStatusSending) {
		return false, nil
	}
	j.SendStatus = types.SendStatusFailed
	errs := j.SendErrors
	if p := f.Progress; p != nil {
		j.SendProgress = max(j.SendProgress, p.Processed)
		j.SendTotal = max(j.SendTotal, p.Processed)
		j.SuccessCount = p.Success
		j.FailureCount = p.Failure
		j.ReceiverCount = p.Success
		errs = p.RecentErrors
	}
	j.SendErrors = lastN(append(append([]string(nil), errs...), f.Diagnostic), types.MaxSendErrors)
	at := f.At
	j.SendCompletedAt = &at
	return true, nil
}

func (s *fakeJobStore) job(id string) types.NotificationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *fakeJobStore) writes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.progressWrites))
	for _, p := range s.progressWrites {
		out = append(out, p.Processed)
	}
	return out
}

func statusIn(s types.SendStatus, set []types.SendStatus) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

func lastN(errs []string, n int) []string {
	if len(errs) > n {
		errs = errs[len(errs)-n:]
	}
	return append([]string(nil), errs...)
}

// --- audience ---

type fakeAudience struct {
	devices   []types.DeviceToken
	legacy    []types.DeviceToken
	deviceErr error
	panicMsg  string
}

func (a *fakeAudience) ListActiveDeviceTokens(context.Context) ([]types.DeviceToken, error) {
	if a.panicMsg != "" {
		panic(a.panicMsg)
	}
	return a.devices, a.deviceErr
}

func (a *fakeAudience) ListActiveLegacyTokens(context.Context) ([]types.DeviceToken, error) {
	return a.legacy, nil
}

func deviceTokens(tokens ...string) []types.DeviceToken {
	out := make([]types.DeviceToken, 0, len(tokens))
	for i, t := range tokens {
		out = append(out, types.DeviceToken{
			Token:    t,
			OwnerID:  fmt.Sprintf("user-%02d", i),
			Platform: types.PlatformAndroid,
			Source:   types.TokenSourceDevice,
		})
	}
	return out
}

// numberedTokens returns n tokens that sort in creation order.
func numberedTokens(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("tok-%03d", i)
	}
	return out
}

// --- token store ---

type fakeTokenStore struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (s *fakeTokenStore) ClearTokens(_ context.Context, tokens []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]string(nil), tokens...))
	if s.err != nil {
		return 0, s.err
	}
	return int64(len(tokens)), nil
}

// --- sender / platform ---

type fakeSender struct {
	mu       sync.Mutex
	outcomes map[string]types.DeliveryKind
	sent     []string
	inFlight int
	maxSeen  int
	// block, when set, is called inside Send before the outcome is produced.
	block   func(token string)
	panicOn string
}

func newFakeSender() *fakeSender {
	return &fakeSender{outcomes: make(map[string]types.DeliveryKind)}
}

func (s *fakeSender) Send(_ context.Context, token string, _ types.PushMessage) types.DeliveryOutcome {
	s.mu.Lock()
	s.sent = append(s.sent, token)
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	kind := s.outcomes[token]
	block := s.block
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if block != nil {
		block(token)
	}
	if token == s.panicOn {
		panic("boom")
	}

	switch kind {
	case types.DeliveryInvalidToken:
		return types.InvalidToken(token, "unregistered", "token not registered")
	case types.DeliveryTransientError:
		return types.TransientFailure(token, "unavailable", "service unavailable")
	default:
		return types.Succeeded(token, "msg-"+token)
	}
}

func (s *fakeSender) sentTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.sent...)
	sort.Strings(out)
	return out
}

type fakePlatform struct {
	sender push.Sender
	err    error
	calls  int
}

func (p *fakePlatform) Init(context.Context) (push.Sender, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.sender, nil
}

// --- lease ---

type failingLocker struct{ err error }

func (l failingLocker) Acquire(context.Context, string, time.Duration) (lease.Lease, error) {
	return nil, l.err
}

var errBackend = errors.New("backend down")

// stubLocker hands out one stubLease whose Renew returns renewErr.
type stubLocker struct{ renewErr error }

func (l stubLocker) Acquire(_ context.Context, key string, _ time.Duration) (lease.Lease, error) {
	return stubLease{key: key, renewErr: l.renewErr}, nil
}

type stubLease struct {
	key      string
	renewErr error
}

func (l stubLease) Key() string                   { return l.key }
func (l stubLease) Renew(context.Context) error   { return l.renewErr }
func (l stubLease) Release(context.Context) error { return nil }

// --- metrics / publisher / logger ---

type recordingMetrics struct {
	mu         sync.Mutex
	deliveries map[types.DeliveryKind]int
	outcomes   []types.SendStatus
	pruned     int64
	durations  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{deliveries: make(map[types.DeliveryKind]int)}
}

func (m *recordingMetrics) RecordDelivery(_ context.Context, kind types.DeliveryKind, n int) {
	m.mu.Lock()
	m.deliveries[kind] += n
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordJobOutcome(_ context.Context, s types.SendStatus) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, s)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordJobDuration(context.Context, time.Duration) {
	m.mu.Lock()
	m.durations++
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordQueueLag(context.Context, time.Duration) {}

func (m *recordingMetrics) RecordTokensPruned(_ context.Context, n int64) {
	m.mu.Lock()
	m.pruned += n
	m.mu.Unlock()
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []types.DispatchMessage
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, msg types.DispatchMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (l *mockLogger) Info(msg string, _ ...any)  { l.add(&l.infos, msg) }
func (l *mockLogger) Warn(msg string, _ ...any)  { l.add(&l.warns, msg) }
func (l *mockLogger) Error(msg string, _ ...any) { l.add(&l.errors, msg) }
func (l *mockLogger) With(...any) types.Logger   { return l }

func (l *mockLogger) add(dst *[]string, msg string) {
	l.mu.Lock()
	*dst = append(*dst, msg)
	l.mu.Unlock()
}

func queuedJob(id string) *types.NotificationJob {
	return &types.NotificationJob{
		ID:         id,
		Title:      "Storm warning",
		Body:       "Heavy rain expected tonight",
		SendStatus: types.SendStatusQueued,
		CreatedAt:  testNow.Add(-time.Hour),
	}
}
