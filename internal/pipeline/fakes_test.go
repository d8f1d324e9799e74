package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/fpang/photo-contest/internal/announce"
	"github.com/fpang/photo-contest/internal/durable"
	"github.com/fpang/photo-contest/internal/media"
	"github.com/fpang/photo-contest/internal/store"
)

const testBucket = "contest-media"

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    int
	puts    []string
	putErr  error
}

func newFakeBlobs(keys ...string) *fakeBlobs {
	f := &fakeBlobs{objects: make(map[string][]byte)}
	for _, k := range keys {
		f.objects[testBucket+"/"+k] = []byte("jpeg:" + k)
	}
	return f
}

func (f *fakeBlobs) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, media.ErrObjectNotFound)
	}
	return data, nil
}

func (f *fakeBlobs) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.puts = append(f.puts, bucket+"/"+key)
	f.objects[bucket+"/"+key] = data
	return nil
}

type fakeExtractor struct {
	err error
}

func (f fakeExtractor) Extract(ctx context.Context, data []byte) (media.Metadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return media.Metadata{media.FieldCameraMake: "Fujifilm", "source": string(data)}, nil
}

type fakeRenderer struct {
	err error
}

func (f fakeRenderer) Render(ctx context.Context, data []byte, width int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte(fmt.Sprintf("thumb:%d", width)), nil
}

type memSubmissions struct {
	mu     sync.Mutex
	states map[string]*store.SubmissionState
	puts   int
	getErr error
	putErr error
}

func newMemSubmissions() *memSubmissions {
	return &memSubmissions{states: make(map[string]*store.SubmissionState)}
}

func subKey(tenant, ref string, slot int) string {
	return fmt.Sprintf("%s#%s#%d", tenant, ref, slot)
}

func (m *memSubmissions) GetSubmission(ctx context.Context, tenant, ref string, slot int) (*store.SubmissionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.states[subKey(tenant, ref, slot)]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (m *memSubmissions) PutSubmission(ctx context.Context, tenant, ref string, slot int, state *store.SubmissionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	c := *state
	m.states[subKey(tenant, ref, slot)] = &c
	return nil
}

func (m *memSubmissions) ListSubmissions(ctx context.Context, tenant, ref string) (map[int]*store.SubmissionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]*store.SubmissionState)
	for slot := 0; slot < 100; slot++ {
		if s, ok := m.states[subKey(tenant, ref, slot)]; ok {
			c := *s
			out[slot] = &c
		}
	}
	return out, nil
}

type memParticipant struct {
	slots     map[int]bool
	required  int
	errorCode string
	status    string
}

// memParticipants mirrors the conditional-add semantics of the DynamoDB
// store under a mutex.
type memParticipants struct {
	mu              sync.Mutex
	defaultRequired int
	all             map[string]*memParticipant
	incErr          error
	errorCodes      []string
}

func newMemParticipants(required int) *memParticipants {
	return &memParticipants{defaultRequired: required, all: make(map[string]*memParticipant)}
}

func (m *memParticipants) get(tenant, ref string) *memParticipant {
	k := tenant + "#" + ref
	p, ok := m.all[k]
	if !ok {
		p = &memParticipant{slots: make(map[int]bool)}
		m.all[k] = p
	}
	return p
}

func (m *memParticipants) GetParticipant(ctx context.Context, tenant, ref string) (*store.ParticipantState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.all[tenant+"#"+ref]
	if !ok {
		return nil, nil
	}
	st := &store.ParticipantState{RequiredSlots: p.required, ErrorCode: p.errorCode, Status: p.status}
	for s := range p.slots {
		st.ProcessedSlots = append(st.ProcessedSlots, s)
	}
	slices.Sort(st.ProcessedSlots)
	return st, nil
}

func (m *memParticipants) IncrementAndCheck(ctx context.Context, tenant, ref string, slot int) (store.IncrementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incErr != nil {
		return store.IncrementResult{}, m.incErr
	}
	p := m.get(tenant, ref)
	if p.slots[slot] {
		return store.IncrementResult{Duplicate: true}, nil
	}
	p.slots[slot] = true
	if p.status == "" {
		p.status = store.StatusPending
	}
	required := p.required
	if required == 0 {
		required = m.defaultRequired
	}
	complete := true
	for i := 0; i < required; i++ {
		if !p.slots[i] {
			complete = false
		}
	}
	return store.IncrementResult{Finalize: slot < required && complete, Processed: len(p.slots), Required: required}, nil
}

func (m *memParticipants) SetErrorState(ctx context.Context, tenant, ref, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(tenant, ref).errorCode = code
	m.errorCodes = append(m.errorCodes, code)
	return nil
}

func (m *memParticipants) MarkErrored(ctx context.Context, tenant, ref, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.get(tenant, ref)
	p.errorCode = code
	p.status = store.StatusErrored
	m.errorCodes = append(m.errorCodes, code)
	return nil
}

func (m *memParticipants) SetStatus(ctx context.Context, tenant, ref, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(tenant, ref).status = status
	return nil
}

func (m *memParticipants) state(tenant, ref string) memParticipant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.get(tenant, ref)
}

type fakeDurable struct {
	mu        sync.Mutex
	bulkCalls int
	// bulkFailTimes fails the first n bulk calls; -1 fails every call.
	bulkFailTimes int
	records       []durable.SubmissionRecord
	statusCalls   int
	statusErr     error
	order         []string
}

func (f *fakeDurable) BulkUpdateSubmissions(ctx context.Context, tenant, ref string, records []durable.SubmissionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls++
	f.order = append(f.order, "bulk")
	if f.bulkFailTimes < 0 || f.bulkCalls <= f.bulkFailTimes {
		return errors.New("connection refused")
	}
	f.records = records
	return nil
}

func (f *fakeDurable) UpdateParticipantStatus(ctx context.Context, tenant, ref, status string, uploadCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	f.order = append(f.order, "status:"+status)
	return f.statusErr
}

type fakeAnnouncer struct {
	mu     sync.Mutex
	events []announce.ParticipantFinalized
	err    error
}

func (f *fakeAnnouncer) AnnounceFinalized(ctx context.Context, ev announce.ParticipantFinalized) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeAnnouncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type harness struct {
	blobs        *fakeBlobs
	submissions  *memSubmissions
	participants *memParticipants
	durable      *fakeDurable
	announcer    *fakeAnnouncer
	extractor    fakeExtractor
	renderer     fakeRenderer
}

func newHarness(required int, keys ...string) *harness {
	return &harness{
		blobs:        newFakeBlobs(keys...),
		submissions:  newMemSubmissions(),
		participants: newMemParticipants(required),
		durable:      &fakeDurable{},
		announcer:    &fakeAnnouncer{},
	}
}

func (h *harness) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(Deps{
		Blobs:        h.blobs,
		Extractor:    h.extractor,
		Renderer:     h.renderer,
		Submissions:  h.submissions,
		Participants: h.participants,
		Durable:      h.durable,
		Announcer:    h.announcer,
	}, Config{
		Bucket:             testBucket,
		FinalizeBaseDelay:  time.Millisecond,
		FinalizeMaxDelay:   5 * time.Millisecond,
		MessageConcurrency: 8,
		MetricsOutput:      io.Discard,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// s3Message builds an S3 event notification body for the given keys.
func s3Message(id string, keys ...string) Message {
	body := `{"Records":[`
	for i, k := range keys {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"eventSource":"aws:s3","eventName":"ObjectCreated:Put","s3":{"bucket":{"name":%q},"object":{"key":%q}}}`, testBucket, k)
	}
	body += `]}`
	return Message{ID: id, Body: body}
}
