package tracking

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shineum/mail-track-lite/internal/email"
	"github.com/shineum/mail-track-lite/internal/store"
)

func newTestTracker(st store.Store) *Tracker {
	injector := testInjector(Options{InjectPixel: true, InjectLinks: true})
	return NewTracker(NewAllocator(st, 8), NewRewriter(injector), st)
}

func testEnvelope(body email.Node) *email.Envelope {
	return &email.Envelope{
		From:    "sender@example.com",
		To:      []string{"rcpt@example.com"},
		Subject: "hello",
		Body:    body,
	}
}

func TestInstrument_CreatesCorrelatedRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	tracker := newTestTracker(st)

	original := `<html><body><a href="https://dest.example">x</a></body></html>`
	env := testEnvelope(htmlLeaf(original))

	out, err := tracker.Instrument(ctx, env)
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	if out.Token == "" {
		t.Fatal("expected a token")
	}

	leaf := out.Envelope.Body.(*email.Leaf)
	if !strings.Contains(string(leaf.Body), out.Token) {
		t.Errorf("instrumented body does not carry the token: %q", leaf.Body)
	}

	rec, err := st.FindByToken(ctx, out.Token)
	if err != nil {
		t.Fatalf("FindByToken: %v", err)
	}
	if rec == nil {
		t.Fatal("send record not persisted")
	}
	if rec.Metadata.OriginalHTML != original {
		t.Errorf("OriginalHTML snapshot: got %q, want %q", rec.Metadata.OriginalHTML, original)
	}
	if !rec.Metadata.Success {
		t.Error("fresh record should start with success=true")
	}
}

func TestInstrument_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	st := store.NewMemory()
	tracker := newTestTracker(st)

	original := `<html><body>hi</body></html>`
	env := testEnvelope(htmlLeaf(original))

	if _, err := tracker.Instrument(context.Background(), env); err != nil {
		t.Fatalf("Instrument: %v", err)
	}

	if string(env.Body.(*email.Leaf).Body) != original {
		t.Errorf("input envelope mutated: %q", env.Body.(*email.Leaf).Body)
	}
}

func TestInstrument_PlainMessageGetsRecordWithoutSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	tracker := newTestTracker(st)

	out, err := tracker.Instrument(ctx, testEnvelope(plainLeaf("just text")))
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}

	rec, err := st.FindByToken(ctx, out.Token)
	if err != nil || rec == nil {
		t.Fatalf("record lookup failed: rec=%v err=%v", rec, err)
	}
	if rec.Metadata.OriginalHTML != "" {
		t.Errorf("no HTML in message, snapshot should be empty: %q", rec.Metadata.OriginalHTML)
	}
}

// racingStore rejects the first create with a duplicate-token error,
// simulating a concurrent writer winning the insert race.
type racingStore struct {
	store.Store
	rejections int
	creates    int
}

func (r *racingStore) Create(ctx context.Context, rec *store.SendRecord) error {
	r.creates++
	if r.creates <= r.rejections {
		return store.ErrDuplicateToken
	}
	return r.Store.Create(ctx, rec)
}

func TestInstrument_RetriesOnCreateRace(t *testing.T) {
	t.Parallel()

	st := &racingStore{Store: store.NewMemory(), rejections: 1}
	tracker := NewTracker(
		NewAllocator(st, 8),
		NewRewriter(testInjector(Options{InjectPixel: true})),
		st,
	)

	out, err := tracker.Instrument(context.Background(), testEnvelope(htmlLeaf("<body></body>")))
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	if out.Token == "" {
		t.Fatal("expected a token after create retry")
	}
	if st.creates != 2 {
		t.Errorf("create attempts: got %d, want 2", st.creates)
	}
}

func TestRecordProviderMessageID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	tracker := newTestTracker(st)

	rec := store.NewSendRecord("tok-abc")
	rec.CreatedAt = time.Now().UTC()
	if err := st.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := tracker.RecordProviderMessageID(ctx, "tok-abc", "ses-msg-1"); err != nil {
		t.Fatalf("RecordProviderMessageID: %v", err)
	}

	got, err := st.FindByProviderMessageID(ctx, "ses-msg-1")
	if err != nil {
		t.Fatalf("FindByProviderMessageID: %v", err)
	}
	if got == nil || got.Token != "tok-abc" {
		t.Errorf("provider message id not bound: %#v", got)
	}
}
