package transaction

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/noah-isme/plutu-gateway/internal/plutu"
)

type recordingMutator struct {
	updates []State
	events  []State
	failOn  string
}

func (m *recordingMutator) UpdateState(ctx context.Context, id pgtype.UUID, state State) error {
	if m.failOn == "update" {
		return errors.New("boom")
	}
	m.updates = append(m.updates, state)
	return nil
}

func (m *recordingMutator) InsertEvent(ctx context.Context, id pgtype.UUID, state State, payload []byte) error {
	if m.failOn == "event" {
		return errors.New("boom")
	}
	m.events = append(m.events, state)
	return nil
}

func testTx(state State) Transaction {
	var id pgtype.UUID
	copy(id.Bytes[:], []byte("0123456789abcdef"))
	id.Valid = true
	return Transaction{
		ID:           id,
		Reference:    "INV-1001",
		ProviderCode: plutu.ProviderCode,
		Amount:       10_000,
		Currency:     "LYD",
		State:        state,
	}
}

func notification(gateway string, provenance plutu.Provenance, approved, canceled bool, status string) plutu.Notification {
	return plutu.Notification{
		Provenance: provenance,
		Gateway:    gateway,
		Reference:  "INV-1001",
		Status:     status,
		Approved:   approved,
		Canceled:   canceled,
		Params:     map[string]string{"invoice_no": "INV-1001", "gateway": gateway},
	}
}

func TestApplyTransitions(t *testing.T) {
	cases := []struct {
		name     string
		from     State
		n        plutu.Notification
		want     State
		changed  bool
		dup      bool
		mutated  bool
		appendEv bool
	}{
		{
			name: "approved moves pending to done",
			from: StatePending, n: notification("sadadapi", plutu.ProvenanceWebhook, true, false, ""),
			want: StateDone, changed: true, mutated: true, appendEv: true,
		},
		{
			name: "canceled moves pending to cancel",
			from: StatePending, n: notification("sadadapi", plutu.ProvenanceWebhook, false, true, ""),
			want: StateCancel, changed: true, mutated: true, appendEv: true,
		},
		{
			name: "generic branch defaults to pending",
			from: StateDraft, n: notification("sadadapi", plutu.ProvenanceWebhook, false, false, ""),
			want: StatePending, changed: true, mutated: true, appendEv: true,
		},
		{
			name: "status token succeeded maps to done",
			from: StatePending, n: notification("sadadapi", plutu.ProvenanceWebhook, false, false, "succeeded"),
			want: StateDone, changed: true, mutated: true, appendEv: true,
		},
		{
			name: "unknown status token falls back to pending",
			from: StateDraft, n: notification("sadadapi", plutu.ProvenanceWebhook, false, false, "weird"),
			want: StatePending, changed: true, mutated: true, appendEv: true,
		},
		{
			name: "strict webhook without flags is a no-op",
			from: StatePending, n: notification("localbankcards", plutu.ProvenanceWebhook, false, false, ""),
			want: StatePending,
		},
		{
			name: "strict gateway on redirect still uses generic branch",
			from: StateDraft, n: notification("tlync", plutu.ProvenanceRedirect, false, false, ""),
			want: StatePending, changed: true, mutated: true, appendEv: true,
		},
		{
			name: "strict webhook approved still completes",
			from: StatePending, n: notification("tlync", plutu.ProvenanceWebhook, true, false, ""),
			want: StateDone, changed: true, mutated: true, appendEv: true,
		},
		{
			name: "duplicate done delivery records only an audit row",
			from: StateDone, n: notification("sadadapi", plutu.ProvenanceWebhook, true, false, ""),
			want: StateDone, dup: true, appendEv: true,
		},
		{
			name: "duplicate cancel delivery records only an audit row",
			from: StateCancel, n: notification("sadadapi", plutu.ProvenanceWebhook, false, true, ""),
			want: StateCancel, dup: true, appendEv: true,
		},
	}

	r := &Reconciler{Logger: zerolog.Nop()}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &recordingMutator{}
			outcome, err := r.Apply(context.Background(), store, testTx(tc.from), tc.n)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if outcome.State != tc.want {
				t.Fatalf("state = %s, want %s", outcome.State, tc.want)
			}
			if outcome.Changed != tc.changed {
				t.Fatalf("changed = %v, want %v", outcome.Changed, tc.changed)
			}
			if outcome.Duplicate != tc.dup {
				t.Fatalf("duplicate = %v, want %v", outcome.Duplicate, tc.dup)
			}
			if tc.mutated && (len(store.updates) != 1 || store.updates[0] != tc.want) {
				t.Fatalf("updates = %v", store.updates)
			}
			if !tc.mutated && len(store.updates) != 0 {
				t.Fatalf("unexpected state writes: %v", store.updates)
			}
			if tc.appendEv && len(store.events) != 1 {
				t.Fatalf("events = %v", store.events)
			}
			if !tc.appendEv && len(store.events) != 0 {
				t.Fatalf("unexpected audit rows: %v", store.events)
			}
		})
	}
}

func TestApplyTerminalConflict(t *testing.T) {
	r := &Reconciler{Logger: zerolog.Nop()}
	store := &recordingMutator{}

	_, err := r.Apply(context.Background(), store, testTx(StateDone),
		notification("sadadapi", plutu.ProvenanceWebhook, false, true, ""))
	if !errors.Is(err, ErrTerminalStateConflict) {
		t.Fatalf("expected ErrTerminalStateConflict, got %v", err)
	}
	if len(store.updates) != 0 || len(store.events) != 0 {
		t.Fatal("terminal transaction must stay untouched")
	}
}

func TestApplyIgnoresForeignProvider(t *testing.T) {
	r := &Reconciler{Logger: zerolog.Nop()}
	store := &recordingMutator{}
	tx := testTx(StatePending)
	tx.ProviderCode = "stripe"

	outcome, err := r.Apply(context.Background(), store, tx,
		notification("sadadapi", plutu.ProvenanceWebhook, true, false, ""))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome.Changed || len(store.updates) != 0 {
		t.Fatal("foreign-provider transactions must not be mutated")
	}
}

func TestApplyPropagatesStoreFailure(t *testing.T) {
	r := &Reconciler{Logger: zerolog.Nop()}
	store := &recordingMutator{failOn: "update"}

	_, err := r.Apply(context.Background(), store, testTx(StatePending),
		notification("sadadapi", plutu.ProvenanceWebhook, true, false, ""))
	if err == nil {
		t.Fatal("expected the storage failure to surface")
	}
}
