package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/noahgrant/resourcerer/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEntity struct {
	name string
}

func (e *stubEntity) Fetch(ctx context.Context) (int, error) {
	return 200, nil
}

func (e *stubEntity) ToJSON() json.RawMessage {
	return json.RawMessage(`{}`)
}

const grace = 100 * time.Millisecond

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(grace)
	t.Cleanup(s.Stop)
	return s
}

func TestPutAndGet(t *testing.T) {
	s := newStore(t)
	token := uuid.New()
	ent := &stubEntity{name: "user7"}

	s.Put("user~id=7", ent, 200, token)

	record, ok := s.Get("user~id=7")
	require.True(t, ok)
	assert.Equal(t, "user~id=7", record.Key)
	assert.Same(t, ent, record.Value)
	assert.Equal(t, 200, record.Status)
	assert.False(t, record.Lazy)

	_, ok = s.Get("user~id=8")
	require.False(t, ok)
}

func TestPutLazy(t *testing.T) {
	s := newStore(t)

	s.PutLazy("user~id=7", &stubEntity{}, uuid.New())

	record, ok := s.Get("user~id=7")
	require.True(t, ok)
	assert.True(t, record.Lazy)
}

func TestPutWithoutConsumerSchedulesEviction(t *testing.T) {
	// Prefetch without a mounted consumer: the record must not be pinned.
	s := newStore(t)

	s.Put("user~id=7", &stubEntity{}, 200, uuid.Nil)

	_, ok := s.Get("user~id=7")
	require.True(t, ok)

	time.Sleep(3 * grace)

	_, ok = s.Get("user~id=7")
	require.False(t, ok)
}

func TestRecordPinnedWhileInterested(t *testing.T) {
	s := newStore(t)
	token := uuid.New()

	s.Put("user~id=7", &stubEntity{}, 200, token)

	time.Sleep(3 * grace)

	_, ok := s.Get("user~id=7")
	require.True(t, ok)
}

func TestGracePeriodRetention(t *testing.T) {
	// Scenario: the last consumer unmounts. The record must survive for the
	// grace period and be gone strictly after it.
	s := newStore(t)
	token := uuid.New()

	s.Put("user~id=7", &stubEntity{}, 200, token)
	s.Unregister(token)

	time.Sleep(grace / 2)
	_, ok := s.Get("user~id=7")
	require.True(t, ok, "record evicted before the grace period elapsed")

	time.Sleep(3 * grace)
	_, ok = s.Get("user~id=7")
	require.False(t, ok, "record survived past the grace period")
}

func TestRegisterCancelsPendingEviction(t *testing.T) {
	// Scenario: a consumer remounts shortly before the eviction fires; the
	// record must be served from cache and the eviction cancelled.
	s := newStore(t)
	first := uuid.New()

	s.Put("user~id=7", &stubEntity{}, 200, first)
	s.Unregister(first)

	time.Sleep(grace / 2)

	second := uuid.New()
	s.Register("user~id=7", second)

	time.Sleep(3 * grace)

	_, ok := s.Get("user~id=7")
	require.True(t, ok, "registration did not cancel the scheduled eviction")
}

func TestRegisterIsIdempotent(t *testing.T) {
	s := newStore(t)
	token := uuid.New()

	s.Put("user~id=7", &stubEntity{}, 200, token)
	s.Register("user~id=7", token)
	s.Register("user~id=7", token)

	require.Equal(t, 1, s.InterestCount("user~id=7"))

	// A single unregister must fully release the record.
	s.Unregister(token)
	require.Equal(t, 0, s.InterestCount("user~id=7"))
}

func TestUnregisterDefaultsToAllKeys(t *testing.T) {
	s := newStore(t)
	token := uuid.New()

	s.Put("user~id=7", &stubEntity{}, 200, token)
	s.Put("post~id=3", &stubEntity{}, 200, token)

	s.Unregister(token)

	time.Sleep(3 * grace)

	_, ok := s.Get("user~id=7")
	assert.False(t, ok)
	_, ok = s.Get("post~id=3")
	assert.False(t, ok)
}

func TestUnregisterKeepsRecordWhileOthersInterested(t *testing.T) {
	s := newStore(t)
	first := uuid.New()
	second := uuid.New()

	s.Put("user~id=7", &stubEntity{}, 200, first)
	s.Register("user~id=7", second)

	s.Unregister(first)

	time.Sleep(3 * grace)

	_, ok := s.Get("user~id=7")
	require.True(t, ok)
}

func TestPerTypeGraceOverride(t *testing.T) {
	s := newStore(t)
	s.SetGrace("session", 10*grace)
	token := uuid.New()

	s.Put("session~id=1", &stubEntity{}, 200, token)
	s.Put("user~id=7", &stubEntity{}, 200, token)
	s.Unregister(token)

	time.Sleep(3 * grace)

	_, ok := s.Get("user~id=7")
	assert.False(t, ok, "default-grace record survived")
	_, ok = s.Get("session~id=1")
	assert.True(t, ok, "overridden-grace record evicted early")
}

func TestRemoveBypassesGracePeriod(t *testing.T) {
	s := newStore(t)
	token := uuid.New()

	s.Put("user~id=7", &stubEntity{}, 200, token)
	s.Remove("user~id=7")

	_, ok := s.Get("user~id=7")
	require.False(t, ok)
}

func TestRemoveAllMatching(t *testing.T) {
	s := newStore(t)
	token := uuid.New()

	s.Put("user~id=7", &stubEntity{}, 200, token)
	s.Put("user~id=8", &stubEntity{}, 200, token)
	s.Put("post~id=3", &stubEntity{}, 200, token)

	s.RemoveAllMatching("user~")

	_, ok := s.Get("user~id=7")
	assert.False(t, ok)
	_, ok = s.Get("user~id=8")
	assert.False(t, ok)
	_, ok = s.Get("post~id=3")
	assert.True(t, ok)
}

func TestRemoveAllExcept(t *testing.T) {
	s := newStore(t)
	token := uuid.New()

	s.Put("user~id=7", &stubEntity{}, 200, token)
	s.Put("post~id=3", &stubEntity{}, 200, token)
	s.Put("comment~id=1", &stubEntity{}, 200, token)

	s.RemoveAllExcept("user~")

	_, ok := s.Get("user~id=7")
	assert.True(t, ok)
	_, ok = s.Get("post~id=3")
	assert.False(t, ok)
	_, ok = s.Get("comment~id=1")
	assert.False(t, ok)
}

func TestMoveCarriesRecordAndInterest(t *testing.T) {
	s := newStore(t)
	token := uuid.New()
	ent := &stubEntity{name: "draft"}

	s.Put("post", ent, 201, token)
	s.Move("post", "post~id=3")

	_, ok := s.Get("post")
	require.False(t, ok)

	record, ok := s.Get("post~id=3")
	require.True(t, ok)
	assert.Same(t, ent, record.Value)
	assert.Equal(t, "post~id=3", record.Key)
	assert.Equal(t, 1, s.InterestCount("post~id=3"))

	// The moved record is pinned by the carried interest.
	time.Sleep(3 * grace)
	_, ok = s.Get("post~id=3")
	require.True(t, ok)
}

func TestMoveMissingKeyIsNoop(t *testing.T) {
	s := newStore(t)

	s.Move("post", "post~id=3")

	_, ok := s.Get("post~id=3")
	require.False(t, ok)
	require.Equal(t, 0, s.Len())
}

func TestClearLazyOnlyDropsUnreferencedLazyRecords(t *testing.T) {
	s := newStore(t)
	token := uuid.New()

	s.PutLazy("draft~id=1", &stubEntity{}, token)
	s.Put("user~id=7", &stubEntity{}, 200, token)

	// Remaining interest keeps the lazy record.
	s.ClearLazy("draft~id=1")
	_, ok := s.Get("draft~id=1")
	require.True(t, ok)

	s.Unregister(token, "draft~id=1")
	s.ClearLazy("draft~id=1")
	_, ok = s.Get("draft~id=1")
	assert.False(t, ok, "unreferenced lazy record must be discarded")

	// Settled records are untouched either way.
	s.Unregister(token, "user~id=7")
	s.ClearLazy("user~id=7")
	_, ok = s.Get("user~id=7")
	assert.True(t, ok, "settled record must be untouched")
}
