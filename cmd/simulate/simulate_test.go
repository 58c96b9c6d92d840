package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpStats_Summary(t *testing.T) {
	var s opStats
	for i := 1; i <= 20; i++ {
		s.record(time.Duration(i)*time.Millisecond, outcomeOK)
	}
	s.record(time.Millisecond, outcomeConflict)

	sum := s.summary()
	assert.Equal(t, int64(21), sum.Total)
	assert.Equal(t, int64(20), sum.OK)
	assert.Equal(t, int64(1), sum.Conflict)
	assert.Equal(t, time.Millisecond, sum.Min)
	assert.Equal(t, 20*time.Millisecond, sum.Max)
	assert.Equal(t, 20*time.Millisecond, sum.P95)

	var buf bytes.Buffer
	writeOpReport(&buf, "Book", &s)
	assert.Contains(t, buf.String(), "Conflicts: 1")
	assert.NotContains(t, buf.String(), "Errors")
}

func TestClassify(t *testing.T) {
	assert.Equal(t, outcomeOK, classify(http.StatusCreated, nil))
	assert.Equal(t, outcomeConflict, classify(http.StatusConflict, nil))
	assert.Equal(t, outcomeError, classify(http.StatusInternalServerError, nil))
	assert.Equal(t, outcomeError, classify(0, errors.New("dial")))
}

func TestLoadOptions_Normalize(t *testing.T) {
	o := loadOptions{book: 2, cancel: 1, checkIn: 1}
	require.NoError(t, o.normalize())
	assert.InDelta(t, 0.5, o.book, 1e-9)
	assert.InDelta(t, 0.0, o.read, 1e-9)

	assert.Error(t, (&loadOptions{}).normalize())
}

// oneWinner stands in for the api-server: the first booking per slot wins.
func oneWinner(t *testing.T) *httptest.Server {
	var (
		mu     sync.Mutex
		booked = map[string]bool{}
	)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-User-ID"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		mu.Lock()
		taken := booked[body["time_slot_id"]]
		booked[body["time_slot_id"]] = true
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if taken {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "slot_already_booked"})
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": uuid.NewString()})
	}))
}

func TestRace(t *testing.T) {
	srv := oneWinner(t)
	defer srv.Close()

	c := &client{base: srv.URL, http: srv.Client(), actor: uuid.New()}
	slot := openSlot{ID: uuid.New(), DoctorID: uuid.New()}
	patients := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	res := race(context.Background(), c, slot, patients, 8)
	require.Len(t, res.Winners, 1)
	assert.NotEqual(t, uuid.Nil, res.Winners[0])
	assert.Equal(t, 7, res.Codes["slot_already_booked"])
	assert.Zero(t, res.Failures)
}

func TestDataPool_TakeBooked(t *testing.T) {
	d := &dataPool{}
	a, b := uuid.New(), uuid.New()
	d.addBooked(a)
	d.addBooked(b)

	rng := rand.New(rand.NewSource(1))
	first, ok := d.takeBooked(rng)
	require.True(t, ok)
	second, ok := d.takeBooked(rng)
	require.True(t, ok)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, []uuid.UUID{first, second})

	_, ok = d.takeBooked(rng)
	assert.False(t, ok)
}
