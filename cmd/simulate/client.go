package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// client talks to the api-server as a single staff user.
type client struct {
	base  string
	http  *http.Client
	actor uuid.UUID
}

type bookResult struct {
	ID     uuid.UUID `json:"id"`
	Status int       `json:"-"`
	Code   string    `json:"error"`
}

func (c *client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("X-User-ID", c.actor.String())
	}
	return c.http.Do(req)
}

// book posts an appointment and decodes either the created id or the error code.
func (c *client) book(ctx context.Context, patient uuid.UUID, slot openSlot) (bookResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/appointments", map[string]string{
		"patient_id":   patient.String(),
		"doctor_id":    slot.DoctorID.String(),
		"time_slot_id": slot.ID.String(),
	})
	if err != nil {
		return bookResult{}, err
	}
	defer resp.Body.Close()

	out := bookResult{Status: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return out, fmt.Errorf("decode booking response: %w", err)
	}
	return out, nil
}

// status runs a request and reports only the response code.
func (c *client) status(ctx context.Context, method, path string, body any) (int, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

type dataPool struct {
	patients []uuid.UUID
	slots    []openSlot

	mu     sync.Mutex
	booked []uuid.UUID
}

func (d *dataPool) addBooked(id uuid.UUID) {
	d.mu.Lock()
	d.booked = append(d.booked, id)
	d.mu.Unlock()
}

// takeBooked removes and returns a random booked appointment.
func (d *dataPool) takeBooked(rng *rand.Rand) (uuid.UUID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.booked) == 0 {
		return uuid.Nil, false
	}
	i := rng.Intn(len(d.booked))
	id := d.booked[i]
	d.booked[i] = d.booked[len(d.booked)-1]
	d.booked = d.booked[:len(d.booked)-1]
	return id, true
}

func (d *dataPool) randomBooked(rng *rand.Rand) (uuid.UUID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.booked) == 0 {
		return uuid.Nil, false
	}
	return d.booked[rng.Intn(len(d.booked))], true
}
