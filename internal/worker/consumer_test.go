package worker

import (
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"github.com/cuongbtq/jobnex-queue/internal/storage/memory"
)

type fakeAcknowledger struct {
	mu       sync.Mutex
	acks     []uint64
	nacks    []uint64
	requeues []bool
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, tag)
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = append(f.nacks, tag)
	f.requeues = append(f.requeues, requeue)
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func TestRunner_HandleDelivery(t *testing.T) {
	store := memory.New()
	d := newTestDispatcher(store, NewRegistry(), Config{})

	tests := []struct {
		name        string
		body        string
		wantAck     bool
		wantTrigger bool
	}{
		{
			name:        "valid wake-up",
			body:        `{"job_id":"3f1d1a0e-6a8b-4c1e-9d2a-2b7f0c9e8a11","type":"scraping"}`,
			wantAck:     true,
			wantTrigger: true,
		},
		{
			name: "malformed json",
			body: `{"job_id":`,
		},
		{
			name: "job id not a uuid",
			body: `{"job_id":"42"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(d, nil, RunnerConfig{Concurrency: 1}, testLogger())
			ack := &fakeAcknowledger{}

			r.handleDelivery(amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Body: []byte(tt.body)})

			if tt.wantAck {
				assert.Equal(t, []uint64{7}, ack.acks)
				assert.Empty(t, ack.nacks)
			} else {
				assert.Empty(t, ack.acks)
				assert.Equal(t, []uint64{7}, ack.nacks)
				assert.Equal(t, []bool{false}, ack.requeues)
			}
			assert.Equal(t, tt.wantTrigger, len(r.trigger) == 1)
		})
	}
}

func TestRunner_TriggerDoesNotBlock(t *testing.T) {
	r := NewRunner(newTestDispatcher(memory.New(), NewRegistry(), Config{}), nil, RunnerConfig{Concurrency: 2}, testLogger())

	for i := 0; i < 10; i++ {
		r.Trigger()
	}
	assert.Len(t, r.trigger, 2)
}
