package telemetryingest

import "testing"

func TestQueueRejectPolicy(t *testing.T) {
	q := NewQueue(2, PolicyReject, nil)

	if !q.Enqueue(Envelope{Service: "a"}) {
		t.Fatal("first enqueue should succeed")
	}
	if !q.Enqueue(Envelope{Service: "b"}) {
		t.Fatal("second enqueue should succeed")
	}
	if q.Enqueue(Envelope{Service: "c"}) {
		t.Fatal("third enqueue should be rejected once the queue is full")
	}
	if got := q.GetDepth(); got != 2 {
		t.Fatalf("GetDepth() = %d, want 2", got)
	}
}

func TestQueueOverwriteOldestPolicy(t *testing.T) {
	q := NewQueue(2, PolicyOverwriteOldest, nil)

	q.Enqueue(Envelope{Service: "a"})
	q.Enqueue(Envelope{Service: "b"})
	if !q.Enqueue(Envelope{Service: "c"}) {
		t.Fatal("overwrite-oldest policy should always accept the new item")
	}

	batch := q.DrainBatch(10)
	if len(batch) != 2 {
		t.Fatalf("drained %d items, want 2", len(batch))
	}
	if batch[0].Service != "b" || batch[1].Service != "c" {
		t.Fatalf("expected oldest item dropped, got %v, %v", batch[0].Service, batch[1].Service)
	}
}

func TestQueueDrainBatchPartial(t *testing.T) {
	q := NewQueue(10, PolicyReject, nil)
	q.Enqueue(Envelope{Service: "a"})
	q.Enqueue(Envelope{Service: "b"})
	q.Enqueue(Envelope{Service: "c"})

	batch := q.DrainBatch(2)
	if len(batch) != 2 {
		t.Fatalf("drained %d items, want 2", len(batch))
	}
	if got := q.GetDepth(); got != 1 {
		t.Fatalf("GetDepth() after partial drain = %d, want 1", got)
	}
}
