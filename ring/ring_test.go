package ring

import "testing"

func TestBytesOverflowDropsNewest(t *testing.T) {
	r := NewBytes(4)
	for i := 0; i < 4; i++ {
		if !r.Enqueue(byte(i)) {
			t.Fatalf("Enqueue(%d) = false, want true", i)
		}
	}
	if !r.Full() {
		t.Fatal("Full() = false, want true")
	}
	if r.Enqueue(99) {
		t.Fatal("Enqueue on full ring = true, want false")
	}
	if r.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", r.Dropped())
	}
	for i := 0; i < 4; i++ {
		b, ok := r.Dequeue()
		if !ok || b != byte(i) {
			t.Fatalf("Dequeue() = %d,%v, want %d,true", b, ok, i)
		}
	}
	if !r.Empty() {
		t.Fatal("Empty() = false, want true")
	}
	if _, ok := r.Dequeue(); ok {
		t.Fatal("Dequeue on empty ring = true, want false")
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	type rec struct{ A, B int }
	r := NewRecords[rec](2) // rounds to 2
	if !r.Enqueue(rec{1, 2}) {
		t.Fatal("Enqueue failed")
	}
	if !r.Enqueue(rec{3, 4}) {
		t.Fatal("Enqueue failed")
	}
	if r.Enqueue(rec{5, 6}) {
		t.Fatal("Enqueue on full ring succeeded")
	}
	v, ok := r.Dequeue()
	if !ok || v != (rec{1, 2}) {
		t.Fatalf("Dequeue() = %v,%v, want {1 2},true", v, ok)
	}
}
