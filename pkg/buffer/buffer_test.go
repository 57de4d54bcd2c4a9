package buffer

import (
	"errors"
	"math/rand"
	"testing"
)

type hdr struct {
	id int
}

func testConfig() Config {
	return Config{
		LargeBufferCount: 3,
		LargeBufferSize:  128,
		SmallBufferCount: 2,
		SmallBufferSize:  16,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"no small buffers", Config{LargeBufferCount: 1, LargeBufferSize: 10}, false},
		{"no large buffers", Config{LargeBufferSize: 10}, true},
		{"zero large size", Config{LargeBufferCount: 1}, true},
		{"negative small count", Config{LargeBufferCount: 1, LargeBufferSize: 10, SmallBufferCount: -1}, true},
		{"small not smaller", Config{LargeBufferCount: 1, LargeBufferSize: 10, SmallBufferCount: 1, SmallBufferSize: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v does not wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestAllocPrefersSmall(t *testing.T) {
	p, err := New[hdr](testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b := p.Alloc(10)
	if b == nil || !b.Small() {
		t.Fatalf("Alloc(10) = %v, want small buffer", b)
	}
	if b.Size() != 16 {
		t.Errorf("small buffer size = %d, want 16", b.Size())
	}

	b2 := p.Alloc(100)
	if b2 == nil || b2.Small() {
		t.Fatalf("Alloc(100) = %v, want large buffer", b2)
	}

	if got := p.Alloc(129); got != nil {
		t.Errorf("Alloc(129) = %v, want nil", got)
	}
}

func TestAllocFallsBackToLarge(t *testing.T) {
	p, _ := New[hdr](testConfig(), nil)

	p.Alloc(1)
	p.Alloc(1)
	b := p.Alloc(1)
	if b == nil || b.Small() {
		t.Fatalf("third small request = %v, want a large buffer", b)
	}
}

func TestExhaustionReturnsNil(t *testing.T) {
	p, _ := New[hdr](testConfig(), nil)

	for i := 0; i < 5; i++ {
		if p.Alloc(1) == nil {
			t.Fatalf("Alloc %d returned nil before exhaustion", i)
		}
	}
	if b := p.Alloc(1); b != nil {
		t.Errorf("Alloc after exhaustion = %v, want nil", b)
	}
	if p.InUse() != 5 {
		t.Errorf("InUse() = %d, want 5", p.InUse())
	}
}

func TestFreeNilAndDoubleFree(t *testing.T) {
	p, _ := New[hdr](testConfig(), nil)

	p.Free(nil)
	b := p.Alloc(100)
	p.Free(b)
	p.Free(b)

	large, small := p.Available()
	if large != 3 || small != 2 {
		t.Errorf("Available() = %d, %d; want 3, 2", large, small)
	}
}

func TestAllocClearsHeader(t *testing.T) {
	p, _ := New[hdr](Config{LargeBufferCount: 1, LargeBufferSize: 8}, nil)

	b := p.Alloc(8)
	b.Header.id = 42
	p.Free(b)

	b = p.Alloc(8)
	if b.Header.id != 0 {
		t.Errorf("header not reset: %+v", b.Header)
	}
}

// Random alloc/free sequences never hand out more buffers than configured and
// never hand out a buffer that is already in use.
func TestPoolInvariant(t *testing.T) {
	cfg := testConfig()
	p, _ := New[hdr](cfg, nil)
	rng := rand.New(rand.NewSource(7))

	inUse := map[*Buffer[hdr]]bool{}
	limit := cfg.LargeBufferCount + cfg.SmallBufferCount

	for i := 0; i < 2000; i++ {
		if rng.Intn(2) == 0 {
			b := p.Alloc(rng.Intn(140))
			if b == nil {
				continue
			}
			if inUse[b] {
				t.Fatalf("step %d: buffer handed out twice", i)
			}
			inUse[b] = true
		} else {
			for b := range inUse {
				p.Free(b)
				delete(inUse, b)
				break
			}
		}

		if len(inUse) > limit {
			t.Fatalf("step %d: %d buffers in use, limit %d", i, len(inUse), limit)
		}
		if p.InUse() != len(inUse) {
			t.Fatalf("step %d: pool reports %d in use, tracked %d", i, p.InUse(), len(inUse))
		}
	}
}

func TestQueueFIFO(t *testing.T) {
	p, _ := New[hdr](Config{LargeBufferCount: 5, LargeBufferSize: 8}, nil)
	q := NewQueue[hdr](0, nil)

	var want []*Buffer[hdr]
	for i := 0; i < 5; i++ {
		b := p.Alloc(1)
		b.Header.id = i
		if err := q.Append(b); err != nil {
			t.Fatalf("Append: %v", err)
		}
		want = append(want, b)
	}

	for i, w := range want {
		if got := q.Remove(nil); got != w {
			t.Fatalf("Remove %d returned id %d, want %d", i, got.Header.id, w.Header.id)
		}
	}
	if q.Remove(nil) != nil {
		t.Error("Remove on empty queue returned a buffer")
	}
	if q.head != nil || q.tail != nil || q.Len() != 0 {
		t.Error("empty queue has dangling head or tail")
	}
}

func TestQueueCapacity(t *testing.T) {
	p, _ := New[hdr](Config{LargeBufferCount: 3, LargeBufferSize: 8}, nil)
	q := NewQueue[hdr](2, nil)

	q.Append(p.Alloc(1))
	q.Append(p.Alloc(1))
	if err := q.Append(p.Alloc(1)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Append on full queue = %v, want ErrQueueFull", err)
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestQueueRemoveAndReadWithMatch(t *testing.T) {
	p, _ := New[hdr](Config{LargeBufferCount: 4, LargeBufferSize: 8}, nil)
	q := NewQueue[hdr](0, nil)
	for i := 0; i < 4; i++ {
		b := p.Alloc(1)
		b.Header.id = i
		q.Append(b)
	}

	byID := func(id int) func(*Buffer[hdr]) bool {
		return func(b *Buffer[hdr]) bool { return b.Header.id == id }
	}

	if b := q.Read(byID(2)); b == nil || b.Header.id != 2 {
		t.Fatalf("Read(2) = %v", b)
	}
	if q.Len() != 4 {
		t.Fatalf("Read changed the queue length to %d", q.Len())
	}

	tests := []struct {
		name string
		id   int
		want int
	}{
		{"middle", 2, 3},
		{"tail", 3, 2},
		{"head", 0, 1},
		{"missing", 9, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := q.Remove(byID(tt.id))
			if tt.id == 9 && b != nil {
				t.Fatalf("Remove(missing) = %v", b)
			}
			if q.Len() != tt.want || q.chainLen() != tt.want {
				t.Fatalf("Len() = %d chain = %d, want %d", q.Len(), q.chainLen(), tt.want)
			}
			if q.tail != nil && q.tail.next != nil {
				t.Fatal("tail.next is not nil")
			}
		})
	}

	// the remaining buffer is both head and tail
	if q.head != q.tail || q.head.Header.id != 1 {
		t.Errorf("head/tail mismatch after removals")
	}
}

func TestQueueFlushReturnsBuffers(t *testing.T) {
	p, _ := New[hdr](testConfig(), nil)
	q := NewQueue[hdr](0, nil)
	for i := 0; i < 4; i++ {
		q.Append(p.Alloc(50))
	}

	q.Flush(p)

	if q.Len() != 0 || q.chainLen() != 0 {
		t.Errorf("queue not empty after Flush")
	}
	if p.InUse() != 0 {
		t.Errorf("InUse() = %d after Flush, want 0", p.InUse())
	}
}

func TestQueueSizeInvariant(t *testing.T) {
	p, _ := New[hdr](Config{LargeBufferCount: 16, LargeBufferSize: 8}, nil)
	q := NewQueue[hdr](0, nil)
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < 500; i++ {
		switch rng.Intn(4) {
		case 0, 1:
			if b := p.Alloc(1); b != nil {
				b.Header.id = i
				q.Append(b)
			}
		case 2:
			mod := rng.Intn(3)
			p.Free(q.Remove(func(b *Buffer[hdr]) bool { return b.Header.id%3 == mod }))
		case 3:
			if rng.Intn(10) == 0 {
				q.Flush(p)
			} else {
				p.Free(q.Remove(nil))
			}
		}

		if q.Len() != q.chainLen() {
			t.Fatalf("step %d: size %d, chain %d", i, q.Len(), q.chainLen())
		}
		if (q.head == nil) != (q.Len() == 0) {
			t.Fatalf("step %d: head/size mismatch", i)
		}
	}
}
