package relay

import "testing"

func TestNewBuffer(t *testing.T) {
	buf := NewBuffer(4)

	if buf.Cap() != 4 {
		t.Errorf("Expected capacity 4, got: %d", buf.Cap())
	}
	if !buf.Empty() {
		t.Error("Expected new buffer to be empty")
	}
	if !buf.HasRoom() {
		t.Error("Expected new buffer to have room")
	}
	if len(buf.Free()) != 4 {
		t.Errorf("Expected 4 free bytes, got: %d", len(buf.Free()))
	}
}

func TestNewBuffer_InvalidCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for zero capacity")
		}
	}()
	NewBuffer(0)
}

func TestBuffer_ProduceConsume(t *testing.T) {
	buf := NewBuffer(4)

	copy(buf.Free(), "AB")
	buf.Produce(2)

	if got := string(buf.Pending()); got != "AB" {
		t.Errorf("Expected pending %q, got %q", "AB", got)
	}
	if produced, consumed := buf.Cursors(); produced != 2 || consumed != 0 {
		t.Errorf("Expected cursors (2, 0), got (%d, %d)", produced, consumed)
	}

	if drained := buf.Consume(1); drained {
		t.Error("Expected buffer not to drain after consuming 1 of 2")
	}
	if got := string(buf.Pending()); got != "B" {
		t.Errorf("Expected pending %q, got %q", "B", got)
	}
	if len(buf.Free()) != 2 {
		t.Errorf("Expected free region to stay at the tail, got %d bytes", len(buf.Free()))
	}

	if drained := buf.Consume(1); !drained {
		t.Error("Expected buffer to drain")
	}
	if produced, consumed := buf.Cursors(); produced != 0 || consumed != 0 {
		t.Errorf("Expected cursors to rewind to (0, 0), got (%d, %d)", produced, consumed)
	}
	if len(buf.Free()) != 4 {
		t.Errorf("Expected full capacity reclaimed, got %d free", len(buf.Free()))
	}
}

func TestBuffer_Full(t *testing.T) {
	buf := NewBuffer(3)
	buf.Produce(3)

	if buf.HasRoom() {
		t.Error("Expected full buffer to have no room")
	}
	if buf.Len() != 3 {
		t.Errorf("Expected length 3, got: %d", buf.Len())
	}

	buf.Consume(2)
	if buf.HasRoom() {
		t.Error("Expected no room until the buffer drains")
	}
}

func TestBuffer_BoundsChecks(t *testing.T) {
	tests := []struct {
		name string
		op   func(b *Buffer)
	}{
		{
			name: "produce beyond capacity",
			op:   func(b *Buffer) { b.Produce(5) },
		},
		{
			name: "negative produce",
			op:   func(b *Buffer) { b.Produce(-1) },
		},
		{
			name: "consume beyond produced",
			op: func(b *Buffer) {
				b.Produce(2)
				b.Consume(3)
			},
		},
		{
			name: "negative consume",
			op:   func(b *Buffer) { b.Consume(-1) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Expected panic")
				}
			}()
			tt.op(NewBuffer(4))
		})
	}
}
