package capture

import (
	"strings"
	"testing"
)

func TestHeadBuffer(t *testing.T) {
	fired := 0
	b := NewHeadBuffer(5, func() { fired++ })

	if n, err := b.Write([]byte("abc")); n != 3 || err != nil {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if b.Truncated() {
		t.Fatal("should not be truncated yet")
	}
	if n, _ := b.Write([]byte("defgh")); n != 5 {
		t.Fatalf("Write must report full length, got %d", n)
	}
	_, _ = b.Write([]byte("ij"))

	if got := b.String(); got != "abcde" {
		t.Fatalf("String() = %q", got)
	}
	if !b.Truncated() || fired != 1 {
		t.Fatalf("truncated=%v fired=%d", b.Truncated(), fired)
	}
	if b.Total() != 10 {
		t.Fatalf("Total() = %d", b.Total())
	}
}

func TestHeadBufferExactLimit(t *testing.T) {
	b := NewHeadBuffer(3, nil)
	_, _ = b.Write([]byte("abc"))
	if b.Truncated() {
		t.Fatal("writing exactly the limit is not an overflow")
	}
}

func TestHeadBufferUnbounded(t *testing.T) {
	b := NewHeadBuffer(0, nil)
	_, _ = b.Write([]byte(strings.Repeat("x", 1<<16)))
	if b.Truncated() || len(b.Bytes()) != 1<<16 {
		t.Fatal("unbounded buffer dropped data")
	}
}

func TestRingBuffer(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		writes    []string
		want      string
		truncated bool
	}{
		{"fits", 8, []string{"abc", "de"}, "abcde", false},
		{"exact", 4, []string{"ab", "cd"}, "abcd", false},
		{"wraps", 4, []string{"abc", "def"}, "cdef", true},
		{"large single write", 3, []string{"abcdefg"}, "efg", true},
		{"wrap after large write", 3, []string{"abcdefg", "hi"}, "ghi", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRingBuffer(tt.limit)
			for _, w := range tt.writes {
				_, _ = r.Write([]byte(w))
			}
			if got := r.String(); got != tt.want {
				t.Fatalf("String() = %q, want %q", got, tt.want)
			}
			if r.Truncated() != tt.truncated {
				t.Fatalf("Truncated() = %v", r.Truncated())
			}
		})
	}
}
