package fat

import (
	"errors"
	"testing"

	"github.com/open-board-tools/board-image-composer/internal/format"
)

func TestTable12BitPacking(t *testing.T) {
	// Entries [0xFF8, 0xFFF, 0x003, 0xFFF, 0xABC, 0x123] packed three bytes
	// per pair of entries.
	tab := &Table{Bits: 12, data: []byte{
		0xF8, 0xFF, 0xFF,
		0x03, 0xF0, 0xFF,
		0xBC, 0x3A, 0x12,
	}, clusters: 6}

	want := []uint32{0xFF8, 0xFFF, 0x003, 0xFFF, 0xABC, 0x123}
	for i, w := range want {
		got, err := tab.Entry(uint32(i))
		if err != nil {
			t.Fatalf("Entry(%d): %v", i, err)
		}
		if got != w {
			t.Fatalf("Entry(%d) = %#03x, want %#03x", i, got, w)
		}
	}
}

func TestTable16And32Entries(t *testing.T) {
	tab16 := &Table{Bits: 16, data: []byte{0xF8, 0xFF, 0xFF, 0xFF, 0x03, 0x00, 0xF8, 0xFF}, clusters: 4}
	got, err := tab16.Entry(2)
	if err != nil || got != 3 {
		t.Fatalf("fat16 Entry(2) = %d, %v, want 3", got, err)
	}

	// FAT32 entries mask off the reserved top nibble.
	tab32 := &Table{Bits: 32, data: []byte{0xFF, 0xFF, 0xFF, 0xFF}, clusters: 1}
	got, err = tab32.Entry(0)
	if err != nil || got != 0x0FFFFFFF {
		t.Fatalf("fat32 Entry(0) = %#x, %v, want 0x0FFFFFFF", got, err)
	}
}

func TestChainStopsAtEOF(t *testing.T) {
	// 2 -> 3 -> 4 -> EOF.
	tab := &Table{Bits: 16, data: []byte{
		0xF8, 0xFF, 0xFF, 0xFF,
		0x03, 0x00, 0x04, 0x00,
		0xF8, 0xFF,
	}, clusters: 8}
	chain, err := tab.Chain(2)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	want := []uint32{2, 3, 4}
	if len(chain) != len(want) {
		t.Fatalf("chain = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("chain = %v, want %v", chain, want)
		}
	}
}

func TestChainDetectsCycle(t *testing.T) {
	// 2 -> 3 -> 2: the walk must fail instead of looping.
	tab := &Table{Bits: 16, data: []byte{
		0xF8, 0xFF, 0xFF, 0xFF,
		0x03, 0x00, 0x02, 0x00,
	}, clusters: 4}
	_, err := tab.Chain(2)
	if err == nil {
		t.Fatal("cycle accepted")
	}
	if !errors.Is(err, format.ErrIntegrityViolation) {
		t.Fatalf("err = %v, want integrity violation", err)
	}
}

func TestChainRejectsReservedCluster(t *testing.T) {
	// 2 -> 1 points into the reserved range.
	tab := &Table{Bits: 16, data: []byte{
		0xF8, 0xFF, 0xFF, 0xFF,
		0x01, 0x00,
	}, clusters: 4}
	_, err := tab.Chain(2)
	if !errors.Is(err, format.ErrIntegrityViolation) {
		t.Fatalf("err = %v, want integrity violation", err)
	}
}

func TestEntryBeyondTableEnd(t *testing.T) {
	tab := &Table{Bits: 16, data: make([]byte, 8), clusters: 4}
	_, err := tab.Entry(100)
	if !errors.Is(err, format.ErrTruncated) {
		t.Fatalf("err = %v, want truncated input", err)
	}
}
