package listheader

import "testing"

func TestEncodeSmallLists(t *testing.T) {
	sizes := []uint64{3, 0, 5}
	headers, err := Encode(sizes, 2048)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if headers[0].Large() || headers[0].CSR() != 0 || headers[0].Size() != 3 {
		t.Fatalf("node 0 header wrong: %+v", headers[0])
	}
	if headers[1].Large() || headers[1].CSR() != 3 || headers[1].Size() != 0 {
		t.Fatalf("node 1 header wrong: %+v", headers[1])
	}
	if headers[2].Large() || headers[2].CSR() != 3 || headers[2].Size() != 5 {
		t.Fatalf("node 2 header wrong: %+v", headers[2])
	}
}

func TestEncodeLargeList(t *testing.T) {
	sizes := []uint64{4096, 1}
	headers, err := Encode(sizes, 2048)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !headers[0].Large() || headers[0].LargeIndex() != 0 {
		t.Fatalf("node 0 expected large idx 0, got %+v", headers[0])
	}
	if headers[1].Large() || headers[1].Size() != 1 || headers[1].CSR() != 0 {
		t.Fatalf("node 1 expected small, got %+v", headers[1])
	}
}

func TestEncodeLargeListIndexAssignedLeftToRight(t *testing.T) {
	sizes := []uint64{5000, 1, 6000}
	headers, err := Encode(sizes, 2048)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if headers[0].LargeIndex() != 0 {
		t.Fatalf("expected first large list to get index 0, got %d", headers[0].LargeIndex())
	}
	if headers[2].LargeIndex() != 1 {
		t.Fatalf("expected second large list to get index 1, got %d", headers[2].LargeIndex())
	}
}

func TestNewChunkResetsCSR(t *testing.T) {
	sizes := make([]uint64, 513)
	sizes[0] = 10
	sizes[512] = 7 // first node of the second chunk
	headers, err := Encode(sizes, 2048)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if headers[512].CSR() != 0 {
		t.Fatalf("expected chunk 1 to restart CSR at 0, got %d", headers[512].CSR())
	}
}
