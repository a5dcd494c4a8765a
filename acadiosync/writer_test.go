package acadiosync

import "testing"

func TestChunkSlice(t *testing.T) {
	items := make([]int, 237)
	chunks := chunkSlice(items, 100)
	if len(chunks) != 3 {
		t.Fatalf("chunks: got %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 100 || len(chunks[1]) != 100 || len(chunks[2]) != 37 {
		t.Errorf("chunk sizes: got %d/%d/%d, want 100/100/37", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}

	if got := chunkSlice([]int{}, 100); got != nil {
		t.Errorf("empty input: got %v, want nil", got)
	}

	// non-positive size falls back to the default
	if got := chunkSlice(make([]int, 5), 0); len(got) != 1 || len(got[0]) != 5 {
		t.Errorf("default size: got %v chunks", len(got))
	}
}
