package audio

import (
	"bytes"
	"testing"
)

func TestJoinAndSplitLengthPrefixedFramesRoundTrip(t *testing.T) {
	frames := [][]byte{
		[]byte("first-frame"),
		[]byte("second"),
		{},
	}

	joined := JoinLengthPrefixedFrames(frames)
	got, err := SplitLengthPrefixedFrames(joined)
	if err != nil {
		t.Fatalf("SplitLengthPrefixedFrames() error = %v", err)
	}
	if len(got) != len(frames) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(frames))
	}
	for i := range frames {
		if !bytes.Equal(got[i], frames[i]) {
			t.Fatalf("frame %d = %v, want %v", i, got[i], frames[i])
		}
	}
}

func TestSplitLengthPrefixedFramesRejectsTruncatedBuffer(t *testing.T) {
	_, err := SplitLengthPrefixedFrames([]byte{5, 0, 1, 2})
	if err == nil {
		t.Fatalf("expected error for truncated frame buffer")
	}
}
