package ttsengine

import "testing"

func TestSegmenterFirstSentenceCutsOnWideTerminator(t *testing.T) {
	s := newSegmenter()
	out := s.Push("Hi there, how can I help?")
	if len(out) == 0 {
		t.Fatalf("expected at least one sentence from first push")
	}
	if out[0] != "Hi there" {
		t.Fatalf("first sentence = %q, want %q (terminator stripped)", out[0], "Hi there")
	}
}

func TestSegmenterSubsequentSentencesIgnoreCommas(t *testing.T) {
	s := newSegmenter()
	first := s.Push("Sure thing,")
	if len(first) != 1 {
		t.Fatalf("first push = %v, want exactly one completed sentence", first)
	}

	out := s.Push("here is a long, comma-filled clause that should not break early, it should run to the end!")
	if len(out) != 1 {
		t.Fatalf("sentences = %v, want exactly one (commas ignored after first)", out)
	}
	if out[0][len(out[0])-1] == '!' {
		t.Fatalf("sentence = %q, want the trailing '!' stripped", out[0])
	}
	if out[0] != "here is a long, comma-filled clause that should not break early, it should run to the end" {
		t.Fatalf("sentence = %q, unexpected content", out[0])
	}
}

func TestSegmenterFinalizeFlushesRemainder(t *testing.T) {
	s := newSegmenter()
	_ = s.Push("no terminator yet")
	out := s.Finalize()
	if len(out) != 1 || out[0] != "no terminator yet" {
		t.Fatalf("Finalize() = %v, want [\"no terminator yet\"]", out)
	}
}

func TestSegmenterEmptyPushProducesNothing(t *testing.T) {
	s := newSegmenter()
	if out := s.Push(""); out != nil {
		t.Fatalf("Push(\"\") = %v, want nil", out)
	}
}

func TestSegmenterShortInputStillCutsOnTerminators(t *testing.T) {
	s := newSegmenter()
	out := s.Push("A。B!C")
	out = append(out, s.Finalize()...)
	want := []string{"A", "B", "C"}
	if len(out) != len(want) {
		t.Fatalf("sentences = %v, want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sentences = %v, want %v", out, want)
		}
	}
}

func TestSegmenterShortFirstSentenceCutsOnWideTerminator(t *testing.T) {
	s := newSegmenter()
	out := s.Push("A, B。C")
	out = append(out, s.Finalize()...)
	want := []string{"A", "B", "C"}
	if len(out) != len(want) {
		t.Fatalf("sentences = %v, want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sentences = %v, want %v", out, want)
		}
	}
}
