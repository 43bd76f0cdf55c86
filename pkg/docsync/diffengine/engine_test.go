package diffengine

import "testing"

func TestEngine_MakeApplyRoundTrip(t *testing.T) {
	e := New(Strict)
	before := "the quick brown fox"
	after := "the quick red fox jumps"

	patch := e.MakePatch(before, after)
	patched, okPerHunk, _ := e.Apply(patch, before)

	for i, ok := range okPerHunk {
		if !ok {
			t.Fatalf("hunk %d did not apply cleanly", i)
		}
	}
	if patched != after {
		t.Fatalf("patched = %q, want %q", patched, after)
	}
}

func TestEngine_ApplyNoop(t *testing.T) {
	e := New(Strict)
	patch := e.MakePatch("same", "same")
	if !patch.Empty() {
		t.Fatalf("expected empty patch for identical strings")
	}
	patched, okPerHunk, commands := e.Apply(patch, "same")
	if patched != "same" || okPerHunk != nil || commands != nil {
		t.Fatalf("applying an empty patch should be a pure no-op")
	}
}

func TestEngine_ToTextFromTextRoundTrip(t *testing.T) {
	e := New(Strict)
	patch := e.MakePatch("hello world", "hello brave world")
	text := e.ToText(patch)

	parsed, err := e.FromText(text)
	if err != nil {
		t.Fatalf("FromText: %v", err)
	}

	before := "hello world"
	want, _, _ := e.Apply(patch, before)
	got, okPerHunk, _ := e.Apply(parsed, before)
	for i, ok := range okPerHunk {
		if !ok {
			t.Fatalf("round-tripped hunk %d did not apply", i)
		}
	}
	if got != want {
		t.Fatalf("round-tripped patch produced %q, want %q", got, want)
	}
}

func TestEngine_StrictRejectsDriftedContext(t *testing.T) {
	strict := New(Strict)
	patch := strict.MakePatch("abcdefghij", "abcXdefghij")

	// Apply against text that shares none of the hunk's context, so an
	// exact-match engine cannot locate the hunk.
	_, okPerHunk, _ := strict.Apply(patch, "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	if !hasFalse(okPerHunk) {
		t.Fatalf("expected strict policy to reject a patch against unrelated text")
	}
}

func TestApplyCommands_InsertAndDelete(t *testing.T) {
	e := New(Strict)
	before := "hello world"
	after := "hello brave new world"

	patch := e.MakePatch(before, after)
	_, _, commands := e.Apply(patch, before)

	got := ApplyCommands(before, commands)
	if got != after {
		t.Fatalf("ApplyCommands(%q, commands) = %q, want %q", before, got, after)
	}
}

func hasFalse(okPerHunk []bool) bool {
	for _, ok := range okPerHunk {
		if !ok {
			return true
		}
	}
	return false
}
