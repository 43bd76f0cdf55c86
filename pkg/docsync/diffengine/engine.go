// Package diffengine wraps github.com/sergi/go-diff/diffmatchpatch behind
// the thin, configurable-strictness API the convergence engine needs:
// making, applying, and serializing character-level patches.
package diffengine

import (
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/musius/collaboration/pkg/docsync/types"
)

// Policy configures how forgiving Apply is about context drift.
// MatchThreshold follows diffmatchpatch's own convention: 0.0 demands an
// exact match at the expected location, 1.0 accepts any location.
type Policy struct {
	MatchThreshold float64
}

// Strict requires the patch's context to match exactly.
var Strict = Policy{MatchThreshold: 0.0}

// Loose tolerates drifted context, degrading gracefully instead of failing.
var Loose = Policy{MatchThreshold: 1.0}

// EditorCommandKind distinguishes the two primitive text mutations an
// editor integration can replay.
type EditorCommandKind int

const (
	// Insert inserts Text at Offset.
	Insert EditorCommandKind = iota
	// Delete removes len(Text) runes starting at Offset.
	Delete
)

// EditorCommand describes one concrete insert/delete performed against a
// text buffer, derived after a patch was applied, so an external editor
// can replay it on its own view without re-diffing.
type EditorCommand struct {
	Kind   EditorCommandKind
	Offset int
	Text   string
}

// Patch is an opaque, serializable sequence of character-level diff hunks.
type Patch struct {
	hunks []diffmatchpatch.Patch
}

// Empty reports whether the patch carries no hunks at all.
func (p Patch) Empty() bool {
	return len(p.hunks) == 0
}

// Engine makes, applies, and serializes Patch values under a fixed Policy.
// An Engine is stateless after construction and may be shared freely across
// peers in the same process, matching spec.md's "strict and loose instances
// are stateless and shared" note.
type Engine struct {
	dmp    *diffmatchpatch.DiffMatchPatch
	policy Policy
}

// New builds an Engine configured with policy.
func New(policy Policy) *Engine {
	dmp := diffmatchpatch.New()
	dmp.MatchThreshold = policy.MatchThreshold
	return &Engine{dmp: dmp, policy: policy}
}

// MakePatch computes the patch taking a to b.
func (e *Engine) MakePatch(a, b string) Patch {
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCleanupSemantic(diffs)
	return Patch{hunks: e.dmp.PatchMake(a, diffs)}
}

// Apply applies p against text under the engine's configured policy. It
// never fails outright: okPerHunk reports, per hunk, whether that hunk
// matched cleanly; any false means the patch did not apply cleanly as a
// whole. commands is derived from diffing text against the result, so it
// reflects what genuinely changed, including fuzzy-shifted hunks.
func (e *Engine) Apply(p Patch, text string) (patched string, okPerHunk []bool, commands []EditorCommand) {
	if p.Empty() {
		return text, nil, nil
	}
	patched, okPerHunk = e.dmp.PatchApply(p.hunks, text)
	commands = e.diffToCommands(text, patched)
	return patched, okPerHunk, commands
}

// ToText renders p into the textual, stable serialization spec.md §3
// requires (round-trip equal after FromText).
func (e *Engine) ToText(p Patch) string {
	return e.dmp.PatchToText(p.hunks)
}

// FromText parses the textual serialization produced by ToText.
func (e *Engine) FromText(s string) (Patch, error) {
	hunks, err := e.dmp.PatchFromText(s)
	if err != nil {
		return Patch{}, types.ErrEncodingUnsupported
	}
	return Patch{hunks: hunks}, nil
}

// diffToCommands walks a fresh diff between before and after and turns it
// into an ordered list of insert/delete commands an editor can replay.
func (e *Engine) diffToCommands(before, after string) []EditorCommand {
	diffs := e.dmp.DiffMain(before, after, false)
	var commands []EditorCommand
	offset := 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			offset += runeLen(d.Text)
		case diffmatchpatch.DiffInsert:
			commands = append(commands, EditorCommand{Kind: Insert, Offset: offset, Text: d.Text})
			offset += runeLen(d.Text)
		case diffmatchpatch.DiffDelete:
			commands = append(commands, EditorCommand{Kind: Delete, Offset: offset, Text: d.Text})
		}
	}
	return commands
}

func runeLen(s string) int {
	return len([]rune(s))
}

// ApplyCommands replays commands against text, used by tests to verify that
// the derived command stream actually reproduces the patched text. Offsets
// in commands are positions in the buffer as it stands immediately before
// that command runs, so commands must be replayed in order against a single
// evolving buffer.
func ApplyCommands(text string, commands []EditorCommand) string {
	buf := []rune(text)
	for _, c := range commands {
		offset := c.Offset
		if offset > len(buf) {
			offset = len(buf)
		}
		switch c.Kind {
		case Insert:
			inserted := []rune(c.Text)
			next := make([]rune, 0, len(buf)+len(inserted))
			next = append(next, buf[:offset]...)
			next = append(next, inserted...)
			next = append(next, buf[offset:]...)
			buf = next
		case Delete:
			n := runeLen(c.Text)
			end := offset + n
			if end > len(buf) {
				end = len(buf)
			}
			next := make([]rune, 0, len(buf)-(end-offset))
			next = append(next, buf[:offset]...)
			next = append(next, buf[end:]...)
			buf = next
		}
	}
	return string(buf)
}
