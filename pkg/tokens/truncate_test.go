package tokens

import (
	"strings"
	"testing"
)

// wordEncoder counts whitespace-separated words, keeping tests independent
// of BPE vocabularies.
type wordEncoder struct{}

func (wordEncoder) Count(text string) int {
	return len(strings.Fields(text))
}

func item(payload string, tokens int) Item {
	return Item{Payload: payload, Tokens: tokens}
}

func TestTruncate_MaximalPrefix(t *testing.T) {
	items := []Item{
		item("a", 4),
		item("b", 3),
		item("c", 2),
		item("d", 5),
	}

	got := Truncate(items, 9)
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Payload != want {
			t.Fatalf("item %d: expected %q, got %q", i, want, got[i].Payload)
		}
	}
}

func TestTruncate_ExactFit(t *testing.T) {
	items := []Item{item("a", 5), item("b", 5)}

	got := Truncate(items, 10)
	if len(got) != 2 {
		t.Fatalf("expected both items at exact ceiling, got %d", len(got))
	}
}

func TestTruncate_FirstItemOverCeiling(t *testing.T) {
	items := []Item{item("huge", 100), item("small", 1)}

	got := Truncate(items, 10)
	if len(got) != 1 {
		t.Fatalf("expected exactly the first item, got %d items", len(got))
	}
	if got[0].Payload != "huge" {
		t.Fatalf("expected first item, got %q", got[0].Payload)
	}
}

func TestTruncate_NeverEmptyWithPositiveCeiling(t *testing.T) {
	// Any non-empty input with a positive ceiling must keep at least one
	// item, no matter how small the ceiling is.
	items := []Item{item("a", 50), item("b", 50)}

	for ceiling := 1; ceiling <= 49; ceiling++ {
		got := Truncate(items, ceiling)
		if len(got) == 0 {
			t.Fatalf("ceiling %d: result must not be empty", ceiling)
		}
	}
}

func TestTruncate_EmptyAndInvalidInput(t *testing.T) {
	if got := Truncate(nil, 10); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if got := Truncate([]Item{item("a", 1)}, 0); got != nil {
		t.Fatalf("expected nil for zero ceiling, got %v", got)
	}
	if got := Truncate([]Item{item("a", 1)}, -5); got != nil {
		t.Fatalf("expected nil for negative ceiling, got %v", got)
	}
}

func TestTruncate_OrderPreserved(t *testing.T) {
	items := []Item{item("x", 1), item("y", 1), item("z", 1)}

	got := Truncate(items, 2)
	if len(got) != 2 || got[0].Payload != "x" || got[1].Payload != "y" {
		t.Fatalf("expected prefix [x y], got %v", got)
	}
}

func TestTruncateStrings(t *testing.T) {
	enc := wordEncoder{}
	texts := []string{
		"one two three",
		"four five",
		"six seven eight nine",
	}

	got := TruncateStrings(enc, texts, 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 strings, got %d", len(got))
	}
	if got[0] != texts[0] || got[1] != texts[1] {
		t.Fatalf("expected first two strings, got %v", got)
	}
}

func TestBatch_ConsecutiveGroups(t *testing.T) {
	items := []Item{
		item("a", 4),
		item("b", 4),
		item("c", 4),
		item("d", 4),
		item("e", 4),
	}

	batches := Batch(items, 8)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 2 || len(batches[1]) != 2 || len(batches[2]) != 1 {
		t.Fatalf("unexpected batch sizes: %d %d %d", len(batches[0]), len(batches[1]), len(batches[2]))
	}

	var flat []string
	for _, b := range batches {
		for _, it := range b {
			flat = append(flat, it.Payload)
		}
	}
	want := []string{"a", "b", "c", "d", "e"}
	for i := range want {
		if flat[i] != want[i] {
			t.Fatalf("batching must preserve order, got %v", flat)
		}
	}
}

func TestBatch_OversizedItemGetsOwnBatch(t *testing.T) {
	items := []Item{
		item("small", 2),
		item("huge", 50),
		item("tail", 2),
	}

	batches := Batch(items, 10)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[1]) != 1 || batches[1][0].Payload != "huge" {
		t.Fatalf("oversized item must form its own batch, got %v", batches[1])
	}
}

func TestBatch_EmptyInput(t *testing.T) {
	if got := Batch(nil, 10); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if got := Batch([]Item{item("a", 1)}, 0); got != nil {
		t.Fatalf("expected nil for zero ceiling, got %v", got)
	}
}
