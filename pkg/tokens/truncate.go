package tokens

// Item is one candidate text row for budget truncation. Callers must
// pre-sort items by relevance; position encodes priority.
type Item struct {
	Payload string
	Tokens  int
}

// Truncate returns the longest prefix of items whose summed token cost stays
// within ceiling. If the first item alone exceeds the ceiling, it is returned
// by itself so a query is never starved of all context. An empty input or a
// non-positive ceiling yields nil.
func Truncate(items []Item, ceiling int) []Item {
	if len(items) == 0 || ceiling <= 0 {
		return nil
	}

	total := 0
	end := 0
	for _, item := range items {
		if total+item.Tokens > ceiling {
			break
		}
		total += item.Tokens
		end++
	}

	if end == 0 {
		return items[:1]
	}
	return items[:end]
}

// TruncateStrings budget-truncates raw strings, counting each with enc.
func TruncateStrings(enc Encoder, texts []string, ceiling int) []string {
	items := make([]Item, 0, len(texts))
	for _, t := range texts {
		items = append(items, Item{Payload: t, Tokens: enc.Count(t)})
	}

	kept := Truncate(items, ceiling)
	out := make([]string, 0, len(kept))
	for _, item := range kept {
		out = append(out, item.Payload)
	}
	return out
}

// Batch splits items into consecutive groups, each within ceiling. An item
// larger than the ceiling forms a batch of its own. Order is preserved.
func Batch(items []Item, ceiling int) [][]Item {
	if len(items) == 0 || ceiling <= 0 {
		return nil
	}

	var batches [][]Item
	rest := items
	for len(rest) > 0 {
		prefix := Truncate(rest, ceiling)
		batches = append(batches, prefix)
		rest = rest[len(prefix):]
	}
	return batches
}
