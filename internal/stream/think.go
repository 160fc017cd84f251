package stream

import "strings"

// TagPair delimits a block of model reasoning hidden from the transcript.
type TagPair struct {
	Open  string
	Close string
}

// Tags is the set of recognized thinking delimiters.
type Tags []TagPair

// DefaultTags recognizes the short and the verbose reasoning tags.
var DefaultTags = Tags{
	{Open: "<think>", Close: "</think>"},
	{Open: "<thinking>", Close: "</thinking>"},
}

// ThinkState is carried between chunks. The zero value is Outside.
type ThinkState struct {
	inside bool
	close  string // awaited close tag while inside
	carry  string // possible partial tag at the end of the last input
}

// Inside reports whether the filter is within a thinking block.
func (s ThinkState) Inside() bool { return s.inside }

// Filter consumes text and returns the visible part. Output is identical for
// any chunking of the same input as long as Flush is called at the end.
func (t Tags) Filter(s ThinkState, text string) (string, ThinkState) {
	buf := s.carry + text
	s.carry = ""
	var out strings.Builder

	for buf != "" {
		if s.inside {
			if i := strings.Index(buf, s.close); i >= 0 {
				buf = buf[i+len(s.close):]
				s.inside, s.close = false, ""
				continue
			}
			s.carry = buf[len(buf)-partialSuffix(buf, []string{s.close}):]
			break
		}

		i, pair := t.firstOpen(buf)
		if i >= 0 {
			out.WriteString(buf[:i])
			buf = buf[i+len(pair.Open):]
			s.inside, s.close = true, pair.Close
			continue
		}
		k := partialSuffix(buf, t.opens())
		out.WriteString(buf[:len(buf)-k])
		s.carry = buf[len(buf)-k:]
		break
	}
	return out.String(), s
}

// Flush ends the input. A held-back partial tag outside a block turns out to
// be ordinary text and is returned; inside a block it is discarded.
func (t Tags) Flush(s ThinkState) (string, ThinkState) {
	rest := s.carry
	s.carry = ""
	if s.inside {
		return "", s
	}
	return rest, s
}

// FilterLines is the whole-response form. Lines inside a block are dropped,
// a line that only opens and closes a block is dropped, and text outside the
// tags on a mixed line is kept.
//
// Unlike Filter, which removes only the tagged text, FilterLines also drops
// the line breaks around a block that sits on lines of its own, so
// "a\n<think>\nb\n</think>\nc" becomes "a\nc" here and "a\n\nc" from Filter.
// Both agree when every block starts and ends on a line with other text.
func (t Tags) FilterLines(text string) string {
	var kept []string
	var s ThinkState
	for _, line := range strings.Split(text, "\n") {
		wasInside := s.inside
		visible, next := t.Filter(s, line)
		// Tags never span a line break in this form.
		tail, next := t.Flush(next)
		visible += tail

		touched := wasInside || next.inside || t.containsTag(line)
		s = next
		if touched && strings.TrimSpace(visible) == "" {
			continue
		}
		kept = append(kept, visible)
	}
	return strings.Join(kept, "\n")
}

func (t Tags) firstOpen(buf string) (int, TagPair) {
	best, bestPair := -1, TagPair{}
	for _, p := range t {
		if i := strings.Index(buf, p.Open); i >= 0 && (best < 0 || i < best) {
			best, bestPair = i, p
		}
	}
	return best, bestPair
}

func (t Tags) opens() []string {
	out := make([]string, len(t))
	for i, p := range t {
		out[i] = p.Open
	}
	return out
}

func (t Tags) containsTag(line string) bool {
	for _, p := range t {
		if strings.Contains(line, p.Open) || strings.Contains(line, p.Close) {
			return true
		}
	}
	return false
}

// partialSuffix returns the length of the longest suffix of buf that is a
// proper prefix of one of tags.
func partialSuffix(buf string, tags []string) int {
	longest := 0
	for _, tag := range tags {
		for k := len(tag) - 1; k > longest; k-- {
			if k <= len(buf) && strings.HasSuffix(buf, tag[:k]) {
				longest = k
				break
			}
		}
	}
	return longest
}

// EmptyPolicy decides what filtered-to-empty output becomes.
type EmptyPolicy int

const (
	// EmptyAsSpace replaces empty output with a single space so callers that
	// treat "" as pending can tell a finished empty answer apart.
	EmptyAsSpace EmptyPolicy = iota
	// EmptyAsIs returns empty output unchanged.
	EmptyAsIs
)

// ParseEmptyPolicy maps "space" and "empty" to a policy. Anything else is EmptyAsSpace.
func ParseEmptyPolicy(s string) EmptyPolicy {
	if strings.EqualFold(strings.TrimSpace(s), "empty") {
		return EmptyAsIs
	}
	return EmptyAsSpace
}

func (p EmptyPolicy) String() string {
	if p == EmptyAsIs {
		return "empty"
	}
	return "space"
}

// ApplyEmptyPolicy applies p to s.
func ApplyEmptyPolicy(s string, p EmptyPolicy) string {
	if s == "" && p == EmptyAsSpace {
		return " "
	}
	return s
}
