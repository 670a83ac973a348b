// Package prefixgen expands the literal-expandable atoms of a compiled glob
// pattern into a set of concrete S3 prefixes, stopping at the first atom the
// scanner must resolve against S3 itself (spec §4.2).
package prefixgen

import (
	"fmt"

	"github.com/quodlibetor/s3glob/pkg/glob"
)

// Node is one frontier entry: a concrete literal prefix already expanded,
// plus the atoms still to be resolved against S3 by the scanner.
//
// Remaining is a slice rather than a token cursor into the original pattern
// so that an Alternation's chosen option can be spliced in ahead of the
// atoms that followed it, without needing a tree-shaped cursor.
type Node struct {
	Literal   string
	Remaining []glob.Atom
}

// Done reports whether every atom has been resolved to a literal, i.e. the
// node names a single concrete key rather than a prefix still needing a
// scan.
func (n Node) Done() bool {
	return len(n.Remaining) == 0
}

// CapExceededError is returned when expanding the frontier by one more round
// would exceed the configured cap. Generate returns it alongside a Result
// whose Frontier is the frontier as it stood immediately before the round
// that would have overflowed (spec §4.2: "yields the current frontier and
// marks the cursor unchanged").
type CapExceededError struct {
	Cap  int
	Peak int
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("prefix expansion exceeded cap of %d nodes (peak %d)", e.Cap, e.Peak)
}

// Result is the outcome of Generate.
type Result struct {
	// Frontier is the final set of nodes: each either Done (a concrete
	// object key) or headed by an atom the scanner must resolve (Any, Star,
	// DoubleStar, or a negated Class).
	Frontier []Node

	// PeakFrontier is the largest frontier size observed during expansion,
	// a scalar counter per spec §4.2 ("a scalar counter, not a log").
	PeakFrontier int
}

// Generate performs the Cartesian expansion of p's literal-expandable atoms
// (Literal, non-negated Class, Alternation) up to, but not through, the first
// Any/Star/DoubleStar/negated-Class atom. cap bounds the frontier size; if
// expanding the next round of nodes would exceed cap, Generate returns the
// pre-expansion frontier together with a *CapExceededError.
//
// Negated character classes ([!abc]) are deliberately NOT expanded: in the
// general case they describe "every rune except a finite set", which has no
// bounded enumeration. They are treated like Any/Star — left for the scanner
// to resolve against the real S3 listing and the full-pattern regex.
func Generate(p *glob.Pattern, cap int) (Result, error) {
	frontier := []Node{{Literal: "", Remaining: p.Tokens}}
	peak := len(frontier)

	for {
		next, progressed, err := expandRound(frontier, cap)
		if err != nil {
			return Result{Frontier: frontier, PeakFrontier: peak}, err
		}
		if !progressed {
			return Result{Frontier: frontier, PeakFrontier: peak}, nil
		}
		frontier = next
		if len(frontier) > peak {
			peak = len(frontier)
		}
	}
}

// expandRound expands every frontier node whose head atom is structurally
// expandable by exactly one atom. Nodes with no remaining atoms, or whose
// head atom is not expandable, pass through unchanged. progressed is false
// once no node in the frontier has an expandable head, which terminates
// Generate's loop.
func expandRound(frontier []Node, cap int) (next []Node, progressed bool, err error) {
	var total int
	expansions := make([][]Node, len(frontier))

	for i, n := range frontier {
		if n.Done() {
			expansions[i] = []Node{n}
			total++
			continue
		}
		children, ok := expandHead(n)
		if !ok {
			expansions[i] = []Node{n}
			total++
			continue
		}
		progressed = true
		expansions[i] = children
		total += len(children)
	}

	if !progressed {
		return frontier, false, nil
	}
	if total > cap {
		return nil, false, &CapExceededError{Cap: cap, Peak: total}
	}

	next = make([]Node, 0, total)
	for _, children := range expansions {
		next = append(next, children...)
	}
	return next, true, nil
}

// expandHead expands n's first remaining atom by one level, if it is a
// Literal, non-negated Class, or Alternation. ok is false if the head atom
// must be resolved by the scanner instead.
func expandHead(n Node) (children []Node, ok bool) {
	head, rest := n.Remaining[0], n.Remaining[1:]

	switch v := head.(type) {
	case glob.Literal:
		return []Node{{Literal: n.Literal + string(v), Remaining: rest}}, true

	case glob.Class:
		if v.Negated {
			return nil, false
		}
		runes := classRunes(v)
		children = make([]Node, 0, len(runes))
		for _, r := range runes {
			children = append(children, Node{
				Literal:   n.Literal + string(r),
				Remaining: rest,
			})
		}
		return children, true

	case glob.Alternation:
		children = make([]Node, 0, len(v.Options))
		for _, opt := range v.Options {
			spliced := make([]glob.Atom, 0, len(opt)+len(rest))
			spliced = append(spliced, opt...)
			spliced = append(spliced, rest...)
			children = append(children, Node{Literal: n.Literal, Remaining: spliced})
		}
		return children, true

	default:
		// Any, Star, DoubleStar: left for the scanner.
		return nil, false
	}
}

// classRunes enumerates a non-negated class's members in a stable order:
// explicit characters first (sorted), then range members in range order.
// Character ranges expand to the full inclusive range of code points (spec
// §4.2).
func classRunes(c glob.Class) []rune {
	var out []rune
	chars := make([]rune, 0, len(c.Chars))
	for r := range c.Chars {
		chars = append(chars, r)
	}
	sortRunes(chars)
	out = append(out, chars...)
	for _, rg := range c.Ranges {
		for r := rg.Lo; r <= rg.Hi; r++ {
			out = append(out, r)
		}
	}
	return out
}

func sortRunes(rs []rune) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j-1] > rs[j]; j-- {
			rs[j-1], rs[j] = rs[j], rs[j-1]
		}
	}
}
