package glob

import (
	"regexp"
	"strings"
)

// Pattern is a compiled glob (spec §3).
type Pattern struct {
	// Raw is the original, uncompiled pattern text.
	Raw string

	// Tokens is the ordered atom sequence produced by the parser.
	Tokens []Atom

	// Regex confirms full-key matches: a key k matches iff Regex.MatchString(k).
	Regex *regexp.Regexp

	// Delimiter partitions keys into directory-like levels. Default '/'.
	Delimiter byte

	// LiteralPrefix is the longest initial substring with no meta characters;
	// the seed S3 prefix.
	LiteralPrefix string

	// FirstRecursiveIndex is the token index of the first DoubleStar atom,
	// or -1 if the pattern has none.
	FirstRecursiveIndex int
}

// Compile compiles pattern using the default '/' delimiter.
func Compile(pattern string) (*Pattern, error) {
	return CompileDelimiter(pattern, '/')
}

// CompileDelimiter compiles pattern using an explicit delimiter.
func CompileDelimiter(pattern string, delim byte) (*Pattern, error) {
	atoms, err := parseAtoms(pattern, false)
	if err != nil {
		return nil, err
	}

	p := &Pattern{
		Raw:                 pattern,
		Tokens:              atoms,
		Delimiter:           delim,
		LiteralPrefix:       literalPrefix(pattern),
		FirstRecursiveIndex: -1,
	}
	for i, a := range atoms {
		if _, ok := a.(DoubleStar); ok {
			p.FirstRecursiveIndex = i
			break
		}
	}

	var b strings.Builder
	b.WriteByte('^')
	writeAtomsRegex(&b, atoms, delim)
	b.WriteByte('$')

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, syntaxErr(pattern, 0, "internal: derived regex failed to compile: "+err.Error())
	}
	p.Regex = re
	return p, nil
}

// Match reports whether key fully matches the pattern.
func (p *Pattern) Match(key string) bool {
	return p.Regex.MatchString(key)
}

// HasRecursive reports whether the pattern contains a DoubleStar atom.
func (p *Pattern) HasRecursive() bool {
	return p.FirstRecursiveIndex != -1
}

func writeAtomsRegex(b *strings.Builder, atoms []Atom, delim byte) {
	for _, a := range atoms {
		writeAtomRegex(b, a, delim)
	}
}

func writeAtomRegex(b *strings.Builder, a Atom, delim byte) {
	switch v := a.(type) {
	case Literal:
		b.WriteString(regexp.QuoteMeta(string(v)))
	case Any:
		b.WriteString("[^")
		b.WriteString(regexp.QuoteMeta(string(rune(delim))))
		b.WriteString("]")
	case Star:
		b.WriteString("[^")
		b.WriteString(regexp.QuoteMeta(string(rune(delim))))
		b.WriteString("]*")
	case DoubleStar:
		b.WriteString("(?s:.*)")
	case Class:
		b.WriteString(classRegex(v))
	case Alternation:
		b.WriteString("(?:")
		for i, opt := range v.Options {
			if i > 0 {
				b.WriteString("|")
			}
			writeAtomsRegex(b, opt, delim)
		}
		b.WriteString(")")
	}
}

func classRegex(c Class) string {
	var b strings.Builder
	b.WriteByte('[')
	if c.Negated {
		b.WriteByte('^')
	}
	for r := range c.Chars {
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	for _, rg := range c.Ranges {
		b.WriteString(regexp.QuoteMeta(string(rg.Lo)))
		b.WriteByte('-')
		b.WriteString(regexp.QuoteMeta(string(rg.Hi)))
	}
	b.WriteByte(']')
	return b.String()
}
