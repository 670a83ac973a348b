package glob

import "unicode/utf8"

// parseAtoms tokenizes a glob fragment into an ordered atom sequence.
//
// inAlternation is true when parsing one option of a brace alternation;
// a nested '{' is then rejected (spec §9: only a single, top-level brace
// alternation is supported; nested alternations are a syntax error).
func parseAtoms(s string, inAlternation bool) ([]Atom, error) {
	var atoms []Atom
	var lit []byte

	flushLit := func() {
		if len(lit) > 0 {
			atoms = append(atoms, Literal(string(lit)))
			lit = lit[:0]
		}
	}

	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\\':
			if i+1 >= len(s) {
				return nil, syntaxErr(s, i, "dangling escape character")
			}
			lit = append(lit, s[i+1])
			i += 2
		case c == '*':
			flushLit()
			if i+1 < len(s) && s[i+1] == '*' {
				atoms = append(atoms, DoubleStar{})
				i += 2
			} else {
				atoms = append(atoms, Star{})
				i++
			}
		case c == '?':
			flushLit()
			atoms = append(atoms, Any{})
			i++
		case c == '[':
			flushLit()
			cls, next, err := parseClass(s, i)
			if err != nil {
				return nil, err
			}
			atoms = append(atoms, cls)
			i = next
		case c == ']':
			return nil, syntaxErr(s, i, "unmatched ']'")
		case c == '{':
			flushLit()
			if inAlternation {
				return nil, syntaxErr(s, i, "nested brace alternation is not supported")
			}
			alt, next, err := parseAlternation(s, i)
			if err != nil {
				return nil, err
			}
			atoms = append(atoms, alt)
			i = next
		case c == '}':
			return nil, syntaxErr(s, i, "unmatched '}'")
		default:
			_, size := utf8.DecodeRuneInString(s[i:])
			lit = append(lit, s[i:i+size]...)
			i += size
		}
	}
	flushLit()
	return atoms, nil
}

// parseClass parses a `[...]` or `[!...]` character class starting at s[start] == '['.
// Returns the class and the index just past the closing ']'.
func parseClass(s string, start int) (Class, int, error) {
	i := start + 1
	if i >= len(s) {
		return Class{}, 0, syntaxErr(s, start, "unterminated character class")
	}

	cls := Class{Chars: map[rune]bool{}}
	if s[i] == '!' {
		cls.Negated = true
		i++
	}

	first := true
	for {
		if i >= len(s) {
			return Class{}, 0, syntaxErr(s, start, "unterminated character class")
		}
		if s[i] == ']' && !first {
			i++
			break
		}
		first = false

		r, size := utf8.DecodeRuneInString(s[i:])
		i += size

		if i+1 < len(s) && s[i] == '-' && s[i+1] != ']' {
			r2, size2 := utf8.DecodeRuneInString(s[i+1:])
			if r2 < r {
				return Class{}, 0, syntaxErr(s, i, "invalid character range (end before start)")
			}
			cls.Ranges = append(cls.Ranges, ClassRange{Lo: r, Hi: r2})
			i += 1 + size2
			continue
		}
		cls.Chars[r] = true
	}
	return cls, i, nil
}

// parseAlternation parses a `{a,b,c}` alternation starting at s[start] == '{'.
// Returns the alternation and the index just past the closing '}'.
//
// Commas are only significant at brace-depth 1; a nested '{' is a syntax
// error (one level of alternation only, per spec §9).
func parseAlternation(s string, start int) (Alternation, int, error) {
	i := start + 1
	optStart := i
	var options []string

	for {
		if i >= len(s) {
			return Alternation{}, 0, syntaxErr(s, start, "unterminated brace alternation")
		}
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return Alternation{}, 0, syntaxErr(s, i, "dangling escape character")
			}
			i += 2
		case '{':
			return Alternation{}, 0, syntaxErr(s, i, "nested brace alternation is not supported")
		case ',':
			options = append(options, s[optStart:i])
			optStart = i + 1
			i++
		case '}':
			options = append(options, s[optStart:i])
			i++
			if len(options) < 2 {
				return Alternation{}, 0, syntaxErr(s, start, "alternation requires at least two comma-separated options")
			}
			alt := Alternation{}
			for _, opt := range options {
				optAtoms, err := parseAtoms(opt, true)
				if err != nil {
					return Alternation{}, 0, err
				}
				alt.Options = append(alt.Options, optAtoms)
			}
			return alt, i, nil
		default:
			i++
		}
	}
}

// findFirstUnescapedMeta returns the index of the first unescaped glob
// metacharacter (* ? [ {), or -1 if the pattern has none.
func findFirstUnescapedMeta(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c == '\\' && i+1 < len(pattern) {
			i++
			continue
		}
		if c == '*' || c == '?' || c == '[' || c == '{' {
			return i
		}
	}
	return -1
}

// IsGlobPattern reports whether pattern contains an unescaped meta character.
func IsGlobPattern(pattern string) bool {
	return findFirstUnescapedMeta(pattern) != -1
}

// unescapeLiteral strips escape backslashes, turning glob escape syntax into
// the literal characters an S3 key would contain.
func unescapeLiteral(s string) string {
	if indexByte(s, '\\') < 0 {
		return s
	}
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			b = append(b, s[i+1])
			i++
			continue
		}
		b = append(b, c)
	}
	return string(b)
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// literalPrefix computes the longest initial substring of pattern containing
// no unescaped meta character (spec §3 "literal_prefix").
func literalPrefix(pattern string) string {
	idx := findFirstUnescapedMeta(pattern)
	if idx == -1 {
		return unescapeLiteral(pattern)
	}
	return unescapeLiteral(pattern[:idx])
}

// ParseURI splits a pattern string optionally prefixed by "s3://bucket/" or
// "bucket/" into its bucket and remaining pattern text (spec §4.1 input).
//
// Parsing is done by hand rather than via net/url: glob metacharacters like
// '?' would otherwise be misread as a URL query delimiter.
func ParseURI(uri string) (bucket, pattern string, err error) {
	rest := uri
	for i := 0; i+2 < len(rest); i++ {
		if rest[i] == ':' && rest[i+1] == '/' && rest[i+2] == '/' {
			scheme := rest[:i]
			if scheme != "s3" {
				return "", "", syntaxErr(uri, 0, "unsupported scheme: "+scheme)
			}
			rest = rest[i+3:]
			break
		}
	}
	if rest == "" {
		return "", "", syntaxErr(uri, 0, "missing bucket name")
	}
	slash := indexByte(rest, '/')
	if slash < 0 {
		return rest, "", nil
	}
	bucket = rest[:slash]
	pattern = rest[slash+1:]
	if bucket == "" {
		return "", "", syntaxErr(uri, 0, "missing bucket name")
	}
	return bucket, pattern, nil
}
