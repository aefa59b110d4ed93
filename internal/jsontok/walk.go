package jsontok

// Text returns the source bytes covered by tok.
func Text(src []byte, tok Token) []byte {
	return src[tok.Start:tok.End]
}

// Eq reports whether tok is a string equal to s.
func Eq(src []byte, tok Token, s string) bool {
	return tok.Kind == String && string(Text(src, tok)) == s
}

// Skip returns the index just past the subtree rooted at toks[i].
func Skip(toks []Token, i int) int {
	if i >= len(toks) {
		return len(toks)
	}
	tok := toks[i]
	switch tok.Kind {
	case Object, Array:
		j := i + 1
		for n := 0; n < tok.Size; n++ {
			j = Skip(toks, j)
		}
		return j
	default:
		if tok.Size > 0 {
			return Skip(toks, i+1)
		}
		return i + 1
	}
}

// Lookup finds the value token for key in the object at toks[obj].
func Lookup(src []byte, toks []Token, obj int, key string) (Token, bool) {
	if obj >= len(toks) || toks[obj].Kind != Object {
		return Token{}, false
	}
	j := obj + 1
	for n := 0; n < toks[obj].Size; n++ {
		if j+1 < len(toks) && Eq(src, toks[j], key) && toks[j].Size > 0 {
			return toks[j+1], true
		}
		j = Skip(toks, j)
	}
	return Token{}, false
}
