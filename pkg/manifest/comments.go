package manifest

// blankBlockComments replaces /* ... */ comments outside strings with spaces.
// Newlines inside a comment are kept, so parser positions still point at the
// original line and column. Line comments are left for the parser but are
// skipped here so that a "/*" inside one is not taken as an opening.
//
// It returns the 1-based line and column of an unterminated comment, or
// zeros when every comment is closed.
func blankBlockComments(data []byte) ([]byte, int, int) {
	out := make([]byte, len(data))
	copy(out, data)

	line, col := 1, 1
	advance := func(c byte) {
		if c == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}

	inString := false
	for i := 0; i < len(out); i++ {
		c := out[i]

		if inString {
			switch c {
			case '\\':
				if i+1 < len(out) {
					advance(c)
					i++
					c = out[i]
				}
			case '"':
				inString = false
			}
			advance(c)
			continue
		}

		switch {
		case c == '"':
			inString = true

		case c == '/' && i+1 < len(out) && out[i+1] == '/':
			for i < len(out) && out[i] != '\n' {
				advance(out[i])
				i++
			}
			if i < len(out) {
				advance(out[i])
			}
			continue

		case c == '/' && i+1 < len(out) && out[i+1] == '*':
			startLine, startCol := line, col
			closed := false
			for j := i; j < len(data); j++ {
				advance(data[j])
				if data[j] != '\n' && data[j] != '\r' {
					out[j] = ' '
				}
				// The '*' of the opening "/*" cannot close the comment.
				if j >= i+3 && data[j-1] == '*' && data[j] == '/' {
					i = j
					closed = true
					break
				}
			}
			if !closed {
				return nil, startLine, startCol
			}
			continue
		}

		advance(c)
	}

	return out, 0, 0
}
