package shell

import "strings"

// token is a word or an unquoted operator.
type token struct {
	text string
	op   bool
}

// tokenize splits input into words, honoring single and double quotes.
// Unquoted |, > and >> become operator tokens. Quotes are removed.
func tokenize(input string) []token {
	var out []token
	var cur strings.Builder
	inWord := false
	var quote rune

	flush := func() {
		if inWord {
			out = append(out, token{text: cur.String()})
			cur.Reset()
			inWord = false
		}
	}

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
			inWord = true
		case ' ', '\t':
			flush()
		case '|':
			flush()
			out = append(out, token{text: "|", op: true})
		case '>':
			flush()
			if i+1 < len(runes) && runes[i+1] == '>' {
				out = append(out, token{text: ">>", op: true})
				i++
			} else {
				out = append(out, token{text: ">", op: true})
			}
		default:
			cur.WriteRune(c)
			inWord = true
		}
	}
	flush()
	return out
}

// pipeline is the parsed form of one input line.
type pipeline struct {
	stages    [][]string
	redirect  string
	appendTo  bool
	badSyntax string
}

// parse groups tokens into pipe stages and extracts a trailing redirect.
func parse(input string) pipeline {
	var p pipeline
	var stage []string
	toks := tokenize(input)
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if !t.op {
			stage = append(stage, t.text)
			continue
		}
		switch t.text {
		case "|":
			p.stages = append(p.stages, stage)
			stage = nil
		case ">", ">>":
			if i+1 >= len(toks) || toks[i+1].op {
				p.badSyntax = "syntax error near unexpected token `newline'"
				return p
			}
			p.redirect = toks[i+1].text
			p.appendTo = t.text == ">>"
			i++
		}
	}
	p.stages = append(p.stages, stage)
	return p
}
