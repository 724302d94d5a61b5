package frontend

import (
	"testing"
)

// TestTokenizeMatchesSourceOrder checks that Tokenize reproduces the same token sequence
// TestLexer already verifies against the internal lexer, confirming the exported wrapper doesn't
// drop or reorder anything nextItem hands it.
func TestTokenizeMatchesSourceOrder(t *testing.T) {
	toks, err := Tokenize(bitopsSrc)
	if err != nil {
		t.Fatalf("Tokenize returned error: %v", err)
	}
	if len(toks) == 0 {
		t.Fatal("expected at least one token")
	}
	if toks[0].Type != TokenType(DEF) || toks[0].Value != "def" {
		t.Fatalf("expected first token to be 'def', got %v", toks[0])
	}
	last := toks[len(toks)-1]
	if last.Type != TokenType(END) || last.Value != "end" {
		t.Fatalf("expected last token to be 'end', got %v", last)
	}
}

// TestTokenizeReportsLexError confirms a scan failure (here, an unclosed string literal) surfaces
// as an error instead of a Token, matching the internal lexer's errorf/itemError contract.
func TestTokenizeReportsLexError(t *testing.T) {
	_, err := Tokenize("def f(a)\nbegin\n  print \"unterminated\nend\n")
	if err == nil {
		t.Fatal("expected an error for an unclosed string literal")
	}
}
