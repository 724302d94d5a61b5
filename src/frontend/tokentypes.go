package frontend

// tokentypes.go assigns numeric identifiers to the keyword and multi-character operator tokens the
// lexer recognizes. The core never depends on these values directly — it consumes tokens through the
// readsymbol/readnumber/readoperator callbacks in package token — but a concrete scanner needs some
// numbering scheme, and single-rune operators are emitted as itemType(r) without needing a name here.

const (
	DO itemType = iota + 128 // Start numbering away from the single-rune operators, which occupy 0-127.
	IF
	DEF
	END
	VAR
	TYPE
	THEN
	ELSE
	BEGIN
	WHILE
	PRINT
	RETURN
	CONTINUE
	IDENTIFIER
	INTEGER
	FLOAT
	STRING
	ASSIGN
	LSHIFT
	RSHIFT
)
