package ir

const (
	DataInteger = iota
	DataFloat
)

// DTyp defines string for print friendly output of int and float.
var DTyp = []string{
	"integer",
	"float",
}

// Symbol is the binding a Node's identifier resolves to once the frontend has matched it against
// a declaration. The core never creates Symbols; it reads the Name/Global/Typ fields a frontend
// attaches to IDENTIFIER_DATA nodes and hands the rest (offsets, register class, liveness) to the
// variable store.
type Symbol struct {
	Name   string // Declared name of the variable, function or parameter.
	Global bool   // True if the symbol is declared at the outermost scope.
	Typ    int    // DataInteger or DataFloat.
}

// stringTable is the deduplicated table of string literal contents referenced by STRING_DATA
// nodes once bound to an index. Before binding, a STRING_DATA Node carries its literal text
// directly in Data; after binding Data holds an index into St.
type stringTable struct {
	St []string
}

// Strings is the global table string literal indices are resolved against.
var Strings stringTable
