package arena

// StringInterner deduplicates string-literal contents into a dense table, so that each distinct
// literal is carried as a small index instead of a full string. compiler.Unit.InternString uses
// it; ir.Strings is a separate table and does not.
type StringInterner struct {
	index map[string]int
	table []string
}

// NewStringInterner returns an empty StringInterner.
func NewStringInterner() *StringInterner {
	return &StringInterner{index: make(map[string]int)}
}

// Intern returns the index of s in the interner's table, inserting it if this is the first time
// s has been seen. Equal strings always receive the same index.
func (si *StringInterner) Intern(s string) int {
	if i, ok := si.index[s]; ok {
		return i
	}
	i := len(si.table)
	si.table = append(si.table, s)
	si.index[s] = i
	return i
}

// String returns the string literal interned at index i. It panics if i is out of range, since a
// caller holding an index it did not obtain from Intern indicates an internal invariant
// violation.
func (si *StringInterner) String(i int) string {
	return si.table[i]
}

// Len returns the number of distinct strings interned.
func (si *StringInterner) Len() int {
	return len(si.table)
}
