package models

// Term identifies one of the two scheduling periods in a school year. Duty
// assignment sets for different terms are fully independent.
type Term string

const (
	TermFirst  Term = "FIRST_TERM"
	TermSecond Term = "SECOND_TERM"
)

// Valid reports whether the term is one of the known scheduling periods.
func (t Term) Valid() bool {
	return t == TermFirst || t == TermSecond
}

// TermScope widens Term with an ALL value for bulk reset operations.
type TermScope string

const (
	ScopeFirstTerm  TermScope = TermScope(TermFirst)
	ScopeSecondTerm TermScope = TermScope(TermSecond)
	ScopeAll        TermScope = "ALL"
)

// Valid reports whether the scope is a known term or ALL.
func (s TermScope) Valid() bool {
	return s == ScopeFirstTerm || s == ScopeSecondTerm || s == ScopeAll
}

// Terms expands the scope into the concrete terms it covers.
func (s TermScope) Terms() []Term {
	switch s {
	case ScopeAll:
		return []Term{TermFirst, TermSecond}
	case ScopeFirstTerm:
		return []Term{TermFirst}
	case ScopeSecondTerm:
		return []Term{TermSecond}
	default:
		return nil
	}
}
