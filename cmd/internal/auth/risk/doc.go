// Package risk scores authentication attempts.
//
// The engine is a pure function of the principal's session history, the
// request context and the geo verdict. It produces a score, an action and the
// ordered list of factors that contributed. It has no side effects.
package risk
