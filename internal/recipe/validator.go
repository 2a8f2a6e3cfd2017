// Package recipe checks submitted Dockerfiles against a deny-list of
// privilege-escalation and exfiltration directives.
//
// Matching is done on whitespace-separated tokens, never on substrings:
//
//   - lines whose first non-blank character is '#' are comments and skipped
//   - a token equal to a deny-listed token is offending
//   - the first token of a line is offending when it equals a deny-listed
//     token ignoring case, since Dockerfile instructions are case-insensitive
//   - the argument of a USER instruction is offending when its user part
//     (before ':') is root or uid 0, or a build variable that could expand
//     to either
package recipe

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultForbiddenTokens is the deny-list used when none is configured
var DefaultForbiddenTokens = []string{"root", "EXPOSE", "ADD"}

// ErrForbiddenDirective is matched by every *ValidationError
var ErrForbiddenDirective = errors.New("forbidden directive")

// ValidationError lists every offending token of a rejected recipe
type ValidationError struct {
	Tokens []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("recipe uses forbidden directives: %s", strings.Join(e.Tokens, ", "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrForbiddenDirective
}

// Validator is safe for concurrent use
type Validator struct {
	forbidden map[string]struct{}
	// lower-cased forms, for instruction position
	instructions map[string]struct{}
}

// NewValidator builds a validator; with no tokens DefaultForbiddenTokens is used
func NewValidator(tokens ...string) *Validator {
	if len(tokens) == 0 {
		tokens = DefaultForbiddenTokens
	}

	v := &Validator{
		forbidden:    make(map[string]struct{}, len(tokens)),
		instructions: make(map[string]struct{}, len(tokens)),
	}
	for _, tok := range tokens {
		v.forbidden[tok] = struct{}{}
		v.instructions[strings.ToLower(tok)] = struct{}{}
	}
	return v
}

// Validate returns a *ValidationError when the recipe contains forbidden tokens
func (v *Validator) Validate(recipe string) error {
	var found []string
	seen := make(map[string]struct{})

	report := func(tok string) {
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		found = append(found, tok)
	}

	for _, line := range strings.Split(recipe, "\n") {
		tokens := strings.Fields(line)
		if len(tokens) == 0 || strings.HasPrefix(tokens[0], "#") {
			continue
		}

		for i, tok := range tokens {
			switch {
			case v.isForbidden(tok):
				report(tok)
			case i == 0 && v.isForbiddenInstruction(tok):
				report(tok)
			case i == 1 && strings.EqualFold(tokens[0], "USER") && isSuperuser(tok):
				report(tok)
			}
		}
	}

	if len(found) > 0 {
		return &ValidationError{Tokens: found}
	}
	return nil
}

func (v *Validator) isForbidden(tok string) bool {
	_, ok := v.forbidden[tok]
	return ok
}

func (v *Validator) isForbiddenInstruction(tok string) bool {
	_, ok := v.instructions[strings.ToLower(tok)]
	return ok
}

func isSuperuser(arg string) bool {
	user, _, _ := strings.Cut(arg, ":")
	return user == "root" || user == "0" || strings.HasPrefix(user, "$")
}
