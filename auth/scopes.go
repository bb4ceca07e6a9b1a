package auth

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInsufficientScope indicates the caller authenticated but lacks a
// required scope.
var ErrInsufficientScope = errors.New("insufficient scope")

// ScopeError reports an authorization failure with the granted and required
// scope sets for diagnostics. It unwraps to ErrInsufficientScope.
type ScopeError struct {
	Have []string
	Need []string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("insufficient scope: need [%s], have [%s]",
		strings.Join(e.Need, " "), strings.Join(e.Have, " "))
}

func (e *ScopeError) Unwrap() error { return ErrInsufficientScope }

// RequireScopes checks that every scope in need is present in have. An empty
// requirement authorizes automatically. Order-independent.
func RequireScopes(have, need []string) error {
	if len(need) == 0 {
		return nil
	}
	granted := make(map[string]struct{}, len(have))
	for _, s := range have {
		granted[s] = struct{}{}
	}
	for _, s := range need {
		if _, ok := granted[s]; !ok {
			return &ScopeError{
				Have: append([]string(nil), have...),
				Need: append([]string(nil), need...),
			}
		}
	}
	return nil
}
