package resolver

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvedAssetType indicates no configured rule matches a module path
	ErrUnresolvedAssetType = errors.New("unresolved asset type")
	// ErrInvalidRule indicates a rule is missing its test pattern or steps
	ErrInvalidRule = errors.New("invalid rule")
)

// UnresolvedError reports the path that no rule matched.
type UnresolvedError struct {
	Path string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("%s: no rule matches %q", ErrUnresolvedAssetType, e.Path)
}

func (e *UnresolvedError) Unwrap() error {
	return ErrUnresolvedAssetType
}
