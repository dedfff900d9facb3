// Package media defines the validated value types shared by every layer:
// media identifiers, target audio formats and worker status codes.
package media

import "fmt"

// IDLength is the exact length of a valid media identifier.
const IDLength = 11

// ID is an opaque validated media identifier. The zero value is invalid;
// construct one through ParseID.
type ID struct {
	value string
}

// InvalidLengthError reports an identifier of the wrong length.
type InvalidLengthError struct {
	Expected int
	Given    int
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("invalid id length: expected %d, given %d", e.Expected, e.Given)
}

// InvalidCharacterError reports the first out-of-charset character.
type InvalidCharacterError struct {
	Index int
	Char  rune
}

func (e *InvalidCharacterError) Error() string {
	return fmt.Sprintf("invalid character %q at index %d", e.Char, e.Index)
}

// ParseID validates s and returns it as an ID. Valid identifiers are
// exactly IDLength characters drawn from [A-Za-z0-9_-].
func ParseID(s string) (ID, error) {
	if len(s) != IDLength {
		return ID{}, &InvalidLengthError{Expected: IDLength, Given: len(s)}
	}
	for i, c := range s {
		if !isIDChar(c) {
			return ID{}, &InvalidCharacterError{Index: i, Char: c}
		}
	}
	return ID{value: s}, nil
}

func isIDChar(c rune) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}

func (id ID) String() string {
	return id.value
}
