package profile

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is wrapped by ValidateName.
var ErrInvalidName = errors.New("invalid profile name")

// Profile names become directory names under ~/.chatsync/profiles.
var namePattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects names that are not 1 to 64 lowercase letters,
// digits, dashes or underscores.
func ValidateName(name string) error {
	if namePattern.MatchString(name) {
		return nil
	}
	return fmt.Errorf("%w %q: use 1-64 characters from a-z, 0-9, '-' and '_'", ErrInvalidName, name)
}
