package session

import (
	"fmt"
	"regexp"
)

var handleRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateHandle checks that handle conforms to account naming rules.
func ValidateHandle(handle string) error {
	if !handleRegexp.MatchString(handle) {
		return fmt.Errorf("invalid handle %q: must match ^[a-z0-9_-]{1,64}$", handle)
	}
	return nil
}
