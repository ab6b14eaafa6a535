package tool

import (
	"fmt"
	"net/url"

	"localagent/internal/domain"
)

// invalid wraps a validation message as an ErrInvalidInput domain error.
func invalid(op, format string, args ...any) error {
	return domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ValidateEnum checks that value is one of the allowed values.
// An empty value is allowed (treated as "not set").
func ValidateEnum(name, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return invalid("validate", "invalid %s %q (want: %s)", name, value, joinComma(allowed))
}

// ValidateAll returns the first non-nil error from the given list.
//
//	if err := ValidateAll(ValidateEnum("method", m, "GET", "POST"), ValidateURL("url", u)); err != nil { ... }
func ValidateAll(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ValidateURL checks that value is a valid absolute HTTP(S) URL.
// An empty value is allowed; the operation schema enforces presence.
func ValidateURL(name, value string) error {
	if value == "" {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return invalid("validate", "invalid %s: %s", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("validate", "invalid %s: scheme must be http or https", name)
	}
	if u.Host == "" {
		return invalid("validate", "invalid %s: missing host", name)
	}
	return nil
}
