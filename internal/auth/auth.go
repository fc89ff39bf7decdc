package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	Subject string
	Roles   []string
}

func (i Identity) HasRole(role string) bool {
	for _, candidate := range i.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// CredentialValidator resolves a presented credential to an identity.
type CredentialValidator interface {
	Validate(ctx context.Context, credential string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses comma separated "key:subject:role|role"
// entries.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	entries := strings.Split(spec, ",")
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:subject:role|role", entry)
		}
		key := strings.TrimSpace(parts[0])
		subject := strings.TrimSpace(parts[1])
		if key == "" || subject == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/subject", entry)
		}
		roles := splitRoles(strings.Split(parts[2], "|"))
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		validator.keys[key] = Identity{Subject: subject, Roles: roles}
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}

func (v *StaticAPIKeyValidator) Len() int {
	return len(v.keys)
}

// AnyOf accepts a credential when any validator accepts it, trying them in order.
func AnyOf(validators ...CredentialValidator) CredentialValidator {
	return anyOf(validators)
}

type anyOf []CredentialValidator

func (a anyOf) Validate(ctx context.Context, credential string) (Identity, bool) {
	for _, validator := range a {
		if validator == nil {
			continue
		}
		if identity, ok := validator.Validate(ctx, credential); ok {
			return identity, true
		}
	}
	return Identity{}, false
}

func splitRoles(values []string) []string {
	roles := make([]string, 0, len(values))
	for _, role := range values {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
