// Package authz decides whether a statement may be sent to the remote
// service. Policies run before every call that can incur cost, dry runs
// included.
package authz

import (
	"context"
	"strings"

	"github.com/bqbridge/bqbridge/internal/auth"
)

// Authorizer approves or rejects a statement. The context carries the
// request, including the caller identity when authentication is enabled.
// A non-nil error is a policy failure and never counts as approval.
type Authorizer interface {
	Authorize(ctx context.Context, sql string, params map[string]any) (bool, error)
}

type Func func(ctx context.Context, sql string, params map[string]any) (bool, error)

func (f Func) Authorize(ctx context.Context, sql string, params map[string]any) (bool, error) {
	return f(ctx, sql, params)
}

// AllowAll approves every statement.
var AllowAll Authorizer = Func(func(context.Context, string, map[string]any) (bool, error) {
	return true, nil
})

var DefaultBlockedKeywords = []string{"DELETE", "DROP", "TRUNCATE", "INSERT", "UPDATE", "ALTER", "CREATE"}

// KeywordBlocker rejects statements whose uppercased text contains any
// blocked keyword as a substring. The match is lexical: keywords inside
// literals or identifiers (e.g. a column named updated_at) are rejected too,
// and it is no defense against obfuscated input.
type KeywordBlocker struct {
	keywords []string
}

// NewKeywordBlocker uses DefaultBlockedKeywords when keywords is empty.
func NewKeywordBlocker(keywords ...string) *KeywordBlocker {
	normalized := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.ToUpper(strings.TrimSpace(keyword))
		if keyword != "" {
			normalized = append(normalized, keyword)
		}
	}
	if len(normalized) == 0 {
		normalized = append(normalized, DefaultBlockedKeywords...)
	}
	return &KeywordBlocker{keywords: normalized}
}

func (b *KeywordBlocker) Keywords() []string {
	out := make([]string, len(b.keywords))
	copy(out, b.keywords)
	return out
}

func (b *KeywordBlocker) Authorize(_ context.Context, sql string, _ map[string]any) (bool, error) {
	upper := strings.ToUpper(sql)
	for _, keyword := range b.keywords {
		if strings.Contains(upper, keyword) {
			return false, nil
		}
	}
	return true, nil
}

// RequireRole approves statements only for callers holding role.
func RequireRole(role string) Authorizer {
	return Func(func(ctx context.Context, _ string, _ map[string]any) (bool, error) {
		identity, ok := auth.IdentityFromContext(ctx)
		if !ok {
			return false, nil
		}
		return identity.HasRole(role), nil
	})
}

// All approves a statement only when every authorizer does. It stops at the
// first rejection or error.
func All(authorizers ...Authorizer) Authorizer {
	return Func(func(ctx context.Context, sql string, params map[string]any) (bool, error) {
		for _, authorizer := range authorizers {
			if authorizer == nil {
				continue
			}
			allowed, err := authorizer.Authorize(ctx, sql, params)
			if err != nil || !allowed {
				return false, err
			}
		}
		return true, nil
	})
}
