// Package identity turns a bearer token subject into an account.
//
// A subject is either a numeric account id or a username. Both readings are
// modelled as variants of Identity and looked up in a fixed order: the
// numeric variant first, then the username variant.
package identity

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type Kind int

const (
	KindAccountID Kind = iota + 1
	KindUsername
)

func (k Kind) String() string {
	switch k {
	case KindAccountID:
		return "account_id"
	case KindUsername:
		return "username"
	default:
		return "unknown"
	}
}

// Identity is a tagged union: AccountID is set for KindAccountID and
// Username for KindUsername.
type Identity struct {
	Kind      Kind
	AccountID snowflake.ID
	Username  string
}

func ByAccountID(id snowflake.ID) Identity {
	return Identity{Kind: KindAccountID, AccountID: id}
}

func ByUsername(username string) Identity {
	return Identity{Kind: KindUsername, Username: username}
}

// Candidates lists the variants a subject can denote, in lookup order.
// A positive integer yields the numeric variant followed by the username
// variant; anything else yields only the username variant.
func Candidates(subject string) []Identity {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil
	}
	out := make([]Identity, 0, 2)
	if n, err := strconv.ParseInt(subject, 10, 64); err == nil && n > 0 {
		out = append(out, ByAccountID(snowflake.ID(n)))
	}
	return append(out, ByUsername(subject))
}
