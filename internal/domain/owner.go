package domain

import "strings"

// Owner refs are opaque strings identifying the paying identity. Accounts and
// guest grants share one namespace so the ledger can key balances uniformly.
const (
	ownerPrefixAccount = "acct:"
	ownerPrefixGuest   = "guest:"
)

// AccountRef builds an owner ref for an authenticated account.
func AccountRef(accountID string) string {
	return ownerPrefixAccount + accountID
}

// GuestRef builds an owner ref for a prepaid guest grant.
func GuestRef(grantToken string) string {
	return ownerPrefixGuest + grantToken
}

// ValidOwnerRef reports whether ref carries a known prefix and a non-empty id.
func ValidOwnerRef(ref string) bool {
	for _, prefix := range []string{ownerPrefixAccount, ownerPrefixGuest} {
		if strings.HasPrefix(ref, prefix) && len(ref) > len(prefix) {
			return true
		}
	}
	return false
}
