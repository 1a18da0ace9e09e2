package exchange

import (
	"strconv"
	"strings"
)

// keySeparator joins key components. U+001F never appears in principal
// identifiers or numeric components, so composite keys cannot collide.
const keySeparator = "\x1f"

const (
	adminKey    = "admin"
	auditSeqKey = "audit" + keySeparator + "seq"
)

func compositeKey(objectType string, attrs ...string) string {
	parts := append([]string{objectType}, attrs...)
	return strings.Join(parts, keySeparator)
}

func recordKey(owner string) string {
	return compositeKey("record", owner)
}

func grantKey(owner, grantee string) string {
	return compositeKey("grant", owner, grantee)
}

func consentKey(patient string) string {
	return compositeKey("consent", patient)
}

func credentialKey(provider string) string {
	return compositeKey("credential", provider)
}

func proposalKey(researcher string, proposalID uint64) string {
	return compositeKey("proposal", researcher, strconv.FormatUint(proposalID, 10))
}

func contributionKey(patient, researcher string) string {
	return compositeKey("contribution", patient, researcher)
}

func balanceKey(patient string) string {
	return compositeKey("balance", patient)
}

func auditCountKey(patient string) string {
	return compositeKey("audit", patient, "count")
}

func auditEntryKey(patient string, index uint64) string {
	return compositeKey("audit", patient, strconv.FormatUint(index, 10))
}
