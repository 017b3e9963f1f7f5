package webhook

import "regexp"

// Reports declare their payout address with a "Wallet: 0x..." line anywhere
// in the issue body.
var walletPattern = regexp.MustCompile(`Wallet:\s*(0x[a-fA-F0-9]{40})`)

// ExtractWallet returns the first declared wallet address in the body, or
// an empty string if none is present.
func ExtractWallet(body string) string {
	match := walletPattern.FindStringSubmatch(body)
	if match == nil {
		return ""
	}
	return match[1]
}
