package events

import (
	"strings"

	"github.com/holiman/uint256"
)

func normalizeAsset(asset string) string {
	return strings.ToLower(strings.TrimSpace(asset))
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
