package order

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"signal-trader/pkg/exchanges/common"
)

// OrderKey identifies one logical order. Equal keys yield equal ids.
type OrderKey struct {
	CampaignID string
	InstID     string
	Side       common.Side
	Leverage   int
	SizeUSD    float64
	SignalTS   int64
}

func (k OrderKey) digest() string {
	raw := fmt.Sprintf("%s|%s|%s|%d|%s|%d",
		k.CampaignID, k.InstID, k.Side, k.Leverage, decimal.NewFromFloat(k.SizeUSD).String(), k.SignalTS)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ClientOrderID returns the clOrdId for one attempt. OKX accepts up to 32
// alphanumerics; the attempt suffix keeps retries distinguishable.
func ClientOrderID(k OrderKey, attempt int) string {
	return "st" + k.digest()[:24] + "a" + strconv.Itoa(attempt)
}

// Tag returns the order tag shared by every attempt of k.
func Tag(k OrderKey) string {
	return k.digest()[:16]
}
