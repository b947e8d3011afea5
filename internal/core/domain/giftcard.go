package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GiftCardContent is the NFT charm attached to a gift-card UTXO. Monetary
// amounts are integer minor units (cents), never satoshis.
type GiftCardContent struct {
	Brand            string `json:"brand"`
	Image            string `json:"image"`
	InitialAmount    uint64 `json:"initial_amount"`
	ExpirationDate   int64  `json:"expiration_date"`
	CreatedAt        int64  `json:"created_at"`
	RemainingBalance uint64 `json:"remaining_balance"`
}

func NewGiftCardContent(brand, image string, amount uint64, expiresAt time.Time) GiftCardContent {
	return GiftCardContent{
		Brand:            brand,
		Image:            image,
		InitialAmount:    amount,
		ExpirationDate:   expiresAt.Unix(),
		CreatedAt:        time.Now().Unix(),
		RemainingBalance: amount,
	}
}

func (g GiftCardContent) Expired(now time.Time) bool {
	return g.ExpirationDate > 0 && now.Unix() >= g.ExpirationDate
}

// DecodeGiftCard converts an arbitrary charm value into a GiftCardContent.
// Charm values come out of JSON decoding as map[string]any.
func DecodeGiftCard(charm any) (GiftCardContent, error) {
	buf, err := json.Marshal(charm)
	if err != nil {
		return GiftCardContent{}, fmt.Errorf("invalid charm value: %w", err)
	}
	var content GiftCardContent
	if err := json.Unmarshal(buf, &content); err != nil {
		return GiftCardContent{}, fmt.Errorf("charm value is not a gift card: %w", err)
	}
	return content, nil
}

// TokenAmount extracts an integer token amount from a charm value. Token charms
// are bare numbers on the wire; JSON decoding yields float64.
func TokenAmount(charm any) (uint64, error) {
	switch v := charm.(type) {
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, fmt.Errorf("invalid token amount: %v", v)
		}
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("invalid token amount: %d", v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("invalid token amount: %d", v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid token amount: %s", v)
		}
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("token charm is not a number: %T", charm)
	}
}

// AppIdentity derives an app identity from the funding outpoint that minted it.
// The zk-app enforces identity == sha256(outpoint string) on mint.
func AppIdentity(funding Outpoint) string {
	sum := sha256.Sum256([]byte(funding.String()))
	return hex.EncodeToString(sum[:])
}
