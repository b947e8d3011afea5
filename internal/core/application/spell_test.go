package application

import (
	"testing"
	"time"

	"github.com/charmstore/giftd/internal/core/domain"
	"github.com/stretchr/testify/require"
)

var testVK = repeatHex('f', 64)

func testCard(balance uint64) domain.GiftCardContent {
	return domain.GiftCardContent{
		Brand:            "acme",
		Image:            "https://example.com/card.png",
		InitialAmount:    balance,
		ExpirationDate:   time.Now().Add(24 * time.Hour).Unix(),
		CreatedAt:        time.Now().Unix(),
		RemainingBalance: balance,
	}
}

func testFundingUtxo() domain.Utxo {
	return domain.Utxo{
		Outpoint:  domain.Outpoint{Txid: repeatHex('a', 64), VOut: 0},
		Value:     20000,
		Confirmed: true,
	}
}

func TestBuildMintSpell(t *testing.T) {
	builder := newSpellBuilder(testNetwork, 10)
	card := testCard(5000)
	spell := builder.BuildMintSpell(testFundingUtxo(), testTaprootAddress, card, testVK)

	require.Equal(t, domain.SpellVersion, spell.Version)
	require.Len(t, spell.Ins, 1)
	require.Len(t, spell.Outs, 1)
	require.Equal(t, testFundingUtxo().Outpoint.String(), spell.Ins[0].UtxoId)

	// the app identity is bound to the funding outpoint
	identity := domain.AppIdentity(testFundingUtxo().Outpoint)
	var nftApp domain.App
	require.NoError(t, nftApp.FromString(spell.Apps["$00"]))
	require.Equal(t, domain.TagNFT, nftApp.Tag)
	require.Equal(t, identity, nftApp.Identity)

	require.Equal(t, testFundingUtxo().Outpoint.String(), spell.PrivateInputs["$00"])
	require.Empty(t, builder.ValidateSpell(spell))

	// the minted output carries the card value in sats
	require.EqualValues(t, 50000, spell.Outs[0].Sats)
}

func TestCardValueSats(t *testing.T) {
	builder := newSpellBuilder(testNetwork, 10)

	// small balances are floored at the dust minimum
	require.EqualValues(t, domain.MinOutputSats, builder.cardValueSats(0))
	require.EqualValues(t, domain.MinOutputSats, builder.cardValueSats(20))
	require.EqualValues(t, 330, builder.cardValueSats(33))
	require.EqualValues(t, 340, builder.cardValueSats(34))
	require.EqualValues(t, 50000, builder.cardValueSats(5000))
}

func TestBuildTransferSpell(t *testing.T) {
	builder := newSpellBuilder(testNetwork, 10)
	card := testCard(5000)
	appId := domain.App{Tag: domain.TagNFT, Identity: repeatHex('1', 64), VK: testVK}.String()

	spell, err := builder.BuildTransferSpell(
		repeatHex('b', 64)+":0", appId, testTaprootAddress, card, 600,
	)
	require.NoError(t, err)
	require.Len(t, spell.Ins, 1)
	require.Len(t, spell.Outs, 1)
	require.Empty(t, builder.ValidateSpell(spell))

	// balance rides along unchanged
	out := spell.Outs[0]
	content, decErr := domain.DecodeGiftCard(out.Charms["$00"])
	require.NoError(t, decErr)
	require.Equal(t, card.RemainingBalance, content.RemainingBalance)

	// a shaved card utxo is topped up to the balance's satoshi value
	require.EqualValues(t, 50000, out.Sats)
}

func TestBuildTransferSpellRejectsTokenApp(t *testing.T) {
	builder := newSpellBuilder(testNetwork, 10)
	appId := domain.App{Tag: domain.TagToken, Identity: repeatHex('1', 64), VK: testVK}.String()
	_, err := builder.BuildTransferSpell(
		repeatHex('b', 64)+":0", appId, testTaprootAddress, testCard(100), 600,
	)
	require.Error(t, err)
}

func TestBuildRedeemSpell(t *testing.T) {
	builder := newSpellBuilder(testNetwork, 10)
	appId := domain.App{Tag: domain.TagNFT, Identity: repeatHex('1', 64), VK: testVK}.String()
	cardUtxoId := repeatHex('b', 64) + ":0"

	t.Run("partial redemption decreases balance and keeps the card", func(t *testing.T) {
		spell, err := builder.BuildRedeemSpell(
			cardUtxoId, appId, testTaprootAddress, testCard(5000), 2000,
		)
		require.NoError(t, err)
		require.Len(t, spell.Outs, 1)
		require.Empty(t, builder.ValidateSpell(spell))

		content, decErr := domain.DecodeGiftCard(spell.Outs[0].Charms["$00"])
		require.NoError(t, decErr)
		require.EqualValues(t, 3000, content.RemainingBalance)

		tokens, tokErr := domain.TokenAmount(spell.Outs[0].Charms["$01"])
		require.NoError(t, tokErr)
		require.EqualValues(t, 3000, tokens)

		// the kept card holds the remaining balance's satoshi value
		require.EqualValues(t, 30000, spell.Outs[0].Sats)
	})

	t.Run("full redemption consumes the card", func(t *testing.T) {
		spell, err := builder.BuildRedeemSpell(
			cardUtxoId, appId, testTaprootAddress, testCard(5000), 5000,
		)
		require.NoError(t, err)
		require.Len(t, spell.Outs, 1)
		require.Empty(t, spell.Outs[0].Charms)
		require.EqualValues(t, 50000, spell.Outs[0].Sats)
		require.Empty(t, builder.ValidateSpell(spell))
	})

	t.Run("amount above balance is rejected", func(t *testing.T) {
		_, err := builder.BuildRedeemSpell(
			cardUtxoId, appId, testTaprootAddress, testCard(5000), 5001,
		)
		require.Error(t, err)
	})
}

func TestValidateSpell(t *testing.T) {
	builder := newSpellBuilder(testNetwork, 10)

	valid := func() domain.SpellDescription {
		return builder.BuildMintSpell(testFundingUtxo(), testTaprootAddress, testCard(1000), testVK)
	}

	t.Run("accepts a well-formed spell", func(t *testing.T) {
		require.Empty(t, builder.ValidateSpell(valid()))
	})

	t.Run("wrong version", func(t *testing.T) {
		spell := valid()
		spell.Version = 7
		violations := builder.ValidateSpell(spell)
		require.Len(t, violations, 1)
		require.Contains(t, violations[0], "version")
	})

	t.Run("output below dust minimum", func(t *testing.T) {
		spell := valid()
		spell.Outs[0].Sats = 200
		violations := builder.ValidateSpell(spell)
		require.Len(t, violations, 1)
		require.Contains(t, violations[0], "minimum 330 sats")
	})

	t.Run("non-taproot address", func(t *testing.T) {
		spell := valid()
		spell.Outs[0].Address = "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080"
		violations := builder.ValidateSpell(spell)
		require.NotEmpty(t, violations)
		require.Contains(t, violations[0], "not a taproot address")
	})

	t.Run("malformed utxo id", func(t *testing.T) {
		spell := valid()
		spell.Ins[0].UtxoId = "nonsense"
		violations := builder.ValidateSpell(spell)
		require.NotEmpty(t, violations)
		require.Contains(t, violations[0], "utxo_id")
	})

	t.Run("charm slot not declared in apps", func(t *testing.T) {
		spell := valid()
		spell.Outs[0].Charms["$05"] = 42
		violations := builder.ValidateSpell(spell)
		require.NotEmpty(t, violations)
		require.Contains(t, violations[0], "not declared in apps")
	})

	t.Run("token outputs may not exceed inputs without a mint", func(t *testing.T) {
		appId := domain.App{Tag: domain.TagNFT, Identity: repeatHex('1', 64), VK: testVK}.String()
		spell, err := builder.BuildTransferSpell(
			repeatHex('b', 64)+":0", appId, testTaprootAddress, testCard(1000), 600,
		)
		require.NoError(t, err)
		spell.Outs[0].Charms["$01"] = uint64(2000)

		violations := builder.ValidateSpell(spell)
		require.NotEmpty(t, violations)
		require.Contains(t, violations[0], "exceed inputs")
	})

	t.Run("minted tokens must match the card's initial amount", func(t *testing.T) {
		spell := valid()
		spell.Outs[0].Charms["$01"] = uint64(999)
		violations := builder.ValidateSpell(spell)
		require.NotEmpty(t, violations)
		require.Contains(t, violations[0], "initial amount")
	})
}
