package application

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/charmstore/giftd/internal/core/domain"
)

// Charm slot layout shared by all gift-card spells: $00 carries the NFT
// content, $01 the fungible token balance.
const (
	nftSlot   = "$00"
	tokenSlot = "$01"
)

type spellBuilder struct {
	network     *chaincfg.Params
	satsPerCent uint64
}

func newSpellBuilder(network *chaincfg.Params, satsPerCent uint64) *spellBuilder {
	return &spellBuilder{network: network, satsPerCent: satsPerCent}
}

// cardValueSats converts a card amount in cents to the satoshis carried by the
// output holding it, floored at the dust minimum.
func (b *spellBuilder) cardValueSats(cents uint64) uint64 {
	sats := cents * b.satsPerCent
	if sats < domain.MinOutputSats {
		return domain.MinOutputSats
	}
	return sats
}

// BuildMintSpell creates a brand-new gift card. The funding utxo is the spell
// input; its outpoint is passed as a private input because the zk-app derives
// the app identity from it.
func (b *spellBuilder) BuildMintSpell(
	funding domain.Utxo, recipient string, card domain.GiftCardContent, vk string,
) domain.SpellDescription {
	identity := domain.AppIdentity(funding.Outpoint)
	return domain.SpellDescription{
		Version: domain.SpellVersion,
		Apps: map[string]string{
			nftSlot:   domain.App{Tag: domain.TagNFT, Identity: identity, VK: vk}.String(),
			tokenSlot: domain.App{Tag: domain.TagToken, Identity: identity, VK: vk}.String(),
		},
		Ins: []domain.SpellInput{
			{UtxoId: funding.Outpoint.String()},
		},
		Outs: []domain.SpellOutput{
			{
				Address: recipient,
				Sats:    b.cardValueSats(card.InitialAmount),
				Charms: map[string]any{
					nftSlot:   card,
					tokenSlot: card.InitialAmount,
				},
			},
		},
		PrivateInputs: map[string]any{
			nftSlot: funding.Outpoint.String(),
		},
	}
}

// BuildTransferSpell hands the whole card (NFT plus full token balance) to the
// recipient. The sats riding on the card utxo follow the card.
func (b *spellBuilder) BuildTransferSpell(
	cardUtxoId, appId, recipient string, card domain.GiftCardContent, cardSats uint64,
) (domain.SpellDescription, error) {
	var app domain.App
	if err := app.FromString(appId); err != nil {
		return domain.SpellDescription{}, err
	}
	if app.Tag != domain.TagNFT {
		return domain.SpellDescription{}, fmt.Errorf("app %s is not an nft app", appId)
	}
	tokenApp := domain.App{Tag: domain.TagToken, Identity: app.Identity, VK: app.VK}

	// The sats backing the balance follow the card; top up if the utxo was
	// shaved below the balance's satoshi value.
	if floor := b.cardValueSats(card.RemainingBalance); cardSats < floor {
		cardSats = floor
	}
	return domain.SpellDescription{
		Version: domain.SpellVersion,
		Apps: map[string]string{
			nftSlot:   app.String(),
			tokenSlot: tokenApp.String(),
		},
		Ins: []domain.SpellInput{
			{
				UtxoId: cardUtxoId,
				Charms: map[string]any{
					nftSlot:   card,
					tokenSlot: card.RemainingBalance,
				},
			},
		},
		Outs: []domain.SpellOutput{
			{
				Address: recipient,
				Sats:    cardSats,
				Charms: map[string]any{
					nftSlot:   card,
					tokenSlot: card.RemainingBalance,
				},
			},
		},
	}, nil
}

// BuildRedeemSpell spends amountCents of the card balance. A full redemption
// consumes the card: the single output carries no charm slots at all, which
// the zk-app reads as a burn. A partial redemption keeps the NFT with the
// decreased balance and a matching token amount.
func (b *spellBuilder) BuildRedeemSpell(
	cardUtxoId, appId, owner string,
	card domain.GiftCardContent, amountCents uint64,
) (domain.SpellDescription, error) {
	var app domain.App
	if err := app.FromString(appId); err != nil {
		return domain.SpellDescription{}, err
	}
	if app.Tag != domain.TagNFT {
		return domain.SpellDescription{}, fmt.Errorf("app %s is not an nft app", appId)
	}
	if amountCents == 0 || amountCents > card.RemainingBalance {
		return domain.SpellDescription{}, fmt.Errorf(
			"redeem amount %d out of range, balance is %d", amountCents, card.RemainingBalance,
		)
	}
	tokenApp := domain.App{Tag: domain.TagToken, Identity: app.Identity, VK: app.VK}

	out := domain.SpellOutput{
		Address: owner,
		Sats:    b.cardValueSats(amountCents),
	}
	if amountCents < card.RemainingBalance {
		remaining := card
		remaining.RemainingBalance = card.RemainingBalance - amountCents
		out.Sats = b.cardValueSats(remaining.RemainingBalance)
		out.Charms = map[string]any{
			nftSlot:   remaining,
			tokenSlot: remaining.RemainingBalance,
		}
	}

	return domain.SpellDescription{
		Version: domain.SpellVersion,
		Apps: map[string]string{
			nftSlot:   app.String(),
			tokenSlot: tokenApp.String(),
		},
		Ins: []domain.SpellInput{
			{
				UtxoId: cardUtxoId,
				Charms: map[string]any{
					nftSlot:   card,
					tokenSlot: card.RemainingBalance,
				},
			},
		},
		Outs: []domain.SpellOutput{out},
	}, nil
}

// ValidateSpell re-checks every structural invariant independently of the
// builders. The prover performs the same validation remotely, but a prover
// round trip is slow; everything detectable here fails fast instead.
func (b *spellBuilder) ValidateSpell(spell domain.SpellDescription) []string {
	violations := make([]string, 0)

	if spell.Version != domain.SpellVersion {
		violations = append(violations, fmt.Sprintf(
			"version: must be %d, got %d", domain.SpellVersion, spell.Version,
		))
	}

	if len(spell.Apps) == 0 {
		violations = append(violations, "apps: must not be empty")
	}
	for slot, appId := range spell.Apps {
		if !domain.IsSlotKey(slot) {
			violations = append(violations, fmt.Sprintf("apps: invalid slot key %q", slot))
		}
		var app domain.App
		if err := app.FromString(appId); err != nil {
			violations = append(violations, fmt.Sprintf("apps[%s]: %s", slot, err))
		}
	}

	if len(spell.Ins) == 0 {
		violations = append(violations, "ins: must not be empty")
	}
	for i, in := range spell.Ins {
		var op domain.Outpoint
		if err := op.FromString(in.UtxoId); err != nil {
			violations = append(violations, fmt.Sprintf("ins[%d].utxo_id: %s", i, err))
		}
		violations = append(violations, b.checkCharmSlots(fmt.Sprintf("ins[%d]", i), in.Charms, spell.Apps)...)
	}

	if len(spell.Outs) == 0 {
		violations = append(violations, "outs: must not be empty")
	}
	for i, out := range spell.Outs {
		if !isTaprootAddress(out.Address, b.network) {
			violations = append(violations, fmt.Sprintf(
				"outs[%d].address: not a taproot address for network %s", i, b.network.Name,
			))
		}
		if out.Sats < domain.MinOutputSats {
			violations = append(violations, fmt.Sprintf(
				"outs[%d].sats: minimum %d sats, got %d", i, domain.MinOutputSats, out.Sats,
			))
		}
		violations = append(violations, b.checkCharmSlots(fmt.Sprintf("outs[%d]", i), out.Charms, spell.Apps)...)
	}

	violations = append(violations, b.checkTokenConservation(spell)...)

	return violations
}

func (b *spellBuilder) checkCharmSlots(
	where string, charms map[string]any, apps map[string]string,
) []string {
	violations := make([]string, 0)
	for slot := range charms {
		if _, ok := apps[slot]; !ok {
			violations = append(violations, fmt.Sprintf(
				"%s.charms: slot %q not declared in apps", where, slot,
			))
		}
	}
	return violations
}

// checkTokenConservation mirrors the zk-app's token arithmetic. For every
// token app, outputs may never exceed inputs unless the spell mints the app's
// NFT in the same transaction (an NFT charm in outs but not in ins), in which
// case the minted tokens must equal the NFT's initial amount.
func (b *spellBuilder) checkTokenConservation(spell domain.SpellDescription) []string {
	violations := make([]string, 0)
	for slot, appId := range spell.Apps {
		var app domain.App
		if err := app.FromString(appId); err != nil || app.Tag != domain.TagToken {
			continue
		}

		inSum, err := sumTokenCharms(slot, spell.Ins)
		if err != nil {
			violations = append(violations, fmt.Sprintf("ins charms[%s]: %s", slot, err))
			continue
		}
		outSum, err := sumTokenCharmsOut(slot, spell.Outs)
		if err != nil {
			violations = append(violations, fmt.Sprintf("outs charms[%s]: %s", slot, err))
			continue
		}

		if outSum <= inSum {
			continue
		}

		nftSlotKey, minted := findMintedNft(spell, app.Identity)
		if !minted {
			violations = append(violations, fmt.Sprintf(
				"charms[%s]: token outputs (%d) exceed inputs (%d) without a mint",
				slot, outSum, inSum,
			))
			continue
		}
		card, err := mintedNftContent(spell, nftSlotKey)
		if err != nil {
			violations = append(violations, fmt.Sprintf("charms[%s]: %s", nftSlotKey, err))
			continue
		}
		if card.RemainingBalance != card.InitialAmount {
			violations = append(violations, fmt.Sprintf(
				"charms[%s]: minted card balance %d must equal initial amount %d",
				nftSlotKey, card.RemainingBalance, card.InitialAmount,
			))
		}
		if outSum-inSum != card.InitialAmount {
			violations = append(violations, fmt.Sprintf(
				"charms[%s]: minted %d tokens but card initial amount is %d",
				slot, outSum-inSum, card.InitialAmount,
			))
		}
	}
	return violations
}

func sumTokenCharms(slot string, ins []domain.SpellInput) (uint64, error) {
	var sum uint64
	for _, in := range ins {
		if charm, ok := in.Charms[slot]; ok {
			amount, err := domain.TokenAmount(charm)
			if err != nil {
				return 0, err
			}
			sum += amount
		}
	}
	return sum, nil
}

func sumTokenCharmsOut(slot string, outs []domain.SpellOutput) (uint64, error) {
	var sum uint64
	for _, out := range outs {
		if charm, ok := out.Charms[slot]; ok {
			amount, err := domain.TokenAmount(charm)
			if err != nil {
				return 0, err
			}
			sum += amount
		}
	}
	return sum, nil
}

// findMintedNft reports whether an NFT app with the given identity is present
// in outputs but absent from inputs.
func findMintedNft(spell domain.SpellDescription, identity string) (string, bool) {
	for slot, appId := range spell.Apps {
		var app domain.App
		if err := app.FromString(appId); err != nil || app.Tag != domain.TagNFT {
			continue
		}
		if app.Identity != identity {
			continue
		}
		inOuts := false
		for _, out := range spell.Outs {
			if _, ok := out.Charms[slot]; ok {
				inOuts = true
				break
			}
		}
		if !inOuts {
			continue
		}
		for _, in := range spell.Ins {
			if _, ok := in.Charms[slot]; ok {
				return slot, false
			}
		}
		return slot, true
	}
	return "", false
}

func mintedNftContent(spell domain.SpellDescription, slot string) (domain.GiftCardContent, error) {
	for _, out := range spell.Outs {
		if charm, ok := out.Charms[slot]; ok {
			return domain.DecodeGiftCard(charm)
		}
	}
	return domain.GiftCardContent{}, fmt.Errorf("no nft charm in outputs")
}

func isTaprootAddress(address string, network *chaincfg.Params) bool {
	decoded, err := btcutil.DecodeAddress(address, network)
	if err != nil {
		return false
	}
	if !decoded.IsForNet(network) {
		return false
	}
	_, ok := decoded.(*btcutil.AddressTaproot)
	return ok
}
