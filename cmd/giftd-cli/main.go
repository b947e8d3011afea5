package main

import (
	"fmt"
	"os"

	"github.com/charmstore/giftd/internal/config"
	"github.com/urfave/cli/v2"
)

const (
	urlFlagName              = "url"
	fundingAddressFlagName   = "funding-address"
	recipientAddressFlagName = "recipient-address"
	ownerAddressFlagName     = "owner-address"
	changeAddressFlagName    = "change-address"
	brandFlagName            = "brand"
	imageFlagName            = "image"
	amountFlagName           = "amount"
	expiresAtFlagName        = "expires-at"
	cardUtxoFlagName         = "card-utxo"
	appIdFlagName            = "app-id"
	cardFlagName             = "card"
	feeRateFlagName          = "fee-rate"
	kindFlagName             = "kind"
	limitFlagName            = "limit"
	idFlagName               = "id"
)

var Version string

var (
	urlFlag = &cli.StringFlag{
		Name:    urlFlagName,
		Usage:   "the url where to reach the giftd daemon",
		Value:   fmt.Sprintf("http://127.0.0.1:%d", config.DefaultPort),
		EnvVars: []string{"GIFTD_CLI_URL"},
	}
	fundingAddressFlag = &cli.StringFlag{
		Name:     fundingAddressFlagName,
		Usage:    "taproot address holding the funding utxos",
		Required: true,
	}
	recipientAddressFlag = &cli.StringFlag{
		Name:     recipientAddressFlagName,
		Usage:    "taproot address receiving the card",
		Required: true,
	}
	ownerAddressFlag = &cli.StringFlag{
		Name:     ownerAddressFlagName,
		Usage:    "taproot address of the current card owner",
		Required: true,
	}
	changeAddressFlag = &cli.StringFlag{
		Name:     changeAddressFlagName,
		Usage:    "taproot address receiving the change",
		Required: true,
	}
	brandFlag = &cli.StringFlag{
		Name:     brandFlagName,
		Usage:    "brand name of the gift card",
		Required: true,
	}
	imageFlag = &cli.StringFlag{
		Name:  imageFlagName,
		Usage: "image url of the gift card",
	}
	amountFlag = &cli.Uint64Flag{
		Name:     amountFlagName,
		Usage:    "amount in cents",
		Required: true,
	}
	expiresAtFlag = &cli.Int64Flag{
		Name:  expiresAtFlagName,
		Usage: "expiration date as unix seconds, 0 means never",
	}
	cardUtxoFlag = &cli.StringFlag{
		Name:     cardUtxoFlagName,
		Usage:    "utxo currently holding the card, as txid:vout",
		Required: true,
	}
	appIdFlag = &cli.StringFlag{
		Name:     appIdFlagName,
		Usage:    "app identifier of the card, as kind/id/vk",
		Required: true,
	}
	cardFlag = &cli.StringFlag{
		Name:     cardFlagName,
		Usage:    "JSON encoded current card content",
		Required: true,
	}
	feeRateFlag = &cli.Float64Flag{
		Name:  feeRateFlagName,
		Usage: "fee rate in sat/vB, 0 means let the daemon pick",
	}
	kindFlag = &cli.StringFlag{
		Name:  kindFlagName,
		Usage: "filter by operation kind (mint, transfer, redeem)",
	}
	limitFlag = &cli.IntFlag{
		Name:  limitFlagName,
		Usage: "max number of operations to return",
	}
	idFlag = &cli.StringFlag{
		Name:     idFlagName,
		Usage:    "receipt id of the operation",
		Required: true,
	}
)

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "giftd CLI"
	app.Usage = "gift-card charm engine command line interface"
	app.Commands = append(
		app.Commands,
		&mintCommand,
		&transferCommand,
		&redeemCommand,
		&operationsCommand,
		&operationCommand,
	)
	app.Flags = []cli.Flag{urlFlag}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}

var mintCommand = cli.Command{
	Name:  "mint",
	Usage: "Mint a new gift card",
	Flags: []cli.Flag{
		fundingAddressFlag, recipientAddressFlag, changeAddressFlag,
		brandFlag, imageFlag, amountFlag, expiresAtFlag, feeRateFlag,
	},
	Action: func(ctx *cli.Context) error {
		body := map[string]any{
			"funding_address":   ctx.String(fundingAddressFlagName),
			"recipient_address": ctx.String(recipientAddressFlagName),
			"change_address":    ctx.String(changeAddressFlagName),
			"brand":             ctx.String(brandFlagName),
			"image":             ctx.String(imageFlagName),
			"amount_cents":      ctx.Uint64(amountFlagName),
			"expires_at":        ctx.Int64(expiresAtFlagName),
			"fee_rate":          ctx.Float64(feeRateFlagName),
		}
		return post(ctx, "/v1/mint", body)
	},
}

var transferCommand = cli.Command{
	Name:  "transfer",
	Usage: "Hand a gift card over to a new owner",
	Flags: []cli.Flag{
		fundingAddressFlag, recipientAddressFlag, changeAddressFlag,
		cardUtxoFlag, appIdFlag, cardFlag, feeRateFlag,
	},
	Action: func(ctx *cli.Context) error {
		card, err := decodeCardFlag(ctx)
		if err != nil {
			return err
		}
		body := map[string]any{
			"funding_address":   ctx.String(fundingAddressFlagName),
			"recipient_address": ctx.String(recipientAddressFlagName),
			"change_address":    ctx.String(changeAddressFlagName),
			"card_utxo_id":      ctx.String(cardUtxoFlagName),
			"app_id":            ctx.String(appIdFlagName),
			"card":              card,
			"fee_rate":          ctx.Float64(feeRateFlagName),
		}
		return post(ctx, "/v1/transfer", body)
	},
}

var redeemCommand = cli.Command{
	Name:  "redeem",
	Usage: "Redeem part or all of a gift card balance",
	Flags: []cli.Flag{
		fundingAddressFlag, ownerAddressFlag, changeAddressFlag,
		cardUtxoFlag, appIdFlag, cardFlag, amountFlag, feeRateFlag,
	},
	Action: func(ctx *cli.Context) error {
		card, err := decodeCardFlag(ctx)
		if err != nil {
			return err
		}
		body := map[string]any{
			"funding_address": ctx.String(fundingAddressFlagName),
			"owner_address":   ctx.String(ownerAddressFlagName),
			"change_address":  ctx.String(changeAddressFlagName),
			"card_utxo_id":    ctx.String(cardUtxoFlagName),
			"app_id":          ctx.String(appIdFlagName),
			"card":            card,
			"amount_cents":    ctx.Uint64(amountFlagName),
			"fee_rate":        ctx.Float64(feeRateFlagName),
		}
		return post(ctx, "/v1/redeem", body)
	},
}

var operationsCommand = cli.Command{
	Name:  "operations",
	Usage: "List operation receipts",
	Flags: []cli.Flag{kindFlag, limitFlag},
	Action: func(ctx *cli.Context) error {
		query := ""
		if kind := ctx.String(kindFlagName); kind != "" {
			query += "kind=" + kind
		}
		if limit := ctx.Int(limitFlagName); limit > 0 {
			if query != "" {
				query += "&"
			}
			query += fmt.Sprintf("limit=%d", limit)
		}
		path := "/v1/operations"
		if query != "" {
			path += "?" + query
		}
		return get(ctx, path)
	},
}

var operationCommand = cli.Command{
	Name:  "operation",
	Usage: "Show one operation receipt",
	Flags: []cli.Flag{idFlag},
	Action: func(ctx *cli.Context) error {
		return get(ctx, "/v1/operations/"+ctx.String(idFlagName))
	},
}
