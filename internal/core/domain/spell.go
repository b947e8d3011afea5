package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// SpellVersion is the only protocol version this service speaks.
const SpellVersion = 8

// MinOutputSats is the smallest amount a spell output may carry. Below this the
// output would be rejected as dust by the network.
const MinOutputSats = 330

const (
	TagNFT   = "n"
	TagToken = "t"
)

var (
	slotKeyRegex = regexp.MustCompile(`^\$\d{2}$`)
	appIdRegex   = regexp.MustCompile(`^[nt]/[0-9a-f]{64}/[0-9a-f]{64}$`)
)

// App is the parsed form of an app identifier string "<tag>/<identity>/<vk>".
type App struct {
	Tag      string
	Identity string
	VK       string
}

func (a *App) FromString(s string) error {
	if !appIdRegex.MatchString(s) {
		return fmt.Errorf("invalid app identifier: %s", s)
	}
	parts := strings.Split(s, "/")
	a.Tag = parts[0]
	a.Identity = parts[1]
	a.VK = parts[2]
	return nil
}

func (a App) String() string {
	return fmt.Sprintf("%s/%s/%s", a.Tag, a.Identity, a.VK)
}

// IsSlotKey reports whether s is a well-formed charm slot key ("$00", "$01", ...).
func IsSlotKey(s string) bool {
	return slotKeyRegex.MatchString(s)
}

type SpellInput struct {
	UtxoId string         `json:"utxo_id"`
	Charms map[string]any `json:"charms,omitempty"`
}

type SpellOutput struct {
	Address string         `json:"address"`
	Sats    uint64         `json:"sats"`
	Charms  map[string]any `json:"charms,omitempty"`
}

// SpellDescription is the structured state transition submitted to the prover.
// Apps maps slot keys to app identifier strings; every slot key referenced by a
// charms map of any input or output must have an entry here.
type SpellDescription struct {
	Version       int               `json:"version"`
	Apps          map[string]string `json:"apps"`
	Ins           []SpellInput      `json:"ins"`
	Outs          []SpellOutput     `json:"outs"`
	PrivateInputs map[string]any    `json:"private_inputs,omitempty"`
	PublicInputs  map[string]any    `json:"public_inputs,omitempty"`
}

func (s SpellDescription) String() string {
	// nolint
	b, _ := json.MarshalIndent(s, "", "  ")
	return string(b)
}

// InputOutpoints returns the parsed outpoints of all spell inputs.
func (s SpellDescription) InputOutpoints() ([]Outpoint, error) {
	outpoints := make([]Outpoint, 0, len(s.Ins))
	for i, in := range s.Ins {
		var op Outpoint
		if err := op.FromString(in.UtxoId); err != nil {
			return nil, fmt.Errorf("ins[%d]: %w", i, err)
		}
		outpoints = append(outpoints, op)
	}
	return outpoints, nil
}
