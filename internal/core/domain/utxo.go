package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var outpointRegex = regexp.MustCompile(`^[0-9a-fA-F]{64}:\d+$`)

type Outpoint struct {
	Txid string
	VOut uint32
}

func (k *Outpoint) FromString(s string) error {
	if !outpointRegex.MatchString(s) {
		return fmt.Errorf("invalid outpoint string: %s", s)
	}
	parts := strings.Split(s, ":")
	k.Txid = strings.ToLower(parts[0])
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid vout string: %s", parts[1])
	}
	k.VOut = uint32(vout)
	return nil
}

func (k Outpoint) String() string {
	return fmt.Sprintf("%s:%d", k.Txid, k.VOut)
}

// Utxo is an unspent output observed at a lookup service. It is immutable once
// observed; spending it through a broadcast package invalidates it.
type Utxo struct {
	Outpoint
	Value       uint64
	Confirmed   bool
	BlockHeight int64 // 0 when unconfirmed or unknown
}
