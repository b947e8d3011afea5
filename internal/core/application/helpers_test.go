package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/charmstore/giftd/internal/core/domain"
	"github.com/charmstore/giftd/internal/core/ports"
)

var testNetwork = &chaincfg.RegressionNetParams

// testTaprootAddress is a valid regtest P2TR address used across fixtures.
var testTaprootAddress = func() string {
	program := bytes.Repeat([]byte{0x07}, 32)
	addr, err := btcutil.NewAddressTaproot(program, testNetwork)
	if err != nil {
		panic(err)
	}
	return addr.EncodeAddress()
}()

func repeatHex(c byte, n int) string {
	return string(bytes.Repeat([]byte{c}, n))
}

func mustTxHex(tx *wire.MsgTx) string {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf.Bytes())
}

// makeTx builds a transaction spending the given outpoints with nOuts dummy
// taproot-sized outputs.
func makeTx(spends []wire.OutPoint, nOuts int) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, op := range spends {
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
	}
	for i := 0; i < nOuts; i++ {
		script := bytes.Repeat([]byte{0x51, 0x20}, 1)
		script = append(script, bytes.Repeat([]byte{byte(i + 1)}, 32)...)
		tx.AddTxOut(wire.NewTxOut(int64(1000*(i+1)), script))
	}
	return tx
}

func mustOutPoint(txidByte byte, vout uint32) wire.OutPoint {
	var h chainhash.Hash
	for i := range h {
		h[i] = txidByte
	}
	return wire.OutPoint{Hash: h, Index: vout}
}

// makePackage returns a commit/spell hex pair where spell input 0 spends
// commit output 0.
func makePackage() (commitHex, spellHex string) {
	commit := makeTx([]wire.OutPoint{mustOutPoint(0xaa, 0)}, 1)
	spell := makeTx([]wire.OutPoint{{Hash: commit.TxHash(), Index: 0}}, 1)
	return mustTxHex(commit), mustTxHex(spell)
}

type fakeChainSource struct {
	mu        sync.Mutex
	utxos     map[string][]domain.Utxo
	txHexes   map[string]string
	statuses  map[string]*ports.TxStatus
	feeRate   float64
	utxoErr   error
	hexErr    error
	statusErr error

	statusCalls int
	acceptAfter int // GetTxStatus succeeds after this many calls, 0 = always
}

func newFakeChainSource() *fakeChainSource {
	return &fakeChainSource{
		utxos:    make(map[string][]domain.Utxo),
		txHexes:  make(map[string]string),
		statuses: make(map[string]*ports.TxStatus),
		feeRate:  1,
	}
}

func (f *fakeChainSource) GetUtxos(_ context.Context, address string) ([]domain.Utxo, error) {
	if f.utxoErr != nil {
		return nil, f.utxoErr
	}
	return f.utxos[address], nil
}

func (f *fakeChainSource) GetTxHex(_ context.Context, txid string) (string, error) {
	if f.hexErr != nil {
		return "", f.hexErr
	}
	txHex, ok := f.txHexes[txid]
	if !ok {
		return "", ports.ErrTxNotFound
	}
	return txHex, nil
}

func (f *fakeChainSource) GetTxStatus(_ context.Context, txid string) (*ports.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.acceptAfter > 0 && f.statusCalls < f.acceptAfter {
		return nil, ports.ErrTxNotFound
	}
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	status, ok := f.statuses[txid]
	if !ok {
		return nil, ports.ErrTxNotFound
	}
	return status, nil
}

func (f *fakeChainSource) GetFeeRate(context.Context) (float64, error) {
	return f.feeRate, nil
}

func (f *fakeChainSource) BaseUrl() string { return "fake://chain" }

type fakeBroadcaster struct {
	name  string
	txid  string
	err   error
	calls int
}

func (f *fakeBroadcaster) Name() string { return f.name }

func (f *fakeBroadcaster) Broadcast(context.Context, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.txid, nil
}

// scriptedBroadcaster returns one scripted response per call, then repeats the
// last one.
type scriptedBroadcaster struct {
	name    string
	scripts []func() (string, error)
	calls   int
}

func (f *scriptedBroadcaster) Name() string { return f.name }

func (f *scriptedBroadcaster) Broadcast(context.Context, string) (string, error) {
	idx := f.calls
	if idx >= len(f.scripts) {
		idx = len(f.scripts) - 1
	}
	f.calls++
	return f.scripts[idx]()
}

type fakeProver struct {
	pkg     *domain.ProofPackage
	err     error
	lastReq ports.ProofRequest
	calls   int
}

func (f *fakeProver) Prove(_ context.Context, req ports.ProofRequest) (*domain.ProofPackage, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	pkg := *f.pkg
	return &pkg, nil
}

type fakeFeeSource struct {
	rate float64
}

func (f *fakeFeeSource) RecommendedFeeRate() float64 { return f.rate }
func (f *fakeFeeSource) Stop()                       {}

type fakeReceiptRepo struct {
	mu       sync.Mutex
	receipts map[string]domain.OperationReceipt
}

func newFakeReceiptRepo() *fakeReceiptRepo {
	return &fakeReceiptRepo{receipts: make(map[string]domain.OperationReceipt)}
}

func (f *fakeReceiptRepo) Save(_ context.Context, receipt domain.OperationReceipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[receipt.Id] = receipt
	return nil
}

func (f *fakeReceiptRepo) Get(_ context.Context, id string) (*domain.OperationReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, ok := f.receipts[id]
	if !ok {
		return nil, fmt.Errorf("receipt %s not found", id)
	}
	return &receipt, nil
}

func (f *fakeReceiptRepo) List(
	context.Context, domain.OperationKind, int,
) ([]domain.OperationReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipts := make([]domain.OperationReceipt, 0, len(f.receipts))
	for _, r := range f.receipts {
		receipts = append(receipts, r)
	}
	return receipts, nil
}

func (f *fakeReceiptRepo) Close() {}

func (f *fakeReceiptRepo) byStage(stage domain.OperationStage) *domain.OperationReceipt {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.receipts {
		if r.Stage == stage {
			receipt := r
			return &receipt
		}
	}
	return nil
}

func testServiceConfig() ServiceConfig {
	return ServiceConfig{
		Network:        testNetwork,
		MockProver:     true,
		SatsPerCent:    10,
		PackageVBytes:  600,
		ProverTimeout:  time.Minute,
		LookupTimeout:  time.Second,
		MempoolTimeout: 50 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}
}
