package reconcile

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/surya-moorthy/escrow-reward-system/internal/model"
)

type fakeReader struct {
	balances map[common.Address]*big.Int
	failures map[common.Address]int
	calls    map[common.Address]int
}

func (f *fakeReader) BalanceOf(_ context.Context, token, owner common.Address, _ *big.Int) (*big.Int, error) {
	f.calls[token]++
	if f.failures[token] > 0 {
		f.failures[token]--
		return nil, errors.New("rpc unavailable")
	}
	bal, ok := f.balances[owner]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return new(big.Int).Set(bal), nil
}

type sliceWriter struct {
	results []Result
}

func (w *sliceWriter) Write(value interface{}) error {
	w.results = append(w.results, value.(Result))
	return nil
}

func TestReconcile(t *testing.T) {
	assetA := common.HexToAddress("0xc000000000000000000000000000000000000001")
	assetB := common.HexToAddress("0xc000000000000000000000000000000000000002")
	assetC := common.HexToAddress("0xc000000000000000000000000000000000000003")
	vaultA := common.HexToAddress("0xe000000000000000000000000000000000000001")
	vaultB := common.HexToAddress("0xe000000000000000000000000000000000000002")
	vaultC := common.HexToAddress("0xe000000000000000000000000000000000000003")

	snap := model.Snapshot{Assets: []model.SupportedAsset{
		{AssetID: assetA, Vault: vaultA, TotalStaked: 100},
		{AssetID: assetB, Vault: vaultB, TotalStaked: 50},
		{AssetID: assetC, Vault: vaultC, TotalStaked: 1},
	}}
	reader := &fakeReader{
		balances: map[common.Address]*big.Int{vaultA: big.NewInt(100), vaultB: big.NewInt(45)},
		failures: map[common.Address]int{assetA: 1},
		calls:    map[common.Address]int{},
	}
	out := &sliceWriter{}

	summary, err := New(Config{MaxRetries: 2, RetryBackoff: time.Millisecond}, reader, nil).Run(context.Background(), snap, out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Assets != 3 || summary.Matched != 1 || summary.Mismatched != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.OK() {
		t.Fatalf("summary with mismatches must not be OK")
	}
	if reader.calls[assetA] != 2 {
		t.Fatalf("expected one retry for asset A, got %d calls", reader.calls[assetA])
	}

	if got := out.results[0]; got.Status != StatusMatch || got.OnChain != "100" {
		t.Fatalf("asset A: %+v", got)
	}
	if got := out.results[1]; got.Status != StatusMismatch || got.Delta != "-5" {
		t.Fatalf("asset B: %+v", got)
	}
	if got := out.results[2]; got.Status != StatusError || got.Error == "" {
		t.Fatalf("asset C: %+v", got)
	}
}

func TestJSONLWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.jsonl")
	w, err := NewJSONLWriter(path, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, status := range []string{StatusMatch, StatusMismatch} {
		if err := w.Write(Result{Status: status}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer file.Close()

	var statuses []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var r Result
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("parse: %v", err)
		}
		statuses = append(statuses, r.Status)
	}
	if len(statuses) != 2 || statuses[0] != StatusMatch || statuses[1] != StatusMismatch {
		t.Fatalf("unexpected report: %v", statuses)
	}
}

func TestReconcileAssetFilter(t *testing.T) {
	assetA := common.HexToAddress("0xc000000000000000000000000000000000000001")
	assetB := common.HexToAddress("0xc000000000000000000000000000000000000002")
	vaultA := common.HexToAddress("0xe000000000000000000000000000000000000001")
	snap := model.Snapshot{Assets: []model.SupportedAsset{
		{AssetID: assetA, Vault: vaultA, TotalStaked: 3},
		{AssetID: assetB, Vault: common.HexToAddress("0xe000000000000000000000000000000000000002"), TotalStaked: 4},
	}}
	reader := &fakeReader{balances: map[common.Address]*big.Int{vaultA: big.NewInt(3)}, calls: map[common.Address]int{}}

	only, err := ParseAddresses([]string{" " + assetA.Hex() + " ", ""})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := &sliceWriter{}
	summary, err := New(Config{Assets: only}, reader, nil).Run(context.Background(), snap, out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.OK() || summary.Assets != 1 || reader.calls[assetB] != 0 {
		t.Fatalf("unexpected summary %+v calls %v", summary, reader.calls)
	}

	if _, err := ParseAddresses([]string{"0x12"}); err == nil {
		t.Fatalf("expected error for short address")
	}
}

type decimalsReader struct {
	*fakeReader
	decimals map[common.Address]uint8
}

func (d *decimalsReader) Decimals(_ context.Context, token common.Address) (uint8, error) {
	dec, ok := d.decimals[token]
	if !ok {
		return 0, errors.New("execution reverted")
	}
	return dec, nil
}

func TestReconcileDecimals(t *testing.T) {
	assetA := common.HexToAddress("0xc000000000000000000000000000000000000001")
	assetB := common.HexToAddress("0xc000000000000000000000000000000000000002")
	vaultA := common.HexToAddress("0xe000000000000000000000000000000000000001")
	vaultB := common.HexToAddress("0xe000000000000000000000000000000000000002")
	snap := model.Snapshot{Assets: []model.SupportedAsset{
		{AssetID: assetA, Vault: vaultA, TotalStaked: 7},
		{AssetID: assetB, Vault: vaultB, TotalStaked: 8},
	}}
	reader := &decimalsReader{
		fakeReader: &fakeReader{
			balances: map[common.Address]*big.Int{vaultA: big.NewInt(7), vaultB: big.NewInt(8)},
			calls:    map[common.Address]int{},
		},
		decimals: map[common.Address]uint8{assetA: 18},
	}
	out := &sliceWriter{}
	summary, err := New(Config{}, reader, nil).Run(context.Background(), snap, out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.OK() || summary.Matched != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if out.results[0].Decimals == nil || *out.results[0].Decimals != 18 {
		t.Fatalf("asset A decimals: %+v", out.results[0])
	}
	if out.results[1].Decimals != nil {
		t.Fatalf("asset B should have no decimals: %+v", out.results[1])
	}
}
