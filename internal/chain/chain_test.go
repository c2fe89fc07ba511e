package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/kettlefi/kettle/internal/accrual"
	"github.com/kettlefi/kettle/internal/signing"
	"github.com/kettlefi/kettle/internal/util"
	"github.com/kettlefi/kettle/pkg/types"
)

var (
	testKettle     = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	testMulticall  = common.HexToAddress("0x00000000000000000000000000000000000000ca")
	testCurrency   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testCollection = common.HexToAddress("0x0000000000000000000000000000000000000721")
	testMulti      = common.HexToAddress("0x0000000000000000000000000000000000001155")
)

const testChainID = 31337

func newTestClient(t *testing.T) (*MockChain, *Client, *signing.KeySigner) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer := signing.NewKeySigner(key)

	mock := NewMockChain(testChainID, testKettle, testMulticall)
	cfg := DefaultClientConfig()
	cfg.ChainID = testChainID
	client := NewClient(cfg, signer)
	if err := client.Attach(context.Background(), mock); err != nil {
		t.Fatalf("failed to attach: %v", err)
	}
	return mock, client, signer
}

func testLoanOffer(lender common.Address) *types.LoanOffer {
	return &types.LoanOffer{
		Lender: lender,
		Collateral: types.Collateral{
			Collection: testCollection,
			Criteria:   types.CriteriaSimple,
			ItemType:   types.ItemTypeERC721,
			Identifier: big.NewInt(7),
			Size:       big.NewInt(1),
		},
		Terms: types.LoanOfferTerms{
			Currency:    testCurrency,
			TotalAmount: big.NewInt(1000),
			MaxAmount:   big.NewInt(500),
			MinAmount:   big.NewInt(100),
			Rate:        big.NewInt(1000),
			DefaultRate: big.NewInt(2000),
			Duration:    big.NewInt(86400),
			GracePeriod: big.NewInt(3600),
		},
		Fee:        types.FeeTerms{Recipient: common.HexToAddress("0xfee"), Rate: big.NewInt(100)},
		Expiration: big.NewInt(1_800_000_000),
		Salt:       big.NewInt(42),
		Nonce:      big.NewInt(0),
	}
}

func TestClient_AttachChainMismatch(t *testing.T) {
	mock := NewMockChain(1, testKettle, testMulticall)
	cfg := DefaultClientConfig()
	cfg.ChainID = testChainID
	client := NewClient(cfg, nil)

	err := client.Attach(context.Background(), mock)
	if !errors.Is(err, ErrChainMismatch) {
		t.Fatalf("expected ErrChainMismatch, got %v", err)
	}
	if client.IsConnected() {
		t.Error("client must not be connected after a mismatch")
	}
	if _, err := client.Backend(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_ConnectFailsOver(t *testing.T) {
	mock := NewMockChain(testChainID, testKettle, testMulticall)
	cfg := DefaultClientConfig()
	cfg.ChainID = testChainID
	cfg.RPCURLs = []string{"https://down.example.com", "https://up.example.com"}
	cfg.DialBackoff = util.Backoff{Attempts: 2, Initial: time.Millisecond}
	client := NewClient(cfg, nil)

	dialed := map[string]int{}
	client.SetDialer(func(ctx context.Context, url string) (Backend, error) {
		dialed[url]++
		if url == "https://down.example.com" {
			return nil, errors.New("connection refused")
		}
		return mock, nil
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if dialed["https://down.example.com"] != 2 {
		t.Errorf("expected 2 attempts against the failing endpoint, got %d", dialed["https://down.example.com"])
	}
	if !client.IsConnected() {
		t.Fatal("expected client to be connected")
	}

	var down Endpoint
	for _, ep := range client.Tracker().Snapshot() {
		if ep.URL == "https://down.example.com" {
			down = ep
		}
	}
	if down.ConsecutiveErrs != 1 {
		t.Errorf("expected one recorded error for the failing endpoint, got %d", down.ConsecutiveErrs)
	}
	client.Close()
	if client.IsConnected() {
		t.Error("expected client to be disconnected after Close")
	}
}

// flakyBackend drops the first failures reads and counts Close calls
type flakyBackend struct {
	*MockChain
	failures int
	closed   int
}

func (f *flakyBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset by peer")
	}
	return f.MockChain.CallContract(ctx, call, blockNumber)
}

func (f *flakyBackend) Close() { f.closed++ }

func TestClient_ConnectClosesRejectedBackend(t *testing.T) {
	wrongChain := &flakyBackend{MockChain: NewMockChain(1, testKettle, testMulticall)}
	good := &flakyBackend{MockChain: NewMockChain(testChainID, testKettle, testMulticall)}

	cfg := DefaultClientConfig()
	cfg.ChainID = testChainID
	cfg.RPCURLs = []string{"https://mainnet.example.com", "https://local.example.com"}
	client := NewClient(cfg, nil)
	client.SetDialer(func(ctx context.Context, url string) (Backend, error) {
		if url == "https://mainnet.example.com" {
			return wrongChain, nil
		}
		return good, nil
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if wrongChain.closed != 1 {
		t.Errorf("expected the rejected backend to be closed once, got %d", wrongChain.closed)
	}
	if good.closed != 0 {
		t.Error("the attached backend must stay open")
	}
	client.Close()
	if good.closed != 1 {
		t.Errorf("expected Close to release the attached backend, got %d", good.closed)
	}
}

func newFlakyClient(t *testing.T, failures int) (*flakyBackend, *Client) {
	t.Helper()
	backend := &flakyBackend{MockChain: NewMockChain(testChainID, testKettle, testMulticall), failures: failures}
	cfg := DefaultClientConfig()
	cfg.ChainID = testChainID
	cfg.ReadBackoff = util.Backoff{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond}
	client := NewClient(cfg, nil)
	if err := client.Attach(context.Background(), backend); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	return backend, client
}

func TestClient_ReadsRetryTransportErrors(t *testing.T) {
	owner := common.HexToAddress("0xa11ce")
	backend, client := newFlakyClient(t, 2)
	backend.SetBalance(testCurrency, owner, big.NewInt(5000))

	token, err := NewERC20(client, testCurrency)
	if err != nil {
		t.Fatal(err)
	}
	balance, err := token.BalanceOf(context.Background(), owner)
	if err != nil {
		t.Fatalf("BalanceOf failed after transient errors: %v", err)
	}
	if balance.Cmp(big.NewInt(5000)) != 0 {
		t.Errorf("expected balance 5000, got %s", balance)
	}
	if backend.failures != 0 {
		t.Errorf("expected both transient failures to be consumed, %d left", backend.failures)
	}
	if backend.CallCount() != 1 {
		t.Errorf("expected one eth_call to reach the chain, got %d", backend.CallCount())
	}
}

func TestClient_ReadsGiveUpAfterBackoff(t *testing.T) {
	owner := common.HexToAddress("0xa11ce")
	backend, client := newFlakyClient(t, 10)
	backend.SetBalance(testCurrency, owner, big.NewInt(1))

	token, err := NewERC20(client, testCurrency)
	if err != nil {
		t.Fatal(err)
	}
	_, err = token.BalanceOf(context.Background(), owner)
	if !errors.Is(err, util.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if backend.failures != 7 {
		t.Errorf("expected 3 attempts, %d failures left", backend.failures)
	}
}

func TestClient_ReadsDoNotRetryReverts(t *testing.T) {
	owner := common.HexToAddress("0xa11ce")
	backend, client := newFlakyClient(t, 0)
	backend.SetBalance(testCurrency, owner, big.NewInt(1))
	backend.FailCall(testCurrency, "balanceOf")

	token, err := NewERC20(client, testCurrency)
	if err != nil {
		t.Fatal(err)
	}
	_, err = token.BalanceOf(context.Background(), owner)
	if !IsRevert(err) {
		t.Fatalf("expected a revert, got %v", err)
	}
	if backend.CallCount() != 1 {
		t.Errorf("a revert must not be retried, got %d calls", backend.CallCount())
	}
}

func TestClient_ConnectNoEndpoints(t *testing.T) {
	client := NewClient(DefaultClientConfig(), nil)
	if err := client.Connect(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_TransactOptsRequiresSigner(t *testing.T) {
	mock := NewMockChain(testChainID, testKettle, testMulticall)
	cfg := DefaultClientConfig()
	cfg.ChainID = testChainID
	client := NewClient(cfg, nil)
	if err := client.Attach(context.Background(), mock); err != nil {
		t.Fatal(err)
	}
	if _, err := client.TransactOpts(context.Background()); !errors.Is(err, signing.ErrNoSigner) {
		t.Fatalf("expected ErrNoSigner, got %v", err)
	}
}

func TestClient_GasPriceCapped(t *testing.T) {
	_, client, _ := newTestClient(t)
	client.config.MaxGasPrice = big.NewInt(1000)

	opts, err := client.TransactOpts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if opts.GasPrice.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("expected gas price capped at 1000, got %s", opts.GasPrice)
	}
	if opts.Nonce.Uint64() != 0 {
		t.Errorf("expected first nonce 0, got %s", opts.Nonce)
	}
}

func TestERC20_ApproveAndRead(t *testing.T) {
	mock, client, signer := newTestClient(t)
	ctx := context.Background()
	mock.SetBalance(testCurrency, signer.Address(), big.NewInt(5000))

	token, err := NewERC20(client, testCurrency)
	if err != nil {
		t.Fatal(err)
	}

	balance, err := token.BalanceOf(ctx, signer.Address())
	if err != nil {
		t.Fatalf("BalanceOf failed: %v", err)
	}
	if balance.Cmp(big.NewInt(5000)) != 0 {
		t.Errorf("expected balance 5000, got %s", balance)
	}

	tx, err := token.Approve(ctx, testKettle, types.MaxUint256)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	receipt, err := client.WaitForTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("WaitForTransaction failed: %v", err)
	}
	if receipt.Status != 1 {
		t.Errorf("expected successful receipt, got status %d", receipt.Status)
	}

	allowance, err := token.Allowance(ctx, signer.Address(), testKettle)
	if err != nil {
		t.Fatalf("Allowance failed: %v", err)
	}
	if allowance.Cmp(types.MaxUint256) != 0 {
		t.Errorf("expected max allowance, got %s", allowance)
	}

	txs := mock.Transactions()
	if len(txs) != 1 || txs[0].Method != "approve" || txs[0].From != signer.Address() {
		t.Fatalf("unexpected transactions: %+v", txs)
	}
}

func TestClient_NonceAdvancesAndResyncs(t *testing.T) {
	mock, client, signer := newTestClient(t)
	ctx := context.Background()
	mock.AddToken(testCurrency)

	token, err := NewERC20(client, testCurrency)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := token.Approve(ctx, testKettle, big.NewInt(int64(i))); err != nil {
			t.Fatalf("approve %d failed: %v", i, err)
		}
	}

	mock.FailCall(testCurrency, "approve")
	if _, err := token.Approve(ctx, testKettle, big.NewInt(9)); err == nil {
		t.Fatal("expected reverted approve to fail")
	}

	nonce, _ := mock.PendingNonceAt(ctx, signer.Address())
	if nonce != 2 {
		t.Fatalf("expected chain nonce 2, got %d", nonce)
	}
	opts, err := client.TransactOpts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Nonce.Uint64() != 2 {
		t.Errorf("expected local nonce resynced to 2, got %s", opts.Nonce)
	}
}

func TestClient_WaitForTransactionTimeout(t *testing.T) {
	mock, client, _ := newTestClient(t)
	mock.AddToken(testCurrency)
	mock.HoldReceipts(true)

	token, _ := NewERC20(client, testCurrency)
	tx, err := token.Approve(context.Background(), testKettle, big.NewInt(1))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.WaitForTransaction(ctx, tx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	mock.ReleaseReceipts()
	if _, err := client.WaitForTransaction(context.Background(), tx); err != nil {
		t.Fatalf("expected receipt after release, got %v", err)
	}
}

func TestCollection_Reads(t *testing.T) {
	mock, client, signer := newTestClient(t)
	ctx := context.Background()
	owner := signer.Address()
	mock.Mint721(testCollection, big.NewInt(7), owner)
	mock.Mint1155(testMulti, big.NewInt(3), owner, big.NewInt(12))

	erc721, err := NewCollection(client, testCollection, types.ItemTypeERC721)
	if err != nil {
		t.Fatal(err)
	}
	got, err := erc721.OwnerOf(ctx, big.NewInt(7))
	if err != nil || got != owner {
		t.Fatalf("OwnerOf = %s, %v; want %s", got.Hex(), err, owner.Hex())
	}
	if _, err := erc721.OwnerOf(ctx, big.NewInt(8)); err == nil || !IsRevert(err) {
		t.Errorf("expected revert for unminted token, got %v", err)
	}
	if _, err := erc721.BalanceOf(ctx, owner, big.NewInt(7)); err == nil {
		t.Error("expected error for ERC-1155 read on ERC-721 binding")
	}

	erc1155, err := NewCollection(client, testMulti, types.ItemTypeERC1155)
	if err != nil {
		t.Fatal(err)
	}
	balance, err := erc1155.BalanceOf(ctx, owner, big.NewInt(3))
	if err != nil || balance.Cmp(big.NewInt(12)) != 0 {
		t.Fatalf("BalanceOf = %v, %v; want 12", balance, err)
	}

	approved, err := erc721.IsApprovedForAll(ctx, owner, testKettle)
	if err != nil || approved {
		t.Fatalf("IsApprovedForAll = %v, %v; want false", approved, err)
	}
	if _, err := erc721.SetApprovalForAll(ctx, testKettle, true); err != nil {
		t.Fatalf("SetApprovalForAll failed: %v", err)
	}
	approved, err = erc721.IsApprovedForAll(ctx, owner, testKettle)
	if err != nil || !approved {
		t.Fatalf("IsApprovedForAll = %v, %v; want true", approved, err)
	}
}

func TestKettle_HashMatchesTypedData(t *testing.T) {
	_, client, signer := newTestClient(t)
	ctx := context.Background()

	kettle, err := NewKettle(client, testKettle)
	if err != nil {
		t.Fatal(err)
	}
	hasher := signing.NewHasher(big.NewInt(testChainID), testKettle)

	offers := []types.Offer{
		testLoanOffer(signer.Address()),
		&types.BorrowOffer{
			Borrower:   signer.Address(),
			Collateral: testLoanOffer(signer.Address()).Collateral,
			Terms: types.BorrowOfferTerms{
				Currency: testCurrency, Amount: big.NewInt(10), Rate: big.NewInt(1),
				DefaultRate: big.NewInt(2), Duration: big.NewInt(3), GracePeriod: big.NewInt(4),
			},
			Fee:        types.FeeTerms{Rate: big.NewInt(0)},
			Expiration: big.NewInt(1), Salt: big.NewInt(2), Nonce: big.NewInt(3),
		},
		&types.MarketOffer{
			Side:       types.SideBid,
			Maker:      signer.Address(),
			Collateral: testLoanOffer(signer.Address()).Collateral,
			Terms: types.MarketOfferTerms{
				Currency: testCurrency, Amount: big.NewInt(10), WithLoan: true,
				BorrowAmount: big.NewInt(5), LoanOfferHash: common.HexToHash("0xbeef"),
			},
			Fee:        types.FeeTerms{Rate: big.NewInt(250)},
			Expiration: big.NewInt(1), Salt: big.NewInt(2), Nonce: big.NewInt(3),
		},
	}
	for _, offer := range offers {
		onChain, err := kettle.HashOffer(ctx, offer)
		if err != nil {
			t.Fatalf("%s: HashOffer failed: %v", offer.Kind(), err)
		}
		local, err := hasher.Hash(offer)
		if err != nil {
			t.Fatal(err)
		}
		if onChain != local {
			t.Errorf("%s: contract hash %s != local hash %s", offer.Kind(), onChain.Hex(), local.Hex())
		}
	}
}

func TestKettle_ReadsAndSettlement(t *testing.T) {
	mock, client, signer := newTestClient(t)
	ctx := context.Background()
	kettle, err := NewKettle(client, testKettle)
	if err != nil {
		t.Fatal(err)
	}
	me := signer.Address()

	nonce, err := kettle.Nonce(ctx, me)
	if err != nil || nonce.Sign() != 0 {
		t.Fatalf("Nonce = %v, %v; want 0", nonce, err)
	}
	if _, err := kettle.IncrementNonce(ctx); err != nil {
		t.Fatalf("IncrementNonce failed: %v", err)
	}
	if nonce, _ = kettle.Nonce(ctx, me); nonce.Int64() != 1 {
		t.Errorf("expected nonce 1, got %s", nonce)
	}

	if _, err := kettle.CancelOffers(ctx, []*big.Int{big.NewInt(5), big.NewInt(6)}); err != nil {
		t.Fatalf("CancelOffers failed: %v", err)
	}
	for _, salt := range []int64{5, 6} {
		done, err := kettle.CancelledOrFulfilled(ctx, me, big.NewInt(salt))
		if err != nil || !done {
			t.Errorf("salt %d: CancelledOrFulfilled = %v, %v", salt, done, err)
		}
	}
	if done, _ := kettle.CancelledOrFulfilled(ctx, me, big.NewInt(7)); done {
		t.Error("salt 7 was never cancelled")
	}

	offer := testLoanOffer(common.HexToAddress("0x1e9d"))
	sig := make([]byte, 65)
	if _, err := kettle.Borrow(ctx, offer, big.NewInt(300), big.NewInt(7), common.Address{}, sig, nil); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	hash, _ := kettle.HashOffer(ctx, offer)
	taken, err := kettle.AmountTaken(ctx, hash)
	if err != nil || taken.Int64() != 300 {
		t.Fatalf("AmountTaken = %v, %v; want 300", taken, err)
	}

	txs := mock.Transactions()
	if txs[len(txs)-1].Method != "borrow" {
		t.Errorf("expected last transaction to be borrow, got %s", txs[len(txs)-1].Method)
	}
}

func TestKettle_CurrentDebtAmountMatchesAccrual(t *testing.T) {
	mock, client, _ := newTestClient(t)
	kettle, _ := NewKettle(client, testKettle)

	start := mock.Now().Add(-180 * 24 * time.Hour)
	lien := &types.Lien{
		Borrower:    common.HexToAddress("0xb0"),
		Currency:    testCurrency,
		Collection:  testCollection,
		TokenID:     big.NewInt(7),
		Size:        big.NewInt(1),
		Principal:   big.NewInt(1_000_000),
		Rate:        big.NewInt(1000),
		DefaultRate: big.NewInt(2000),
		Fee:         big.NewInt(100),
		Duration:    big.NewInt(90 * 86400),
		GracePeriod: big.NewInt(86400),
		StartTime:   big.NewInt(start.Unix()),
	}

	got, err := kettle.CurrentDebtAmount(context.Background(), lien)
	if err != nil {
		t.Fatalf("CurrentDebtAmount failed: %v", err)
	}
	want, err := accrual.ForLien(lien, mock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if got.Debt.Cmp(want.Debt) != 0 || got.FeeInterest.Cmp(want.FeeInterest) != 0 || got.LenderInterest.Cmp(want.LenderInterest) != 0 {
		t.Errorf("contract debt %+v != local debt %+v", got, want)
	}
}

func TestMulticall3_TryAggregate(t *testing.T) {
	mock, client, signer := newTestClient(t)
	ctx := context.Background()
	me := signer.Address()
	mock.SetBalance(testCurrency, me, big.NewInt(77))
	mock.AddCollection(testCollection, types.ItemTypeERC721)

	mc, err := NewMulticall3(client, testMulticall)
	if err != nil {
		t.Fatal(err)
	}

	balanceCall, _ := ERC20ContractABI.Pack("balanceOf", me)
	ownerCall, _ := ERC721ContractABI.Pack("ownerOf", big.NewInt(99))
	calls := []MulticallCall{
		{Target: testCurrency, CallData: balanceCall},
		{Target: testCollection, CallData: ownerCall},
		{Target: common.HexToAddress("0xdead"), CallData: balanceCall},
	}
	results, err := mc.TryAggregate(ctx, calls)
	if err != nil {
		t.Fatalf("TryAggregate failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if !results[0].Success {
		t.Fatal("balanceOf should succeed")
	}
	out, err := ERC20ContractABI.Unpack("balanceOf", results[0].ReturnData)
	if err != nil || out[0].(*big.Int).Int64() != 77 {
		t.Errorf("unexpected balance %v, %v", out, err)
	}
	if results[1].Success {
		t.Error("ownerOf of an unminted token should fail")
	}
	if !results[2].Success || len(results[2].ReturnData) != 0 {
		t.Error("call to an address without code should succeed with empty data")
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected a single eth_call, got %d", mock.CallCount())
	}
}

func TestIsRevert(t *testing.T) {
	if IsRevert(nil) {
		t.Error("nil is not a revert")
	}
	if !IsRevert(ErrExecutionReverted) {
		t.Error("ErrExecutionReverted is a revert")
	}
	if !IsRevert(errors.New("execution reverted: ERC721: invalid token ID")) {
		t.Error("RPC revert message should be detected")
	}
	if IsRevert(errors.New("connection refused")) {
		t.Error("transport errors are not reverts")
	}
}
