package actions

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kettlefi/kettle/internal/accrual"
	"github.com/kettlefi/kettle/internal/chain"
	"github.com/kettlefi/kettle/internal/logging"
	"github.com/kettlefi/kettle/internal/metrics"
	"github.com/kettlefi/kettle/internal/signing"
	"github.com/kettlefi/kettle/internal/validation"
	"github.com/kettlefi/kettle/pkg/types"
)

var (
	kettleAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	multicall  = common.HexToAddress("0x00000000000000000000000000000000000000ca")
	currency   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	nft        = common.HexToAddress("0x0000000000000000000000000000000000000721")
	feeTo      = common.HexToAddress("0x0000000000000000000000000000000000000fee")
)

const chainID = 31337

// rejectingSigner declines every request
type rejectingSigner struct{ *signing.KeySigner }

func (rejectingSigner) SignDigest(context.Context, []byte) ([]byte, error) {
	return nil, signing.ErrRejected
}

type account struct {
	signer  signing.Signer
	addr    common.Address
	builder *Builder
}

type fixture struct {
	t       *testing.T
	mock    *chain.MockChain
	hasher  *signing.Hasher
	metrics *metrics.Collector
	salt    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := chain.NewMockChain(chainID, kettleAddr, multicall)
	mock.AddToken(currency)
	mock.AddCollection(nft, types.ItemTypeERC721)
	return &fixture{
		t:       t,
		mock:    mock,
		hasher:  signing.NewHasher(big.NewInt(chainID), kettleAddr),
		metrics: metrics.NewCollector(),
	}
}

func (f *fixture) connect(signer signing.Signer, opts Options) *Builder {
	f.t.Helper()
	cfg := chain.DefaultClientConfig()
	cfg.ChainID = chainID
	cfg.RequestsPerSecond = 0
	client := chain.NewClient(cfg, signer)
	require.NoError(f.t, client.Attach(context.Background(), f.mock))

	v, err := validation.New(client, kettleAddr, multicall, validation.Options{
		Capabilities: validation.Capabilities{LienAware: true},
		Clock:        f.mock.Now,
	})
	require.NoError(f.t, err)

	opts.Clock = f.mock.Now
	opts.Metrics = f.metrics
	b, err := New(client, kettleAddr, v, opts)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) account(opts Options) *account {
	f.t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(f.t, err)
	signer := signing.NewKeySigner(key)
	return &account{signer: signer, addr: signer.Address(), builder: f.connect(signer, opts)}
}

// fund gives owner amount of currency and the given allowance
func (f *fixture) fund(owner common.Address, amount int64, allowance *big.Int) {
	f.mock.SetBalance(currency, owner, big.NewInt(amount))
	f.mock.SetAllowance(currency, owner, kettleAddr, allowance)
}

func (f *fixture) expiration() *big.Int {
	return big.NewInt(f.mock.Now().Add(24 * time.Hour).Unix())
}

func (f *fixture) collateral(id int64) types.CollateralInput {
	return types.CollateralInput{
		Collection: nft,
		Criteria:   types.CriteriaSimple,
		ItemType:   types.ItemTypeERC721,
		Identifier: big.NewInt(id),
	}
}

func (f *fixture) loanInput(amount int64) types.CreateLoanOfferInput {
	return types.CreateLoanOfferInput{
		CollateralInput: f.collateral(7),
		Currency:        currency,
		Amount:          big.NewInt(amount),
		Rate:            big.NewInt(1000),
		DefaultRate:     big.NewInt(2000),
		Fee:             big.NewInt(100),
		Recipient:       feeTo,
		Duration:        big.NewInt(30 * 86400),
		GracePeriod:     big.NewInt(86400),
		Expiration:      f.expiration(),
	}
}

func (f *fixture) borrowInput() types.CreateBorrowOfferInput {
	return types.CreateBorrowOfferInput{
		CollateralInput: f.collateral(7),
		Currency:        currency,
		Amount:          big.NewInt(1000),
		Rate:            big.NewInt(1000),
		DefaultRate:     big.NewInt(2000),
		Fee:             big.NewInt(100),
		Recipient:       feeTo,
		Duration:        big.NewInt(30 * 86400),
		GracePeriod:     big.NewInt(86400),
		Expiration:      f.expiration(),
	}
}

func (f *fixture) marketInput(amount int64) types.CreateMarketOfferInput {
	return types.CreateMarketOfferInput{
		CollateralInput: f.collateral(7),
		Currency:        currency,
		Amount:          big.NewInt(amount),
		Fee:             big.NewInt(100),
		Recipient:       feeTo,
		Expiration:      f.expiration(),
	}
}

// sign returns an offer signed by maker
func (f *fixture) sign(maker *account, offer types.Offer) []byte {
	sig, err := f.hasher.Sign(context.Background(), offer, maker.signer)
	require.NoError(f.t, err)
	return sig
}

func (f *fixture) nextSalt() *big.Int {
	f.salt++
	return big.NewInt(f.salt)
}

func (f *fixture) loanOffer(lender common.Address, amount int64) *types.LoanOffer {
	return &types.LoanOffer{
		Lender: lender,
		Collateral: types.Collateral{
			Collection: nft,
			Criteria:   types.CriteriaSimple,
			ItemType:   types.ItemTypeERC721,
			Identifier: big.NewInt(7),
			Size:       big.NewInt(1),
		},
		Terms: types.LoanOfferTerms{
			Currency:    currency,
			TotalAmount: big.NewInt(amount),
			MaxAmount:   big.NewInt(amount),
			MinAmount:   big.NewInt(amount),
			Rate:        big.NewInt(1000),
			DefaultRate: big.NewInt(2000),
			Duration:    big.NewInt(30 * 86400),
			GracePeriod: big.NewInt(86400),
		},
		Fee:        types.FeeTerms{Recipient: feeTo, Rate: big.NewInt(100)},
		Expiration: f.expiration(),
		Salt:       f.nextSalt(),
		Nonce:      new(big.Int),
	}
}

func (f *fixture) marketOffer(side types.Side, maker common.Address, amount int64) *types.MarketOffer {
	o := &types.MarketOffer{
		Side:  side,
		Maker: maker,
		Collateral: types.Collateral{
			Collection: nft,
			Criteria:   types.CriteriaSimple,
			ItemType:   types.ItemTypeERC721,
			Identifier: big.NewInt(7),
			Size:       big.NewInt(1),
		},
		Terms:      types.MarketOfferTerms{Currency: currency, Amount: big.NewInt(amount)},
		Fee:        types.FeeTerms{Recipient: feeTo, Rate: big.NewInt(100)},
		Expiration: f.expiration(),
		Salt:       f.nextSalt(),
		Nonce:      new(big.Int),
	}
	o.Normalize()
	return o
}

// lien is a current loan from lender to borrower on token 7, held by the
// settlement contract
func (f *fixture) lien(lender, borrower common.Address) *types.Lien {
	f.mock.Mint721(nft, big.NewInt(7), kettleAddr)
	return &types.Lien{
		Lender:      lender,
		Borrower:    borrower,
		Recipient:   feeTo,
		Currency:    currency,
		Collection:  nft,
		ItemType:    types.ItemTypeERC721,
		TokenID:     big.NewInt(7),
		Size:        big.NewInt(1),
		Principal:   big.NewInt(1000),
		Rate:        big.NewInt(1000),
		DefaultRate: big.NewInt(2000),
		Fee:         big.NewInt(100),
		Duration:    big.NewInt(30 * 86400),
		GracePeriod: big.NewInt(86400),
		StartTime:   big.NewInt(f.mock.Now().Add(-24 * time.Hour).Unix()),
	}
}

func (f *fixture) debt(l *types.Lien) *big.Int {
	d, err := accrual.ForLien(l, f.mock.Now())
	require.NoError(f.t, err)
	return d.Debt
}

func (f *fixture) lastTx() chain.MockTx {
	txs := f.mock.Transactions()
	require.NotEmpty(f.t, txs)
	return txs[len(txs)-1]
}

func TestCreateLoanOffer(t *testing.T) {
	f := newFixture(t)
	lender := f.account(Options{})
	f.fund(lender.addr, 10000, new(big.Int))
	f.mock.SetNonce(lender.addr, big.NewInt(3))

	plan, err := lender.builder.CreateLoanOffer(context.Background(), f.loanInput(10000))
	require.NoError(t, err)
	require.Equal(t, []Kind{KindApproval, KindCreate}, plan.Kinds())
	assert.Equal(t, StateNeedsApproval, plan[0].State())
	assert.Equal(t, currency, plan[0].Target)

	create := plan.Terminal()
	assert.Equal(t, StateReady, create.State())
	assert.NotEmpty(t, create.Payload)
	offer, ok := create.Offer.(*types.LoanOffer)
	require.True(t, ok)
	assert.Equal(t, lender.addr, offer.Lender)
	assert.Equal(t, int64(3), offer.Nonce.Int64())
	assert.Equal(t, int64(10000), offer.Terms.MinAmount.Int64())
	assert.Equal(t, int64(1), offer.Collateral.Size.Int64())

	results, err := plan.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	approve := f.lastTx()
	assert.Equal(t, "approve", approve.Method)
	assert.Equal(t, types.MaxUint256, approve.Args[1])

	signed := results[1].Signed
	require.NotNil(t, signed)
	assert.Equal(t, types.OfferKindLoan, signed.Kind)
	assert.True(t, f.hasher.RecoverAndCompare(signed.Offer, signed.Signature, lender.addr))
	assert.Equal(t, StateExecuted, create.State())

	// approval is no longer needed once granted
	again, err := lender.builder.CreateLoanOffer(context.Background(), f.loanInput(10000))
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindCreate}, again.Kinds())
}

func TestCreateLoanOffer_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	lender := f.account(Options{})
	f.fund(lender.addr, 9999, types.MaxUint256)

	_, err := lender.builder.CreateLoanOffer(context.Background(), f.loanInput(10000))
	assert.ErrorIs(t, err, validation.ReasonInsufficientBalance)
}

func TestCreateLoanOffer_InvalidTerms(t *testing.T) {
	f := newFixture(t)
	lender := f.account(Options{})
	in := f.loanInput(10000)
	in.MinAmount = big.NewInt(20000)

	_, err := lender.builder.CreateLoanOffer(context.Background(), in)
	assert.Error(t, err)
}

func TestCreateLoanOffer_LenderOwnLien(t *testing.T) {
	f := newFixture(t)
	lender := f.account(Options{})
	borrower := f.account(Options{})
	lien := f.lien(lender.addr, borrower.addr)

	in := f.loanInput(1500)
	in.Lien = lien
	increase := new(big.Int).Sub(big.NewInt(1500), f.debt(lien))
	f.mock.SetBalance(currency, lender.addr, increase)
	f.mock.SetAllowance(currency, lender.addr, kettleAddr, increase)

	plan, err := lender.builder.CreateLoanOffer(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindCreate}, plan.Kinds())

	// someone else's lien does not reduce the requirement
	in.Lien = f.lien(common.HexToAddress("0xbeef"), borrower.addr)
	_, err = lender.builder.CreateLoanOffer(context.Background(), in)
	assert.ErrorIs(t, err, validation.ReasonInsufficientBalance)
}

func TestCreateBorrowOffer(t *testing.T) {
	f := newFixture(t)
	borrower := f.account(Options{})

	_, err := borrower.builder.CreateBorrowOffer(context.Background(), f.borrowInput())
	assert.ErrorIs(t, err, validation.ReasonInsufficientCollateral)

	f.mock.Mint721(nft, big.NewInt(7), borrower.addr)
	in := f.borrowInput()
	in.Criteria = types.CriteriaProof
	plan, err := borrower.builder.CreateBorrowOffer(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, []Kind{KindApproval, KindCreate}, plan.Kinds())
	assert.Equal(t, nft, plan[0].Target)
	assert.Equal(t, types.CriteriaSimple, plan.Terminal().Offer.Header().Collateral.Criteria)

	_, err = plan.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "setApprovalForAll", f.mock.Transactions()[0].Method)

	plan, err = borrower.builder.CreateBorrowOffer(context.Background(), f.borrowInput())
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindCreate}, plan.Kinds())
}

func TestCreateAskOffer(t *testing.T) {
	f := newFixture(t)
	seller := f.account(Options{})

	_, err := seller.builder.CreateAskOffer(context.Background(), f.marketInput(2000))
	assert.ErrorIs(t, err, validation.ReasonInsufficientCollateral)

	f.mock.Mint721(nft, big.NewInt(7), seller.addr)
	f.mock.SetApprovalForAll(nft, seller.addr, kettleAddr, true)
	in := f.marketInput(2000)
	in.WithLoan = true
	in.BorrowAmount = big.NewInt(500)
	plan, err := seller.builder.CreateAskOffer(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, []Kind{KindCreate}, plan.Kinds())

	ask := plan.Terminal().Offer.(*types.MarketOffer)
	assert.Equal(t, types.SideAsk, ask.Side)
	assert.False(t, ask.Terms.WithLoan)
	assert.Zero(t, ask.Terms.BorrowAmount.Sign())
}

func TestCreateAskOffer_InLien(t *testing.T) {
	f := newFixture(t)
	seller := f.account(Options{})
	lender := common.HexToAddress("0xbeef")

	tests := []struct {
		name   string
		amount int64
		edit   func(l *types.Lien)
		want   validation.Reason
	}{
		{"covers debt", 2000, func(l *types.Lien) {}, ""},
		{"currency mismatch", 2000, func(l *types.Lien) { l.Currency = common.HexToAddress("0xc2") }, validation.ReasonLienCurrencyMismatch},
		{"collection mismatch", 2000, func(l *types.Lien) { l.Collection = common.HexToAddress("0x1") }, validation.ReasonLienCollectionMismatch},
		{"item type mismatch", 2000, func(l *types.Lien) { l.ItemType = types.ItemTypeERC1155 }, validation.ReasonLienItemTypeMismatch},
		{"token mismatch", 2000, func(l *types.Lien) { l.TokenID = big.NewInt(8) }, validation.ReasonLienTokenIDMismatch},
		{"not the borrower", 2000, func(l *types.Lien) { l.Borrower = lender }, validation.ReasonSellerNotBorrower},
		{"defaulted", 2000, func(l *types.Lien) {
			l.StartTime = big.NewInt(f.mock.Now().Add(-90 * 24 * time.Hour).Unix())
		}, validation.ReasonLienDefaulted},
		{"does not cover debt", 1000, func(l *types.Lien) {}, validation.ReasonAskDoesNotCoverDebt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lien := f.lien(lender, seller.addr)
			tt.edit(lien)
			in := f.marketInput(tt.amount)
			in.Lien = lien

			plan, err := seller.builder.CreateAskOffer(context.Background(), in)
			if tt.want != "" {
				assert.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []Kind{KindCreate}, plan.Kinds())

			// what the builder accepts, the validator accepts
			ask := plan.Terminal().Offer.(*types.MarketOffer)
			assert.NoError(t, seller.builder.validator.ValidateAskOffer(context.Background(), ask, lien))
		})
	}
}

func TestCreateBidOffer(t *testing.T) {
	f := newFixture(t)
	buyer := f.account(Options{})
	f.fund(buyer.addr, 999, types.MaxUint256)

	_, err := buyer.builder.CreateBidOffer(context.Background(), f.marketInput(1000))
	assert.ErrorIs(t, err, validation.ReasonInsufficientBalance)

	f.fund(buyer.addr, 1000, big.NewInt(10))
	in := f.marketInput(1000)
	in.WithLoan = true
	in.BorrowAmount = big.NewInt(400)
	plan, err := buyer.builder.CreateBidOffer(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindApproval, KindCreate}, plan.Kinds())

	bid := plan.Terminal().Offer.(*types.MarketOffer)
	assert.True(t, bid.Terms.WithLoan)
	assert.Equal(t, int64(400), bid.Terms.BorrowAmount.Int64())
}

func TestTakeLoanOffer(t *testing.T) {
	f := newFixture(t)
	lender := f.account(Options{})
	borrower := f.account(Options{})
	f.fund(lender.addr, 10000, types.MaxUint256)
	f.mock.Mint721(nft, big.NewInt(7), borrower.addr)
	f.mock.SetApprovalForAll(nft, borrower.addr, kettleAddr, true)

	offer := f.loanOffer(lender.addr, 10000)
	sig := f.sign(lender, offer)

	plan, err := borrower.builder.TakeLoanOffer(context.Background(), offer, sig, nil)
	require.NoError(t, err)
	require.Equal(t, []Kind{KindTake}, plan.Kinds(), "allowance is already max")

	res, err := plan.Terminal().Execute(context.Background())
	require.NoError(t, err)
	tx := f.lastTx()
	assert.Equal(t, res.TxHash, tx.Hash)
	assert.Equal(t, "borrow", tx.Method)
	assert.Equal(t, borrower.addr, tx.From)
	assert.Equal(t, int64(10000), tx.Args[1].(*big.Int).Int64())
	assert.Equal(t, int64(7), tx.Args[2].(*big.Int).Int64())

	_, err = plan.Terminal().Execute(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyExecuted)

	// the offer is now fully taken
	_, err = borrower.builder.TakeLoanOffer(context.Background(), offer, sig, nil)
	assert.ErrorIs(t, err, validation.ReasonAmountRemaining)
}

func TestTakeLoanOffer_Refusals(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture, lender, borrower *account, offer *types.LoanOffer)
		want  validation.Reason
	}{
		{"lender allowance revoked", func(f *fixture, lender, borrower *account, offer *types.LoanOffer) {
			f.mock.SetAllowance(currency, lender.addr, kettleAddr, new(big.Int))
		}, validation.ReasonLenderAllowance},
		{"borrower does not own collateral", func(f *fixture, lender, borrower *account, offer *types.LoanOffer) {
			f.mock.Mint721(nft, big.NewInt(7), common.HexToAddress("0xbeef"))
		}, validation.ReasonBorrowerNotOwner},
		{"cancelled by lender", func(f *fixture, lender, borrower *account, offer *types.LoanOffer) {
			plan, err := lender.builder.CancelOffer(context.Background(), offer.Salt)
			require.NoError(f.t, err)
			_, err = plan.Execute(context.Background())
			require.NoError(f.t, err)
		}, validation.ReasonCancelled},
		{"nonce incremented by lender", func(f *fixture, lender, borrower *account, offer *types.LoanOffer) {
			plan, err := lender.builder.IncrementNonce(context.Background())
			require.NoError(f.t, err)
			_, err = plan.Execute(context.Background())
			require.NoError(f.t, err)
		}, validation.ReasonInvalidNonce},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			lender := f.account(Options{})
			borrower := f.account(Options{})
			f.fund(lender.addr, 10000, types.MaxUint256)
			f.mock.Mint721(nft, big.NewInt(7), borrower.addr)

			offer := f.loanOffer(lender.addr, 10000)
			sig := f.sign(lender, offer)
			tt.setup(f, lender, borrower, offer)

			_, err := borrower.builder.TakeLoanOffer(context.Background(), offer, sig, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTakeLoanOffer_CollectionOffer(t *testing.T) {
	f := newFixture(t)
	lender := f.account(Options{})
	borrower := f.account(Options{})
	f.fund(lender.addr, 10000, types.MaxUint256)
	f.mock.Mint721(nft, big.NewInt(9), borrower.addr)

	offer := f.loanOffer(lender.addr, 10000)
	offer.Collateral.Criteria = types.CriteriaProof
	offer.Collateral.Identifier = big.NewInt(0)
	sig := f.sign(lender, offer)
	proof := []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}

	plan, err := borrower.builder.TakeLoanOffer(context.Background(), offer, sig, &Selection{TokenID: big.NewInt(9), Proof: proof})
	require.NoError(t, err)
	require.Equal(t, []Kind{KindApproval, KindTake}, plan.Kinds())

	_, err = plan.Execute(context.Background())
	require.NoError(t, err)
	tx := f.lastTx()
	assert.Equal(t, "borrow", tx.Method)
	assert.Equal(t, int64(9), tx.Args[2].(*big.Int).Int64())
	assert.Len(t, tx.Args[5], 2)
}

func TestTakeBorrowOffer(t *testing.T) {
	f := newFixture(t)
	borrower := f.account(Options{})
	lender := f.account(Options{})
	f.mock.Mint721(nft, big.NewInt(7), borrower.addr)
	f.mock.SetApprovalForAll(nft, borrower.addr, kettleAddr, true)

	plan, err := borrower.builder.CreateBorrowOffer(context.Background(), f.borrowInput())
	require.NoError(t, err)
	results, err := plan.Execute(context.Background())
	require.NoError(t, err)
	signed := results[len(results)-1].Signed
	offer := signed.Offer.(*types.BorrowOffer)

	_, err = lender.builder.TakeBorrowOffer(context.Background(), offer, signed.Signature)
	assert.ErrorIs(t, err, validation.ReasonLenderBalance)

	f.fund(lender.addr, 1000, new(big.Int))
	plan, err = lender.builder.TakeBorrowOffer(context.Background(), offer, signed.Signature)
	require.NoError(t, err)
	require.Equal(t, []Kind{KindApproval, KindTake}, plan.Kinds())

	_, err = plan.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "loan", f.lastTx().Method)
}

func TestTakeAskOffer(t *testing.T) {
	f := newFixture(t)
	seller := f.account(Options{})
	buyer := f.account(Options{})
	f.mock.Mint721(nft, big.NewInt(7), seller.addr)
	f.mock.SetApprovalForAll(nft, seller.addr, kettleAddr, true)

	ask := f.marketOffer(types.SideAsk, seller.addr, 2000)
	sig := f.sign(seller, ask)

	f.fund(buyer.addr, 1999, types.MaxUint256)
	_, err := buyer.builder.TakeAskOffer(context.Background(), ask, sig)
	assert.ErrorIs(t, err, validation.ReasonBuyerBalance)

	f.fund(buyer.addr, 2000, types.MaxUint256)
	plan, err := buyer.builder.TakeAskOffer(context.Background(), ask, sig)
	require.NoError(t, err)
	require.Equal(t, []Kind{KindTake}, plan.Kinds())

	_, err = plan.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "marketOrder", f.lastTx().Method)

	_, err = buyer.builder.TakeAskOffer(context.Background(), ask, sig)
	assert.ErrorIs(t, err, validation.ReasonCancelled, "a filled ask is consumed")
}

func TestTakeAskOfferInLien(t *testing.T) {
	f := newFixture(t)
	seller := f.account(Options{})
	buyer := f.account(Options{})
	lien := f.lien(common.HexToAddress("0xbeef"), seller.addr)

	ask := f.marketOffer(types.SideAsk, seller.addr, 2000)
	sig := f.sign(seller, ask)
	f.fund(buyer.addr, 2000, new(big.Int))

	plan, err := buyer.builder.TakeAskOfferInLien(context.Background(), big.NewInt(4), lien, ask, sig)
	require.NoError(t, err)
	require.Equal(t, []Kind{KindApproval, KindTake}, plan.Kinds())

	_, err = plan.Execute(context.Background())
	require.NoError(t, err)
	tx := f.lastTx()
	assert.Equal(t, "buyInLien", tx.Method)
	assert.Equal(t, int64(4), tx.Args[0].(*big.Int).Int64())
}

func TestTakeBidOffer(t *testing.T) {
	f := newFixture(t)
	buyer := f.account(Options{})
	seller := f.account(Options{})
	f.fund(buyer.addr, 2000, types.MaxUint256)

	bid := f.marketOffer(types.SideBid, buyer.addr, 2000)
	sig := f.sign(buyer, bid)

	_, err := seller.builder.TakeBidOffer(context.Background(), bid, sig, nil)
	assert.ErrorIs(t, err, validation.ReasonSellerNotOwner)

	f.mock.Mint721(nft, big.NewInt(7), seller.addr)
	plan, err := seller.builder.TakeBidOffer(context.Background(), bid, sig, nil)
	require.NoError(t, err)
	require.Equal(t, []Kind{KindApproval, KindTake}, plan.Kinds())

	_, err = plan.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "marketOrder", f.lastTx().Method)
}

func TestTakeBidOfferInLien(t *testing.T) {
	tests := []struct {
		name  string
		bid   int64
		kinds []Kind
	}{
		{"proceeds cover debt", 2000, []Kind{KindTake}},
		{"seller pays shortfall", 900, []Kind{KindApproval, KindTake}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			buyer := f.account(Options{})
			seller := f.account(Options{})
			lien := f.lien(common.HexToAddress("0xbeef"), seller.addr)
			f.fund(buyer.addr, tt.bid, types.MaxUint256)
			f.fund(seller.addr, 1000, new(big.Int))

			bid := f.marketOffer(types.SideBid, buyer.addr, tt.bid)
			sig := f.sign(buyer, bid)

			plan, err := seller.builder.TakeBidOfferInLien(context.Background(), big.NewInt(1), lien, bid, sig, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.kinds, plan.Kinds())

			_, err = plan.Execute(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "sellInLien", f.lastTx().Method)
		})
	}
}

func TestTakeBidOfferInLien_NotBorrower(t *testing.T) {
	f := newFixture(t)
	buyer := f.account(Options{})
	seller := f.account(Options{})
	lien := f.lien(common.HexToAddress("0xbeef"), common.HexToAddress("0xdead"))
	f.fund(buyer.addr, 2000, types.MaxUint256)

	bid := f.marketOffer(types.SideBid, buyer.addr, 2000)
	_, err := seller.builder.TakeBidOfferInLien(context.Background(), big.NewInt(1), lien, bid, f.sign(buyer, bid), nil)
	assert.ErrorIs(t, err, validation.ReasonInvalidBorrower)
}

func TestRefinance(t *testing.T) {
	f := newFixture(t)
	lender := f.account(Options{})
	borrower := f.account(Options{})
	lien := f.lien(common.HexToAddress("0xbeef"), borrower.addr)
	f.fund(lender.addr, 800, types.MaxUint256)
	f.fund(borrower.addr, 1000, new(big.Int))

	offer := f.loanOffer(lender.addr, 800)
	sig := f.sign(lender, offer)

	plan, err := borrower.builder.Refinance(context.Background(), big.NewInt(2), lien, offer, sig, nil)
	require.NoError(t, err)
	require.Equal(t, []Kind{KindApproval, KindTake}, plan.Kinds(), "debt above maxAmount needs an approval")

	_, err = plan.Execute(context.Background())
	require.NoError(t, err)
	tx := f.lastTx()
	assert.Equal(t, "refinance", tx.Method)
	assert.Equal(t, int64(800), tx.Args[1].(*big.Int).Int64())

	preview, err := borrower.builder.RefinancePreview(context.Background(), lien, offer)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Sub(f.debt(lien), big.NewInt(800)), preview.Owed)
	assert.Zero(t, preview.Paid.Sign())
}

func TestSellInLienPreview(t *testing.T) {
	f := newFixture(t)
	seller := f.account(Options{})
	lien := f.lien(common.HexToAddress("0xbeef"), seller.addr)
	bid := f.marketOffer(types.SideBid, common.HexToAddress("0xb1d"), 2000)

	preview, err := seller.builder.SellInLienPreview(context.Background(), lien, bid)
	require.NoError(t, err)
	net := types.NetMarketAmount(bid.Terms.Amount, bid.Fee.Rate)
	assert.Equal(t, new(big.Int).Sub(net, f.debt(lien)), preview.Paid)
	assert.Zero(t, preview.Owed.Sign())
}

func TestRepay(t *testing.T) {
	f := newFixture(t)
	borrower := f.account(Options{})
	lien := f.lien(common.HexToAddress("0xbeef"), borrower.addr)

	_, err := borrower.builder.Repay(context.Background(), big.NewInt(1), lien)
	assert.ErrorIs(t, err, validation.ReasonBorrowerBalance)

	f.fund(borrower.addr, 2000, new(big.Int))
	plan, err := borrower.builder.Repay(context.Background(), big.NewInt(1), lien)
	require.NoError(t, err)
	require.Equal(t, []Kind{KindApproval, KindRepay}, plan.Kinds())

	_, err = plan.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "repay", f.lastTx().Method)
}

func TestClaim(t *testing.T) {
	f := newFixture(t)
	lender := f.account(Options{})
	lien := f.lien(lender.addr, common.HexToAddress("0xdead"))

	_, err := lender.builder.Claim(context.Background(), big.NewInt(1), lien)
	assert.ErrorIs(t, err, validation.ReasonLienNotDefaulted)

	f.mock.SetTime(f.mock.Now().Add(60 * 24 * time.Hour))
	plan, err := lender.builder.Claim(context.Background(), big.NewInt(1), lien)
	require.NoError(t, err)
	require.Equal(t, []Kind{KindClaim}, plan.Kinds())

	_, err = plan.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "claim", f.lastTx().Method)
}

func TestLienFlows_NilLien(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	borrower := f.account(Options{})
	b := borrower.builder
	id := big.NewInt(1)

	_, err := b.Repay(ctx, id, nil)
	assert.ErrorIs(t, err, validation.ErrMissingInput)
	_, err = b.Claim(ctx, id, nil)
	assert.ErrorIs(t, err, validation.ErrMissingInput)
	_, err = b.Refinance(ctx, id, nil, f.loanOffer(common.HexToAddress("0xbeef"), 1000), nil, nil)
	assert.ErrorIs(t, err, validation.ErrMissingInput)
	_, err = b.TakeAskOfferInLien(ctx, id, nil, nil, nil)
	assert.ErrorIs(t, err, validation.ErrMissingInput)
	_, err = b.TakeBidOfferInLien(ctx, id, nil, nil, nil, nil)
	assert.ErrorIs(t, err, validation.ErrMissingInput)
	_, err = b.RefinancePreview(ctx, nil, nil)
	assert.ErrorIs(t, err, validation.ErrMissingInput)
	_, err = b.SellInLienPreview(ctx, nil, nil)
	assert.ErrorIs(t, err, validation.ErrMissingInput)
}

func TestCancelOffers(t *testing.T) {
	f := newFixture(t)
	maker := f.account(Options{})

	plan, err := maker.builder.CancelOffers(context.Background(), []*big.Int{big.NewInt(1), big.NewInt(2)})
	require.NoError(t, err)
	res, err := plan.Terminal().Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.lastTx().Hash, res.TxHash)
	assert.Equal(t, "cancelOffers", f.lastTx().Method)

	_, err = maker.builder.CancelOffers(context.Background(), nil)
	assert.Error(t, err)
	_, err = maker.builder.CancelOffer(context.Background(), big.NewInt(-1))
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestExecuteAudits(t *testing.T) {
	original := logging.Logger()
	defer logging.SetLogger(original)
	var buf bytes.Buffer
	logging.SetOutput(&buf)

	f := newFixture(t)
	maker := f.account(Options{})

	plan, err := maker.builder.IncrementNonce(context.Background())
	require.NoError(t, err)
	res, err := plan.Terminal().Execute(context.Background())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"operation":"increment-nonce/increment-nonce"`)
	assert.Contains(t, out, `"result":"success"`)
	assert.Contains(t, out, res.TxHash.Hex())
	assert.Contains(t, out, maker.addr.Hex())
}

func TestCancelOffer_Unconfirmed(t *testing.T) {
	f := newFixture(t)
	maker := f.account(Options{ConfirmTimeout: 50 * time.Millisecond})
	f.mock.HoldReceipts(true)

	plan, err := maker.builder.CancelOffer(context.Background(), big.NewInt(1))
	require.NoError(t, err)
	cancel := plan.Terminal()

	res, err := cancel.Execute(context.Background())
	assert.ErrorIs(t, err, ErrUnconfirmed)
	assert.NotEqual(t, common.Hash{}, res.TxHash, "the caller can look the transaction up")
	assert.Equal(t, StateReady, cancel.State())
}

func TestCancelOffer_Reverted(t *testing.T) {
	f := newFixture(t)
	maker := f.account(Options{})
	f.mock.FailCall(kettleAddr, "cancelOffer")

	plan, err := maker.builder.CancelOffer(context.Background(), big.NewInt(1))
	require.NoError(t, err)
	_, err = plan.Execute(context.Background())
	assert.ErrorIs(t, err, ErrUnexpected)
}

func TestRejectedBySigner(t *testing.T) {
	f := newFixture(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := rejectingSigner{signing.NewKeySigner(key)}
	b := f.connect(signer, Options{})

	plan, err := b.CancelOffer(context.Background(), big.NewInt(1))
	require.NoError(t, err)
	_, err = plan.Execute(context.Background())
	assert.ErrorIs(t, err, ErrTransactionRejected)
	assert.NotErrorIs(t, err, ErrUnexpected)

	f.fund(signer.Address(), 1000, types.MaxUint256)
	plan, err = b.CreateBidOffer(context.Background(), f.marketInput(1000))
	require.NoError(t, err)
	_, err = plan.Terminal().Execute(context.Background())
	assert.ErrorIs(t, err, ErrTransactionRejected)
	assert.Equal(t, StateReady, plan.Terminal().State())
}

func TestNoSigner(t *testing.T) {
	f := newFixture(t)
	b := f.connect(nil, Options{})

	_, err := b.CreateBidOffer(context.Background(), f.marketInput(1000))
	assert.ErrorIs(t, err, signing.ErrNoSigner)
	_, err = b.IncrementNonce(context.Background())
	assert.ErrorIs(t, err, signing.ErrNoSigner)
}

func TestEditAskOffer(t *testing.T) {
	f := newFixture(t)
	seller := f.account(Options{})
	f.mock.Mint721(nft, big.NewInt(7), seller.addr)

	plan, err := seller.builder.EditAskOffer(context.Background(), big.NewInt(77), f.marketInput(3000))
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindCancel, KindApproval, KindCreate}, plan.Kinds())

	_, err = plan.Execute(context.Background())
	require.NoError(t, err)
	txs := f.mock.Transactions()
	require.Len(t, txs, 2)
	assert.Equal(t, "cancelOffer", txs[0].Method)
	assert.Equal(t, "setApprovalForAll", txs[1].Method)
}

func TestEditBorrowOffer_CreateFails(t *testing.T) {
	f := newFixture(t)
	borrower := f.account(Options{})

	_, err := borrower.builder.EditBorrowOffer(context.Background(), big.NewInt(1), f.borrowInput())
	assert.ErrorIs(t, err, validation.ReasonInsufficientCollateral)
	assert.Empty(t, f.mock.Transactions(), "building never submits")
}

func TestPlanMetrics(t *testing.T) {
	f := newFixture(t)
	buyer := f.account(Options{})
	f.fund(buyer.addr, 1000, new(big.Int))

	plan, err := buyer.builder.CreateBidOffer(context.Background(), f.marketInput(1000))
	require.NoError(t, err)
	_, err = plan.Execute(context.Background())
	require.NoError(t, err)

	snap, err := f.metrics.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap["kettle_actions_built_total{intent=create-bid,kind=approval}"])
	assert.Equal(t, 1.0, snap["kettle_actions_built_total{intent=create-bid,kind=create}"])
	assert.Equal(t, 1.0, snap["kettle_actions_executed_total{kind=create,outcome=ok}"])
}
