package loan

import (
	"errors"
	"math/big"
	"testing"

	"nftlend/core/types"
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
)

func makeAddress(b byte) crypto.Address {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = b
	}
	return crypto.NewAddress(crypto.LendPrefix, buf)
}

type mockState struct {
	loans      map[uint64]*LoanData
	accounts   map[string]*types.Account
	collateral map[uint64]bool
	seq        uint64
}

func newMockState() *mockState {
	return &mockState{
		loans:      make(map[uint64]*LoanData),
		accounts:   make(map[string]*types.Account),
		collateral: make(map[uint64]bool),
	}
}

func (m *mockState) LoanGet(id uint64) (*LoanData, bool, error) {
	record, ok := m.loans[id]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

func (m *mockState) LoanPut(record *LoanData) error {
	m.loans[record.ID] = record.Clone()
	return nil
}

func (m *mockState) NextLoanID() (uint64, error) {
	m.seq++
	return m.seq, nil
}

func (m *mockState) CollateralInUse(id uint64) (bool, error) { return m.collateral[id], nil }

func (m *mockState) SetCollateralInUse(id uint64, inUse bool) error {
	m.collateral[id] = inUse
	return nil
}

func (m *mockState) GetAccount(addr crypto.Address) (*types.Account, error) {
	if acc, ok := m.accounts[addr.String()]; ok {
		return acc.Clone(), nil
	}
	return &types.Account{Balances: make(map[string]*big.Int)}, nil
}

func (m *mockState) PutAccount(addr crypto.Address, acc *types.Account) error {
	m.accounts[addr.String()] = acc.Clone()
	return nil
}

func (m *mockState) fund(addr crypto.Address, currency string, amount int64) {
	acc, _ := m.GetAccount(addr)
	acc.SetBalance(currency, big.NewInt(amount))
	m.accounts[addr.String()] = acc
}

func (m *mockState) balance(addr crypto.Address, currency string) *big.Int {
	acc, _ := m.GetAccount(addr)
	return acc.Balance(currency)
}

type mockNotes struct {
	owners map[uint64]crypto.Address
	loans  map[uint64]uint64
	seq    uint64
}

func newMockNotes() *mockNotes {
	return &mockNotes{owners: make(map[uint64]crypto.Address), loans: make(map[uint64]uint64)}
}

func (m *mockNotes) Mint(_, to crypto.Address, loanID uint64) (uint64, error) {
	m.seq++
	m.owners[m.seq] = to
	m.loans[m.seq] = loanID
	return m.seq, nil
}

func (m *mockNotes) Burn(_ crypto.Address, noteID uint64) error {
	if _, ok := m.owners[noteID]; !ok {
		return errors.New("note missing")
	}
	delete(m.owners, noteID)
	delete(m.loans, noteID)
	return nil
}

func (m *mockNotes) OwnerOf(noteID uint64) (crypto.Address, bool, error) {
	owner, ok := m.owners[noteID]
	return owner, ok, nil
}

func (m *mockNotes) LoanByNote(noteID uint64) (uint64, bool, error) {
	loanID, ok := m.loans[noteID]
	return loanID, ok, nil
}

type mockVaults struct {
	locked   map[uint64]bool
	owners   map[uint64]crypto.Address
	withdraw map[uint64]bool
}

func newMockVaults() *mockVaults {
	return &mockVaults{
		locked:   make(map[uint64]bool),
		owners:   make(map[uint64]crypto.Address),
		withdraw: make(map[uint64]bool),
	}
}

func (m *mockVaults) Lock(id uint64, from crypto.Address) error {
	if m.locked[id] {
		return errors.New("already locked")
	}
	m.locked[id] = true
	m.owners[id] = from
	return nil
}

func (m *mockVaults) Release(id uint64, to crypto.Address) error {
	if !m.locked[id] {
		return errors.New("not locked")
	}
	m.locked[id] = false
	m.owners[id] = to
	return nil
}

func (m *mockVaults) IsWithdrawalEnabled(id uint64) (bool, error) { return m.withdraw[id], nil }

type fixedFees struct {
	bps uint64
}

func (f fixedFees) OriginationFeeBps() uint64 { return f.bps }

type registryFixture struct {
	registry *Registry
	state    *mockState
	borrower *mockNotes
	lender   *mockNotes
	vaults   *mockVaults

	operator     crypto.Address
	borrowerAddr crypto.Address
	lenderAddr   crypto.Address
	treasury     crypto.Address
	now          int64
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	f := &registryFixture{
		state:        newMockState(),
		borrower:     newMockNotes(),
		lender:       newMockNotes(),
		vaults:       newMockVaults(),
		operator:     makeAddress(0x01),
		borrowerAddr: makeAddress(0x02),
		lenderAddr:   makeAddress(0x03),
		treasury:     makeAddress(0x04),
		now:          1_000,
	}
	roles := nativecommon.NewRoleTable()
	roles.Grant(f.operator, RoleOriginator)
	roles.Grant(f.operator, RoleRepayer)
	roles.Grant(f.operator, RoleAdmin)

	f.registry = NewRegistry(makeAddress(0xAA), f.treasury, roles)
	f.registry.SetState(f.state)
	f.registry.SetNoteBooks(f.borrower, f.lender)
	f.registry.SetCollateralGateway(f.vaults)
	f.registry.SetNowFunc(func() int64 { return f.now })
	if err := f.registry.SetFeeSource(f.operator, fixedFees{bps: 100}); err != nil {
		t.Fatalf("set fee source: %v", err)
	}
	return f
}

func bulletTerms() LoanTerms {
	return LoanTerms{
		DurationSecs:    1_000,
		Principal:       big.NewInt(1_000_000),
		InterestRate:    rateBps(1000),
		CollateralID:    7,
		PayableCurrency: "USDC",
		StartDate:       1_000,
	}
}

func (f *registryFixture) createAndStart(t *testing.T) uint64 {
	t.Helper()
	loanID, err := f.registry.CreateLoan(f.operator, bulletTerms())
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	f.state.fund(f.lenderAddr, "USDC", 1_000_000)
	if err := f.registry.StartLoan(f.operator, f.lenderAddr, f.borrowerAddr, loanID); err != nil {
		t.Fatalf("start loan: %v", err)
	}
	return loanID
}

func TestCreateLoanRejectsDoublePledge(t *testing.T) {
	f := newRegistryFixture(t)
	if _, err := f.registry.CreateLoan(f.operator, bulletTerms()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := f.registry.CreateLoan(f.operator, bulletTerms()); !errors.Is(err, ErrCollateralInUse) {
		t.Fatalf("expected ErrCollateralInUse, got %v", err)
	}
}

func TestCreateLoanRejectsExpiredTerms(t *testing.T) {
	f := newRegistryFixture(t)
	terms := bulletTerms()
	terms.DurationSecs = 0
	terms.NumInstallments = 0
	if _, err := f.registry.CreateLoan(f.operator, terms); !errors.Is(err, ErrLoanAlreadyExpired) {
		t.Fatalf("expected ErrLoanAlreadyExpired, got %v", err)
	}
}

func TestCreateLoanRequiresOriginatorRole(t *testing.T) {
	f := newRegistryFixture(t)
	if _, err := f.registry.CreateLoan(f.borrowerAddr, bulletTerms()); !errors.Is(err, nativecommon.ErrUnauthorizedRole) {
		t.Fatalf("expected ErrUnauthorizedRole, got %v", err)
	}
}

func TestStartLoanMovesPrincipalNetOfFee(t *testing.T) {
	f := newRegistryFixture(t)
	loanID := f.createAndStart(t)

	record, err := f.registry.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if record.State != LoanStateActive {
		t.Fatalf("expected active state, got %s", record.State)
	}
	if record.BorrowerNoteID == 0 || record.LenderNoteID == 0 {
		t.Fatalf("expected minted notes, got %d/%d", record.BorrowerNoteID, record.LenderNoteID)
	}
	if got := f.state.balance(f.borrowerAddr, "USDC"); got.Cmp(big.NewInt(990_000)) != 0 {
		t.Fatalf("unexpected borrower payout: %s", got)
	}
	if got := f.state.balance(f.treasury, "USDC"); got.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("unexpected treasury fee: %s", got)
	}
	if got := f.state.balance(f.lenderAddr, "USDC"); got.Sign() != 0 {
		t.Fatalf("expected lender drained, got %s", got)
	}
	if !f.vaults.locked[7] {
		t.Fatalf("expected collateral locked")
	}
}

func TestRepaySettlesAndReleasesCollateral(t *testing.T) {
	f := newRegistryFixture(t)
	loanID := f.createAndStart(t)

	f.state.fund(f.borrowerAddr, "USDC", 1_100_000)
	if err := f.registry.Repay(f.operator, f.borrowerAddr, loanID); err != nil {
		t.Fatalf("repay: %v", err)
	}

	record, err := f.registry.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if record.State != LoanStateRepaid {
		t.Fatalf("expected repaid state, got %s", record.State)
	}
	if got := f.state.balance(f.lenderAddr, "USDC"); got.Cmp(big.NewInt(1_100_000)) != 0 {
		t.Fatalf("unexpected lender proceeds: %s", got)
	}
	if f.vaults.locked[7] {
		t.Fatalf("expected collateral released")
	}
	if !f.vaults.owners[7].Equal(f.borrowerAddr) {
		t.Fatalf("expected collateral returned to borrower")
	}
	if inUse, _ := f.state.CollateralInUse(7); inUse {
		t.Fatalf("expected in-use flag cleared")
	}
	if len(f.borrower.owners) != 0 || len(f.lender.owners) != 0 {
		t.Fatalf("expected notes burned")
	}
}

func TestTerminalStateAdmitsNoFurtherTransitions(t *testing.T) {
	f := newRegistryFixture(t)
	loanID := f.createAndStart(t)
	f.state.fund(f.borrowerAddr, "USDC", 1_100_000)
	if err := f.registry.Repay(f.operator, f.borrowerAddr, loanID); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := f.registry.Repay(f.operator, f.borrowerAddr, loanID); !errors.Is(err, ErrInvalidLoanState) {
		t.Fatalf("expected ErrInvalidLoanState on second repay, got %v", err)
	}
	if err := f.registry.Claim(f.operator, loanID); !errors.Is(err, ErrInvalidLoanState) {
		t.Fatalf("expected ErrInvalidLoanState on claim after repay, got %v", err)
	}
}

func TestClaimBeforeExpiryFails(t *testing.T) {
	f := newRegistryFixture(t)
	loanID := f.createAndStart(t)
	if err := f.registry.Claim(f.operator, loanID); !errors.Is(err, ErrLoanNotExpired) {
		t.Fatalf("expected ErrLoanNotExpired, got %v", err)
	}
	record, err := f.registry.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if record.State != LoanStateActive {
		t.Fatalf("early claim must not change state, got %s", record.State)
	}
}

func TestClaimAfterExpiryDefaultsAndHandsCollateralToLender(t *testing.T) {
	f := newRegistryFixture(t)
	loanID := f.createAndStart(t)

	f.now = 2_500
	if err := f.registry.Claim(f.operator, loanID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	record, err := f.registry.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if record.State != LoanStateDefaulted {
		t.Fatalf("expected defaulted state, got %s", record.State)
	}
	if !f.vaults.owners[7].Equal(f.lenderAddr) {
		t.Fatalf("expected collateral handed to lender")
	}
	if got := f.state.balance(f.lenderAddr, "USDC"); got.Sign() != 0 {
		t.Fatalf("claim must not move currency, lender has %s", got)
	}
}

func TestRepayRejectsInstallmentLoans(t *testing.T) {
	f := newRegistryFixture(t)
	terms := bulletTerms()
	terms.NumInstallments = 10
	loanID, err := f.registry.CreateLoan(f.operator, terms)
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	f.state.fund(f.lenderAddr, "USDC", 1_000_000)
	if err := f.registry.StartLoan(f.operator, f.lenderAddr, f.borrowerAddr, loanID); err != nil {
		t.Fatalf("start loan: %v", err)
	}
	if err := f.registry.Repay(f.operator, f.borrowerAddr, loanID); !errors.Is(err, ErrInvalidLoanState) {
		t.Fatalf("expected ErrInvalidLoanState, got %v", err)
	}
}

func TestRepayInsufficientFunds(t *testing.T) {
	f := newRegistryFixture(t)
	loanID := f.createAndStart(t)

	f.state.fund(f.borrowerAddr, "USDC", 1)
	if err := f.registry.Repay(f.operator, f.borrowerAddr, loanID); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestSweepTokenRequiresAdmin(t *testing.T) {
	f := newRegistryFixture(t)
	f.state.fund(f.registry.ModuleAddress(), "USDC", 500)
	if err := f.registry.SweepToken(f.borrowerAddr, f.treasury, "USDC", big.NewInt(500)); !errors.Is(err, nativecommon.ErrUnauthorizedRole) {
		t.Fatalf("expected ErrUnauthorizedRole, got %v", err)
	}
	if err := f.registry.SweepToken(f.operator, f.treasury, "USDC", big.NewInt(500)); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := f.state.balance(f.treasury, "USDC"); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected treasury balance: %s", got)
	}
}

func TestGetLoanReturnsDeepCopy(t *testing.T) {
	f := newRegistryFixture(t)
	loanID := f.createAndStart(t)

	record, err := f.registry.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	record.Balance.SetInt64(0)
	record.State = LoanStateDefaulted

	fresh, err := f.registry.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan again: %v", err)
	}
	if fresh.State != LoanStateActive || fresh.Balance.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("stored record mutated through returned copy: %s %s", fresh.State, fresh.Balance)
	}
}
