package token

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is an in-memory ERC20-style token used by tests and local
// simulation. Balances and allowances behave like the real contract: a
// transfer exceeding the balance or the allowance reports false rather than
// returning an error.
type Ledger struct {
	mu         sync.Mutex
	address    common.Address
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewLedger creates an empty token ledger with the given contract address.
func NewLedger(address common.Address) *Ledger {
	return &Ledger{
		address:    address,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Mint credits amount to an account out of thin air.
func (l *Ledger) Mint(to common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(to, amount)
}

// Approve lets spender move up to amount from owner's balance.
func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.allowances[owner]
	if !ok {
		row = make(map[common.Address]*big.Int)
		l.allowances[owner] = row
	}
	row[spender] = new(big.Int).Set(amount)
}

// BalanceOf reports an account's balance.
func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Bind returns a Token handle acting on behalf of holder, the way a contract
// binding fixes msg.sender. Transfers debit holder; transferFrom spends
// holder's allowance.
func (l *Ledger) Bind(holder common.Address) Token {
	return &handle{ledger: l, holder: holder}
}

func (l *Ledger) credit(to common.Address, amount *big.Int) {
	if bal, ok := l.balances[to]; ok {
		bal.Add(bal, amount)
		return
	}
	l.balances[to] = new(big.Int).Set(amount)
}

// transfer moves funds if the balance covers it; false otherwise.
func (l *Ledger) transfer(from, to common.Address, amount *big.Int) bool {
	bal, ok := l.balances[from]
	if !ok || bal.Cmp(amount) < 0 || amount.Sign() < 0 {
		return false
	}
	bal.Sub(bal, amount)
	l.credit(to, amount)
	return true
}

type handle struct {
	ledger *Ledger
	holder common.Address
}

func (h *handle) Address() common.Address {
	return h.ledger.address
}

func (h *handle) Transfer(to common.Address, amount *big.Int) (bool, error) {
	h.ledger.mu.Lock()
	defer h.ledger.mu.Unlock()
	return h.ledger.transfer(h.holder, to, amount), nil
}

func (h *handle) TransferFrom(from, to common.Address, amount *big.Int) (bool, error) {
	h.ledger.mu.Lock()
	defer h.ledger.mu.Unlock()

	row, ok := h.ledger.allowances[from]
	if !ok {
		return false, nil
	}
	allowance, ok := row[h.holder]
	if !ok || allowance.Cmp(amount) < 0 {
		return false, nil
	}
	if !h.ledger.transfer(from, to, amount) {
		return false, nil
	}
	allowance.Sub(allowance, amount)
	return true, nil
}

func (h *handle) BalanceOf(addr common.Address) *big.Int {
	return h.ledger.BalanceOf(addr)
}
