// Package loanstore is the persistence layer shared by every protocol engine.
// It keeps the authoritative state in memory and optionally checkpoints it to
// a bolt file, giving transitions all-or-nothing semantics without a
// transaction log.
package loanstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"nftlend/core/types"
	"nftlend/crypto"
	"nftlend/native/loan"
	"nftlend/native/note"
	"nftlend/native/vault"
)

var (
	bucketLoans         = []byte("loans")
	bucketVaults        = []byte("vaults")
	bucketAccounts      = []byte("accounts")
	bucketBorrowerNotes = []byte("notes_borrower")
	bucketLenderNotes   = []byte("notes_lender")
	bucketCollateral    = []byte("collateral")
	bucketMeta          = []byte("meta")

	keyLoanSeq  = []byte("loan_seq")
	keyVaultSeq = []byte("vault_seq")
)

// Store holds loan records, note registries, the vault arena, collateral
// in-use flags and the account ledger. All engine state interfaces are
// satisfied by a single Store so a transition spanning several engines
// commits or rolls back as one unit.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	db   *bolt.DB

	loans           map[uint64]*loan.LoanData
	vaults          map[uint64]*vault.Vault
	accounts        map[string]*types.Account
	collateralInUse map[uint64]bool
	borrower        *NoteSpace
	lender          *NoteSpace
	loanSeq         uint64
	vaultSeq        uint64
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	s := &Store{
		loans:           make(map[uint64]*loan.LoanData),
		vaults:          make(map[uint64]*vault.Vault),
		accounts:        make(map[string]*types.Account),
		collateralInUse: make(map[uint64]bool),
	}
	s.borrower = &NoteSpace{store: s, bucket: bucketBorrowerNotes, notes: make(map[uint64]*note.Note)}
	s.lender = &NoteSpace{store: s, bucket: bucketLenderNotes, notes: make(map[uint64]*note.Note)}
	return s
}

// Open constructs a store backed by a bolt file and loads any existing state.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("loanstore: open %s: %w", path, err)
	}
	s := NewStore()
	s.db = db
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the bolt handle. In-memory stores are a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BorrowerNotes returns the borrower note namespace.
func (s *Store) BorrowerNotes() *NoteSpace { return s.borrower }

// LenderNotes returns the lender note namespace.
func (s *Store) LenderNotes() *NoteSpace { return s.lender }

// Transition runs fn against the store and makes its effects atomic: on error
// the in-memory state is restored from a snapshot taken before fn ran, and on
// success the state is checkpointed to disk in one bolt transaction.
//
// Transitions are serialized. txMu is held across the whole snapshot, fn and
// restore span so a failing transition can only rewind its own writes, never
// the commits of a concurrent one. fn re-enters the store through the engine
// state interfaces, so s.mu cannot be held while it runs.
func (s *Store) Transition(fn func() error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err := fn(); err != nil {
		s.mu.Lock()
		s.restoreLocked(snap)
		s.mu.Unlock()
		return err
	}
	return s.Checkpoint()
}

// --- loan.Registry state ---

func (s *Store) LoanGet(id uint64) (*loan.LoanData, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.loans[id]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

func (s *Store) LoanPut(record *loan.LoanData) error {
	if record == nil || record.ID == 0 {
		return fmt.Errorf("loanstore: invalid loan record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loans[record.ID] = record.Clone()
	return nil
}

func (s *Store) NextLoanID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loanSeq++
	return s.loanSeq, nil
}

func (s *Store) CollateralInUse(collateralID uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collateralInUse[collateralID], nil
}

func (s *Store) SetCollateralInUse(collateralID uint64, inUse bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inUse {
		s.collateralInUse[collateralID] = true
	} else {
		delete(s.collateralInUse, collateralID)
	}
	return nil
}

// --- account ledger ---

// GetAccount returns the account for the address, creating an empty one if it
// does not exist yet. The returned value is a deep copy.
func (s *Store) GetAccount(addr crypto.Address) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[addr.String()]
	if !ok {
		return &types.Account{Balances: make(map[string]*big.Int)}, nil
	}
	return acc.Clone(), nil
}

func (s *Store) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("loanstore: nil account")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[addr.String()] = account.Clone()
	return nil
}

// --- vault.Engine state ---

func (s *Store) VaultGet(id uint64) (*vault.Vault, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vaults[id]
	if !ok {
		return nil, false, nil
	}
	return v.Clone(), true, nil
}

func (s *Store) VaultPut(v *vault.Vault) error {
	if v == nil || v.ID == 0 {
		return fmt.Errorf("loanstore: invalid vault record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults[v.ID] = v.Clone()
	return nil
}

func (s *Store) NextVaultID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaultSeq++
	return s.vaultSeq, nil
}

// --- note namespaces ---

// NoteSpace is one promissory note namespace. Borrower and lender notes have
// independent id sequences and storage buckets.
type NoteSpace struct {
	store  *Store
	bucket []byte
	notes  map[uint64]*note.Note
	seq    uint64
}

func (n *NoteSpace) NoteGet(id uint64) (*note.Note, bool, error) {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	stored, ok := n.notes[id]
	if !ok {
		return nil, false, nil
	}
	clone := *stored
	return &clone, true, nil
}

func (n *NoteSpace) NotePut(stored *note.Note) error {
	if stored == nil || stored.ID == 0 {
		return fmt.Errorf("loanstore: invalid note record")
	}
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	clone := *stored
	n.notes[stored.ID] = &clone
	return nil
}

func (n *NoteSpace) NoteDelete(id uint64) error {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	delete(n.notes, id)
	return nil
}

func (n *NoteSpace) NextNoteID() (uint64, error) {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	n.seq++
	return n.seq, nil
}

// --- snapshot / restore ---

type snapshot struct {
	loans           map[uint64]*loan.LoanData
	vaults          map[uint64]*vault.Vault
	accounts        map[string]*types.Account
	collateralInUse map[uint64]bool
	borrowerNotes   map[uint64]*note.Note
	lenderNotes     map[uint64]*note.Note
	loanSeq         uint64
	vaultSeq        uint64
	borrowerSeq     uint64
	lenderSeq       uint64
}

func cloneNotes(src map[uint64]*note.Note) map[uint64]*note.Note {
	out := make(map[uint64]*note.Note, len(src))
	for id, stored := range src {
		clone := *stored
		out[id] = &clone
	}
	return out
}

func (s *Store) snapshotLocked() *snapshot {
	snap := &snapshot{
		loans:           make(map[uint64]*loan.LoanData, len(s.loans)),
		vaults:          make(map[uint64]*vault.Vault, len(s.vaults)),
		accounts:        make(map[string]*types.Account, len(s.accounts)),
		collateralInUse: make(map[uint64]bool, len(s.collateralInUse)),
		borrowerNotes:   cloneNotes(s.borrower.notes),
		lenderNotes:     cloneNotes(s.lender.notes),
		loanSeq:         s.loanSeq,
		vaultSeq:        s.vaultSeq,
		borrowerSeq:     s.borrower.seq,
		lenderSeq:       s.lender.seq,
	}
	for id, record := range s.loans {
		snap.loans[id] = record.Clone()
	}
	for id, v := range s.vaults {
		snap.vaults[id] = v.Clone()
	}
	for addr, acc := range s.accounts {
		snap.accounts[addr] = acc.Clone()
	}
	for id, inUse := range s.collateralInUse {
		snap.collateralInUse[id] = inUse
	}
	return snap
}

func (s *Store) restoreLocked(snap *snapshot) {
	s.loans = snap.loans
	s.vaults = snap.vaults
	s.accounts = snap.accounts
	s.collateralInUse = snap.collateralInUse
	s.borrower.notes = snap.borrowerNotes
	s.lender.notes = snap.lenderNotes
	s.loanSeq = snap.loanSeq
	s.vaultSeq = snap.vaultSeq
	s.borrower.seq = snap.borrowerSeq
	s.lender.seq = snap.lenderSeq
}

// --- bolt persistence ---

func itob(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func btoi(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Checkpoint writes the full in-memory state to the bolt file in a single
// transaction. A no-op without a backing file.
func (s *Store) Checkpoint() error {
	if s.db == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketLoans, bucketVaults, bucketAccounts, bucketBorrowerNotes, bucketLenderNotes, bucketCollateral, bucketMeta}
		for _, name := range buckets {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		for id, record := range s.loans {
			if err := putJSON(tx.Bucket(bucketLoans), itob(id), record); err != nil {
				return err
			}
		}
		for id, v := range s.vaults {
			if err := putJSON(tx.Bucket(bucketVaults), itob(id), v); err != nil {
				return err
			}
		}
		for addr, acc := range s.accounts {
			if err := putJSON(tx.Bucket(bucketAccounts), []byte(addr), acc); err != nil {
				return err
			}
		}
		for id, stored := range s.borrower.notes {
			if err := putJSON(tx.Bucket(bucketBorrowerNotes), itob(id), stored); err != nil {
				return err
			}
		}
		for id, stored := range s.lender.notes {
			if err := putJSON(tx.Bucket(bucketLenderNotes), itob(id), stored); err != nil {
				return err
			}
		}
		collateral := tx.Bucket(bucketCollateral)
		for id, inUse := range s.collateralInUse {
			if !inUse {
				continue
			}
			if err := collateral.Put(itob(id), []byte{1}); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyLoanSeq, itob(s.loanSeq)); err != nil {
			return err
		}
		if err := meta.Put(keyVaultSeq, itob(s.vaultSeq)); err != nil {
			return err
		}
		if err := meta.Put(bucketBorrowerNotes, itob(s.borrower.seq)); err != nil {
			return err
		}
		return meta.Put(bucketLenderNotes, itob(s.lender.seq))
	})
}

func putJSON(b *bolt.Bucket, key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketLoans); b != nil {
			if err := b.ForEach(func(k, v []byte) error {
				record := new(loan.LoanData)
				if err := json.Unmarshal(v, record); err != nil {
					return err
				}
				s.loans[record.ID] = record
				return nil
			}); err != nil {
				return err
			}
		}
		if b := tx.Bucket(bucketVaults); b != nil {
			if err := b.ForEach(func(k, v []byte) error {
				stored := new(vault.Vault)
				if err := json.Unmarshal(v, stored); err != nil {
					return err
				}
				s.vaults[stored.ID] = stored
				return nil
			}); err != nil {
				return err
			}
		}
		if b := tx.Bucket(bucketAccounts); b != nil {
			if err := b.ForEach(func(k, v []byte) error {
				acc := new(types.Account)
				if err := json.Unmarshal(v, acc); err != nil {
					return err
				}
				s.accounts[string(k)] = acc
				return nil
			}); err != nil {
				return err
			}
		}
		for _, space := range []*NoteSpace{s.borrower, s.lender} {
			if b := tx.Bucket(space.bucket); b != nil {
				if err := b.ForEach(func(k, v []byte) error {
					stored := new(note.Note)
					if err := json.Unmarshal(v, stored); err != nil {
						return err
					}
					space.notes[stored.ID] = stored
					return nil
				}); err != nil {
					return err
				}
			}
		}
		if b := tx.Bucket(bucketCollateral); b != nil {
			if err := b.ForEach(func(k, v []byte) error {
				s.collateralInUse[btoi(k)] = true
				return nil
			}); err != nil {
				return err
			}
		}
		if meta := tx.Bucket(bucketMeta); meta != nil {
			s.loanSeq = btoi(meta.Get(keyLoanSeq))
			s.vaultSeq = btoi(meta.Get(keyVaultSeq))
			s.borrower.seq = btoi(meta.Get(bucketBorrowerNotes))
			s.lender.seq = btoi(meta.Get(bucketLenderNotes))
		}
		return nil
	})
}
