// Package note implements the promissory note registries backing loan role
// rights. Two engine instances exist per deployment: one for borrower notes
// and one for lender notes. A note is a uniquely owned, transferable token
// carrying a back-reference to its loan.
package note

import (
	"errors"
	"time"

	"nftlend/crypto"
)

var (
	errNilState = errors.New("note engine: state not configured")

	// ErrNoteNotFound indicates the note id does not reference a stored note.
	ErrNoteNotFound = errors.New("note engine: note not found")
	// ErrUnauthorizedMinter indicates a mint attempt from outside the loan
	// registry.
	ErrUnauthorizedMinter = errors.New("note engine: only the registry may mint")
	// ErrNotOwner indicates the caller does not own the note.
	ErrNotOwner = errors.New("note engine: caller does not own note")
	// ErrLoanActive indicates a holder tried to burn a note whose loan is
	// still active. Only the registry may burn live notes, and only as part
	// of a terminal transition.
	ErrLoanActive = errors.New("note engine: underlying loan is active")
)

// Note is a single ownership-bearing token. The zero id is reserved.
type Note struct {
	ID       uint64         `json:"id"`
	Owner    crypto.Address `json:"owner"`
	LoanID   uint64         `json:"loanId"`
	MintedAt int64          `json:"mintedAt"`
}

type engineState interface {
	NoteGet(id uint64) (*Note, bool, error)
	NotePut(*Note) error
	NoteDelete(id uint64) error
	NextNoteID() (uint64, error)
}

// ActivityView reports whether a loan is currently active. The loan registry
// satisfies it; the engine consults it before permitting a holder burn.
type ActivityView interface {
	IsActive(loanID uint64) (bool, error)
}

// Engine maintains note existence, ownership and the note-to-loan index.
type Engine struct {
	state     engineState
	loans     ActivityView
	authority crypto.Address
	nowFn     func() int64
}

// NewEngine constructs a note engine whose mint and unconditional-burn rights
// belong to the supplied authority address (the loan registry module).
func NewEngine(authority crypto.Address) *Engine {
	return &Engine{
		authority: authority,
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetActivityView wires the loan-state source consulted on holder burns.
func (e *Engine) SetActivityView(view ActivityView) { e.loans = view }

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Mint issues a fresh note to the recipient, recording the loan
// back-reference. Restricted to the registry authority.
func (e *Engine) Mint(caller, to crypto.Address, loanID uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if !caller.Equal(e.authority) {
		return 0, ErrUnauthorizedMinter
	}
	id, err := e.state.NextNoteID()
	if err != nil {
		return 0, err
	}
	note := &Note{ID: id, Owner: to, LoanID: loanID, MintedAt: e.now()}
	if err := e.state.NotePut(note); err != nil {
		return 0, err
	}
	return id, nil
}

// Burn destroys a note. The registry authority may always burn (it does so
// only during terminal loan transitions); a holder may burn their own note
// only when the underlying loan is not active, so a live financial instrument
// can never be destroyed out from under the protocol.
func (e *Engine) Burn(caller crypto.Address, noteID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	note, ok, err := e.state.NoteGet(noteID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoteNotFound
	}
	if !caller.Equal(e.authority) {
		if !note.Owner.Equal(caller) {
			return ErrNotOwner
		}
		if e.loans != nil {
			active, err := e.loans.IsActive(note.LoanID)
			if err != nil {
				return err
			}
			if active {
				return ErrLoanActive
			}
		}
	}
	return e.state.NoteDelete(noteID)
}

// Transfer moves note ownership. The caller must be the current owner.
func (e *Engine) Transfer(caller crypto.Address, noteID uint64, to crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	note, ok, err := e.state.NoteGet(noteID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoteNotFound
	}
	if !note.Owner.Equal(caller) {
		return ErrNotOwner
	}
	note.Owner = to
	return e.state.NotePut(note)
}

// OwnerOf returns the current holder of the note.
func (e *Engine) OwnerOf(noteID uint64) (crypto.Address, bool, error) {
	if e == nil || e.state == nil {
		return crypto.Address{}, false, errNilState
	}
	note, ok, err := e.state.NoteGet(noteID)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	return note.Owner, true, nil
}

// LoanByNote resolves the loan a note was minted against.
func (e *Engine) LoanByNote(noteID uint64) (uint64, bool, error) {
	if e == nil || e.state == nil {
		return 0, false, errNilState
	}
	note, ok, err := e.state.NoteGet(noteID)
	if err != nil || !ok {
		return 0, false, err
	}
	return note.LoanID, true, nil
}
