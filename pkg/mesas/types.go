package mesas

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const tableIDLength = 6

// TableID identifies a mesa. It is always six ASCII alphanumeric characters.
type TableID struct {
	value string
}

// PlayerID identifies a jugador as issued by the identity provider.
type PlayerID struct {
	value string
}

// PointsTarget is the score a mesa plays to.
type PointsTarget int

const (
	PointsTargetTwelve     PointsTarget = 12
	PointsTargetTwentyFour PointsTarget = 24
)

// BetAmount is the stored apuesta of a mesa. It is never settled.
type BetAmount int64

// SeatIndex is the 0-based posición of a player at a mesa.
type SeatIndex int

// TableStatus defines the mesa lifecycle.
type TableStatus string

const (
	TableStatusWaiting  TableStatus = "waiting"
	TableStatusPlaying  TableStatus = "playing"
	TableStatusFinished TableStatus = "finished"
)

// NewTableID validates and normalizes a table id.
func NewTableID(raw string) (TableID, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) != tableIDLength {
		return TableID{}, fmt.Errorf("%w: must be %d characters", ErrInvalidTableID, tableIDLength)
	}
	for _, character := range trimmed {
		if !isAlphanumeric(character) {
			return TableID{}, fmt.Errorf("%w: must be alphanumeric", ErrInvalidTableID)
		}
	}
	return TableID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TableID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id TableID) IsZero() bool {
	return id.value == ""
}

// NewPlayerID validates and normalizes a player id.
func NewPlayerID(raw string) (PlayerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PlayerID{}, fmt.Errorf("%w: empty value", ErrInvalidPlayerID)
	}
	return PlayerID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PlayerID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id PlayerID) IsZero() bool {
	return id.value == ""
}

// ParsePointsTarget accepts 12 or 24.
func ParsePointsTarget(raw int) (PointsTarget, error) {
	switch PointsTarget(raw) {
	case PointsTargetTwelve, PointsTargetTwentyFour:
		return PointsTarget(raw), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidPointsTarget, raw)
	}
}

// Capacity returns the seat count implied by the target: 1-vs-1 at 12, 2-vs-2 at 24.
func (target PointsTarget) Capacity() int {
	if target == PointsTargetTwelve {
		return 2
	}
	return 4
}

// ValidSeat reports whether index addresses a seat of a mesa with this target.
func (target PointsTarget) ValidSeat(index SeatIndex) bool {
	return index >= 0 && int(index) < target.Capacity()
}

// Int returns the raw target.
func (target PointsTarget) Int() int {
	return int(target)
}

// NewBetAmount validates a bet and ensures it is strictly positive.
func NewBetAmount(raw int64) (BetAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidBetAmount)
	}
	return BetAmount(raw), nil
}

// Int64 returns the raw amount.
func (amount BetAmount) Int64() int64 {
	return int64(amount)
}

// Int returns the raw index.
func (index SeatIndex) Int() int {
	return int(index)
}

// String returns the decimal form of the index.
func (index SeatIndex) String() string {
	return strconv.Itoa(int(index))
}

// ParseTableStatus validates a stored status value.
func ParseTableStatus(raw string) (TableStatus, error) {
	switch TableStatus(strings.TrimSpace(raw)) {
	case TableStatusWaiting, TableStatusPlaying, TableStatusFinished:
		return TableStatus(strings.TrimSpace(raw)), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTableStatus, raw)
	}
}

// String returns the status value.
func (status TableStatus) String() string {
	return string(status)
}

// Identity is the authenticated caller as resolved by the identity provider.
// The zero value is an anonymous caller.
type Identity struct {
	PlayerID    PlayerID
	DisplayName string
	PhotoURL    string
}

// NewIdentity validates the player id and keeps the profile fields as given.
func NewIdentity(rawPlayerID string, displayName string, photoURL string) (Identity, error) {
	playerID, err := NewPlayerID(rawPlayerID)
	if err != nil {
		return Identity{}, err
	}
	return Identity{
		PlayerID:    playerID,
		DisplayName: strings.TrimSpace(displayName),
		PhotoURL:    strings.TrimSpace(photoURL),
	}, nil
}

// Authenticated reports whether the identity carries a player id.
func (identity Identity) Authenticated() bool {
	return !identity.PlayerID.IsZero()
}

// Player returns the display mirror of the identity.
func (identity Identity) Player() Player {
	name := identity.DisplayName
	if name == "" {
		name = identity.PlayerID.String()
	}
	return Player{ID: identity.PlayerID, Name: name, Photo: identity.PhotoURL}
}

// Player is the display data mirrored from the identity provider.
type Player struct {
	ID    PlayerID
	Name  string
	Photo string
}

// SeatAssignment binds one player to one seat of one mesa.
type SeatAssignment struct {
	TableID   TableID
	PlayerID  PlayerID
	SeatIndex SeatIndex
}

// SeatedPlayer is a seat with the display data of its occupant.
type SeatedPlayer struct {
	SeatIndex SeatIndex
	Player    Player
}

// Table is a mesa with its current seats ordered by seat index.
type Table struct {
	ID           TableID
	PointsTarget PointsTarget
	BetAmount    BetAmount
	CreatorID    PlayerID
	Status       TableStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Seats        []SeatedPlayer
}

// Full reports whether every seat is taken.
func (table Table) Full() bool {
	return len(table.Seats) >= table.PointsTarget.Capacity()
}

// SeatOf returns the seat held by playerID at this mesa.
func (table Table) SeatOf(playerID PlayerID) (SeatIndex, bool) {
	for _, seat := range table.Seats {
		if seat.Player.ID == playerID {
			return seat.SeatIndex, true
		}
	}
	return 0, false
}

// CreateTableRequest carries the inputs of Service.Create. A zero TableID asks
// the service to generate one.
type CreateTableRequest struct {
	TableID      TableID
	PointsTarget PointsTarget
	BetAmount    BetAmount
	Creator      Identity
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	ListTables(ctx context.Context) ([]Table, error)
	GetTable(ctx context.Context, tableID TableID) (Table, error)
	InsertTable(ctx context.Context, table Table) error
	DeleteTable(ctx context.Context, tableID TableID) error
	UpsertPlayer(ctx context.Context, player Player) error
	FindSeatByPlayer(ctx context.Context, playerID PlayerID) (SeatAssignment, bool, error)
	FindSeat(ctx context.Context, tableID TableID, seatIndex SeatIndex) (SeatAssignment, bool, error)
	InsertSeat(ctx context.Context, seat SeatAssignment) error
	DeleteSeatByPlayer(ctx context.Context, playerID PlayerID) error
	CountSeats(ctx context.Context, tableID TableID) (int, error)
	DeleteEmptyTables(ctx context.Context, createdBefore time.Time) ([]TableID, error)
}

func isAlphanumeric(character rune) bool {
	return (character >= 'a' && character <= 'z') ||
		(character >= 'A' && character <= 'Z') ||
		(character >= '0' && character <= '9')
}
