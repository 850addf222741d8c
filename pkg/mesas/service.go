package mesas

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service is the table registry: it owns mesa lifecycle and seat assignment
// over a Store and keeps every player in at most one seat.
type Service struct {
	store           Store
	nowFn           func() time.Time
	logger          OperationLogger
	generateTableID func() (TableID, error)
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, generateTableID: GenerateTableID}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// List returns every mesa with its seats. A store failure is logged and
// reported as an empty lobby.
func (service *Service) List(ctx context.Context) []Table {
	tables, err := service.store.ListTables(ctx)
	if err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationList,
			Error:     translateStoreError(err),
		})
		return []Table{}
	}
	if tables == nil {
		return []Table{}
	}
	return tables
}

// Create opens a mesa and seats its creator at seat 0 in one transaction.
func (service *Service) Create(ctx context.Context, request CreateTableRequest) (Table, error) {
	var created Table
	operationError := service.validateCreate(request)
	if operationError == nil {
		created, operationError = service.createWithRetry(ctx, request)
	}
	operationError = translateStoreError(operationError)
	seat := creatorSeat
	service.logOperation(ctx, OperationLog{
		Operation: operationCreate,
		PlayerID:  request.Creator.PlayerID,
		TableID:   firstTableID(created.ID, request.TableID),
		SeatIndex: &seat,
		Error:     operationError,
	})
	if operationError != nil {
		return Table{}, operationError
	}
	return created, nil
}

// Join seats identity at seatIndex of tableID. A player seated at another
// mesa leaves it first.
func (service *Service) Join(ctx context.Context, tableID TableID, identity Identity, seatIndex SeatIndex) error {
	var operationError error
	switch {
	case !identity.Authenticated():
		operationError = ErrNotAuthenticated
	case tableID.IsZero():
		operationError = fmt.Errorf("%w: empty value", ErrInvalidTableID)
	default:
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			current, seated, err := transactionStore.FindSeatByPlayer(ctx, identity.PlayerID)
			if err != nil {
				return err
			}
			var previousTableID TableID
			if seated {
				previousTableID = current.TableID
			}
			table, err := lockJoinTables(ctx, transactionStore, tableID, previousTableID)
			if err != nil {
				return err
			}
			if !table.PointsTarget.ValidSeat(seatIndex) {
				return fmt.Errorf("%w: %d outside 0..%d", ErrInvalidSeatIndex, seatIndex, table.PointsTarget.Capacity()-1)
			}
			if seated {
				if current.TableID == tableID {
					return ErrAlreadySeated
				}
				if err := leaveSeat(ctx, transactionStore, current); err != nil {
					return err
				}
			}
			_, occupied, err := transactionStore.FindSeat(ctx, tableID, seatIndex)
			if err != nil {
				return err
			}
			if occupied {
				return ErrSeatTaken
			}
			if err := transactionStore.UpsertPlayer(ctx, identity.Player()); err != nil {
				return err
			}
			return transactionStore.InsertSeat(ctx, SeatAssignment{
				TableID:   tableID,
				PlayerID:  identity.PlayerID,
				SeatIndex: seatIndex,
			})
		})
	}
	operationError = translateStoreError(operationError)
	seat := seatIndex
	service.logOperation(ctx, OperationLog{
		Operation: operationJoin,
		PlayerID:  identity.PlayerID,
		TableID:   tableID,
		SeatIndex: &seat,
		Error:     operationError,
	})
	return operationError
}

// Leave frees the seat held by playerID and removes the mesa when it empties.
// A player without a seat is not an error.
func (service *Service) Leave(ctx context.Context, playerID PlayerID) error {
	var (
		leftSeat  SeatAssignment
		wasSeated bool
	)
	operationError := ErrNotAuthenticated
	if !playerID.IsZero() {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			seat, seated, err := transactionStore.FindSeatByPlayer(ctx, playerID)
			if err != nil || !seated {
				return err
			}
			leftSeat = seat
			wasSeated = true
			return leaveSeat(ctx, transactionStore, seat)
		})
	}
	operationError = translateStoreError(operationError)
	entry := OperationLog{
		Operation: operationLeave,
		PlayerID:  playerID,
		Error:     operationError,
	}
	if wasSeated {
		seat := leftSeat.SeatIndex
		entry.TableID = leftSeat.TableID
		entry.SeatIndex = &seat
	} else if operationError == nil {
		entry.Status = operationStatusNoop
	}
	service.logOperation(ctx, entry)
	return operationError
}

// Delete removes a mesa and all of its seats. Only the creator may delete it.
func (service *Service) Delete(ctx context.Context, tableID TableID, requester PlayerID) error {
	var operationError error
	switch {
	case requester.IsZero():
		operationError = ErrNotAuthenticated
	case tableID.IsZero():
		operationError = fmt.Errorf("%w: empty value", ErrInvalidTableID)
	default:
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			table, err := transactionStore.GetTable(ctx, tableID)
			if err != nil {
				return err
			}
			if table.CreatorID != requester {
				return fmt.Errorf("%w: only the creator can delete table %s", ErrForbidden, tableID)
			}
			return transactionStore.DeleteTable(ctx, tableID)
		})
	}
	operationError = translateStoreError(operationError)
	service.logOperation(ctx, OperationLog{
		Operation: operationDelete,
		PlayerID:  requester,
		TableID:   tableID,
		Error:     operationError,
	})
	return operationError
}

// FindPlayerTable returns the mesa where playerID is seated, if any.
func (service *Service) FindPlayerTable(ctx context.Context, playerID PlayerID) (TableID, bool, error) {
	if playerID.IsZero() {
		return TableID{}, false, ErrNotAuthenticated
	}
	seat, seated, err := service.store.FindSeatByPlayer(ctx, playerID)
	if err != nil {
		return TableID{}, false, translateStoreError(err)
	}
	if !seated {
		return TableID{}, false, nil
	}
	return seat.TableID, true, nil
}

// IsFull reports whether the mesa has no free seat left.
func (service *Service) IsFull(ctx context.Context, tableID TableID) (bool, error) {
	table, err := service.store.GetTable(ctx, tableID)
	if err != nil {
		return false, translateStoreError(err)
	}
	seatCount, err := service.store.CountSeats(ctx, tableID)
	if err != nil {
		return false, translateStoreError(err)
	}
	return seatCount >= table.PointsTarget.Capacity(), nil
}

// SweepEmptyTables deletes mesas without seats that are older than grace.
func (service *Service) SweepEmptyTables(ctx context.Context, grace time.Duration) ([]TableID, error) {
	cutoff := service.nowFn().UTC().Add(-grace)
	var removed []TableID
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		tableIDs, err := transactionStore.DeleteEmptyTables(ctx, cutoff)
		removed = tableIDs
		return err
	})
	if operationError != nil {
		operationError = translateStoreError(operationError)
		service.logOperation(ctx, OperationLog{Operation: operationSweep, Error: operationError})
		return nil, operationError
	}
	for _, tableID := range removed {
		service.logOperation(ctx, OperationLog{Operation: operationSweep, TableID: tableID})
	}
	return removed, nil
}

func (service *Service) validateCreate(request CreateTableRequest) error {
	if !request.Creator.Authenticated() {
		return ErrNotAuthenticated
	}
	if _, err := ParsePointsTarget(request.PointsTarget.Int()); err != nil {
		return err
	}
	if _, err := NewBetAmount(request.BetAmount.Int64()); err != nil {
		return err
	}
	return nil
}

func (service *Service) createWithRetry(ctx context.Context, request CreateTableRequest) (Table, error) {
	if !request.TableID.IsZero() {
		return service.createOnce(ctx, request.TableID, request)
	}
	var lastError error
	for attempt := 0; attempt < generatedTableIDAttempts; attempt++ {
		tableID, err := service.generateTableID()
		if err != nil {
			return Table{}, fmt.Errorf("%w: %w", ErrCreateFailed, err)
		}
		created, err := service.createOnce(ctx, tableID, request)
		if !errors.Is(err, ErrTableExists) {
			return created, err
		}
		lastError = err
	}
	return Table{}, fmt.Errorf("%w: %w", ErrCreateFailed, lastError)
}

// createOnce runs the create steps in one transaction. A failed seat insert
// rolls the table insert back with it.
func (service *Service) createOnce(ctx context.Context, tableID TableID, request CreateTableRequest) (Table, error) {
	creatorID := request.Creator.PlayerID
	var created Table
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		_, seated, err := transactionStore.FindSeatByPlayer(ctx, creatorID)
		if err != nil {
			return err
		}
		if seated {
			return ErrAlreadySeated
		}
		if err := transactionStore.UpsertPlayer(ctx, request.Creator.Player()); err != nil {
			return err
		}
		nowUTC := service.nowFn().UTC()
		if err := transactionStore.InsertTable(ctx, Table{
			ID:           tableID,
			PointsTarget: request.PointsTarget,
			BetAmount:    request.BetAmount,
			CreatorID:    creatorID,
			Status:       TableStatusWaiting,
			CreatedAt:    nowUTC,
			UpdatedAt:    nowUTC,
		}); err != nil {
			return err
		}
		if err := transactionStore.InsertSeat(ctx, SeatAssignment{
			TableID:   tableID,
			PlayerID:  creatorID,
			SeatIndex: creatorSeat,
		}); err != nil {
			return fmt.Errorf("%w: %w", ErrCreateFailed, err)
		}
		stored, err := transactionStore.GetTable(ctx, tableID)
		if err != nil {
			return err
		}
		created = stored
		return nil
	})
	if err != nil {
		return Table{}, err
	}
	return created, nil
}

// leaveSeat removes seat and turns the lights off when it was the last one.
// The mesa row is locked before the count so concurrent leaves and joins on
// the same mesa see each other's seats.
func leaveSeat(ctx context.Context, transactionStore Store, seat SeatAssignment) error {
	if err := lockTable(ctx, transactionStore, seat.TableID); err != nil {
		return err
	}
	if err := transactionStore.DeleteSeatByPlayer(ctx, seat.PlayerID); err != nil {
		return err
	}
	remaining, err := transactionStore.CountSeats(ctx, seat.TableID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return transactionStore.DeleteTable(ctx, seat.TableID)
}

// lockJoinTables locks the target mesa and, for a player moving between
// mesas, the mesa being left. Locks are taken in id order so two players
// swapping mesas cannot deadlock.
func lockJoinTables(ctx context.Context, transactionStore Store, target TableID, previous TableID) (Table, error) {
	moving := !previous.IsZero() && previous != target
	if moving && previous.String() < target.String() {
		if err := lockTable(ctx, transactionStore, previous); err != nil {
			return Table{}, err
		}
	}
	table, err := transactionStore.GetTable(ctx, target)
	if err != nil {
		return Table{}, err
	}
	if moving && previous.String() > target.String() {
		if err := lockTable(ctx, transactionStore, previous); err != nil {
			return Table{}, err
		}
	}
	return table, nil
}

// lockTable takes the row lock of tableID. A mesa that is already gone is
// not an error.
func lockTable(ctx context.Context, transactionStore Store, tableID TableID) error {
	_, err := transactionStore.GetTable(ctx, tableID)
	if errors.Is(err, ErrTableNotFound) {
		return nil
	}
	return err
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func firstTableID(candidates ...TableID) TableID {
	for _, candidate := range candidates {
		if !candidate.IsZero() {
			return candidate
		}
	}
	return TableID{}
}
