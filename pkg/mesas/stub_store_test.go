package mesas

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, time.March, 1, 20, 0, 0, 0, time.UTC)

type stubStore struct {
	mutex   sync.Mutex
	tables  map[TableID]Table
	seats   []SeatAssignment
	players map[PlayerID]Player

	listTablesError       error
	getTableError         error
	insertTableError      error
	deleteTableError      error
	upsertPlayerError     error
	findSeatByPlayerError error
	findSeatError         error
	insertSeatError       error
	deleteSeatError       error
	countSeatsError       error
	deleteEmptyError      error
	transactions          int
	rollbacks             int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		tables:  make(map[TableID]Table),
		players: make(map[PlayerID]Player),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.transactions++
	tablesSnapshot := make(map[TableID]Table, len(store.tables))
	for tableID, table := range store.tables {
		tablesSnapshot[tableID] = table
	}
	seatsSnapshot := append([]SeatAssignment(nil), store.seats...)
	playersSnapshot := make(map[PlayerID]Player, len(store.players))
	for playerID, player := range store.players {
		playersSnapshot[playerID] = player
	}
	if err := fn(ctx, store); err != nil {
		store.tables = tablesSnapshot
		store.seats = seatsSnapshot
		store.players = playersSnapshot
		store.rollbacks++
		return err
	}
	return nil
}

func (store *stubStore) ListTables(ctx context.Context) ([]Table, error) {
	if store.listTablesError != nil {
		return nil, store.listTablesError
	}
	tables := make([]Table, 0, len(store.tables))
	for tableID := range store.tables {
		tables = append(tables, store.withSeats(tableID))
	}
	sort.Slice(tables, func(left, right int) bool {
		if tables[left].CreatedAt.Equal(tables[right].CreatedAt) {
			return tables[left].ID.String() < tables[right].ID.String()
		}
		return tables[left].CreatedAt.After(tables[right].CreatedAt)
	})
	return tables, nil
}

func (store *stubStore) GetTable(ctx context.Context, tableID TableID) (Table, error) {
	if store.getTableError != nil {
		return Table{}, store.getTableError
	}
	if _, exists := store.tables[tableID]; !exists {
		return Table{}, ErrTableNotFound
	}
	return store.withSeats(tableID), nil
}

func (store *stubStore) InsertTable(ctx context.Context, table Table) error {
	if store.insertTableError != nil {
		return store.insertTableError
	}
	if _, exists := store.tables[table.ID]; exists {
		return ErrTableExists
	}
	table.Seats = nil
	store.tables[table.ID] = table
	return nil
}

func (store *stubStore) DeleteTable(ctx context.Context, tableID TableID) error {
	if store.deleteTableError != nil {
		return store.deleteTableError
	}
	delete(store.tables, tableID)
	remaining := store.seats[:0]
	for _, seat := range store.seats {
		if seat.TableID != tableID {
			remaining = append(remaining, seat)
		}
	}
	store.seats = remaining
	return nil
}

func (store *stubStore) UpsertPlayer(ctx context.Context, player Player) error {
	if store.upsertPlayerError != nil {
		return store.upsertPlayerError
	}
	store.players[player.ID] = player
	return nil
}

func (store *stubStore) FindSeatByPlayer(ctx context.Context, playerID PlayerID) (SeatAssignment, bool, error) {
	if store.findSeatByPlayerError != nil {
		return SeatAssignment{}, false, store.findSeatByPlayerError
	}
	for _, seat := range store.seats {
		if seat.PlayerID == playerID {
			return seat, true, nil
		}
	}
	return SeatAssignment{}, false, nil
}

func (store *stubStore) FindSeat(ctx context.Context, tableID TableID, seatIndex SeatIndex) (SeatAssignment, bool, error) {
	if store.findSeatError != nil {
		return SeatAssignment{}, false, store.findSeatError
	}
	for _, seat := range store.seats {
		if seat.TableID == tableID && seat.SeatIndex == seatIndex {
			return seat, true, nil
		}
	}
	return SeatAssignment{}, false, nil
}

func (store *stubStore) InsertSeat(ctx context.Context, seat SeatAssignment) error {
	if store.insertSeatError != nil {
		return store.insertSeatError
	}
	for _, existing := range store.seats {
		if existing.PlayerID == seat.PlayerID {
			return ErrAlreadySeated
		}
		if existing.TableID == seat.TableID && existing.SeatIndex == seat.SeatIndex {
			return ErrSeatTaken
		}
	}
	store.seats = append(store.seats, seat)
	return nil
}

func (store *stubStore) DeleteSeatByPlayer(ctx context.Context, playerID PlayerID) error {
	if store.deleteSeatError != nil {
		return store.deleteSeatError
	}
	remaining := store.seats[:0]
	for _, seat := range store.seats {
		if seat.PlayerID != playerID {
			remaining = append(remaining, seat)
		}
	}
	store.seats = remaining
	return nil
}

func (store *stubStore) CountSeats(ctx context.Context, tableID TableID) (int, error) {
	if store.countSeatsError != nil {
		return 0, store.countSeatsError
	}
	count := 0
	for _, seat := range store.seats {
		if seat.TableID == tableID {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) DeleteEmptyTables(ctx context.Context, createdBefore time.Time) ([]TableID, error) {
	if store.deleteEmptyError != nil {
		return nil, store.deleteEmptyError
	}
	var removed []TableID
	for tableID, table := range store.tables {
		if !table.CreatedAt.Before(createdBefore) {
			continue
		}
		if count, _ := store.CountSeats(ctx, tableID); count > 0 {
			continue
		}
		removed = append(removed, tableID)
	}
	sort.Slice(removed, func(left, right int) bool { return removed[left].String() < removed[right].String() })
	for _, tableID := range removed {
		delete(store.tables, tableID)
	}
	return removed, nil
}

func (store *stubStore) withSeats(tableID TableID) Table {
	table := store.tables[tableID]
	table.Seats = nil
	for _, seat := range store.seats {
		if seat.TableID != tableID {
			continue
		}
		player, exists := store.players[seat.PlayerID]
		if !exists {
			player = Player{ID: seat.PlayerID}
		}
		table.Seats = append(table.Seats, SeatedPlayer{SeatIndex: seat.SeatIndex, Player: player})
	}
	sort.Slice(table.Seats, func(left, right int) bool { return table.Seats[left].SeatIndex < table.Seats[right].SeatIndex })
	return table
}

func (store *stubStore) seatsOf(playerID PlayerID) []SeatAssignment {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var held []SeatAssignment
	for _, seat := range store.seats {
		if seat.PlayerID == playerID {
			held = append(held, seat)
		}
	}
	return held
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return fixedNow }, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustTableID(test *testing.T, raw string) TableID {
	test.Helper()
	tableID, err := NewTableID(raw)
	if err != nil {
		test.Fatalf("table id %q: %v", raw, err)
	}
	return tableID
}

func mustPlayerID(test *testing.T, raw string) PlayerID {
	test.Helper()
	playerID, err := NewPlayerID(raw)
	if err != nil {
		test.Fatalf("player id %q: %v", raw, err)
	}
	return playerID
}

func mustIdentity(test *testing.T, raw string) Identity {
	test.Helper()
	identity, err := NewIdentity(raw, "Jugador "+raw, "https://example.com/"+raw+".png")
	if err != nil {
		test.Fatalf("identity %q: %v", raw, err)
	}
	return identity
}

func mustCreate(test *testing.T, service *Service, rawTableID string, points PointsTarget, creator Identity) Table {
	test.Helper()
	table, err := service.Create(context.Background(), CreateTableRequest{
		TableID:      mustTableID(test, rawTableID),
		PointsTarget: points,
		BetAmount:    500,
		Creator:      creator,
	})
	if err != nil {
		test.Fatalf("create %s: %v", rawTableID, err)
	}
	return table
}
