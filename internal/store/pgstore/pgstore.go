package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/truco/pkg/mesas"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintMesaPrimary   = "mesas_pkey"
	constraintSeatPrimary   = "jugadores_mesas_pkey"
	constraintSeatPlayer    = "idx_jugadores_mesas_jugador"
	pgUniqueViolationCode   = "23505"
	errorOperationStore     = "store"
	errorSubjectPlayer      = "player"
	errorSubjectSchema      = "schema"
	errorSubjectSeat        = "seat"
	errorSubjectTable       = "table"
	errorSubjectTransaction = "transaction"
	errorCodeApply          = "apply"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeCount          = "count"
	errorCodeDelete         = "delete"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeSweep          = "sweep"
	errorCodeUpsert         = "upsert"

	sqlSelectTables = `
		select id, puntos, apuesta, creador_id, estado, created_at, updated_at
		from mesas
		order by created_at desc, id asc
	`

	sqlSelectTableForUpdate = `
		select id, puntos, apuesta, creador_id, estado, created_at, updated_at
		from mesas
		where id = $1
		for update
	`

	sqlSelectSeats = `
		select jm.mesa_id, jm.posicion, jm.jugador_id, coalesce(j.name, ''), coalesce(j.photo, '')
		from jugadores_mesas jm
		left join jugadores j on j.id = jm.jugador_id
		where jm.mesa_id = any($1)
		order by jm.mesa_id, jm.posicion
	`

	sqlInsertTable = `
		insert into mesas(id, puntos, apuesta, creador_id, estado, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $6)
	`

	sqlDeleteTableSeats = `delete from jugadores_mesas where mesa_id = $1`

	sqlDeleteTable = `delete from mesas where id = $1`

	sqlUpsertPlayer = `
		insert into jugadores(id, name, photo, updated_at) values ($1, $2, $3, now())
		on conflict (id) do update set name = excluded.name, photo = excluded.photo, updated_at = now()
	`

	sqlSelectSeatByPlayer = `
		select mesa_id, posicion, jugador_id from jugadores_mesas where jugador_id = $1
	`

	sqlSelectSeat = `
		select mesa_id, posicion, jugador_id from jugadores_mesas where mesa_id = $1 and posicion = $2
	`

	sqlInsertSeat = `
		insert into jugadores_mesas(mesa_id, posicion, jugador_id) values ($1, $2, $3)
	`

	sqlDeleteSeatByPlayer = `delete from jugadores_mesas where jugador_id = $1`

	sqlCountSeats = `select count(*) from jugadores_mesas where mesa_id = $1`

	sqlDeleteEmptyTables = `
		delete from mesas m
		where m.created_at < $1
		and not exists (select 1 from jugadores_mesas jm where jm.mesa_id = m.id)
		returning m.id
	`
)

//go:embed schema.sql
var schemaSQL string

// querier is the subset of pgx shared by the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements mesas.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements mesas.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the registry tables when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeApply, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore mesas.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) ListTables(ctx context.Context) ([]mesas.Table, error) {
	return listTables(ctx, store.pool)
}

func (store *Store) GetTable(ctx context.Context, tableID mesas.TableID) (mesas.Table, error) {
	return getTable(ctx, store.pool, tableID)
}

func (store *Store) InsertTable(ctx context.Context, table mesas.Table) error {
	return insertTable(ctx, store.pool, table)
}

// DeleteTable outside a transaction still removes seats and mesa atomically.
func (store *Store) DeleteTable(ctx context.Context, tableID mesas.TableID) error {
	return store.WithTx(ctx, func(ctx context.Context, txStore mesas.Store) error {
		return txStore.DeleteTable(ctx, tableID)
	})
}

func (store *Store) UpsertPlayer(ctx context.Context, player mesas.Player) error {
	return upsertPlayer(ctx, store.pool, player)
}

func (store *Store) FindSeatByPlayer(ctx context.Context, playerID mesas.PlayerID) (mesas.SeatAssignment, bool, error) {
	return findSeat(ctx, store.pool, sqlSelectSeatByPlayer, playerID.String())
}

func (store *Store) FindSeat(ctx context.Context, tableID mesas.TableID, seatIndex mesas.SeatIndex) (mesas.SeatAssignment, bool, error) {
	return findSeat(ctx, store.pool, sqlSelectSeat, tableID.String(), seatIndex.Int())
}

func (store *Store) InsertSeat(ctx context.Context, seat mesas.SeatAssignment) error {
	return insertSeat(ctx, store.pool, seat)
}

func (store *Store) DeleteSeatByPlayer(ctx context.Context, playerID mesas.PlayerID) error {
	return deleteSeatByPlayer(ctx, store.pool, playerID)
}

func (store *Store) CountSeats(ctx context.Context, tableID mesas.TableID) (int, error) {
	return countSeats(ctx, store.pool, tableID)
}

func (store *Store) DeleteEmptyTables(ctx context.Context, createdBefore time.Time) ([]mesas.TableID, error) {
	return deleteEmptyTables(ctx, store.pool, createdBefore)
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore mesas.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) ListTables(ctx context.Context) ([]mesas.Table, error) {
	return listTables(ctx, store.tx)
}

func (store *TxStore) GetTable(ctx context.Context, tableID mesas.TableID) (mesas.Table, error) {
	return getTable(ctx, store.tx, tableID)
}

func (store *TxStore) InsertTable(ctx context.Context, table mesas.Table) error {
	return insertTable(ctx, store.tx, table)
}

func (store *TxStore) DeleteTable(ctx context.Context, tableID mesas.TableID) error {
	if _, err := store.tx.Exec(ctx, sqlDeleteTableSeats, tableID.String()); err != nil {
		return wrapStoreError(errorSubjectSeat, errorCodeDelete, err)
	}
	if _, err := store.tx.Exec(ctx, sqlDeleteTable, tableID.String()); err != nil {
		return wrapStoreError(errorSubjectTable, errorCodeDelete, err)
	}
	return nil
}

func (store *TxStore) UpsertPlayer(ctx context.Context, player mesas.Player) error {
	return upsertPlayer(ctx, store.tx, player)
}

func (store *TxStore) FindSeatByPlayer(ctx context.Context, playerID mesas.PlayerID) (mesas.SeatAssignment, bool, error) {
	return findSeat(ctx, store.tx, sqlSelectSeatByPlayer, playerID.String())
}

func (store *TxStore) FindSeat(ctx context.Context, tableID mesas.TableID, seatIndex mesas.SeatIndex) (mesas.SeatAssignment, bool, error) {
	return findSeat(ctx, store.tx, sqlSelectSeat, tableID.String(), seatIndex.Int())
}

func (store *TxStore) InsertSeat(ctx context.Context, seat mesas.SeatAssignment) error {
	return insertSeat(ctx, store.tx, seat)
}

func (store *TxStore) DeleteSeatByPlayer(ctx context.Context, playerID mesas.PlayerID) error {
	return deleteSeatByPlayer(ctx, store.tx, playerID)
}

func (store *TxStore) CountSeats(ctx context.Context, tableID mesas.TableID) (int, error) {
	return countSeats(ctx, store.tx, tableID)
}

func (store *TxStore) DeleteEmptyTables(ctx context.Context, createdBefore time.Time) ([]mesas.TableID, error) {
	return deleteEmptyTables(ctx, store.tx, createdBefore)
}

type mesaRow struct {
	id        string
	puntos    int
	apuesta   int64
	creadorID string
	estado    string
	createdAt time.Time
	updatedAt time.Time
}

func scanMesa(row pgx.Row) (mesaRow, error) {
	var value mesaRow
	err := row.Scan(&value.id, &value.puntos, &value.apuesta, &value.creadorID, &value.estado, &value.createdAt, &value.updatedAt)
	return value, err
}

func listTables(ctx context.Context, db querier) ([]mesas.Table, error) {
	rows, err := db.Query(ctx, sqlSelectTables)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTable, errorCodeList, err)
	}
	var mesaRows []mesaRow
	for rows.Next() {
		value, err := scanMesa(rows)
		if err != nil {
			rows.Close()
			return nil, wrapStoreError(errorSubjectTable, errorCodeList, err)
		}
		mesaRows = append(mesaRows, value)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTable, errorCodeList, err)
	}
	tableIDs := make([]string, 0, len(mesaRows))
	for _, value := range mesaRows {
		tableIDs = append(tableIDs, value.id)
	}
	seats, err := selectSeats(ctx, db, tableIDs)
	if err != nil {
		return nil, err
	}
	tables := make([]mesas.Table, 0, len(mesaRows))
	for _, value := range mesaRows {
		table, err := mapMesa(value, seats[value.id])
		if err != nil {
			return nil, wrapStoreError(errorSubjectTable, errorCodeInvalid, err)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func getTable(ctx context.Context, db querier, tableID mesas.TableID) (mesas.Table, error) {
	value, err := scanMesa(db.QueryRow(ctx, sqlSelectTableForUpdate, tableID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mesas.Table{}, wrapStoreError(errorSubjectTable, errorCodeGet, mesas.ErrTableNotFound)
		}
		return mesas.Table{}, wrapStoreError(errorSubjectTable, errorCodeGet, err)
	}
	seats, err := selectSeats(ctx, db, []string{value.id})
	if err != nil {
		return mesas.Table{}, err
	}
	table, err := mapMesa(value, seats[value.id])
	if err != nil {
		return mesas.Table{}, wrapStoreError(errorSubjectTable, errorCodeInvalid, err)
	}
	return table, nil
}

func selectSeats(ctx context.Context, db querier, tableIDs []string) (map[string][]mesas.SeatedPlayer, error) {
	grouped := make(map[string][]mesas.SeatedPlayer, len(tableIDs))
	if len(tableIDs) == 0 {
		return grouped, nil
	}
	rows, err := db.Query(ctx, sqlSelectSeats, tableIDs)
	if err != nil {
		return nil, wrapStoreError(errorSubjectSeat, errorCodeList, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			mesaIDValue   string
			posicionValue int
			jugadorValue  string
			nameValue     string
			photoValue    string
		)
		if err := rows.Scan(&mesaIDValue, &posicionValue, &jugadorValue, &nameValue, &photoValue); err != nil {
			return nil, wrapStoreError(errorSubjectSeat, errorCodeList, err)
		}
		playerID, err := mesas.NewPlayerID(jugadorValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSeat, errorCodeInvalid, err)
		}
		if nameValue == "" {
			nameValue = playerID.String()
		}
		grouped[mesaIDValue] = append(grouped[mesaIDValue], mesas.SeatedPlayer{
			SeatIndex: mesas.SeatIndex(posicionValue),
			Player:    mesas.Player{ID: playerID, Name: nameValue, Photo: photoValue},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectSeat, errorCodeList, err)
	}
	return grouped, nil
}

func insertTable(ctx context.Context, db querier, table mesas.Table) error {
	createdAt := table.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.Exec(ctx, sqlInsertTable,
		table.ID.String(),
		table.PointsTarget.Int(),
		table.BetAmount.Int64(),
		table.CreatorID.String(),
		table.Status.String(),
		createdAt,
	)
	if isUniqueViolation(err, constraintMesaPrimary) {
		return wrapStoreError(errorSubjectTable, errorCodeDuplicate, mesas.ErrTableExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTable, errorCodeInsert, err)
	}
	return nil
}

func upsertPlayer(ctx context.Context, db querier, player mesas.Player) error {
	if _, err := db.Exec(ctx, sqlUpsertPlayer, player.ID.String(), player.Name, player.Photo); err != nil {
		return wrapStoreError(errorSubjectPlayer, errorCodeUpsert, err)
	}
	return nil
}

func findSeat(ctx context.Context, db querier, query string, args ...any) (mesas.SeatAssignment, bool, error) {
	var (
		mesaIDValue   string
		posicionValue int
		jugadorValue  string
	)
	err := db.QueryRow(ctx, query, args...).Scan(&mesaIDValue, &posicionValue, &jugadorValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return mesas.SeatAssignment{}, false, nil
	}
	if err != nil {
		return mesas.SeatAssignment{}, false, wrapStoreError(errorSubjectSeat, errorCodeLookup, err)
	}
	tableID, err := mesas.NewTableID(mesaIDValue)
	if err != nil {
		return mesas.SeatAssignment{}, false, wrapStoreError(errorSubjectSeat, errorCodeInvalid, err)
	}
	playerID, err := mesas.NewPlayerID(jugadorValue)
	if err != nil {
		return mesas.SeatAssignment{}, false, wrapStoreError(errorSubjectSeat, errorCodeInvalid, err)
	}
	return mesas.SeatAssignment{TableID: tableID, PlayerID: playerID, SeatIndex: mesas.SeatIndex(posicionValue)}, true, nil
}

func insertSeat(ctx context.Context, db querier, seat mesas.SeatAssignment) error {
	_, err := db.Exec(ctx, sqlInsertSeat, seat.TableID.String(), seat.SeatIndex.Int(), seat.PlayerID.String())
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err, constraintSeatPlayer):
		return wrapStoreError(errorSubjectSeat, errorCodeDuplicate, mesas.ErrAlreadySeated)
	case isUniqueViolation(err, constraintSeatPrimary):
		return wrapStoreError(errorSubjectSeat, errorCodeDuplicate, mesas.ErrSeatTaken)
	default:
		return wrapStoreError(errorSubjectSeat, errorCodeInsert, err)
	}
}

func deleteSeatByPlayer(ctx context.Context, db querier, playerID mesas.PlayerID) error {
	if _, err := db.Exec(ctx, sqlDeleteSeatByPlayer, playerID.String()); err != nil {
		return wrapStoreError(errorSubjectSeat, errorCodeDelete, err)
	}
	return nil
}

func countSeats(ctx context.Context, db querier, tableID mesas.TableID) (int, error) {
	var count int
	if err := db.QueryRow(ctx, sqlCountSeats, tableID.String()).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectSeat, errorCodeCount, err)
	}
	return count, nil
}

func deleteEmptyTables(ctx context.Context, db querier, createdBefore time.Time) ([]mesas.TableID, error) {
	rows, err := db.Query(ctx, sqlDeleteEmptyTables, createdBefore.UTC())
	if err != nil {
		return nil, wrapStoreError(errorSubjectTable, errorCodeSweep, err)
	}
	defer rows.Close()
	var removed []mesas.TableID
	for rows.Next() {
		var rawID string
		if err := rows.Scan(&rawID); err != nil {
			return nil, wrapStoreError(errorSubjectTable, errorCodeSweep, err)
		}
		tableID, err := mesas.NewTableID(rawID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTable, errorCodeInvalid, err)
		}
		removed = append(removed, tableID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTable, errorCodeSweep, err)
	}
	return removed, nil
}

func mapMesa(value mesaRow, seats []mesas.SeatedPlayer) (mesas.Table, error) {
	tableID, err := mesas.NewTableID(value.id)
	if err != nil {
		return mesas.Table{}, err
	}
	pointsTarget, err := mesas.ParsePointsTarget(value.puntos)
	if err != nil {
		return mesas.Table{}, err
	}
	betAmount, err := mesas.NewBetAmount(value.apuesta)
	if err != nil {
		return mesas.Table{}, err
	}
	creatorID, err := mesas.NewPlayerID(value.creadorID)
	if err != nil {
		return mesas.Table{}, err
	}
	status, err := mesas.ParseTableStatus(value.estado)
	if err != nil {
		return mesas.Table{}, err
	}
	if seats == nil {
		seats = []mesas.SeatedPlayer{}
	}
	return mesas.Table{
		ID:           tableID,
		PointsTarget: pointsTarget,
		BetAmount:    betAmount,
		CreatorID:    creatorID,
		Status:       status,
		CreatedAt:    value.createdAt.UTC(),
		UpdatedAt:    value.updatedAt.UTC(),
		Seats:        seats,
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return mesas.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}
