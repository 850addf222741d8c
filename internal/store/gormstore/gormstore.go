package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/truco/pkg/mesas"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintMesaPrimary      = "mesas_pkey"
	constraintSeatPrimary      = "jugadores_mesas_pkey"
	constraintSeatPlayer       = "idx_jugadores_mesas_jugador"
	sqliteMesaPrimary          = "mesas.id"
	sqliteSeatPlayer           = "jugadores_mesas.jugador_id"
	sqliteSeatPrimary          = "jugadores_mesas.posicion"
	pgUniqueViolationCode      = "23505"
	sqliteConstraintCode       = 19
	errorOperationStore        = "store"
	errorSubjectTable          = "table"
	errorSubjectSeat           = "seat"
	errorSubjectPlayer         = "player"
	errorCodeCount             = "count"
	errorCodeDelete            = "delete"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLookup            = "lookup"
	errorCodeSweep             = "sweep"
	errorCodeUpsert            = "upsert"
	seatColumnsWithPlayerNames = "jugadores_mesas.mesa_id, jugadores_mesas.posicion, jugadores_mesas.jugador_id, jugadores.name, jugadores.photo"
)

// Store implements mesas.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore mesas.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) ListTables(ctx context.Context) ([]mesas.Table, error) {
	var rows []Mesa
	err := store.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTable, errorCodeList, err)
	}
	if len(rows) == 0 {
		return []mesas.Table{}, nil
	}
	tableIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		tableIDs = append(tableIDs, row.ID)
	}
	seats, err := store.seatsFor(ctx, tableIDs)
	if err != nil {
		return nil, err
	}
	tables := make([]mesas.Table, 0, len(rows))
	for _, row := range rows {
		table, err := mapMesa(row, seats[row.ID])
		if err != nil {
			return nil, wrapStoreError(errorSubjectTable, errorCodeInvalid, err)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (store *Store) GetTable(ctx context.Context, tableID mesas.TableID) (mesas.Table, error) {
	var row Mesa
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", tableID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return mesas.Table{}, wrapStoreError(errorSubjectTable, errorCodeGet, mesas.ErrTableNotFound)
		}
		return mesas.Table{}, wrapStoreError(errorSubjectTable, errorCodeGet, err)
	}
	seats, err := store.seatsFor(ctx, []string{row.ID})
	if err != nil {
		return mesas.Table{}, err
	}
	table, err := mapMesa(row, seats[row.ID])
	if err != nil {
		return mesas.Table{}, wrapStoreError(errorSubjectTable, errorCodeInvalid, err)
	}
	return table, nil
}

func (store *Store) InsertTable(ctx context.Context, table mesas.Table) error {
	createdAt := table.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := Mesa{
		ID:        table.ID.String(),
		Puntos:    table.PointsTarget.Int(),
		Apuesta:   table.BetAmount.Int64(),
		CreadorID: table.CreatorID.String(),
		Estado:    table.Status.String(),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isTableConflict(err) {
		return wrapStoreError(errorSubjectTable, errorCodeDuplicate, mesas.ErrTableExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTable, errorCodeInsert, err)
	}
	return nil
}

// DeleteTable removes the mesa and its seats. Deleting an absent mesa is not an error.
func (store *Store) DeleteTable(ctx context.Context, tableID mesas.TableID) error {
	db := store.db.WithContext(ctx)
	if err := db.Where("mesa_id = ?", tableID.String()).Delete(&JugadorMesa{}).Error; err != nil {
		return wrapStoreError(errorSubjectSeat, errorCodeDelete, err)
	}
	if err := db.Where("id = ?", tableID.String()).Delete(&Mesa{}).Error; err != nil {
		return wrapStoreError(errorSubjectTable, errorCodeDelete, err)
	}
	return nil
}

func (store *Store) UpsertPlayer(ctx context.Context, player mesas.Player) error {
	model := Jugador{
		ID:        player.ID.String(),
		Name:      player.Name,
		Photo:     player.Photo,
		UpdatedAt: time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "photo", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectPlayer, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) FindSeatByPlayer(ctx context.Context, playerID mesas.PlayerID) (mesas.SeatAssignment, bool, error) {
	return store.findSeat(ctx, "jugador_id = ?", playerID.String())
}

func (store *Store) FindSeat(ctx context.Context, tableID mesas.TableID, seatIndex mesas.SeatIndex) (mesas.SeatAssignment, bool, error) {
	return store.findSeat(ctx, "mesa_id = ? AND posicion = ?", tableID.String(), seatIndex.Int())
}

func (store *Store) InsertSeat(ctx context.Context, seat mesas.SeatAssignment) error {
	model := JugadorMesa{
		MesaID:    seat.TableID.String(),
		Posicion:  seat.SeatIndex.Int(),
		JugadorID: seat.PlayerID.String(),
		CreatedAt: time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	switch {
	case err == nil:
		return nil
	case isPlayerSeatConflict(err):
		return wrapStoreError(errorSubjectSeat, errorCodeDuplicate, mesas.ErrAlreadySeated)
	case isSeatConflict(err):
		return wrapStoreError(errorSubjectSeat, errorCodeDuplicate, mesas.ErrSeatTaken)
	default:
		return wrapStoreError(errorSubjectSeat, errorCodeInsert, err)
	}
}

func (store *Store) DeleteSeatByPlayer(ctx context.Context, playerID mesas.PlayerID) error {
	err := store.db.WithContext(ctx).
		Where("jugador_id = ?", playerID.String()).
		Delete(&JugadorMesa{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectSeat, errorCodeDelete, err)
	}
	return nil
}

func (store *Store) CountSeats(ctx context.Context, tableID mesas.TableID) (int, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&JugadorMesa{}).
		Where("mesa_id = ?", tableID.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectSeat, errorCodeCount, err)
	}
	return int(count), nil
}

// DeleteEmptyTables removes seatless mesas created before the cutoff and
// returns their ids.
func (store *Store) DeleteEmptyTables(ctx context.Context, createdBefore time.Time) ([]mesas.TableID, error) {
	db := store.db.WithContext(ctx)
	var rawIDs []string
	err := db.Model(&Mesa{}).
		Where("created_at < ?", createdBefore.UTC()).
		Where("NOT EXISTS (SELECT 1 FROM jugadores_mesas WHERE jugadores_mesas.mesa_id = mesas.id)").
		Order("id ASC").
		Pluck("id", &rawIDs).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTable, errorCodeSweep, err)
	}
	if len(rawIDs) == 0 {
		return nil, nil
	}
	if err := db.Where("id IN ?", rawIDs).Delete(&Mesa{}).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTable, errorCodeSweep, err)
	}
	removed := make([]mesas.TableID, 0, len(rawIDs))
	for _, rawID := range rawIDs {
		tableID, err := mesas.NewTableID(rawID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTable, errorCodeInvalid, err)
		}
		removed = append(removed, tableID)
	}
	return removed, nil
}

func (store *Store) findSeat(ctx context.Context, query string, args ...any) (mesas.SeatAssignment, bool, error) {
	var rows []JugadorMesa
	err := store.db.WithContext(ctx).
		Where(query, args...).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return mesas.SeatAssignment{}, false, wrapStoreError(errorSubjectSeat, errorCodeLookup, err)
	}
	if len(rows) == 0 {
		return mesas.SeatAssignment{}, false, nil
	}
	seat, err := mapSeat(rows[0])
	if err != nil {
		return mesas.SeatAssignment{}, false, wrapStoreError(errorSubjectSeat, errorCodeInvalid, err)
	}
	return seat, true, nil
}

type seatRow struct {
	MesaID    string
	Posicion  int
	JugadorID string
	Name      *string
	Photo     *string
}

func (store *Store) seatsFor(ctx context.Context, tableIDs []string) (map[string][]seatRow, error) {
	var rows []seatRow
	err := store.db.WithContext(ctx).
		Table("jugadores_mesas").
		Select(seatColumnsWithPlayerNames).
		Joins("LEFT JOIN jugadores ON jugadores.id = jugadores_mesas.jugador_id").
		Where("jugadores_mesas.mesa_id IN ?", tableIDs).
		Order("jugadores_mesas.posicion ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSeat, errorCodeList, err)
	}
	grouped := make(map[string][]seatRow, len(tableIDs))
	for _, row := range rows {
		grouped[row.MesaID] = append(grouped[row.MesaID], row)
	}
	return grouped, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return mesas.WrapError(errorOperationStore, subject, code, err)
}

func mapMesa(row Mesa, seats []seatRow) (mesas.Table, error) {
	tableID, err := mesas.NewTableID(row.ID)
	if err != nil {
		return mesas.Table{}, err
	}
	pointsTarget, err := mesas.ParsePointsTarget(row.Puntos)
	if err != nil {
		return mesas.Table{}, err
	}
	betAmount, err := mesas.NewBetAmount(row.Apuesta)
	if err != nil {
		return mesas.Table{}, err
	}
	creatorID, err := mesas.NewPlayerID(row.CreadorID)
	if err != nil {
		return mesas.Table{}, err
	}
	status, err := mesas.ParseTableStatus(row.Estado)
	if err != nil {
		return mesas.Table{}, err
	}
	seated := make([]mesas.SeatedPlayer, 0, len(seats))
	for _, seat := range seats {
		playerID, err := mesas.NewPlayerID(seat.JugadorID)
		if err != nil {
			return mesas.Table{}, err
		}
		seated = append(seated, mesas.SeatedPlayer{
			SeatIndex: mesas.SeatIndex(seat.Posicion),
			Player: mesas.Player{
				ID:    playerID,
				Name:  stringOrDefault(seat.Name, playerID.String()),
				Photo: stringOrDefault(seat.Photo, ""),
			},
		})
	}
	return mesas.Table{
		ID:           tableID,
		PointsTarget: pointsTarget,
		BetAmount:    betAmount,
		CreatorID:    creatorID,
		Status:       status,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
		Seats:        seated,
	}, nil
}

func mapSeat(row JugadorMesa) (mesas.SeatAssignment, error) {
	tableID, err := mesas.NewTableID(row.MesaID)
	if err != nil {
		return mesas.SeatAssignment{}, err
	}
	playerID, err := mesas.NewPlayerID(row.JugadorID)
	if err != nil {
		return mesas.SeatAssignment{}, err
	}
	return mesas.SeatAssignment{TableID: tableID, PlayerID: playerID, SeatIndex: mesas.SeatIndex(row.Posicion)}, nil
}

func stringOrDefault(value *string, fallback string) string {
	if value == nil || *value == "" {
		return fallback
	}
	return *value
}

func isTableConflict(err error) bool {
	return isUniqueViolation(err, constraintMesaPrimary, sqliteMesaPrimary)
}

func isSeatConflict(err error) bool {
	return isUniqueViolation(err, constraintSeatPrimary, sqliteSeatPrimary)
}

func isPlayerSeatConflict(err error) bool {
	return isUniqueViolation(err, constraintSeatPlayer, sqliteSeatPlayer)
}

// isUniqueViolation matches postgres by constraint name and sqlite by the
// column list in the driver message, which names no constraint.
func isUniqueViolation(err error, pgConstraint string, sqliteColumn string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == pgConstraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode && strings.Contains(sqliteErr.Error(), sqliteColumn)
	}
	return false
}
