package lobbycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/truco/pkg/mesas"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultKey        = "truco:lobby:mesas"
	generationSuffix  = ":gen"
	initialGeneration = "0"
	defaultTTL        = 2 * time.Second
)

// commands is the subset of the redis client used by Cache.
type commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
}

// Cache keeps a short-lived snapshot of the lobby listing in redis.
// Snapshots are keyed by a generation counter that Invalidate bumps, so a
// load that started before an invalidation can only write a snapshot nobody
// reads again. A nil *Cache is valid and always loads from the source.
type Cache struct {
	client commands
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewClient connects to redis and verifies connectivity.
func NewClient(ctx context.Context, addr string, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if logger != nil {
		logger.Info("redis client connected", zap.String("addr", addr))
	}
	return client, nil
}

// New wraps client. A non-positive ttl falls back to two seconds.
func New(client commands, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, key: defaultKey, ttl: ttl, logger: logger}
}

// Tables returns the cached listing or calls load and stores its result.
// Cache failures are logged and behave as misses.
func (cache *Cache) Tables(ctx context.Context, load func(ctx context.Context) []mesas.Table) []mesas.Table {
	if cache == nil || cache.client == nil {
		return load(ctx)
	}
	generation, err := cache.generation(ctx)
	if err != nil {
		cache.logger.Warn("lobby cache generation read failed", zap.Error(err))
		return load(ctx)
	}
	snapshotKey := cache.snapshotKey(generation)
	raw, err := cache.client.Get(ctx, snapshotKey).Bytes()
	switch {
	case err == nil:
		tables, decodeErr := decodeTables(raw)
		if decodeErr == nil {
			return tables
		}
		cache.logger.Warn("lobby cache decode failed", zap.Error(decodeErr))
	case !errors.Is(err, redis.Nil):
		cache.logger.Warn("lobby cache read failed", zap.Error(err))
	}
	tables := load(ctx)
	encoded, err := encodeTables(tables)
	if err != nil {
		cache.logger.Warn("lobby cache encode failed", zap.Error(err))
		return tables
	}
	if err := cache.client.Set(ctx, snapshotKey, encoded, cache.ttl).Err(); err != nil {
		cache.logger.Warn("lobby cache write failed", zap.Error(err))
	}
	return tables
}

// Invalidate moves readers to a new generation so the next read reloads.
func (cache *Cache) Invalidate(ctx context.Context) {
	if cache == nil || cache.client == nil {
		return
	}
	if err := cache.client.Incr(ctx, cache.key+generationSuffix).Err(); err != nil {
		cache.logger.Warn("lobby cache invalidate failed", zap.Error(err))
	}
}

func (cache *Cache) generation(ctx context.Context) (string, error) {
	generation, err := cache.client.Get(ctx, cache.key+generationSuffix).Result()
	if errors.Is(err, redis.Nil) {
		return initialGeneration, nil
	}
	return generation, err
}

func (cache *Cache) snapshotKey(generation string) string {
	return cache.key + ":" + generation
}

type cachedSeat struct {
	SeatIndex int    `json:"posicion"`
	PlayerID  string `json:"jugador_id"`
	Name      string `json:"name"`
	Photo     string `json:"photo"`
}

type cachedTable struct {
	ID        string       `json:"id"`
	Puntos    int          `json:"puntos"`
	Apuesta   int64        `json:"apuesta"`
	CreadorID string       `json:"creador_id"`
	Estado    string       `json:"estado"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Seats     []cachedSeat `json:"seats"`
}

func encodeTables(tables []mesas.Table) ([]byte, error) {
	snapshot := make([]cachedTable, 0, len(tables))
	for _, table := range tables {
		seats := make([]cachedSeat, 0, len(table.Seats))
		for _, seat := range table.Seats {
			seats = append(seats, cachedSeat{
				SeatIndex: seat.SeatIndex.Int(),
				PlayerID:  seat.Player.ID.String(),
				Name:      seat.Player.Name,
				Photo:     seat.Player.Photo,
			})
		}
		snapshot = append(snapshot, cachedTable{
			ID:        table.ID.String(),
			Puntos:    table.PointsTarget.Int(),
			Apuesta:   table.BetAmount.Int64(),
			CreadorID: table.CreatorID.String(),
			Estado:    table.Status.String(),
			CreatedAt: table.CreatedAt,
			UpdatedAt: table.UpdatedAt,
			Seats:     seats,
		})
	}
	return json.Marshal(snapshot)
}

func decodeTables(raw []byte) ([]mesas.Table, error) {
	var snapshot []cachedTable
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, err
	}
	tables := make([]mesas.Table, 0, len(snapshot))
	for _, cached := range snapshot {
		tableID, err := mesas.NewTableID(cached.ID)
		if err != nil {
			return nil, err
		}
		pointsTarget, err := mesas.ParsePointsTarget(cached.Puntos)
		if err != nil {
			return nil, err
		}
		betAmount, err := mesas.NewBetAmount(cached.Apuesta)
		if err != nil {
			return nil, err
		}
		creatorID, err := mesas.NewPlayerID(cached.CreadorID)
		if err != nil {
			return nil, err
		}
		status, err := mesas.ParseTableStatus(cached.Estado)
		if err != nil {
			return nil, err
		}
		seats := make([]mesas.SeatedPlayer, 0, len(cached.Seats))
		for _, seat := range cached.Seats {
			playerID, err := mesas.NewPlayerID(seat.PlayerID)
			if err != nil {
				return nil, err
			}
			seats = append(seats, mesas.SeatedPlayer{
				SeatIndex: mesas.SeatIndex(seat.SeatIndex),
				Player:    mesas.Player{ID: playerID, Name: seat.Name, Photo: seat.Photo},
			})
		}
		tables = append(tables, mesas.Table{
			ID:           tableID,
			PointsTarget: pointsTarget,
			BetAmount:    betAmount,
			CreatorID:    creatorID,
			Status:       status,
			CreatedAt:    cached.CreatedAt,
			UpdatedAt:    cached.UpdatedAt,
			Seats:        seats,
		})
	}
	return tables, nil
}
