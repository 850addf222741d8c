package gormstore

import "time"

// Mesa mirrors the mesas table.
type Mesa struct {
	ID        string    `gorm:"size:6;primaryKey"`
	Puntos    int       `gorm:"not null"`
	Apuesta   int64     `gorm:"not null"`
	CreadorID string    `gorm:"not null;index:idx_mesas_creador"`
	Estado    string    `gorm:"size:16;not null;default:waiting"`
	CreatedAt time.Time `gorm:"not null;index:idx_mesas_created"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Mesa) TableName() string { return "mesas" }

// Jugador mirrors the jugadores table, the display data of the identity provider.
type Jugador struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Photo     string `gorm:"not null;default:''"`
	UpdatedAt time.Time
}

func (Jugador) TableName() string { return "jugadores" }

// JugadorMesa mirrors the jugadores_mesas table. The primary key keeps a seat
// single-occupancy and the unique index keeps a player at one seat.
type JugadorMesa struct {
	MesaID    string    `gorm:"size:6;primaryKey;autoIncrement:false"`
	Posicion  int       `gorm:"primaryKey;autoIncrement:false"`
	JugadorID string    `gorm:"not null;index:idx_jugadores_mesas_jugador,unique"`
	CreatedAt time.Time `gorm:"not null"`
}

func (JugadorMesa) TableName() string { return "jugadores_mesas" }

// Models lists every model in migration order.
func Models() []any {
	return []any{&Mesa{}, &Jugador{}, &JugadorMesa{}}
}
