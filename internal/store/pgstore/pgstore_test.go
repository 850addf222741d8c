package pgstore

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/truco/pkg/mesas"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestSchemaDeclaresRegistryConstraints(test *testing.T) {
	test.Parallel()
	for _, fragment := range []string{
		"create table if not exists mesas",
		"create table if not exists jugadores_mesas",
		"create table if not exists jugadores",
		"constraint " + constraintSeatPrimary + " primary key (mesa_id, posicion)",
		"create unique index if not exists " + constraintSeatPlayer,
	} {
		if !strings.Contains(schemaSQL, fragment) {
			test.Fatalf("schema is missing %q", fragment)
		}
	}
}

func TestIsUniqueViolationMatchesConstraint(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "seat player", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintSeatPlayer}, constraint: constraintSeatPlayer, want: true},
		{name: "wrapped", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintMesaPrimary}), constraint: constraintMesaPrimary, want: true},
		{name: "other constraint", err: &pgconn.PgError{Code: pgUniqueViolationCode, ConstraintName: constraintSeatPrimary}, constraint: constraintSeatPlayer},
		{name: "other code", err: &pgconn.PgError{Code: "23503", ConstraintName: constraintSeatPlayer}, constraint: constraintSeatPlayer},
		{name: "plain error", err: errors.New("boom"), constraint: constraintSeatPlayer},
		{name: "nil", constraint: constraintSeatPlayer},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := isUniqueViolation(testCase.err, testCase.constraint); got != testCase.want {
				test.Fatalf("expected %v, got %v", testCase.want, got)
			}
		})
	}
}

func TestMapMesaValidatesRows(test *testing.T) {
	test.Parallel()
	createdAt := time.Date(2025, time.March, 1, 20, 0, 0, 0, time.UTC)
	table, err := mapMesa(mesaRow{id: "MESA01", puntos: 24, apuesta: 300, creadorID: "u1", estado: "waiting", createdAt: createdAt, updatedAt: createdAt}, nil)
	if err != nil {
		test.Fatalf("map: %v", err)
	}
	if table.PointsTarget.Capacity() != 4 || table.Seats == nil || len(table.Seats) != 0 {
		test.Fatalf("unexpected table: %+v", table)
	}
	_, err = mapMesa(mesaRow{id: "MESA01", puntos: 15, apuesta: 300, creadorID: "u1", estado: "waiting"}, nil)
	if !errors.Is(err, mesas.ErrInvalidPointsTarget) {
		test.Fatalf("expected ErrInvalidPointsTarget, got %v", err)
	}
}
