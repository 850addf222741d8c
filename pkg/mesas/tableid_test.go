package mesas

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestTableIDCharacterIsUniform(test *testing.T) {
	test.Parallel()
	hits := make(map[byte]int)
	rejected := 0
	for value := 0; value < 256; value++ {
		character, ok := tableIDCharacter(byte(value))
		if !ok {
			rejected++
			continue
		}
		hits[character]++
	}
	if len(hits) != len(tableIDAlphabet) {
		test.Fatalf("expected every character reachable, got %d", len(hits))
	}
	for character, count := range hits {
		if count != hits['A'] {
			test.Fatalf("character %q drawn %d times, 'A' drawn %d times", character, count, hits['A'])
		}
	}
	if rejected != 256-tableIDByteLimit {
		test.Fatalf("expected %d rejected bytes, got %d", 256-tableIDByteLimit, rejected)
	}
}

func TestGenerateTableIDSkipsBiasedAndStructuralBytes(test *testing.T) {
	test.Parallel()
	source := uuid.UUID{255, 248, 0, 61, 62, 247, 0x40, 1, 0x80, 2, 3, 4, 5, 6, 7, 8}
	tableID, err := generateTableID(func() (uuid.UUID, error) { return source, nil })
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if tableID.String() != "A9A9BC" {
		test.Fatalf("expected A9A9BC, got %q", tableID)
	}
}

func TestGenerateTableIDDrawsAgainWhenBytesRunOut(test *testing.T) {
	test.Parallel()
	draws := 0
	tableID, err := generateTableID(func() (uuid.UUID, error) {
		draws++
		if draws == 1 {
			return uuid.UUID{255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 250, 0, 1}, nil
		}
		return uuid.UUID{2, 3, 4, 5, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, nil
	})
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if draws != 2 || tableID.String() != "ABCDEF" {
		test.Fatalf("expected ABCDEF after two draws, got %q after %d", tableID, draws)
	}
}

func TestGenerateTableIDFailures(test *testing.T) {
	test.Parallel()
	exhausted := uuid.UUID{255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255}
	if _, err := generateTableID(func() (uuid.UUID, error) { return exhausted, nil }); !errors.Is(err, errTableIDEntropy) {
		test.Fatalf("expected entropy error, got %v", err)
	}
	sourceErr := errors.New("no entropy")
	if _, err := generateTableID(func() (uuid.UUID, error) { return uuid.Nil, sourceErr }); !errors.Is(err, sourceErr) {
		test.Fatalf("expected source error, got %v", err)
	}
}
