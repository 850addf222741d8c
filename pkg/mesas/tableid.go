package mesas

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	uuidVersionByte = 6
	uuidVariantByte = 8
	// tableIDByteLimit is the largest multiple of the alphabet size that fits
	// in a byte; values at or above it are rejected to keep characters uniform.
	tableIDByteLimit = 256 - 256%len(tableIDAlphabet)
	maxTableIDDraws  = 8
)

var errTableIDEntropy = errors.New("generate table id: random source exhausted")

// GenerateTableID draws a six character alphanumeric id from random UUIDs.
func GenerateTableID() (TableID, error) {
	return generateTableID(uuid.NewRandom)
}

func generateTableID(newUUID func() (uuid.UUID, error)) (TableID, error) {
	characters := make([]byte, 0, tableIDLength)
	for draw := 0; len(characters) < tableIDLength; draw++ {
		if draw == maxTableIDDraws {
			return TableID{}, errTableIDEntropy
		}
		randomID, err := newUUID()
		if err != nil {
			return TableID{}, fmt.Errorf("generate table id: %w", err)
		}
		for index, value := range randomID {
			if index == uuidVersionByte || index == uuidVariantByte {
				continue
			}
			character, ok := tableIDCharacter(value)
			if !ok {
				continue
			}
			characters = append(characters, character)
			if len(characters) == tableIDLength {
				break
			}
		}
	}
	return NewTableID(string(characters))
}

func tableIDCharacter(value byte) (byte, bool) {
	if int(value) >= tableIDByteLimit {
		return 0, false
	}
	return tableIDAlphabet[int(value)%len(tableIDAlphabet)], true
}
