package core

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

const (
	GUIDLength     = 11
	guidAlphabet   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	IncidentPrefix = "INC"
	SanctionPrefix = "SANC"
)

var (
	guidRegex = regexp.MustCompile(`^[0-9A-Za-z]{11}$`)

	// bytes of a v4 UUID that carry randomness only (6 and 8 hold the version and variant bits)
	guidEntropyIdx = [GUIDLength]int{0, 1, 2, 3, 4, 5, 7, 9, 10, 11, 12}
)

// NewGUID returns a random public identifier of GUIDLength alphanumeric characters (devices & loans).
func NewGUID() string {
	src := uuid.New()
	guid := make([]byte, GUIDLength)
	for i, idx := range guidEntropyIdx {
		guid[i] = guidAlphabet[int(src[idx])%len(guidAlphabet)]
	}
	return string(guid)
}

func IsGUID(s string) bool {
	return guidRegex.MatchString(s)
}

// SequentialGUID derives the public identifier of a row from its surrogate id: prefix + 6 zero-padded digits.
func SequentialGUID(prefix string, id int64) string {
	return fmt.Sprintf("%s%06d", prefix, id)
}
