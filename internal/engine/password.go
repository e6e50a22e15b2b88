// Copyright 2025 Wharfkeep Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package engine

import (
	"crypto/rand"
	"math/big"

	"github.com/juju/errors"
)

const (
	lowerAlphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"
	passwordAlphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// minPasswordLength is enforced no matter what the caller asks
	// for.
	minPasswordLength = 16
)

// GeneratePassword returns a crypto-random alphanumeric password of
// the requested length, floored at the enforced minimum.
func GeneratePassword(length int) (string, error) {
	if length < minPasswordLength {
		length = minPasswordLength
	}
	p, err := randomChars(length, passwordAlphabet)
	if err != nil {
		return "", errors.Annotate(err, "generating password")
	}
	return p, nil
}

func randomChars(n int, alphabet string) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Trace(err)
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf), nil
}
