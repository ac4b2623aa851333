package service

import (
	"context"
	"errors"
	"math/rand"
)

const (
	// codeAlphabet has no W, matching codes already handed out
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVXYZ"
	codeLength      = 4
	maxCodeAttempts = 1000
)

var ErrCodeSpaceExhausted = errors.New("no free public code")

// CodeExists reports whether a code is held by a live session or service
type CodeExists func(ctx context.Context, code string) (bool, error)

// newCode draws codeLength distinct letters from codeAlphabet
func newCode() string {
	perm := rand.Perm(len(codeAlphabet))
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = codeAlphabet[perm[i]]
	}
	return string(code)
}

// GenerateCode returns a code no live scope holds, retrying on collision
func GenerateCode(ctx context.Context, exists CodeExists) (string, error) {
	for attempts := 0; attempts < maxCodeAttempts; attempts++ {
		code := newCode()
		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}
