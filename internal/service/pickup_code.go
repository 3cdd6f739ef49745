package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// pickupAlphabet 혼동되는 문자(0/O, 1/I/L)를 뺀 코드 문자
const pickupAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// PickupCodeLength 픽업 코드 길이
const PickupCodeLength = 8

// PickupCodeGenerator 픽업 코드 생성기
type PickupCodeGenerator func() (string, error)

// NewPickupCode 암호학적 난수로 픽업 코드 생성
func NewPickupCode() (string, error) {
	max := big.NewInt(int64(len(pickupAlphabet)))
	buf := make([]byte, PickupCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate pickup code: %w", err)
		}
		buf[i] = pickupAlphabet[n.Int64()]
	}
	return string(buf), nil
}
