package alarm

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
)

// NewChallenge returns a random string of decimal digits.
func NewChallenge(digits int) (string, error) {
	challenge := make([]byte, digits)

	for i := range challenge {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate challenge: %w", err)
		}

		challenge[i] = byte('0' + n.Int64())
	}

	return string(challenge), nil
}

// ChallengeAnswer returns the answer expected for the challenge: each digit is
// (challenge digit + pin digit) mod 10. It reports false when the pin or the
// challenge is not a digit string of the same length.
func ChallengeAnswer(challenge, pin string) (string, bool) {
	if challenge == "" || len(challenge) != len(pin) {
		return "", false
	}

	answer := make([]byte, len(pin))

	for i := range len(pin) {
		if !isDigit(challenge[i]) || !isDigit(pin[i]) {
			return "", false
		}

		answer[i] = '0' + (challenge[i]-'0'+pin[i]-'0')%10
	}

	return string(answer), true
}

// VerifyChallenge reports whether answer solves the challenge for pin.
// Each answer digit minus the challenge digit, mod 10, must equal the pin digit.
func VerifyChallenge(challenge, pin, answer string) bool {
	expected, ok := ChallengeAnswer(challenge, pin)
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(expected), []byte(answer)) == 1
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
