package agent

import "crypto/subtle"

// SecretCheck is the outcome of comparing a submitted secret.
type SecretCheck struct {
	Correct bool   `json:"correct"`
	Message string `json:"message"`
}

// CheckSecret compares a caller's secret with the configured one byte for
// byte, in constant time. Surrounding whitespace is significant.
func CheckSecret(submitted, actual string) SecretCheck {
	switch {
	case actual == "":
		return SecretCheck{Message: "Server secret is not configured. Please set USER_SECRET."}
	case submitted == "":
		return SecretCheck{Message: "Please provide a secret value."}
	case subtle.ConstantTimeCompare([]byte(submitted), []byte(actual)) == 1:
		return SecretCheck{Correct: true, Message: "Secret accepted. Great job!"}
	default:
		return SecretCheck{Message: "Secret mismatch. Try again."}
	}
}
