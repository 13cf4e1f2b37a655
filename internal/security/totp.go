package security

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpPeriod = 30

// GenerateTOTPSecret mints a fresh shared secret and returns it with its
// otpauth:// provisioning URI. The URI is what the UI renders as a QR code;
// this layer never draws anything.
func GenerateTOTPSecret(issuer, account string) (secret, provisioningURI string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// ValidateTOTP checks code against secret at t, allowing one period of clock
// skew in either direction.
func ValidateTOTP(code, secret string, t time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, t, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// TOTPWindow identifies the time-step bucket code validation falls into,
// used to key single-use markers so a code cannot be replayed inside its
// own window after a successful use.
func TOTPWindow(t time.Time) int64 {
	return t.Unix() / totpPeriod
}
