package auth

import (
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTOTPManager(t *testing.T) *TOTPManager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "Bastion")
	require.NoError(t, err)
	return tm
}

func TestTOTPManager_NewTOTPManager_InvalidKeyLength(t *testing.T) {
	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		key := make([]byte, length)
		tm, err := NewTOTPManager(key, "Bastion")
		assert.Error(t, err)
		assert.Nil(t, tm)
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

func TestTOTPManager_GenerateSecret_Success(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, nonce, plainSecret, qrCode, err := tm.GenerateSecret("user@example.com")

	assert.NoError(t, err)
	assert.NotEmpty(t, encrypted)
	assert.Equal(t, 12, len(nonce)) // GCM nonce is 12 bytes
	assert.NotEmpty(t, plainSecret)
	assert.NotEmpty(t, qrCode)
}

func TestTOTPManager_GenerateSecret_QRCodeFormat(t *testing.T) {
	tm := newTestTOTPManager(t)

	_, _, _, qrCode, err := tm.GenerateSecret("user@example.com")
	require.NoError(t, err)

	assert.Contains(t, qrCode, "data:image/png;base64,")

	pngData, err := base64.StdEncoding.DecodeString(qrCode[len("data:image/png;base64,"):])
	assert.NoError(t, err)
	require.Greater(t, len(pngData), 4)

	// PNG signature: 137 80 78 71
	assert.Equal(t, byte(137), pngData[0])
	assert.Equal(t, byte(80), pngData[1])
	assert.Equal(t, byte(78), pngData[2])
	assert.Equal(t, byte(71), pngData[3])
}

func TestTOTPManager_GenerateSecret_RoundTripsThroughEncryption(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, nonce, plainSecret, _, err := tm.GenerateSecret("user@example.com")
	require.NoError(t, err)

	decrypted, err := tm.DecryptSecret(encrypted, nonce)
	require.NoError(t, err)
	assert.Equal(t, plainSecret, string(decrypted))
}

func TestTOTPManager_EncryptDecrypt_RoundTrip(t *testing.T) {
	tm := newTestTOTPManager(t)

	originalSecret := []byte("test_secret_value_for_encryption")

	encrypted, nonce, err := tm.EncryptSecret(originalSecret)
	require.NoError(t, err)

	decrypted, err := tm.DecryptSecret(encrypted, nonce)
	require.NoError(t, err)

	assert.Equal(t, originalSecret, decrypted)
}

func TestTOTPManager_DecryptSecret_TamperedCiphertext(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, nonce, err := tm.EncryptSecret([]byte("test_secret_value"))
	require.NoError(t, err)

	encrypted[0] ^= 0xFF

	// Decrypt must fail due to GCM authentication
	decrypted, err := tm.DecryptSecret(encrypted, nonce)
	assert.Error(t, err)
	assert.Nil(t, decrypted)
	assert.Contains(t, err.Error(), "failed to decrypt")
}

func TestTOTPManager_DecryptSecret_WrongNonce(t *testing.T) {
	tm := newTestTOTPManager(t)

	encrypted, _, err := tm.EncryptSecret([]byte("test_secret_value"))
	require.NoError(t, err)

	wrongNonce := make([]byte, 12)
	_, err = rand.Read(wrongNonce)
	require.NoError(t, err)

	decrypted, err := tm.DecryptSecret(encrypted, wrongNonce)
	assert.Error(t, err)
	assert.Nil(t, decrypted)
}

func TestTOTPManager_ValidatePasscode_ValidCode(t *testing.T) {
	tm := newTestTOTPManager(t)

	_, _, plainSecret, _, err := tm.GenerateSecret("user@example.com")
	require.NoError(t, err)

	validCode, err := totp.GenerateCode(plainSecret, time.Now())
	require.NoError(t, err)

	valid, err := tm.ValidatePasscode([]byte(plainSecret), validCode, nil)
	assert.NoError(t, err)
	assert.True(t, valid)
}

func TestTOTPManager_ValidatePasscode_SkewTolerance(t *testing.T) {
	tm := newTestTOTPManager(t)

	_, _, plainSecret, _, err := tm.GenerateSecret("user@example.com")
	require.NoError(t, err)

	// ±1 time step should be accepted
	for _, offset := range []time.Duration{-30 * time.Second, 30 * time.Second} {
		code, err := totp.GenerateCode(plainSecret, time.Now().Add(offset))
		require.NoError(t, err)

		valid, err := tm.ValidatePasscode([]byte(plainSecret), code, nil)
		assert.NoError(t, err)
		assert.True(t, valid, "code at offset %s should validate", offset)
	}
}

func TestTOTPManager_ValidatePasscode_InvalidCode(t *testing.T) {
	tm := newTestTOTPManager(t)

	_, _, plainSecret, _, err := tm.GenerateSecret("user@example.com")
	require.NoError(t, err)

	valid, err := tm.ValidatePasscode([]byte(plainSecret), "000000", nil)
	assert.NoError(t, err)
	assert.False(t, valid)
}

func TestTOTPManager_ValidatePasscode_ReplayRejected(t *testing.T) {
	tm := newTestTOTPManager(t)

	_, _, plainSecret, _, err := tm.GenerateSecret("user@example.com")
	require.NoError(t, err)

	validCode, err := totp.GenerateCode(plainSecret, time.Now())
	require.NoError(t, err)

	valid, err := tm.ValidatePasscode([]byte(plainSecret), validCode, nil)
	require.NoError(t, err)
	assert.True(t, valid)

	// Same code presented again inside the replay window must be rejected
	lastUsedAt := time.Now().Add(-30 * time.Second)
	valid, err = tm.ValidatePasscode([]byte(plainSecret), validCode, &lastUsedAt)
	assert.Error(t, err)
	assert.False(t, valid)
	assert.Contains(t, err.Error(), "replay")
}

func TestTOTPManager_ValidatePasscode_ExpiredCode(t *testing.T) {
	tm := newTestTOTPManager(t)

	_, _, plainSecret, _, err := tm.GenerateSecret("user@example.com")
	require.NoError(t, err)

	expiredCode, err := totp.GenerateCode(plainSecret, time.Now().Add(-3*time.Minute))
	require.NoError(t, err)

	valid, err := tm.ValidatePasscode([]byte(plainSecret), expiredCode, nil)
	assert.NoError(t, err)
	assert.False(t, valid)
}
