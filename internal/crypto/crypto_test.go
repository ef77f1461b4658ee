package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// Well-known hardhat account #0.
const (
	testKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func testAnswer() domain.Answer {
	a := domain.Answer{
		Symbol:      "DAI",
		BlockNumber: 9_000_000,
		ComputedAt:  time.Unix(1_600_000_000, 0),
	}
	a.Value.SetUint64(2006035693035035139)
	return a
}

func TestSigner_SignAndRecover(t *testing.T) {
	s, err := NewSigner(testKey, 1)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), s.Address())

	a := testAnswer()
	sig, err := s.SignAnswer(a)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sig, "0x"))
	assert.Len(t, sig, 2+130)
	assert.Contains(t, []string{"1b", "1c"}, sig[len(sig)-2:])

	got, err := s.RecoverSigner(a, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	tampered := a
	tampered.Value.SetUint64(1)
	got, err = s.RecoverSigner(tampered, sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), got)
}

func TestSigner_ChainIDInDomain(t *testing.T) {
	mainnet, err := NewSigner(testKey, 1)
	require.NoError(t, err)
	kovan, err := NewSigner(testKey, 42)
	require.NoError(t, err)
	assert.NotEqual(t, mainnet.digest(testAnswer()), kovan.digest(testAnswer()))
}

func TestSigner_Errors(t *testing.T) {
	_, err := NewSigner("0xzz", 1)
	assert.Error(t, err)

	s, err := NewSigner(testKey, 1)
	require.NoError(t, err)
	_, err = s.RecoverSigner(testAnswer(), "0x1234")
	assert.ErrorContains(t, err, "65 bytes")
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey(testKey, "correct horse", testAddress)
	require.NoError(t, err)
	assert.Contains(t, string(blob), testAddress)
	assert.NotContains(t, string(blob), strings.TrimPrefix(testKey, "0x"))

	got, err := DecryptKey(blob, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(testKey, "0x"), got)

	_, err = DecryptKey(blob, "wrong")
	assert.ErrorContains(t, err, "decryption failed")

	_, err = EncryptKey("0x1234", "pw", "")
	assert.ErrorContains(t, err, "expected 32-byte key")
	_, err = EncryptKey(testKey, "", "")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	k, err := LoadKey(KeyConfig{RawPrivateKey: testKey, EncryptedKeyPath: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(testKey, "0x"), k)

	blob, err := EncryptKey(testKey, "pw", "")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "signer.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	k, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(testKey, "0x"), k)

	_, err = LoadKey(KeyConfig{})
	assert.ErrorContains(t, err, "no private key source")
	_, err = LoadKey(KeyConfig{RawPrivateKey: "nothex"})
	assert.Error(t, err)
}
