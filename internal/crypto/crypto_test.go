package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestRoundTrip(t *testing.T) {
	svc, err := New(randomKey(t))
	require.NoError(t, err)

	blob, err := svc.EncryptString("hunter2")
	require.NoError(t, err)

	got, err := svc.DecryptString(blob)
	require.NoError(t, err)
	require.Equal(t, "hunter2", got)
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	svc1, err := New(randomKey(t))
	require.NoError(t, err)
	svc2, err := New(randomKey(t))
	require.NoError(t, err)

	blob, err := svc1.EncryptString("topsecret")
	require.NoError(t, err)

	_, err = svc2.Decrypt(blob)
	require.Error(t, err)
}

func TestDecryptFailsOnTamper(t *testing.T) {
	svc, err := New(randomKey(t))
	require.NoError(t, err)

	blob, err := svc.EncryptString("topsecret")
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF

	_, err = svc.Decrypt(blob)
	require.Error(t, err)
}
