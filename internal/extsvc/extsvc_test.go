package extsvc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temps-sh/temps-core/internal/model"
)

func TestDriversRegisteredAtInit(t *testing.T) {
	for _, kind := range []model.ServiceType{model.ServicePostgres, model.ServiceMongoDB, model.ServiceBlob} {
		_, ok := LookupDriver(kind)
		require.True(t, ok, "expected driver registered for %s", kind)
	}
}

func TestGeneratePasswordLength(t *testing.T) {
	pw, err := GeneratePassword()
	require.NoError(t, err)
	require.Len(t, pw, 16)
}

func TestGenerateAccessKeyIDShape(t *testing.T) {
	ak, err := GenerateAccessKeyID()
	require.NoError(t, err)
	require.Len(t, ak, 20)
	require.Equal(t, "AKIA", ak[:4])
}

func TestGenerateSecretKeyLength(t *testing.T) {
	sk, err := GenerateSecretKey()
	require.NoError(t, err)
	require.Len(t, sk, 40)
}
