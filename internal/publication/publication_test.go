package publication

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbridge/pgbridge/internal/errkind"
)

func TestClassifyPublicationError_AlreadyExistsIsSuccess(t *testing.T) {
	err := classifyPublicationError(errors.New(`publication "p" already exists`), "p")
	assert.NoError(t, err)
}

func TestClassifyPublicationError_PermissionDenied(t *testing.T) {
	err := classifyPublicationError(errors.New("permission denied for database"), "p")
	require.Error(t, err)
	assert.Equal(t, errkind.Unauthorized, errkind.Of(err))
	assert.Contains(t, err.Error(), "ALTER USER")
}

func TestClassifyPublicationError_WalLevel(t *testing.T) {
	err := classifyPublicationError(errors.New("logical decoding requires wal_level >= logical"), "p")
	require.Error(t, err)
	assert.Equal(t, errkind.UnsupportedServerVersion, errkind.Of(err))
}

func TestClassifyPublicationError_Generic(t *testing.T) {
	err := classifyPublicationError(errors.New("connection reset"), "p")
	require.Error(t, err)
	assert.Equal(t, errkind.ExternalToolFailed, errkind.Of(err))
}

func TestClassifyPublicationError_Nil(t *testing.T) {
	assert.NoError(t, classifyPublicationError(nil, "p"))
}
