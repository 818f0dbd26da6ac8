package mdm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCredentialsHeader(t *testing.T) {
	t.Parallel()

	credentials := NewCredentials("admin", "hunter2")

	require.Equal(t, "admin", credentials.Username)
	require.Equal(t, "Basic YWRtaW46aHVudGVyMg==", credentials.Header())
}

func TestStaticProvider(t *testing.T) {
	t.Parallel()

	credentials, err := StaticProvider{Username: "admin", Password: "hunter2"}.
		Credentials(context.Background())
	require.NoError(t, err)
	require.Equal(t, "admin", credentials.Username)
}

func TestStaticProviderEmptyPassword(t *testing.T) {
	t.Parallel()

	_, err := StaticProvider{Username: "admin"}.Credentials(context.Background())
	require.ErrorIs(t, err, ErrNoPassword)
}

func TestPromptProviderUsername(t *testing.T) {
	t.Parallel()

	var out strings.Builder

	provider := PromptProvider{
		Password: "hunter2",
		In:       strings.NewReader("admin\n"),
		Out:      &out,
	}

	credentials, err := provider.Credentials(context.Background())
	require.NoError(t, err)
	require.Equal(t, "admin", credentials.Username)
	require.Contains(t, out.String(), "management API user")
}
