package cloudinary

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSanitizePublicID(t *testing.T) {
	require.Equal(t, "resp-1-q2", SanitizePublicID("resp 1/q2"))
	require.Equal(t, "abc_DEF", SanitizePublicID("--abc_DEF--"))
	require.Equal(t, "drawing", SanitizePublicID("///"))
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CloudName: "demo"}, zerolog.Nop())
	require.Error(t, err)

	svc, err := New(Config{CloudName: "demo", APIKey: "key", APISecret: "secret", Folder: "/gema/drawings/"}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "gema/drawings", svc.folder)
}
