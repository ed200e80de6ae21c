package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerRosterTokenRoundTrip(t *testing.T) {
	signer := NewSignedURLSigner("download-secret", time.Hour)
	token, expiresAt, err := signer.Generate("export-42", "rosters/cs101-export-42.csv")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	jobID, path, parsedExpiry, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "export-42", jobID)
	require.Equal(t, "rosters/cs101-export-42.csv", path)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpiredTokenAllowedForCleanup(t *testing.T) {
	signer := NewSignedURLSigner("download-secret", time.Millisecond*10)
	token, _, err := signer.Generate("export-42", "rosters/cs101-export-42.pdf")
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 20)

	_, _, _, err = signer.Parse(token, false)
	require.Error(t, err)

	// Cleanup routines still need the path of an expired file.
	jobID, path, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "export-42", jobID)
	require.Equal(t, "rosters/cs101-export-42.pdf", path)
}

func TestSignedURLSignerRejectsTamperedPath(t *testing.T) {
	signer := NewSignedURLSigner("download-secret", time.Hour)
	token, _, err := signer.Generate("export-42", "rosters/cs101-export-42.csv")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 4)
	other, _, err := signer.Generate("export-42", "rosters/cs999-export-42.csv")
	require.NoError(t, err)
	parts[2] = strings.Split(other, ".")[2]

	_, _, _, err = signer.Parse(strings.Join(parts, "."), false)
	require.Error(t, err)
}

func TestSignedURLSignerRejectsForeignSecret(t *testing.T) {
	issuer := NewSignedURLSigner("download-secret", time.Hour)
	token, _, err := issuer.Generate("export-42", "rosters/cs101-export-42.csv")
	require.NoError(t, err)

	verifier := NewSignedURLSigner("other-secret", time.Hour)
	_, _, _, err = verifier.Parse(token, false)
	require.Error(t, err)
}
