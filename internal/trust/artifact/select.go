package artifact

import (
	"fmt"
	"strings"

	ferrors "github.com/ruminasu/fsdecrypt/internal/errors"
	"github.com/ruminasu/fsdecrypt/internal/trust/manifest"
)

// candidatesByGame lists, in priority order, the artifact names a
// canonical game ID may be published under. Ties are broken by position;
// the first match in the manifest wins.
var candidatesByGame = map[string][]string{
	"chunithm": {"chusan.zip", "chuni.zip"},
	"sinmai":   {"mai2.zip"},
	"ongeki":   {"mu3.zip"},
}

// canonicalGameName lowercases name and aliases any "sdez"-prefixed id to
// "sinmai".
func canonicalGameName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if strings.HasPrefix(lower, "sdez") {
		return "sinmai"
	}
	return lower
}

// SelectForGame picks the first manifest artifact matching the ordered
// candidate list for the given canonical game name.
func SelectForGame(m *manifest.Manifest, gameName string) (manifest.Artifact, error) {
	canonical := canonicalGameName(gameName)
	candidates, ok := candidatesByGame[canonical]
	if !ok {
		return manifest.Artifact{}, fmt.Errorf("%w: no artifact mapping for game %q", ferrors.ErrNotFound, gameName)
	}

	for _, candidate := range candidates {
		if a, found := m.ArtifactByName(candidate); found {
			return a, nil
		}
	}
	return manifest.Artifact{}, fmt.Errorf("%w: none of %v present in manifest", ferrors.ErrNotFound, candidates)
}
