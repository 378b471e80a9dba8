// Package soul manages agent soul documents: seeding, direct edits and
// rollbacks, and the SOUL.md artifact mirrored into the workspace.
package soul

import "embed"

//go:embed templates/*.md
var templateFS embed.FS

// ArtifactName is the file name of the mirrored soul document.
const ArtifactName = "SOUL.md"

// DefaultTemplate returns the embedded soul used to seed new agents.
func DefaultTemplate() (string, error) {
	data, err := templateFS.ReadFile("templates/" + ArtifactName)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
