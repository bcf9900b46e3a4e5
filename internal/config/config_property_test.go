//go:build property

package config

import (
	"path"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestArtifactPathProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("artifact path is absolute and clean", prop.ForAll(
		func(name, dir string) bool {
			cfg := Default()
			cfg.Bundle.Name = name
			cfg.Bundle.Output.Path = dir

			p := cfg.ArtifactPath()
			return strings.HasPrefix(p, "/") && path.Clean(p) == p
		},
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.Property("name placeholder is always substituted", prop.ForAll(
		func(name string) bool {
			cfg := Default()
			cfg.Bundle.Name = name

			p := cfg.ArtifactPath()
			return !strings.Contains(p, NamePlaceholder) && strings.HasSuffix(p, name+".wasm")
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
