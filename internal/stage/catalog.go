package stage

import (
	_ "embed"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed stages.yaml
var catalogYAML []byte

type catalogFile struct {
	Stages []Definition `yaml:"stages"`
}

// Parse builds a registry from a yaml catalog.
func Parse(data []byte) (*Registry, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "stage: parse catalog")
	}
	if len(f.Stages) == 0 {
		return nil, eris.New("stage: catalog defines no stages")
	}
	return New(f.Stages)
}

// Default returns the registry built from the embedded catalog. The
// embedded catalog is validated by tests, so failure here means a broken
// build.
func Default() (*Registry, error) {
	return Parse(catalogYAML)
}
