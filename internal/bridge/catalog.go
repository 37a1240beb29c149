package bridge

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/tools"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

var loadCatalog = sync.OnceValues(func() ([]tools.Spec, error) {
	var doc struct {
		Tools []tools.Spec `yaml:"tools"`
	}
	if err := yaml.Unmarshal(catalogYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse platform catalog: %w", err)
	}
	return doc.Tools, nil
})

// Catalog returns the platform tools in catalog order.
func Catalog() ([]tools.Spec, error) {
	specs, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	return append([]tools.Spec(nil), specs...), nil
}

// Register adds the platform catalog and the retrieval tools to reg and
// installs c as the fallback for names the registry does not know.
func Register(reg *tools.Registry, c *Client) error {
	specs, err := Catalog()
	if err != nil {
		return err
	}
	for _, spec := range specs {
		name := spec.Name
		h := func(ctx context.Context, args json.RawMessage) (tools.Result, error) {
			return c.Execute(ctx, name, args)
		}
		if err := reg.Register(spec, h); err != nil {
			return err
		}
	}
	if err := registerRetrieval(reg, c); err != nil {
		return err
	}
	reg.SetFallback(c.Forward)
	return nil
}
