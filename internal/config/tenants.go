package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wasptenant/host/internal/core"
)

// tenantDocument is the YAML shape of a single document in the
// tenants file, one per tenant.
type tenantDocument struct {
	Name       string            `yaml:"name"`
	Image      string            `yaml:"image"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	ABIVersion string            `yaml:"abi_version"`
}

// LoadTenants decodes a multi-document YAML stream (documents
// separated by "---") into tenant configs. viper does not support
// decoding multiple documents from one file, so this reads the stream
// directly with yaml.v3's Decoder.
func LoadTenants(path string) ([]core.TenantConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tenants file %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)

	var configs []core.TenantConfig
	for {
		var doc tenantDocument
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode tenant document %d: %w", len(configs), err)
		}
		if doc.Name == "" {
			return nil, fmt.Errorf("tenant document %d: name is required", len(configs))
		}
		if doc.Image == "" {
			return nil, fmt.Errorf("tenant %s: image is required", doc.Name)
		}

		env := make([]core.NameValue, 0, len(doc.Env))
		for k, v := range doc.Env {
			env = append(env, core.NameValue{Name: k, Value: v})
		}

		configs = append(configs, core.TenantConfig{
			Name:             doc.Name,
			SandboxImagePath: doc.Image,
			Args:             doc.Args,
			Env:              env,
			ABIVersion:       doc.ABIVersion,
		})
	}

	return configs, nil
}
