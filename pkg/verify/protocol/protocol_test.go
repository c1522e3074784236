package protocol

import (
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
)

func TestManifest_ValidateConfig(t *testing.T) {
	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"coverageThreshold": {Type: "number"},
			"reportPath":        {Type: "string"},
		},
		Required: []string{"coverageThreshold"},
	}

	tt := map[string]struct {
		manifest  *Manifest
		config    map[string]any
		expectErr bool
	}{
		"valid config": {
			manifest: &Manifest{Name: "coverage", ConfigSchema: schema},
			config:   map[string]any{"coverageThreshold": 0.8, "reportPath": "cov.out"},
		},
		"missing required field": {
			manifest:  &Manifest{Name: "coverage", ConfigSchema: schema},
			config:    map[string]any{"reportPath": "cov.out"},
			expectErr: true,
		},
		"wrong type": {
			manifest:  &Manifest{Name: "coverage", ConfigSchema: schema},
			config:    map[string]any{"coverageThreshold": "eighty percent"},
			expectErr: true,
		},
		"no schema accepts anything": {
			manifest: &Manifest{Name: "anything-goes"},
			config:   map[string]any{"whatever": true},
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			err := tc.manifest.ValidateConfig(tc.config)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestManifest_ValidateConfig_CachesResolvedSchema(t *testing.T) {
	m := &Manifest{
		Name:         "cached",
		ConfigSchema: &jsonschema.Schema{Type: "object"},
	}

	assert.NoError(t, m.ValidateConfig(map[string]any{}))
	resolved := m.resolved
	assert.NoError(t, m.ValidateConfig(map[string]any{}))
	assert.Same(t, resolved, m.resolved)
}
