package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshalYAML(t *testing.T) {
	var out struct {
		Interval Duration `yaml:"interval"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("interval: 90s"), &out))
	assert.Equal(t, 90*time.Second, out.Interval.Std())

	require.NoError(t, yaml.Unmarshal([]byte("interval: 2h45m"), &out))
	assert.Equal(t, 2*time.Hour+45*time.Minute, out.Interval.Std())

	assert.Error(t, yaml.Unmarshal([]byte("interval: ninety"), &out))
	assert.Error(t, yaml.Unmarshal([]byte("interval: [1, 2]"), &out))
}

func TestDurationMarshalYAML(t *testing.T) {
	data, err := yaml.Marshal(struct {
		Interval Duration `yaml:"interval"`
	}{Interval: Duration(5 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, "interval: 5m0s\n", string(data))
}
