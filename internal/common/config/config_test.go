package config

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/api/resource"
)

type testConfig struct {
	Volume  resource.Quantity
	Runtime time.Duration
	Subnets []string
	Name    string `validate:"required"`
	Count   int    `validate:"gte=1"`
}

func TestDecode(t *testing.T) {
	input := map[string]interface{}{
		"volume":  "400Gi",
		"runtime": "24h",
		"subnets": "subnet-a,subnet-b",
		"name":    "job",
		"count":   "2",
	}
	var out testConfig
	require.NoError(t, Decode(input, &out))

	assert.Equal(t, resource.MustParse("400Gi"), out.Volume)
	assert.Equal(t, 24*time.Hour, out.Runtime)
	assert.Equal(t, []string{"subnet-a", "subnet-b"}, out.Subnets)
	assert.Equal(t, 2, out.Count)
}

func TestDecode_Quantities(t *testing.T) {
	tests := map[string]struct {
		input interface{}
		want  string
	}{
		"int is gigabytes":     {400, "400G"},
		"float is gigabytes":   {float64(1048576), "1048576G"},
		"fractional float":     {2.5, "2500M"},
		"numeric string":       {"250", "250G"},
		"decimal suffix kept":  {"1M", "1M"},
		"kilo suffix kept":     {"500k", "500k"},
		"binary suffix kept":   {"400Gi", "400Gi"},
		"exponent is not bare": {"1e9", "1G"},
		"negative number":      {"-5", "-5G"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var out testConfig
			require.NoError(t, Decode(map[string]interface{}{"volume": tc.input}, &out))
			want := resource.MustParse(tc.want)
			assert.Equal(t, 0, want.Cmp(out.Volume), "got %s", out.Volume.String())
		})
	}
}

func TestDecode_RejectsUnknownKeys(t *testing.T) {
	var out testConfig
	assert.Error(t, Decode(map[string]interface{}{"volumee": "1Gi"}, &out))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(&testConfig{Name: "job", Count: 1}))

	err := Validate(&testConfig{Count: 0})
	require.Error(t, err)
	var validationErrors validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrors)
	assert.Len(t, validationErrors, 2)
}

func TestStripPrefix(t *testing.T) {
	assert.Equal(t, "Experiment.Name", stripPrefix("JobSpec.Experiment.Name"))
	assert.Equal(t, "Name", stripPrefix("Name"))
}
