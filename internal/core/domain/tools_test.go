package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weatherTool() *Tool {
	return &Tool{
		Name:        "get_weather",
		Description: "Current weather for a city",
		Parameters: ToolParameters{
			Type: "object",
			Properties: map[string]interface{}{
				"city": map[string]interface{}{"type": "string"},
				"days": map[string]interface{}{"type": "integer", "minimum": 1},
			},
			Required: []string{"city"},
		},
		Execute: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"temp": 18, "city": params["city"]}, nil
		},
	}
}

func TestToolRegistry_Execute(t *testing.T) {
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(weatherTool()))

	out, err := reg.Execute(context.Background(), "get_weather", map[string]interface{}{"city": "Paris"})
	require.NoError(t, err)
	assert.Equal(t, 18, out.(map[string]interface{})["temp"])
}

func TestToolRegistry_ValidationFieldDetail(t *testing.T) {
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(weatherTool()))

	err := reg.Validate("get_weather", map[string]interface{}{"days": json.Number("0")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArguments)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "get_weather", verr.Tool)

	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
		assert.NotEmpty(t, f.Reason)
	}
	assert.True(t, fields["city"], "missing required field reported: %v", verr.Fields)
	assert.True(t, fields["days"], "minimum violation reported: %v", verr.Fields)
}

func TestToolRegistry_ValidationAcceptsJSONNumbers(t *testing.T) {
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(weatherTool()))

	err := reg.Validate("get_weather", map[string]interface{}{"city": "Paris", "days": json.Number("3")})
	assert.NoError(t, err)
}

func TestToolRegistry_UnknownToolSuggestion(t *testing.T) {
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(weatherTool()))

	_, err := reg.Execute(context.Background(), "weather_lookup", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTool)

	var uerr *UnknownToolError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "get_weather", uerr.Suggestion)
	assert.Contains(t, err.Error(), `did you mean "get_weather"`)

	assert.Equal(t, "get_weather", reg.Suggest("get_wether"))
	assert.Empty(t, reg.Suggest("zzz"))
}

func TestToolRegistry_RegisterErrors(t *testing.T) {
	reg := NewToolRegistry()
	assert.Error(t, reg.Register(&Tool{Name: ""}))
	assert.Error(t, reg.Register(&Tool{Name: "noexec"}))
}

func TestToolRegistry_NoSchemaAcceptsAnything(t *testing.T) {
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(&Tool{
		Name:    "echo",
		Execute: func(ctx context.Context, p map[string]interface{}) (interface{}, error) { return p, nil },
	}))
	assert.NoError(t, reg.Validate("echo", map[string]interface{}{"anything": []interface{}{1, "x"}}))
}

func TestToolRegistry_SpecsAndFilter(t *testing.T) {
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(weatherTool()))
	require.NoError(t, reg.Register(&Tool{
		Name:    "a_first",
		Execute: func(ctx context.Context, p map[string]interface{}) (interface{}, error) { return nil, nil },
	}))

	specs := reg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "a_first", specs[0].Name)

	filtered := reg.FilterByNames([]string{"get_weather"})
	assert.Equal(t, 1, filtered.Len())

	prompt := reg.FormatToolsForPrompt()
	assert.Contains(t, prompt, "- get_weather: Current weather for a city | params: {city:string, days:integer} | required: city")
}
