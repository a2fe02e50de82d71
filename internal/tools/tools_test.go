package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(Spec{Name: "echo"})
	spec, ok := reg.Lookup("echo")
	require.True(t, ok)
	require.Equal(t, "echo", spec.Name)

	_, ok = reg.Lookup("missing")
	require.False(t, ok)
}

func TestRegistryDuplicateNamePanics(t *testing.T) {
	require.Panics(t, func() {
		NewRegistry(Spec{Name: "dup"}, Spec{Name: "dup"})
	})
}

func TestSpecValidateAcceptsMatchingArgs(t *testing.T) {
	spec := Spec{
		Name:        "add_file",
		ParamSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	}
	err := spec.Validate(json.RawMessage(`{"path":"/tmp/a"}`))
	require.NoError(t, err)
}

func TestSpecValidateRejectsMissingRequiredField(t *testing.T) {
	spec := Spec{
		Name:        "add_file",
		ParamSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
	}
	err := spec.Validate(json.RawMessage(`{}`))
	require.Error(t, err)
}

func TestSpecValidateRejectsMalformedJSON(t *testing.T) {
	spec := Spec{
		Name:        "add_file",
		ParamSchema: json.RawMessage(`{"type":"object"}`),
	}
	err := spec.Validate(json.RawMessage(`not json`))
	require.Error(t, err)
}

func TestSpecValidateNoSchemaAlwaysPasses(t *testing.T) {
	spec := Spec{Name: "noop"}
	require.NoError(t, spec.Validate(json.RawMessage(`{"anything":true}`)))
}
