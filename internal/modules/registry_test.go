package modules

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog(t *testing.T) {
	catalog := Catalog()
	assert.Len(t, catalog, 7)
	assert.True(t, sort.StringsAreSorted(catalog))

	for _, name := range catalog {
		assert.True(t, Exists(name))

		module, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, module.Name())
		assert.NotEmpty(t, module.Description())
	}
}

func TestNewUnknownModule(t *testing.T) {
	_, err := New("fuzzer_3000")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	t.Run("quick subset", func(t *testing.T) {
		resolved, err := Resolve("QUICK", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{ModuleDNSEnumerator, ModuleSSLAnalyzer, ModuleTechDetector}, resolved)
	})

	t.Run("deep is full catalog", func(t *testing.T) {
		resolved, err := Resolve("DEEP", nil)
		require.NoError(t, err)
		assert.Len(t, resolved, 7)
	})

	t.Run("standard is strictly between quick and deep", func(t *testing.T) {
		quick, _ := Resolve("QUICK", nil)
		standard, err := Resolve("STANDARD", nil)
		require.NoError(t, err)
		deep, _ := Resolve("DEEP", nil)
		assert.Greater(t, len(standard), len(quick))
		assert.Greater(t, len(deep), len(standard))
	})

	t.Run("named profile ignores nothing but needs no modules", func(t *testing.T) {
		resolved, err := Resolve("STANDARD", nil)
		require.NoError(t, err)
		assert.NotEmpty(t, resolved)
	})

	t.Run("custom selection honored with duplicates removed", func(t *testing.T) {
		resolved, err := Resolve("CUSTOM", []string{
			ModulePortScanner, ModuleDNSEnumerator, ModulePortScanner,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{ModulePortScanner, ModuleDNSEnumerator}, resolved)
	})

	t.Run("custom with empty selection rejected", func(t *testing.T) {
		_, err := Resolve("CUSTOM", nil)
		assert.Error(t, err)
	})

	t.Run("custom with unknown module rejected", func(t *testing.T) {
		_, err := Resolve("CUSTOM", []string{ModuleDNSEnumerator, "nope"})
		assert.Error(t, err)
	})

	t.Run("unknown profile rejected", func(t *testing.T) {
		_, err := Resolve("EXTREME", nil)
		assert.Error(t, err)
	})
}

func TestProfilesReturnsCopies(t *testing.T) {
	first := Profiles()
	first["QUICK"][0] = "mutated"

	second := Profiles()
	assert.Equal(t, ModuleDNSEnumerator, second["QUICK"][0])
}
