package scategory_test

import (
	"testing"

	"github.com/gordian-engine/sardine/scategory"
	"github.com/stretchr/testify/require"
)

func TestLookup_relayAndProxyDistinct(t *testing.T) {
	t.Parallel()

	pairs := [][2]scategory.Category{
		{scategory.ConfigRelayGet, scategory.ConfigProxyGet},
		{scategory.ConfigRelaySet, scategory.ConfigProxySet},
	}
	for _, p := range pairs {
		require.NotEqual(t, p[0], p[1])

		a, ok := scategory.Lookup(p[0])
		require.True(t, ok)
		b, ok := scategory.Lookup(p[1])
		require.True(t, ok)
		require.NotEqual(t, a.Name, b.Name)
	}
}

func TestLookup_namesUnique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]scategory.Category, scategory.Len())
	for c := range scategory.Category(1002) {
		info, ok := scategory.Lookup(c)
		if !ok {
			continue
		}
		prev, dup := seen[info.Name]
		require.Falsef(t, dup, "name %s used by %d and %d", info.Name, prev, c)
		seen[info.Name] = c
	}

	require.Len(t, seen, scategory.Len())
}

func TestCategory_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "CONFIG_PROXY_SET", scategory.ConfigProxySet.String())
	require.Equal(t, "UNKNOWN_CATEGORY(5000)", scategory.Category(5000).String())

	require.Equal(t, scategory.KindConfig, scategory.AppKeyAdd.Kind())
	require.Equal(t, scategory.KindUnknown, scategory.Category(5000).Kind())
	require.Equal(t, "vendor", scategory.VendorModelAcknowledged.Kind().String())
}

func TestLookup_acknowledged(t *testing.T) {
	t.Parallel()

	info, ok := scategory.Lookup(scategory.GenericOnOffSetUnacknowledged)
	require.True(t, ok)
	require.False(t, info.Acknowledged)

	info, ok = scategory.Lookup(scategory.GenericOnOffSet)
	require.True(t, ok)
	require.True(t, info.Acknowledged)
}
