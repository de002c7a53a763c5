package evalreg

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/vmprof/pkg/util"
)

type mapResolver map[string]uint64

func (m mapResolver) Lookup(name string) (uint64, error) {
	addr, ok := m[name]
	if !ok {
		return 0, fmt.Errorf("symbol %s not found", name)
	}
	return addr, nil
}

func testResolver() mapResolver {
	res := mapResolver{}
	for i := 0; i < 8; i++ {
		res[fmt.Sprintf("eval_%d", i)] = 0x1000 + uint64(i)*0x100
	}
	return res
}

func TestRegister(t *testing.T) {
	r := New(util.TestLogger(t), testResolver(), nil)
	for i := 0; i < Capacity; i++ {
		require.NoError(t, r.Register(fmt.Sprintf("eval_%d", i)))
	}
	require.Equal(t, Capacity, r.Len())

	for i := 0; i < 8; i++ {
		addr := 0x1000 + uint64(i)*0x100
		require.Equal(t, i < Capacity, r.IsEvalAddress(addr), "addr 0x%x", addr)
		require.False(t, r.IsEvalAddress(addr+1))
	}
	require.False(t, r.IsEvalAddress(0))
}

func TestRegisterCapacityExceeded(t *testing.T) {
	r := New(util.TestLogger(t), testResolver(), nil)
	for i := 0; i < Capacity; i++ {
		require.NoError(t, r.Register(fmt.Sprintf("eval_%d", i)))
	}
	before := r.Addresses()

	err := r.Register("eval_5")
	require.True(t, errors.Is(err, ErrCapacityExceeded))
	require.EqualError(t, err, "register eval_5: "+ErrCapacityExceeded.Error())
	err = r.RegisterAddress(0xdead)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	require.EqualError(t, err, "register 0xdead: "+ErrCapacityExceeded.Error())

	require.Equal(t, before, r.Addresses())
	require.False(t, r.IsEvalAddress(0x1500))
	require.False(t, r.IsEvalAddress(0xdead))
}

func TestRegisterSymbolNotFound(t *testing.T) {
	r := New(util.TestLogger(t), testResolver(), nil)
	require.NoError(t, r.Register("eval_0"))
	require.ErrorIs(t, r.Register("missing"), ErrSymbolNotFound)
	require.Equal(t, 1, r.Len())

	noResolver := New(util.TestLogger(t), nil, nil)
	require.ErrorIs(t, noResolver.Register("eval_0"), ErrSymbolNotFound)
}

func TestRegisterResetSentinel(t *testing.T) {
	testcases := []int{0, 1, 3, Capacity}
	for _, n := range testcases {
		t.Run(fmt.Sprintf("%d registered", n), func(t *testing.T) {
			r := New(util.TestLogger(t), testResolver(), nil)
			for i := 0; i < n; i++ {
				require.NoError(t, r.Register(fmt.Sprintf("eval_%d", i)))
			}
			require.NoError(t, r.Register(""))
			require.Equal(t, 0, r.Len())
			for i := 0; i < n; i++ {
				require.False(t, r.IsEvalAddress(0x1000+uint64(i)*0x100))
			}
			// registry is usable again after a reset
			require.NoError(t, r.Register("eval_7"))
			require.True(t, r.IsEvalAddress(0x1700))
		})
	}
}

func TestIsEvalAddressAllocs(t *testing.T) {
	r := New(util.TestLogger(t), testResolver(), nil)
	require.NoError(t, r.Register("eval_0"))
	allocs := testing.AllocsPerRun(100, func() {
		_ = r.IsEvalAddress(0x1000)
		_ = r.IsEvalAddress(0x2000)
	})
	require.Zero(t, allocs)
}
