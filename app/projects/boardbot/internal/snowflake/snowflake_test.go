package snowflake

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortCodeRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	values := []uint64{0, 1, 2, 42, math.MaxInt64, math.MaxUint64, 1 << 63, 1<<32 - 1, 1 << 32}
	for i := 0; i < 5000; i++ {
		values = append(values, r.Uint64())
	}
	for _, v := range values {
		code := Encode(ID(v))
		require.Len(t, code, ShortCodeLength)
		got, err := Decode(code)
		require.NoError(t, err)
		require.Equal(t, ID(v), got, "code %s", code)
	}
}

func TestZeroEncodesToPaddedZeros(t *testing.T) {
	assert.Equal(t, "00000000000", Encode(0))
	got, err := Decode("00000000000")
	require.NoError(t, err)
	assert.Equal(t, ID(0), got)
}

func TestShortCodeInjective(t *testing.T) {
	assert.NotEqual(t, Encode(1), Encode(2))
	got, err := Decode(Encode(ID(math.MaxInt64)))
	require.NoError(t, err)
	assert.Equal(t, ID(math.MaxInt64), got)

	seen := map[string]ID{}
	for i := ID(0); i < 20000; i++ {
		code := Encode(i)
		prev, dup := seen[code]
		require.False(t, dup, "collision %d and %d", prev, i)
		seen[code] = i
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "abc-def", "000000000000", "zzzzzzzzzzz"} {
		_, err := Decode(bad)
		assert.Error(t, err, bad)
	}
}

func TestIDJSON(t *testing.T) {
	b, err := json.Marshal(map[string]ID{"id": 42})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"`+Encode(42)+`"}`, string(b))

	var out struct{ ID ID }
	require.NoError(t, json.Unmarshal([]byte(`{"ID":"`+Encode(99)+`"}`), &out))
	assert.Equal(t, ID(99), out.ID)
	require.NoError(t, json.Unmarshal([]byte(`{"ID":77}`), &out))
	assert.Equal(t, ID(77), out.ID)
}

func TestGeneratorMonotonic(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGenerator(5)
	g.now = func() time.Time { return base }
	prev := g.Next()
	for i := 0; i < 4000; i++ {
		id := g.Next()
		require.Greater(t, id, prev)
		prev = id
	}
	assert.Equal(t, int64(5), (int64(prev)>>machineShift)&machineMask)
	assert.Equal(t, base, prev.Time())

	// clock moving backwards keeps ids increasing
	g.now = func() time.Time { return base.Add(-time.Second) }
	assert.Greater(t, g.Next(), prev)
}

func TestMachineIDRange(t *testing.T) {
	id := MachineID()
	assert.GreaterOrEqual(t, id, int64(0))
	assert.Less(t, id, int64(1024))
}
