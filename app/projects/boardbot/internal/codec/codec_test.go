package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/snowflake"
)

func TestMarshalEncodesIDsAsShortCodes(t *testing.T) {
	b, err := Marshal(map[string]any{"event": "card_updated", "data": map[string]any{"id": snowflake.ID(42)}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"card_updated","data":{"id":"`+snowflake.Encode(42)+`"}}`, string(b))
}

func TestMarshalNestedCollections(t *testing.T) {
	ids := []snowflake.ID{1, 2}
	when := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	b, err := Marshal(map[string]any{
		"ids":   ids,
		"at":    when,
		"ptr":   &when,
		"nil":   nil,
		"flag":  true,
		"inner": map[string][]snowflake.ID{"x": {3}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"ids": ["`+snowflake.Encode(1)+`","`+snowflake.Encode(2)+`"],
		"at": "2025-01-02T03:04:05+00:00",
		"ptr": "2025-01-02T03:04:05+00:00",
		"nil": null,
		"flag": true,
		"inner": {"x": ["`+snowflake.Encode(3)+`"]}
	}`, string(b))
}

func TestTimeKeepsOffset(t *testing.T) {
	loc := time.FixedZone("x", 2*3600)
	assert.Equal(t, "2025-01-02T03:04:05.5+02:00", FormatTime(time.Date(2025, 1, 2, 3, 4, 5, 500000000, loc)))
}

func TestNoHTMLEscape(t *testing.T) {
	b, err := Marshal(map[string]string{"html": "<b>&</b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"html":"<b>&</b>"}`, string(b))
}
