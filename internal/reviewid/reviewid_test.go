package reviewid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AllFiveKnown(t *testing.T) {
	for _, id := range All {
		parsed, err := Parse(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

func TestParse_UnknownRejected(t *testing.T) {
	_, err := Parse("style")
	assert.Error(t, err)

	_, err = Parse("")
	assert.Error(t, err)

	_, err = Parse("Security") // case-sensitive, closed set
	assert.Error(t, err)
}

func TestMarshalUnmarshalJSON_RoundTrip(t *testing.T) {
	for _, id := range All {
		data, err := json.Marshal(id)
		require.NoError(t, err)

		var back ReviewerID
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, id, back)
	}
}

func TestUnmarshalJSON_RejectsUnknown(t *testing.T) {
	var id ReviewerID
	err := json.Unmarshal([]byte(`"quality"`), &id)
	assert.Error(t, err)
}

func TestZeroValueInvalid(t *testing.T) {
	var id ReviewerID
	assert.False(t, id.Valid())
	assert.Equal(t, "invalid", id.String())
}
