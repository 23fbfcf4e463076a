package errs

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	err := &Error{Kind: KindConsistency, Stage: "slice:highway", Entity: "period AM", Err: errors.New("missing @ff_AM")}
	assert.Equal(t, "slice:highway: consistency: period AM: missing @ff_AM", err.Error())
}

func TestError_MessageWithoutStageOrEntity(t *testing.T) {
	err := &Error{Kind: KindLookup, Err: errors.New("empty index")}
	assert.Equal(t, "lookup: empty index", err.Error())
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, Wrap(nil, KindLookup, "x"))
	assert.NoError(t, WithStage(nil, "classify"))
}

func TestKindOf_ThroughErisWrap(t *testing.T) {
	base := New(KindConfiguration, "column POP", "missing column")
	wrapped := eris.Wrap(base, "landuse: read")

	assert.Equal(t, KindConfiguration, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindConfiguration))
	assert.False(t, Is(wrapped, KindLookup))
	assert.Equal(t, "column POP", EntityOf(wrapped))
}

func TestWithStage_SetsOnce(t *testing.T) {
	err := New(KindConsistency, "zone 7", "duplicate")
	staged := WithStage(err, "classify")
	restaged := WithStage(staged, "commit")

	assert.Equal(t, "classify", StageOf(restaged))
}

func TestWithStage_UntypedBecomesExternalStore(t *testing.T) {
	staged := WithStage(errors.New("disk full"), "commit")

	require.Error(t, staged)
	assert.Equal(t, KindExternalStore, KindOf(staged))
	assert.Equal(t, "commit", StageOf(staged))
	assert.Contains(t, staged.Error(), "disk full")
}

func TestKindOf_Plain(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("x")))
	assert.False(t, Is(nil, KindLookup))
}
