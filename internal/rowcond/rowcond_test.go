package rowcond

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-expect/internal/domain"
)

func TestCompileAndMatch(t *testing.T) {
	cond, err := Compile(`age > 18 && name != "bob"`, []string{"age", "name"})
	require.NoError(t, err)

	tests := []struct {
		name string
		row  map[string]any
		want bool
	}{
		{name: "match", row: map[string]any{"age": int64(30), "name": "alice"}, want: true},
		{name: "too young", row: map[string]any{"age": int64(10), "name": "alice"}, want: false},
		{name: "excluded name", row: map[string]any{"age": int64(30), "name": "bob"}, want: false},
		{name: "null age", row: map[string]any{"age": nil, "name": "alice"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cond.Match(tt.row))
		})
	}
}

func TestCompile_RowMapForOddColumnNames(t *testing.T) {
	cond, err := Compile(`row["first name"] == "ann"`, []string{"first name"})
	require.NoError(t, err)
	assert.True(t, cond.Match(map[string]any{"first name": "ann"}))
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile(`age >`, []string{"age"})
	require.Error(t, err)

	_, err = Compile(`age + 1`, []string{"age"})
	require.Error(t, err)
	var verr *domain.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Contains(t, err.Error(), "must evaluate to a boolean")

	dyn, err := Compile(`row["flag"]`, []string{"flag"})
	require.NoError(t, err)
	assert.True(t, dyn.Match(map[string]any{"flag": true}))
	assert.False(t, dyn.Match(map[string]any{"flag": "yes"}))

	_, err = Compile(`"x" + "y"`, nil)
	require.Error(t, err)
}

func TestCache(t *testing.T) {
	c := NewCache()
	a, err := c.Get(`x == 1`, []string{"x"})
	require.NoError(t, err)
	b, err := c.Get(`x == 1`, []string{"x"})
	require.NoError(t, err)
	assert.Same(t, a, b)
}
