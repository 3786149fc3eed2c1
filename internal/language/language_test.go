package language_test

import (
	"testing"

	"github.com/parsify-dev/codexec/internal/language"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want language.ID
		ok   bool
	}{
		{"javascript", language.JavaScript, true},
		{"js", language.JavaScript, true},
		{"TypeScript", language.TypeScript, true},
		{"python", language.Python, true},
		{" py ", language.Python, true},
		{"rust", language.Rust, true},
		{"c", language.C, true},
		{"C++", language.CPP, true},
		{"cpp", language.CPP, true},
		{"ruby", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, ok := language.Parse(tc.in)
		assert.Equal(t, tc.ok, ok, "Parse(%q)", tc.in)
		assert.Equal(t, tc.want, got, "Parse(%q)", tc.in)
	}
}

func TestLookup(t *testing.T) {
	t.Run("interpreted languages have no compile step", func(t *testing.T) {
		for _, id := range []language.ID{language.JavaScript, language.TypeScript, language.Python} {
			spec, ok := language.Lookup(id)
			require.True(t, ok)
			assert.False(t, spec.Compiled)
			assert.Empty(t, spec.CompileCmd)
			assert.NotEmpty(t, spec.RunCmd)
			assert.NotEmpty(t, spec.Image)
		}
	})

	t.Run("compiled languages declare build and binary", func(t *testing.T) {
		for _, id := range []language.ID{language.Rust, language.C, language.CPP} {
			spec, ok := language.Lookup(id)
			require.True(t, ok)
			assert.True(t, spec.Compiled)
			assert.NotEmpty(t, spec.CompileCmd)
			assert.NotEmpty(t, spec.BinaryFile)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		_, ok := language.Lookup(language.ID("ruby"))
		assert.False(t, ok)
	})
}

func TestAll(t *testing.T) {
	specs := language.All()
	require.Len(t, specs, 6)

	// Stable order so API listings don't shuffle between calls.
	ids := make([]language.ID, 0, len(specs))
	for _, s := range specs {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []language.ID{
		language.JavaScript, language.TypeScript, language.Python,
		language.Rust, language.C, language.CPP,
	}, ids)
}
