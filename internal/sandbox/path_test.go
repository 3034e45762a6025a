package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidPaths(t *testing.T) {
	cases := map[string]string{
		"main.py":        "main.py",
		"src/app.js":     "src/app.js",
		"./local.txt":    "local.txt",
		"a/./b/c.txt":    "a/b/c.txt",
		"a/b/../c.txt":   "a/c.txt",
	}
	for input, want := range cases {
		got, err := ValidatePath("/workspace", input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
}

func TestTraversalRejection(t *testing.T) {
	for _, input := range []string{
		"../etc/passwd",
		"src/../../etc/passwd",
		"a/../../b",
		"..",
	} {
		_, err := ValidatePath("/workspace", input)
		assert.Error(t, err, input)
	}
}

func TestAbsolutePathRejection(t *testing.T) {
	for _, input := range []string{
		"/etc/passwd",
		"C:\\Windows\\System32",
		"c:\\temp",
		"\\\\server\\share",
	} {
		_, err := ValidatePath("/workspace", input)
		assert.Error(t, err, input)
	}
}
