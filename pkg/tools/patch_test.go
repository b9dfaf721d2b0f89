package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T, files map[string]string) *RepoTools {
	t.Helper()
	dir := t.TempDir()
	for path, content := range files {
		abs := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	return NewRepoTools(dir)
}

func TestApplyPatch_ModifyFile(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"pages/home.html": "<div>\n<h1>Old</h1>\n</div>\n",
	})

	diff := `--- a/pages/home.html
+++ b/pages/home.html
@@ -1,3 +1,3 @@
 <div>
-<h1>Old</h1>
+<h1>New</h1>
 </div>
`
	res := repo.ApplyPatch(diff)
	require.Empty(t, res.Errors)
	assert.True(t, res.Applied)
	assert.Equal(t, []string{"pages/home.html"}, res.Touched)

	content, ok, err := repo.ReadFile("pages/home.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<div>\n<h1>New</h1>\n</div>\n", content)
}

func TestApplyPatch_CreateFile(t *testing.T) {
	repo := newTestRepo(t, nil)

	diff := `--- /dev/null
+++ b/pages/about.html
@@ -0,0 +1,2 @@
+<div>
+</div>
`
	res := repo.ApplyPatch(diff)
	require.Empty(t, res.Errors)
	assert.True(t, res.Applied)

	content, ok, err := repo.ReadFile("pages/about.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<div>\n</div>\n", content)
}

func TestApplyPatch_ContextMismatch(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"a.txt": "actual line\n",
	})

	diff := `--- a/a.txt
+++ b/a.txt
@@ -1,1 +1,1 @@
-expected line
+new line
`
	res := repo.ApplyPatch(diff)
	assert.False(t, res.Applied)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "context mismatch")

	// Nothing written.
	content, _, err := repo.ReadFile("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "actual line\n", content)
}

func TestApplyPatch_OverlappingHunks(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"a.txt": "one\ntwo\nthree\nfour\n",
	})

	diff := `--- a/a.txt
+++ b/a.txt
@@ -1,3 +1,3 @@
 one
-two
+TWO
 three
@@ -2,2 +2,2 @@
-two
+2
 three
`
	res := repo.ApplyPatch(diff)
	assert.False(t, res.Applied)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "overlapping hunks")
}

func TestApplyPatch_RefusesEscapingPaths(t *testing.T) {
	repo := newTestRepo(t, nil)

	tests := []string{
		"../outside.txt",
		"nested/../../outside.txt",
	}
	for _, path := range tests {
		diff := "--- /dev/null\n+++ b/" + path + "\n@@ -0,0 +1,1 @@\n+x\n"
		res := repo.ApplyPatch(diff)
		assert.False(t, res.Applied, "path %s should be refused", path)
		require.NotEmpty(t, res.Errors)
		assert.Contains(t, res.Errors[0], "escapes project root")
	}
}

func TestApplyPatch_AllOrNothing(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"good.txt": "fine\n",
		"bad.txt":  "unexpected\n",
	})

	// First file applies, second has a context mismatch: neither is written.
	diff := `--- a/good.txt
+++ b/good.txt
@@ -1,1 +1,1 @@
-fine
+changed
--- a/bad.txt
+++ b/bad.txt
@@ -1,1 +1,1 @@
-nope
+other
`
	res := repo.ApplyPatch(diff)
	assert.False(t, res.Applied)

	content, _, err := repo.ReadFile("good.txt")
	require.NoError(t, err)
	assert.Equal(t, "fine\n", content)
}

func TestApplyPatch_MalformedDiff(t *testing.T) {
	repo := newTestRepo(t, nil)
	res := repo.ApplyPatch("this is not a diff")
	assert.False(t, res.Applied)
	require.NotEmpty(t, res.Errors)
}

func TestApplyPatch_HeaderCountMismatch(t *testing.T) {
	repo := newTestRepo(t, map[string]string{"a.txt": "one\n"})
	diff := `--- a/a.txt
+++ b/a.txt
@@ -1,2 +1,2 @@
-one
+ONE
`
	res := repo.ApplyPatch(diff)
	assert.False(t, res.Applied)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "do not match")
}

func TestReadFile_MissingAndEscaping(t *testing.T) {
	repo := newTestRepo(t, map[string]string{"a.txt": "hi\n"})

	_, ok, err := repo.ReadFile("missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = repo.ReadFile("../secret")
	require.ErrorIs(t, err, ErrPathEscapesRoot)

	_, _, err = repo.ReadFile("/etc/passwd")
	require.ErrorIs(t, err, ErrPathEscapesRoot)
}

func TestReadFiles_Limit(t *testing.T) {
	repo := newTestRepo(t, map[string]string{
		"a.txt": "a", "b.txt": "b", "c.txt": "c",
	})
	out, err := repo.ReadFiles([]string{"a.txt", "b.txt", "c.txt"}, 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.NotContains(t, out, "c.txt")
}
