package engine

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func setup(t testing.TB, inMemory bool) *Env {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	env, err := Open(path, true, Options{InMemory: inMemory, NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func forEachBackend(t *testing.T, f func(t *testing.T, env *Env)) {
	t.Run("bolt", func(t *testing.T) { f(t, setup(t, false)) })
	t.Run("mem", func(t *testing.T) { f(t, setup(t, true)) })
}

func collect(t testing.TB, txn *Txn, bucket string, prefix []byte) []string {
	t.Helper()
	c, err := txn.Cursor(bucket, prefix)
	require.NoError(t, err)
	defer c.Close()
	var out []string
	for {
		k, v, err := c.Next()
		require.NoError(t, err)
		if k == nil {
			return out
		}
		out = append(out, string(k)+"="+string(v))
	}
}

func TestTxn_putGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *Env) {
		root, err := env.Begin(nil)
		require.NoError(t, err)
		require.NoError(t, root.CreateBucket("b"))

		require.NoError(t, root.Put("b", []byte("k"), []byte("v")))
		require.NoError(t, root.Put("b", []byte("empty"), nil))

		v, err := root.Get("b", []byte("k"))
		require.NoError(t, err)
		require.Equal(t, "v", string(v))

		ok, err := root.Exists("b", []byte("empty"))
		require.NoError(t, err)
		require.True(t, ok)

		_, err = root.Get("b", []byte("missing"))
		require.True(t, errors.Is(err, ErrNotFound))

		_, err = root.Get("nope", []byte("k"))
		require.True(t, errors.Is(err, ErrBucketNotFound))

		require.Error(t, root.Put("b", nil, []byte("x")))
	})
}

func TestTxn_nestedCommitAbort(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *Env) {
		root, err := env.Begin(nil)
		require.NoError(t, err)
		require.NoError(t, root.CreateBucket("b"))
		require.NoError(t, root.Put("b", []byte("a"), []byte("1")))

		child, err := root.Begin()
		require.NoError(t, err)
		require.Equal(t, 1, child.Depth())
		require.NoError(t, child.Put("b", []byte("a"), []byte("2")))
		require.NoError(t, child.Put("b", []byte("c"), []byte("3")))

		// parent is read-only while the child is active
		require.True(t, errors.Is(root.Put("b", []byte("x"), nil), ErrTxnBusy))
		v, err := root.Get("b", []byte("a"))
		require.NoError(t, err)
		require.Equal(t, "1", string(v))

		grandchild, err := child.Begin()
		require.NoError(t, err)
		require.NoError(t, grandchild.Delete("b", []byte("a")))
		require.Equal(t, []string{"c=3"}, collect(t, grandchild, "b", nil))
		require.NoError(t, grandchild.Abort())

		require.Equal(t, []string{"a=2", "c=3"}, collect(t, child, "b", nil))
		require.NoError(t, child.Commit())
		require.True(t, child.Done())

		require.Equal(t, []string{"a=2", "c=3"}, collect(t, root, "b", nil))

		_, err = child.Get("b", []byte("a"))
		require.True(t, errors.Is(err, ErrTxnClosed))
	})
}

func TestTxn_abortDiscardsNestedCommit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *Env) {
		root, err := env.Begin(nil)
		require.NoError(t, err)
		require.NoError(t, root.CreateBucket("b"))

		outer, err := root.Begin()
		require.NoError(t, err)
		inner, err := outer.Begin()
		require.NoError(t, err)
		require.NoError(t, inner.Put("b", []byte("k"), []byte("v")))
		require.NoError(t, inner.Commit())
		require.NoError(t, outer.Abort())

		ok, err := root.Exists("b", []byte("k"))
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestTxn_abortParentAbortsChildren(t *testing.T) {
	env := setup(t, true)
	root, err := env.Begin(nil)
	require.NoError(t, err)
	outer, err := root.Begin()
	require.NoError(t, err)
	inner, err := outer.Begin()
	require.NoError(t, err)

	require.NoError(t, outer.Abort())
	require.True(t, inner.Done())
	require.True(t, outer.Done())
	require.False(t, root.Done())

	again, err := root.Begin()
	require.NoError(t, err)
	require.Equal(t, 1, again.Depth())
}

func TestTxn_bucketsCreatedInChild(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *Env) {
		root, err := env.Begin(nil)
		require.NoError(t, err)

		child, err := root.Begin()
		require.NoError(t, err)
		require.NoError(t, child.CreateBucket("fresh"))
		require.True(t, errors.Is(child.CreateBucket("fresh"), ErrExists))
		require.NoError(t, child.Put("fresh", []byte("k"), []byte("v")))

		has, err := root.HasBucket("fresh")
		require.NoError(t, err)
		require.False(t, has)

		require.NoError(t, child.Commit())
		names, err := root.BucketNames()
		require.NoError(t, err)
		require.Equal(t, []string{"fresh"}, names)
		require.Equal(t, []string{"k=v"}, collect(t, root, "fresh", nil))
	})
}

func TestTxn_durability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.db")

	_, err := Open(path, false, Options{})
	require.True(t, errors.Is(err, ErrNotFound))

	env, err := Open(path, true, Options{NoSync: true})
	require.NoError(t, err)
	root, err := env.Begin(nil)
	require.NoError(t, err)
	require.NoError(t, root.CreateBucket("b"))
	require.NoError(t, root.Put("b", []byte("kept"), []byte("1")))
	require.NoError(t, root.Checkpoint())
	require.NoError(t, root.Put("b", []byte("lost"), []byte("2")))
	require.NoError(t, env.Close())

	env, err = Open(path, false, Options{NoSync: true})
	require.NoError(t, err)
	defer env.Close()
	root, err = env.Begin(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"kept=1"}, collect(t, root, "b", nil))
	require.NoError(t, root.Commit())
}

func TestCursor_mergesLayers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *Env) {
		root, err := env.Begin(nil)
		require.NoError(t, err)
		require.NoError(t, root.CreateBucket("b"))
		for _, k := range []string{"a1", "a3", "a5", "b1"} {
			require.NoError(t, root.Put("b", []byte(k), []byte("r")))
		}

		child, err := root.Begin()
		require.NoError(t, err)
		require.NoError(t, child.Put("b", []byte("a2"), []byte("c")))
		require.NoError(t, child.Put("b", []byte("a5"), []byte("c")))
		require.NoError(t, child.Delete("b", []byte("a3")))

		require.Equal(t, []string{"a1=r", "a2=c", "a5=c"}, collect(t, child, "b", []byte("a")))
		require.Equal(t, []string{"a1=r", "a2=c", "a5=c", "b1=r"}, collect(t, child, "b", nil))

		c, err := child.Cursor("b", nil)
		require.NoError(t, err)
		k, _, err := c.Seek([]byte("a3"))
		require.NoError(t, err)
		require.Equal(t, "a5", string(k))

		// writes behind the cursor position are not revisited, writes ahead are seen
		require.NoError(t, child.Put("b", []byte("a0"), []byte("c")))
		require.NoError(t, child.Put("b", []byte("a9"), []byte("c")))
		k, _, err = c.Next()
		require.NoError(t, err)
		require.Equal(t, "a9", string(k))

		require.NoError(t, child.Abort())
		_, _, err = c.Next()
		require.True(t, errors.Is(err, ErrTxnClosed))
	})
}

func TestSequence(t *testing.T) {
	forEachBackend(t, func(t *testing.T, env *Env) {
		root, err := env.Begin(nil)
		require.NoError(t, err)

		_, err = OpenSequence(root, "__seq", "months", false)
		require.True(t, errors.Is(err, ErrNotFound))

		seq, err := OpenSequence(root, "__seq", "months", true)
		require.NoError(t, err)
		require.Equal(t, "months", seq.Name())

		_, err = OpenSequence(root, "__seq", "months", true)
		require.True(t, errors.Is(err, ErrExists))

		for want := int64(1); want <= 3; want++ {
			id, err := seq.Next(root, 1)
			require.NoError(t, err)
			require.Equal(t, want, id)
		}

		child, err := root.Begin()
		require.NoError(t, err)
		id, err := seq.Next(child, 1)
		require.NoError(t, err)
		require.Equal(t, int64(4), id)
		require.NoError(t, child.Abort())

		id, err = seq.Next(root, 1)
		require.NoError(t, err)
		require.Equal(t, int64(4), id)

		again, err := OpenSequence(root, "__seq", "months", false)
		require.NoError(t, err)
		id, err = again.Next(root, 1)
		require.NoError(t, err)
		require.Equal(t, int64(5), id)
	})
}

func TestEnv_closeAbortsRoot(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	path := filepath.Join(t.TempDir(), "engine.db")
	env, err := Open(path, true, Options{NoSync: true, Log: log})
	require.NoError(t, err)

	root, err := env.Begin(nil)
	require.NoError(t, err)
	require.NoError(t, root.CreateBucket("b"))
	hook.Reset()
	require.NoError(t, env.Close())
	require.True(t, root.Done())
	require.NoError(t, env.Close())

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	require.Equal(t, logrus.WarnLevel, entries[0].Level)
	require.Equal(t, path, entries[0].Data["path"])
	require.Equal(t, "engine: closed", entries[1].Message)
	require.Equal(t, path, entries[1].Data["path"])
}
