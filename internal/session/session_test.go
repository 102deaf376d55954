package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minerofthesoal/ai-cli/internal/api"
	"github.com/minerofthesoal/ai-cli/internal/apperr"
)

func TestValidateName(t *testing.T) {
	valid := []string{"default", "work-2024", "a.b_c", "X"}
	for _, n := range valid {
		assert.NoError(t, ValidateName(n), n)
	}
	invalid := []string{"", ".hidden", "../etc", "a/b", "has space", string(make([]byte, 65))}
	for _, n := range invalid {
		err := ValidateName(n)
		assert.True(t, apperr.Is(err, apperr.Usage), "%q: %v", n, err)
	}
}

func TestLoadMissingIsEmpty(t *testing.T) {
	s := NewStore(t.TempDir())
	sess, err := s.Load("fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", sess.Name)
	assert.Empty(t, sess.Messages)
	assert.False(t, s.Exists("fresh"))
}

func TestAppendTurnRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.AppendTurn("chat", api.Message{Content: "hi", Image: "cat.png"}, api.Message{Content: "hello"}))
	require.NoError(t, s.AppendTurn("chat", api.Message{Content: "bye"}, api.Message{Content: "ciao"}))

	sess, err := s.Load("chat")
	require.NoError(t, err)
	want := []api.Message{
		{Role: api.RoleUser, Content: "hi", Image: "cat.png"},
		{Role: api.RoleAssistant, Content: "hello"},
		{Role: api.RoleUser, Content: "bye"},
		{Role: api.RoleAssistant, Content: "ciao"},
	}
	if diff := cmp.Diff(want, sess.Messages); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}

	info, err := os.Stat(filepath.Join(s.Dir(), "chat.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestConcurrentAppendTurnKeepsPairs(t *testing.T) {
	s := NewStore(t.TempDir())
	const n = 12

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.AppendTurn("shared", api.Message{Content: fmt.Sprintf("q%d", i)}, api.Message{Content: fmt.Sprintf("a%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sess, err := s.Load("shared")
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2*n)
	for i := 0; i < len(sess.Messages); i += 2 {
		q, a := sess.Messages[i], sess.Messages[i+1]
		assert.Equal(t, api.RoleUser, q.Role)
		assert.Equal(t, api.RoleAssistant, a.Role)
		assert.Equal(t, "a"+q.Content[1:], a.Content)
	}
}

func TestCreateOverwriteDelete(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Create("notes"))
	assert.True(t, apperr.Is(s.Create("notes"), apperr.Usage))

	require.NoError(t, s.Append("notes", api.Message{Role: api.RoleUser, Content: "x"}))
	require.NoError(t, s.Overwrite("notes", nil))
	sess, err := s.Load("notes")
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)

	require.NoError(t, s.Delete("notes"))
	assert.False(t, s.Exists("notes"))
	assert.True(t, apperr.Is(s.Delete("notes"), apperr.NotFound))
}

func TestListAndDeleteAll(t *testing.T) {
	s := NewStore(t.TempDir())
	list, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, s.AppendTurn("b", api.Message{Content: "1"}, api.Message{Content: "2"}))
	require.NoError(t, s.Create("a"))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "broken.json"), []byte("{"), 0o600))

	list, err = s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, 0, list[0].Messages)
	assert.Equal(t, "b", list[1].Name)
	assert.Equal(t, 2, list[1].Messages)

	n, err := s.DeleteAll()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	list, err = s.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCorruptSession(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, os.MkdirAll(s.Dir(), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "bad.json"), []byte("not json"), 0o600))

	_, err := s.Load("bad")
	assert.ErrorContains(t, err, "corrupt")
	assert.Error(t, s.Append("bad", api.Message{Role: api.RoleUser, Content: "x"}))
}
