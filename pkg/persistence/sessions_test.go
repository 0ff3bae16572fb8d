package persistence

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bsdcoach/pkg/session"
	"bsdcoach/pkg/stage"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "coach.db")
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_foreign_keys=ON&_journal_mode=WAL")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, initializeSchemaWithMigrations(db))
	return NewSessionStore(db)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	st := session.New("c1", "en")
	st.AddCoachTurn("what would you like to work on?")
	st.AddUserTurn("recognition at work")
	st.SetField(stage.FieldTopic, "recognition")
	require.True(t, st.AdvanceTo(stage.Event))
	st.AddUserTurn("my boss ignored my report")
	st.Saturation = 0.5

	require.NoError(t, store.Save(st))

	loaded, err := store.Load("c1")
	require.NoError(t, err)
	assert.Equal(t, stage.Event, loaded.CurrentStage)
	assert.Equal(t, "en", loaded.Language)
	assert.Equal(t, 1, loaded.StageUserTurns)
	assert.InDelta(t, 0.5, loaded.Saturation, 1e-9)
	assert.Equal(t, "recognition", loaded.Collected[stage.FieldTopic])
	require.Len(t, loaded.Turns, 3)
	assert.Equal(t, session.SpeakerCoach, loaded.Turns[0].Speaker)
	assert.Equal(t, stage.Topic, loaded.Turns[0].Stage)
	assert.Equal(t, "my boss ignored my report", loaded.Turns[2].Text)
}

func TestSaveIsIdempotentForTurns(t *testing.T) {
	store := newTestStore(t)

	st := session.New("c1", "en")
	st.AddUserTurn("hello")
	require.NoError(t, store.Save(st))
	require.NoError(t, store.Save(st))

	loaded, err := store.Load("c1")
	require.NoError(t, err)
	assert.Len(t, loaded.Turns, 1)
}

func TestCollectedDataStaysMonotonicAcrossSaves(t *testing.T) {
	store := newTestStore(t)

	st := session.New("c1", "en")
	st.SetField(stage.FieldTopic, "recognition")
	require.NoError(t, store.Save(st))

	// A later save never deletes a field that is absent from the in-memory
	// map of a partial state, because fields are only upserted.
	st.SetField(stage.FieldEventDescription, "boss ignored my report")
	require.NoError(t, store.Save(st))

	loaded, err := store.Load("c1")
	require.NoError(t, err)
	assert.Equal(t, "recognition", loaded.Collected[stage.FieldTopic])
	assert.Equal(t, "boss ignored my report", loaded.Collected[stage.FieldEventDescription])
}

func TestLoadUnknownSession(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExistsAndListActive(t *testing.T) {
	store := newTestStore(t)

	ok, err := store.Exists("c1")
	require.NoError(t, err)
	assert.False(t, ok)

	first := session.New("c1", "en")
	require.NoError(t, store.Save(first))

	second := session.New("c2", "es")
	second.Archived = true
	require.NoError(t, store.Save(second))

	ok, err = store.Exists("c1")
	require.NoError(t, err)
	assert.True(t, ok)

	active, err := store.ListActive()
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, active)
}

func TestArchivedFlagPersists(t *testing.T) {
	store := newTestStore(t)

	st := session.New("c1", "en")
	for !stage.IsTerminal(st.CurrentStage) {
		require.True(t, st.AdvanceTo(stage.Next(st.CurrentStage)))
	}
	st.SetField(stage.FieldCommitment, "call her tomorrow")
	st.MaybeArchive()
	require.True(t, st.Archived)

	require.NoError(t, store.Save(st))
	loaded, err := store.Load("c1")
	require.NoError(t, err)
	assert.True(t, loaded.Archived)
}
