package models

import (
	"testing"

	"github.com/insta-extractor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTargets(t *testing.T) {
	assert.Equal(t, []string{"alice", "bob", "carol"}, SplitTargets(" @alice, bob ,,#carol "))
	assert.Empty(t, SplitTargets(" , ,"))
	assert.Empty(t, SplitTargets(""))
}

func TestJoinTargets(t *testing.T) {
	assert.Equal(t, "a,b,c", JoinTargets([]string{" a", "@b", "", "c "}))
}

func TestExtractionJob_Targets(t *testing.T) {
	job := &ExtractionJob{ID: "j1", ExtractionType: types.TypeFollowers, TargetUsernames: "x, y"}
	targets, err := job.Targets()
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, targets)

	job.TargetUsernames = " , "
	_, err = job.Targets()
	assert.Error(t, err)

	// URL-based jobs name their posts
	job.ExtractionType = types.TypeLikers
	_, err = job.Targets()
	assert.Error(t, err)
	job.TargetUsernames = "https://www.instagram.com/p/Cabc/"
	targets, err = job.Targets()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.instagram.com/p/Cabc/"}, targets)
}

func TestExtractionJob_Cursor(t *testing.T) {
	job := &ExtractionJob{}
	assert.Equal(t, "", job.Cursor())
	next := "1|abc"
	job.NextPageID = &next
	assert.Equal(t, "1|abc", job.Cursor())
}
