package pbcf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prefduel/prefduel/persist"
)

func TestResolveObservationsJoinsSelectionsByTimestamp(t *testing.T) {
	session := persist.DBID("sess1")
	user := persist.DBID("user1")
	t0 := time.Now()

	sessionUserID := map[persist.DBID]persist.DBID{session: user}
	selectionsBySession := map[persist.DBID][]persist.Selection{
		session: {
			{ProductID: "a", CreatedAt: t0},
			{ProductID: "b", CreatedAt: t0.Add(time.Minute)},
			{ProductID: "c", CreatedAt: t0.Add(3 * time.Minute)},
		},
	}
	ratings := []persist.PrefixRating{
		{SessionID: session, Rating: 4, CreatedAt: t0.Add(2 * time.Minute)},
	}

	obs := ResolveObservations(sessionUserID, selectionsBySession, ratings)
	require.Len(t, obs, 1)
	require.Equal(t, "a-b", obs[0].PrefixKey)
	require.Equal(t, user, obs[0].UserID)
	require.Equal(t, 4, obs[0].Rating)
}

func TestResolveObservationsSkipsRatingsWithNoSelectionsYet(t *testing.T) {
	session := persist.DBID("sess1")
	user := persist.DBID("user1")
	t0 := time.Now()

	sessionUserID := map[persist.DBID]persist.DBID{session: user}
	selectionsBySession := map[persist.DBID][]persist.Selection{
		session: {{ProductID: "a", CreatedAt: t0.Add(time.Minute)}},
	}
	ratings := []persist.PrefixRating{
		{SessionID: session, Rating: 5, CreatedAt: t0},
	}

	obs := ResolveObservations(sessionUserID, selectionsBySession, ratings)
	require.Empty(t, obs)
}

func TestResolveObservationsKeepsLatestRatingPerPrefixUser(t *testing.T) {
	session := persist.DBID("sess1")
	user := persist.DBID("user1")
	t0 := time.Now()

	sessionUserID := map[persist.DBID]persist.DBID{session: user}
	selectionsBySession := map[persist.DBID][]persist.Selection{
		session: {{ProductID: "a", CreatedAt: t0}},
	}
	ratings := []persist.PrefixRating{
		{SessionID: session, Rating: 2, CreatedAt: t0.Add(time.Minute)},
		{SessionID: session, Rating: 5, CreatedAt: t0.Add(2 * time.Minute)},
	}

	obs := ResolveObservations(sessionUserID, selectionsBySession, ratings)
	require.Len(t, obs, 1)
	require.Equal(t, 5, obs[0].Rating)
}

func TestEngineUntrainedStatsAndPrediction(t *testing.T) {
	e := New()
	require.True(t, e.NeedsRetrain(1))
	stats := e.Stats()
	require.False(t, stats.Trained)
	require.Nil(t, e.PredictUserRatings("nobody"))
}

func TestEngineTrainApproximatesObservedRatings(t *testing.T) {
	e := New()
	observations := []RatingObservation{
		{PrefixKey: "a", UserID: "u1", Rating: 5, CreatedAt: time.Now()},
		{PrefixKey: "a", UserID: "u2", Rating: 1, CreatedAt: time.Now()},
		{PrefixKey: "b", UserID: "u1", Rating: 2, CreatedAt: time.Now()},
		{PrefixKey: "b", UserID: "u2", Rating: 4, CreatedAt: time.Now()},
	}

	e.Train(observations)
	require.False(t, e.NeedsRetrain(len(observations)))

	stats := e.Stats()
	require.True(t, stats.Trained)
	require.Equal(t, 2, stats.PrefixCount)
	require.Equal(t, 2, stats.UserCount)
	require.Equal(t, len(observations), stats.RatingsCount)

	predicted := e.PredictUserRatings("u1")
	require.NotNil(t, predicted)
	require.InDelta(t, 5.0, predicted["a"], 0.2)
	require.InDelta(t, 2.0, predicted["b"], 0.2)
}

func TestEngineTrainWithNoObservationsLeavesUntrained(t *testing.T) {
	e := New()
	e.Train(nil)
	require.False(t, e.Stats().Trained)
}
