package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/nsxzhou1114/bloodlink-api/internal/model"
	"github.com/nsxzhou1114/bloodlink-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubFinder 按层级返回预设结果，并记录调用顺序
type stubFinder struct {
	mu     sync.Mutex
	byTier map[MatchTier][]model.User
	calls  []MatchTier
	err    error
	delay  time.Duration
}

func (f *stubFinder) FindDonors(ctx context.Context, filter DonorFilter) ([]model.User, error) {
	f.mu.Lock()
	f.calls = append(f.calls, filter.Tier)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.byTier[filter.Tier], nil
}

func users(ids ...uint) []model.User {
	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		u := model.User{}
		u.ID = id
		out = append(out, u)
	}
	return out
}

func puneRequest() *model.BloodRequest {
	req := &model.BloodRequest{
		BloodGroup:  model.BloodGroupOPos,
		Urgency:     model.UrgencyHigh,
		RequesterID: 100,
		Location: model.Location{
			Locality: "Pune",
			District: "Pune District",
			Region:   "Maharashtra",
		},
	}
	req.ID = 1
	return req
}

func TestBuildScopesSkipsEmptyTiers(t *testing.T) {
	req := puneRequest()
	req.District = ""

	scopes := BuildScopes(req)
	require.Len(t, scopes, 2)
	assert.Equal(t, TierLocality, scopes[0].Tier)
	assert.Equal(t, TierRegion, scopes[1].Tier)
	assert.Equal(t, "Maharashtra", scopes[1].Filter.Value)
	assert.Equal(t, []uint{100}, scopes[1].Filter.ExcludeIDs)
}

func TestCascadeStopsAtFirstNonEmptyTier(t *testing.T) {
	finder := &stubFinder{byTier: map[MatchTier][]model.User{
		TierLocality: users(1),
		TierDistrict: users(2, 3),
		TierRegion:   users(4, 5, 6),
	}}

	result, err := Cascade(context.Background(), finder, BuildScopes(puneRequest()))
	require.NoError(t, err)
	assert.Equal(t, TierLocality, result.Tier)
	assert.Len(t, result.Candidates, 1)
	assert.Equal(t, []MatchTier{TierLocality}, finder.calls)
}

func TestCascadeFallsBackWithoutUnion(t *testing.T) {
	finder := &stubFinder{byTier: map[MatchTier][]model.User{
		TierDistrict: users(2, 3, 4),
		TierRegion:   users(5, 6, 7, 8),
	}}

	result, err := Cascade(context.Background(), finder, BuildScopes(puneRequest()))
	require.NoError(t, err)
	assert.Equal(t, TierDistrict, result.Tier)
	assert.Equal(t, users(2, 3, 4), result.Candidates)
	assert.Equal(t, []MatchTier{TierLocality, TierDistrict}, finder.calls)
}

func TestCascadeEmptyIsNotAnError(t *testing.T) {
	finder := &stubFinder{}

	result, err := Cascade(context.Background(), finder, BuildScopes(puneRequest()))
	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.Equal(t, MatchTier(""), result.Tier)
	assert.Len(t, finder.calls, 3)
}

func TestCascadePropagatesFinderError(t *testing.T) {
	boom := errors.New("db down")
	finder := &stubFinder{err: boom}

	_, err := Cascade(context.Background(), finder, BuildScopes(puneRequest()))
	assert.ErrorIs(t, err, boom)
}

func TestMatchEngineTimeoutDegradesToEmpty(t *testing.T) {
	finder := &stubFinder{delay: time.Second, byTier: map[MatchTier][]model.User{TierLocality: users(1)}}
	engine := NewMatchEngine(finder, zaptest.NewLogger(t).Sugar(), 20*time.Millisecond)

	result, err := engine.Match(context.Background(), puneRequest())
	require.NoError(t, err)
	assert.True(t, result.Empty())
}

func TestGormDonorFinder(t *testing.T) {
	db := testutil.NewTestDB(t)
	requester := testutil.CreateDonor(t, db, "requester", "O+", "Pune", "Pune District", "Maharashtra")
	a := testutil.CreateDonor(t, db, "a", "O+", "Kothrud", "Pune District", "Maharashtra")
	b := testutil.CreateDonor(t, db, "b", "O+", "Hadapsar", "Pune District", "Maharashtra")
	testutil.CreateDonor(t, db, "c", "A+", "Kothrud", "Pune District", "Maharashtra")
	testutil.CreateDonor(t, db, "d", "O+", "Nashik", "Nashik District", "Maharashtra")

	// 非献血者不参与匹配
	notDonor := testutil.CreateUser(t, db, "e")
	require.NoError(t, db.Model(notDonor).Updates(map[string]interface{}{
		"blood_group": "O+", "district": "Pune District",
	}).Error)

	finder := NewGormDonorFinder(db)
	donors, err := finder.FindDonors(context.Background(), DonorFilter{
		BloodGroup: "O+",
		Tier:       TierDistrict,
		Value:      "Pune District",
		ExcludeIDs: []uint{requester.ID},
	})
	require.NoError(t, err)
	require.Len(t, donors, 2)
	assert.Equal(t, a.ID, donors[0].ID)
	assert.Equal(t, b.ID, donors[1].ID)

	_, err = finder.FindDonors(context.Background(), DonorFilter{Tier: "country"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMatchEnginePuneScenario(t *testing.T) {
	db := testutil.NewTestDB(t)
	requester := testutil.CreateUser(t, db, "requester")
	for _, name := range []string{"a", "b", "c"} {
		testutil.CreateDonor(t, db, name, "O+", "Kothrud", "Pune District", "Maharashtra")
	}
	testutil.CreateDonor(t, db, "far", "O+", "Nashik", "Nashik District", "Maharashtra")

	req := puneRequest()
	req.RequesterID = requester.ID
	engine := NewMatchEngine(NewGormDonorFinder(db), zaptest.NewLogger(t).Sugar(), time.Second)

	result, err := engine.Match(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, TierDistrict, result.Tier)
	assert.Len(t, result.Candidates, 3)
}

// newFakeES 模拟Elasticsearch，按请求体返回命中的 user_id
func newFakeES(t *testing.T, hits func(query map[string]interface{}) []uint) *elasticsearch.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasSuffix(r.URL.Path, "/_search") {
			_, _ = io.WriteString(w, `{}`)
			return
		}
		var query map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&query)

		type hit struct {
			Source model.ESDonor `json:"_source"`
		}
		var out struct {
			Hits struct {
				Hits []hit `json:"hits"`
			} `json:"hits"`
		}
		for _, id := range hits(query) {
			out.Hits.Hits = append(out.Hits.Hits, hit{Source: model.ESDonor{UserID: id}})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client
}

// termValue 从 bool.filter 中取出指定字段的 term 值
func termValue(query map[string]interface{}, field string) string {
	b := query["query"].(map[string]interface{})["bool"].(map[string]interface{})
	for _, f := range b["filter"].([]interface{}) {
		term := f.(map[string]interface{})["term"].(map[string]interface{})
		if v, ok := term[field]; ok {
			return v.(string)
		}
	}
	return ""
}

func TestESDonorFinder(t *testing.T) {
	db := testutil.NewTestDB(t)
	a := testutil.CreateDonor(t, db, "a", "O+", "Kothrud", "Pune District", "Maharashtra")
	b := testutil.CreateDonor(t, db, "b", "O+", "Hadapsar", "Pune District", "Maharashtra")
	// 索引滞后：c 已不是献血者
	c := testutil.CreateUser(t, db, "c")

	client := newFakeES(t, func(query map[string]interface{}) []uint {
		if termValue(query, "blood_group") != "O+" {
			return nil
		}
		if termValue(query, "district") == "Pune District" {
			return []uint{a.ID, b.ID, c.ID}
		}
		return nil
	})

	finder := NewESDonorFinder(client, db, "")
	donors, err := finder.FindDonors(context.Background(), DonorFilter{BloodGroup: "O+", Tier: TierDistrict, Value: "Pune District"})
	require.NoError(t, err)
	require.Len(t, donors, 2)
	assert.Equal(t, a.ID, donors[0].ID)
	assert.Equal(t, b.ID, donors[1].ID)

	donors, err = finder.FindDonors(context.Background(), DonorFilter{BloodGroup: "O+", Tier: TierLocality, Value: "Pune"})
	require.NoError(t, err)
	assert.Empty(t, donors)
}
