package qdrant

import (
	"context"
	"fmt"
	"testing"

	qdrantclient "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/index"
)

type fakePoints struct {
	qdrantclient.PointsClient
	upserts [][]*qdrantclient.PointStruct
	search  *qdrantclient.SearchPoints
	hits    []*qdrantclient.ScoredPoint
}

func (f *fakePoints) Upsert(ctx context.Context, in *qdrantclient.UpsertPoints, opts ...grpc.CallOption) (*qdrantclient.PointsOperationResponse, error) {
	f.upserts = append(f.upserts, append([]*qdrantclient.PointStruct(nil), in.GetPoints()...))
	return &qdrantclient.PointsOperationResponse{}, nil
}

func (f *fakePoints) Search(ctx context.Context, in *qdrantclient.SearchPoints, opts ...grpc.CallOption) (*qdrantclient.SearchResponse, error) {
	f.search = in
	return &qdrantclient.SearchResponse{Result: f.hits}, nil
}

type fakeCollections struct {
	qdrantclient.CollectionsClient
	names   []string
	created *qdrantclient.CreateCollection
}

func (f *fakeCollections) List(ctx context.Context, in *qdrantclient.ListCollectionsRequest, opts ...grpc.CallOption) (*qdrantclient.ListCollectionsResponse, error) {
	resp := &qdrantclient.ListCollectionsResponse{}
	for _, n := range f.names {
		resp.Collections = append(resp.Collections, &qdrantclient.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (f *fakeCollections) Create(ctx context.Context, in *qdrantclient.CreateCollection, opts ...grpc.CallOption) (*qdrantclient.CollectionOperationResponse, error) {
	f.created = in
	f.names = append(f.names, in.GetCollectionName())
	return &qdrantclient.CollectionOperationResponse{Result: true}, nil
}

func hit(id, text string, position int, score float32) *qdrantclient.ScoredPoint {
	return &qdrantclient.ScoredPoint{
		Score: score,
		Payload: map[string]*qdrantclient.Value{
			fieldID:       stringValue(id),
			fieldText:     stringValue(text),
			fieldLocator:  stringValue("Chapter 58"),
			fieldPosition: intValue(position),
		},
	}
}

func TestSearchVector(t *testing.T) {
	points := &fakePoints{hits: []*qdrantclient.ScoredPoint{
		hit("p9", "later tie", 9, 0.5),
		hit("p1", "best", 1, 0.9),
		hit("p4", "earlier tie", 4, 0.5),
		{Score: 0.4},
	}}
	s := New(points, &fakeCollections{}, "book_passages")

	ps, err := s.SearchVector(context.Background(), []float32{0.1, 0.2}, 5)
	require.NoError(t, err)
	require.Len(t, ps, 3)
	assert.Equal(t, []string{"p1", "p4", "p9"}, []string{ps[0].ID, ps[1].ID, ps[2].ID})
	assert.Equal(t, "Chapter 58", ps[0].Locator)
	assert.InDelta(t, 0.9, ps[0].Score, 1e-6)

	assert.Equal(t, "book_passages", points.search.GetCollectionName())
	assert.Equal(t, uint64(5), points.search.GetLimit())
}

func TestUpsertBatches(t *testing.T) {
	points := &fakePoints{}
	s := New(points, &fakeCollections{}, "book_passages")

	records := make([]index.Record, 250)
	for i := range records {
		records[i] = index.Record{
			Passage:   model.Passage{ID: fmt.Sprintf("p%d", i), Text: "text", Position: i},
			Embedding: []float32{1, 0},
		}
	}
	require.NoError(t, s.Upsert(context.Background(), records))
	require.Len(t, points.upserts, 3)
	assert.Len(t, points.upserts[0], 100)
	assert.Len(t, points.upserts[2], 50)

	first := points.upserts[0][0]
	assert.Equal(t, "p0", first.GetPayload()[fieldID].GetStringValue())
	assert.Equal(t, pointID("p0").GetUuid(), first.GetId().GetUuid())
	assert.NotEqual(t, pointID("p0").GetUuid(), pointID("p1").GetUuid())
}

func TestEnsureCollection(t *testing.T) {
	collections := &fakeCollections{names: []string{"other"}}
	s := New(&fakePoints{}, collections, "book_passages")

	require.NoError(t, s.EnsureCollection(context.Background(), 768))
	require.NotNil(t, collections.created)
	assert.Equal(t, uint64(768), collections.created.GetVectorsConfig().GetParams().GetSize())

	collections.created = nil
	require.NoError(t, s.EnsureCollection(context.Background(), 768))
	assert.Nil(t, collections.created)
}
