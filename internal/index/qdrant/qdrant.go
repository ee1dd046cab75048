// Package qdrant searches passages stored in a Qdrant collection over gRPC.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrantclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bookweather-chat/server/internal/agent/model"
	"github.com/bookweather-chat/server/internal/index"
	logx "github.com/bookweather-chat/server/pkg/logger"
)

const upsertBatch = 100

// payload fields stored with every point
const (
	fieldID       = "id"
	fieldText     = "text"
	fieldLocator  = "locator"
	fieldPosition = "position"
)

// passageNamespace derives stable point ids from passage ids.
var passageNamespace = uuid.MustParse("6f1c1c1e-3d0b-4b8e-9a57-0a6d2b1f4c11")

type Store struct {
	conn        *grpc.ClientConn
	points      qdrantclient.PointsClient
	collections qdrantclient.CollectionsClient
	collection  string
}

// Dial connects to Qdrant's gRPC port.
func Dial(host string, port int, collection string) (*Store, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", addr, err)
	}
	s := New(qdrantclient.NewPointsClient(conn), qdrantclient.NewCollectionsClient(conn), collection)
	s.conn = conn
	return s, nil
}

// New builds a store from existing clients.
func New(points qdrantclient.PointsClient, collections qdrantclient.CollectionsClient, collection string) *Store {
	return &Store{points: points, collections: collections, collection: collection}
}

// EnsureCollection creates the collection with cosine distance when it is missing.
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	list, err := s.collections.List(ctx, &qdrantclient.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &qdrantclient.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &qdrantclient.VectorsConfig{
			Config: &qdrantclient.VectorsConfig_Params{
				Params: &qdrantclient.VectorParams{
					Size:     uint64(dimension),
					Distance: qdrantclient.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", s.collection, err)
	}
	logx.Info().Str("collection", s.collection).Int("dimension", dimension).Msg("Created Qdrant collection")
	return nil
}

func stringValue(s string) *qdrantclient.Value {
	return &qdrantclient.Value{Kind: &qdrantclient.Value_StringValue{StringValue: s}}
}

func intValue(n int) *qdrantclient.Value {
	return &qdrantclient.Value{Kind: &qdrantclient.Value_IntegerValue{IntegerValue: int64(n)}}
}

func pointID(passageID string) *qdrantclient.PointId {
	return &qdrantclient.PointId{
		PointIdOptions: &qdrantclient.PointId_Uuid{
			Uuid: uuid.NewSHA1(passageNamespace, []byte(passageID)).String(),
		},
	}
}

// Upsert writes records in batches.
func (s *Store) Upsert(ctx context.Context, records []index.Record) error {
	batch := make([]*qdrantclient.PointStruct, 0, upsertBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := s.points.Upsert(ctx, &qdrantclient.UpsertPoints{
			CollectionName: s.collection,
			Points:         batch,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert points: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for _, r := range records {
		p := r.Passage
		batch = append(batch, &qdrantclient.PointStruct{
			Id: pointID(p.ID),
			Vectors: &qdrantclient.Vectors{
				VectorsOptions: &qdrantclient.Vectors_Vector{
					Vector: &qdrantclient.Vector{Data: r.Embedding},
				},
			},
			Payload: map[string]*qdrantclient.Value{
				fieldID:       stringValue(p.ID),
				fieldText:     stringValue(p.Text),
				fieldLocator:  stringValue(p.Locator),
				fieldPosition: intValue(p.Position),
			},
		})
		if len(batch) >= upsertBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// SearchVector runs a nearest-neighbour search in the collection.
func (s *Store) SearchVector(ctx context.Context, vector []float32, topK int) ([]model.Passage, error) {
	resp, err := s.points.Search(ctx, &qdrantclient.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Include{
				Include: &qdrantclient.PayloadIncludeSelector{
					Fields: []string{fieldID, fieldText, fieldLocator, fieldPosition},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search in Qdrant: %w", err)
	}

	out := make([]model.Passage, 0, len(resp.GetResult()))
	for _, hit := range resp.GetResult() {
		payload := hit.GetPayload()
		text := payload[fieldText].GetStringValue()
		if text == "" {
			continue
		}
		out = append(out, model.Passage{
			ID:       payload[fieldID].GetStringValue(),
			Text:     text,
			Locator:  payload[fieldLocator].GetStringValue(),
			Position: int(payload[fieldPosition].GetIntegerValue()),
			Score:    float64(hit.GetScore()),
		})
	}
	index.Sort(out)
	return out, nil
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

var (
	_ index.VectorStore = (*Store)(nil)
	_ index.Writer      = (*Store)(nil)
)
