package vecindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

// vectorClient is the subset of the Qdrant API the gateway uses. Tests swap
// in a fake.
type vectorClient interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, name string) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) error
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Scroll(ctx context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Count(ctx context.Context, name string) (uint64, error)
	CollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error)
}

// grpcClient adapts the official Qdrant gRPC client to vectorClient.
type grpcClient struct {
	client *qdrant.Client
}

var _ vectorClient = (*grpcClient)(nil)

// NewGRPCClient connects to Qdrant at the given URL. Accepted forms:
// "http://host:6334", "https://host:6334", "host:6334", "host".
func NewGRPCClient(rawURL, apiKey string) (*grpcClient, error) {
	host, port, useTLS, err := parseQdrantURL(rawURL)
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeConfigInvalid,
			"invalid qdrant url: "+rawURL)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeIndexUnavailable,
			"failed to connect to qdrant at "+rawURL)
	}
	return &grpcClient{client: client}, nil
}

func parseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	host, port = "localhost", 6334
	if raw == "" {
		return host, port, false, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, err
	}
	if u.Hostname() != "" {
		host = u.Hostname()
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port %q", p)
		}
	}
	return host, port, u.Scheme == "https", nil
}

func (c *grpcClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	return c.client.CollectionExists(ctx, name)
}

func (c *grpcClient) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	return c.client.CreateCollection(ctx, req)
}

func (c *grpcClient) DeleteCollection(ctx context.Context, name string) error {
	return c.client.DeleteCollection(ctx, name)
}

func (c *grpcClient) CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) error {
	_, err := c.client.CreateFieldIndex(ctx, req)
	return err
}

func (c *grpcClient) Upsert(ctx context.Context, req *qdrant.UpsertPoints) error {
	_, err := c.client.Upsert(ctx, req)
	return err
}

func (c *grpcClient) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	return c.client.Query(ctx, req)
}

func (c *grpcClient) Scroll(ctx context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
	return c.client.Scroll(ctx, req)
}

func (c *grpcClient) Count(ctx context.Context, name string) (uint64, error) {
	return c.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
}

func (c *grpcClient) CollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
	return c.client.GetCollectionInfo(ctx, name)
}

// valueToAny converts a Qdrant payload value to plain Go data.
func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = valueToAny(item)
		}
		return out
	case *qdrant.Value_StructValue:
		return payloadToMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}

// payloadToMap converts a Qdrant payload to a plain map.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}
