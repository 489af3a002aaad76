// Package vectorsearch retrieves related style examples from a vector index.
package vectorsearch

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/bytedance/sonic"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/DocRefine/backend/internal/infrastructure/resilience"
)

// Dependency is the breaker and metrics name for this service
const Dependency = "vector-search"

var ErrGraphQL = errors.New("vector search query failed")

// Example is a stored passage similar to the query vector
type Example struct {
	Text      string  `json:"text"`
	Certainty float64 `json:"certainty"`
}

// Searcher is the vector-search boundary
type Searcher interface {
	Related(ctx context.Context, vector []float32, limit int) ([]Example, error)
}

// Config holds Weaviate connection settings
type Config struct {
	Host   string
	Scheme string
	Class  string
	Field  string
}

// Weaviate implements Searcher with a NearVector GraphQL query
type Weaviate struct {
	client *weaviate.Client
	class  string
	field  string
	logger *zap.Logger
}

// NewWeaviate creates a searcher for cfg.Class
func NewWeaviate(cfg Config, logger *zap.Logger) (*Weaviate, error) {
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.Host,
		Scheme: cfg.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	field := cfg.Field
	if field == "" {
		field = "text"
	}

	return &Weaviate{
		client: client,
		class:  cfg.Class,
		field:  field,
		logger: logger.Named("vectorsearch"),
	}, nil
}

type queryResponse struct {
	Get map[string][]map[string]interface{} `json:"Get"`
}

// Related returns up to limit examples nearest to vector
func (w *Weaviate) Related(ctx context.Context, vector []float32, limit int) ([]Example, error) {
	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: w.field},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("weaviate search: %w", err))
	}

	return w.parse(result)
}

func (w *Weaviate) parse(result *models.GraphQLResponse) ([]Example, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: nil response", ErrGraphQL)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrGraphQL, result.Errors[0].Message)
	}

	raw, err := sonic.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql data: %w", err)
	}
	var parsed queryResponse
	if err := sonic.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal graphql data: %w", err)
	}

	hits := parsed.Get[w.class]
	examples := make([]Example, 0, len(hits))
	for _, hit := range hits {
		text, _ := hit[w.field].(string)
		if text == "" {
			continue
		}
		ex := Example{Text: text}
		if add, ok := hit["_additional"].(map[string]interface{}); ok {
			ex.Certainty, _ = add["certainty"].(float64)
		}
		examples = append(examples, ex)
	}

	w.logger.Debug("vector search completed", zap.String("class", w.class), zap.Int("hits", len(examples)))
	return examples, nil
}

// Ready reports whether the Weaviate node answers its readiness probe
func (w *Weaviate) Ready(ctx context.Context) error {
	ok, err := w.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate readiness: %w", err)
	}
	if !ok {
		return errors.New("weaviate not ready")
	}
	return nil
}

func classify(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return resilience.Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return resilience.Transient(err)
	}
	return err
}
