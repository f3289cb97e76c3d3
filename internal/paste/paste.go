// Package paste publishes whole trees to an external store when they are
// too large to embed in a link.
package paste

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AtharvRG/fractal/internal/dispatch"
	"github.com/AtharvRG/fractal/pkg/models"
)

// Store publishes and fetches trees by id.
type Store interface {
	Publish(ctx context.Context, t models.Tree) (string, error)
	Fetch(ctx context.Context, id string) (models.Tree, error)
}

func marshalTree(t models.Tree) ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal tree: %w", err)
	}
	return b, nil
}

func unmarshalTree(b []byte) (models.Tree, error) {
	return dispatch.ParseJSONTree(b)
}
