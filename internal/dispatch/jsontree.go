package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/protocol"
	"github.com/AtharvRG/fractal/pkg/tree"
)

// ParseJSONTree parses an id-keyed JSON object of nodes. Missing ids are
// taken from the keys and the tree is normalized before it is returned.
func ParseJSONTree(b []byte) (models.Tree, error) {
	var t models.Tree
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrUnsupportedPayload, err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: not a JSON object", protocol.ErrUnsupportedPayload)
	}
	for id, n := range t {
		if n == nil {
			return nil, fmt.Errorf("%w: node %q is null", protocol.ErrUnsupportedPayload, id)
		}
		if n.ID == "" {
			n.ID = id
		}
		if n.ID != id {
			return nil, fmt.Errorf("%w: node key %q holds id %q", protocol.ErrUnsupportedPayload, id, n.ID)
		}
	}
	tree.Normalize(t)
	return t, nil
}
