package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/offlinemind/memstore/pkg/errs"
	"github.com/offlinemind/memstore/pkg/props"
)

// MemoryID derives a stable id for a memory node from its owner and
// content, so re-recording the same memory merges instead of duplicating.
func MemoryID(userID, content string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return "memory:" + hex.EncodeToString(h.Sum(nil))
}

// CreateMemoryWithRelationships records one memory for a user as a single
// logical unit: the Memory node, a HAS_MEMORY edge from the user,
// RELATES_TO edges to each topic and RELATED_TO edges to each entity.
// Topic and entity nodes are upserted as needed.
//
// The sequence is not atomic: each primitive takes the writer lock on its
// own, so a concurrent reader may observe the memory node before its
// edges exist. Callers must tolerate that window.
func (s *Store) CreateMemoryWithRelationships(ctx context.Context, userID, content string, properties props.Map, topics, entities []string) (*Node, error) {
	if userID == "" {
		return nil, errs.Wrapf("create_memory", errs.ErrValidation, "user id cannot be empty")
	}
	if content == "" {
		return nil, errs.Wrapf("create_memory", errs.ErrValidation, "memory content cannot be empty")
	}

	if _, err := s.UpsertNode(ctx, userID, LabelUser, nil); err != nil {
		return nil, err
	}

	memProps := properties.Merge(props.Map{"content": props.String(content)})
	memoryID := MemoryID(userID, content)
	memory, err := s.UpsertNode(ctx, memoryID, LabelMemory, memProps)
	if err != nil {
		return nil, err
	}

	if _, err := s.UpsertEdge(ctx, userID, memoryID, RelHasMemory, nil, 1.0); err != nil {
		return nil, err
	}

	for _, topic := range topics {
		if topic == "" {
			continue
		}
		topicID := "topic:" + topic
		if _, err := s.UpsertNode(ctx, topicID, LabelTopic, props.Map{"name": props.String(topic)}); err != nil {
			return nil, err
		}
		if _, err := s.UpsertEdge(ctx, memoryID, topicID, RelRelatesTo, nil, 1.0); err != nil {
			return nil, err
		}
	}

	for _, entity := range entities {
		if entity == "" {
			continue
		}
		entityID := "entity:" + entity
		if _, err := s.UpsertNode(ctx, entityID, LabelEntity, props.Map{"name": props.String(entity)}); err != nil {
			return nil, err
		}
		if _, err := s.UpsertEdge(ctx, memoryID, entityID, RelRelatedTo, nil, 1.0); err != nil {
			return nil, err
		}
	}

	return memory, nil
}

// UserContext is the composed relationship view around one user node.
type UserContext struct {
	UserID     string             `json:"user_id"`
	Related    map[string][]*Node `json:"related"`     // related nodes grouped by label
	TopCentral []*Node            `json:"top_central"` // related nodes ranked by centrality
}

// topCentralLimit caps the ranked slice in UserRelationshipContext.
const topCentralLimit = 10

// UserRelationshipContext composes GetRelated and ComputeCentrality into
// the convenience view callers use to prime conversations: everything
// reachable from the user within maxDepth, grouped by label, plus the most
// central of those nodes.
func (s *Store) UserRelationshipContext(ctx context.Context, userID string, maxDepth int) (*UserContext, error) {
	related, err := s.GetRelated(ctx, userID, nil, maxDepth)
	if err != nil {
		return nil, err
	}

	scores, err := s.ComputeCentrality(ctx)
	if err != nil {
		return nil, err
	}

	out := &UserContext{
		UserID:  userID,
		Related: make(map[string][]*Node),
	}
	for _, n := range related {
		out.Related[n.Label] = append(out.Related[n.Label], n)
	}

	ranked := make([]*Node, len(related))
	copy(ranked, related)
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i].ID] > scores[ranked[j].ID]
	})
	if len(ranked) > topCentralLimit {
		ranked = ranked[:topCentralLimit]
	}
	out.TopCentral = ranked
	return out, nil
}
