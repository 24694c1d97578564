package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/discoursekg/discoursekg/pkg/repo"
)

// GraphStore provides direct graph operations plus a generic repository
// per node type, the same split the teacher used between its own
// session-based methods and pkg/repo.Neo4jRepo.
type GraphStore struct {
	driver         neo4j.DriverWithContext
	speakers       *repo.Neo4jRepo[Speaker, string]
	communications *repo.Neo4jRepo[Communication, string]
	entities       *repo.Neo4jRepo[Entity, string]
}

// New creates a GraphStore backed by driver.
func New(driver neo4j.DriverWithContext) *GraphStore {
	return &GraphStore{
		driver:         driver,
		speakers:       newSpeakerRepo(driver),
		communications: newCommunicationRepo(driver),
		entities:       newEntityRepo(driver),
	}
}

// GetSpeaker returns a Speaker node by name.
func (g *GraphStore) GetSpeaker(ctx context.Context, name string) (Speaker, error) {
	return g.speakers.Get(ctx, name)
}

// GetCommunication returns a Communication node by id.
func (g *GraphStore) GetCommunication(ctx context.Context, id string) (Communication, error) {
	return g.communications.Get(ctx, id)
}

// GetEntity returns an Entity node by canonical name.
func (g *GraphStore) GetEntity(ctx context.Context, name string) (Entity, error) {
	return g.entities.Get(ctx, name)
}

// MentionCount returns how many Mention nodes exist for a communication,
// for checking the cardinality invariant end to end against a live graph.
func (g *GraphStore) MentionCount(ctx context.Context, communicationID string) (int, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`MATCH (c:Communication {id: $id})-[:HAS_MENTION]->(m:Mention) RETURN count(m) AS n`,
		map[string]any{"id": communicationID})
	if err != nil {
		return 0, err
	}
	if !result.Next(ctx) {
		return 0, nil
	}
	n, _, err := neo4j.GetRecordValue[int64](result.Record(), "n")
	if err != nil {
		return 0, fmt.Errorf("graph: mention count: %w", err)
	}
	return int(n), nil
}
