package graph

import (
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/discoursekg/discoursekg/engine/domain"
	"github.com/discoursekg/discoursekg/pkg/repo"
)

func newSpeakerRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Speaker, string] {
	return repo.NewNeo4jRepo[Speaker, string](driver, "Speaker",
		func(s Speaker) map[string]any { return map[string]any{"name": s.Name} },
		func(rec *neo4j.Record) (Speaker, error) {
			props, err := nodeProps(rec)
			if err != nil {
				return Speaker{}, err
			}
			return Speaker{Name: strProp(props, "name")}, nil
		},
		repo.WithIDKey[Speaker, string]("name"),
	)
}

func newCommunicationRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Communication, string] {
	return repo.NewNeo4jRepo[Communication, string](driver, "Communication",
		func(c Communication) map[string]any {
			return map[string]any{
				"id": c.ID, "speaker": c.Speaker, "source_url": c.SourceURL,
				"title": c.Title, "content_date": c.ContentDate,
				"content_type": string(c.ContentType), "summary": c.Summary,
			}
		},
		func(rec *neo4j.Record) (Communication, error) {
			props, err := nodeProps(rec)
			if err != nil {
				return Communication{}, err
			}
			return Communication{
				ID: strProp(props, "id"), Speaker: strProp(props, "speaker"),
				SourceURL: strProp(props, "source_url"), Title: strProp(props, "title"),
				ContentDate: strProp(props, "content_date"),
				ContentType: domain.ContentType(strProp(props, "content_type")),
				Summary:     strProp(props, "summary"),
			}, nil
		},
	)
}

func newEntityRepo(driver neo4j.DriverWithContext) *repo.Neo4jRepo[Entity, string] {
	return repo.NewNeo4jRepo[Entity, string](driver, "Entity",
		func(e Entity) map[string]any {
			return map[string]any{"canonical_name": e.CanonicalName, "entity_type": string(e.EntityType)}
		},
		func(rec *neo4j.Record) (Entity, error) {
			props, err := nodeProps(rec)
			if err != nil {
				return Entity{}, err
			}
			return Entity{
				CanonicalName: strProp(props, "canonical_name"),
				EntityType:    domain.EntityType(strProp(props, "entity_type")),
			}, nil
		},
		repo.WithIDKey[Entity, string]("canonical_name"),
	)
}

// nodeProps extracts the Neo4j node properties from a record's sole
// returned column "n", matching the teacher's componentFromRecord shape.
func nodeProps(rec *neo4j.Record) (map[string]any, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return nil, err
	}
	return node.Props, nil
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
