// Package search keeps a searchable directory of user profiles.
package search

import (
	"context"
	"fmt"

	"colleague-auth/internal/models"
)

// Index is satisfied by *client.ESClient.
type Index interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
	Search(ctx context.Context, index string, query map[string]interface{}, target interface{}) error
}

// Directory indexes public profiles and searches them by name or handle.
type Directory struct {
	es    Index
	index string
}

func NewDirectory(es Index, index string) *Directory {
	return &Directory{es: es, index: index}
}

type document struct {
	ID       string `json:"id"`
	UserName string `json:"user_name"`
	Handle   string `json:"user_id"`
	Gender   int    `json:"gender"`
	Avatar   string `json:"avatar"`
}

// Put creates or replaces the directory entry of p. The mobile number is
// never indexed.
func (d *Directory) Put(ctx context.Context, p models.Profile) error {
	doc := document{ID: p.ID, UserName: p.UserName, Handle: p.Handle, Gender: p.Gender, Avatar: p.Avatar}
	if err := d.es.IndexDocument(ctx, d.index, p.ID, doc); err != nil {
		return fmt.Errorf("failed to index user %s: %w", p.ID, err)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search matches q against display names and handles.
func (d *Directory) Search(ctx context.Context, q string, limit int) ([]models.Profile, error) {
	if limit <= 0 {
		limit = 20
	}
	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"user_id.keyword": map[string]interface{}{"value": q, "boost": 3}}},
					map[string]interface{}{"match": map[string]interface{}{"user_name": map[string]interface{}{"query": q, "fuzziness": "AUTO"}}},
				},
				"minimum_should_match": 1,
			},
		},
	}

	var res searchResponse
	if err := d.es.Search(ctx, d.index, query, &res); err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}

	out := make([]models.Profile, 0, len(res.Hits.Hits))
	for _, h := range res.Hits.Hits {
		out = append(out, models.Profile{
			ID:       h.Source.ID,
			UserName: h.Source.UserName,
			Handle:   h.Source.Handle,
			Gender:   h.Source.Gender,
			Avatar:   h.Source.Avatar,
		})
	}
	return out, nil
}
