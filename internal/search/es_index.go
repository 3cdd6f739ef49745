package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/pkg/elasticsearch"
)

// ListingDocument Elasticsearch 상품 문서. location 은 [lon, lat]
type ListingDocument struct {
	ID        uint64               `json:"id"`
	Title     string               `json:"title"`
	Category  string               `json:"category"`
	Price     float64              `json:"price"`
	Status    domain.ListingStatus `json:"status"`
	Thumbnail string               `json:"thumbnail"`
	Address   string               `json:"address"`
	Location  [2]float64           `json:"location"`
	PoolOpen  bool                 `json:"pool_open"`
	// PoolEnd 마감 시간. 스윕 전이라도 지난 풀은 검색에서 제외한다
	PoolEnd   *time.Time          `json:"pool_end_time,omitempty"`
	Pool      *domain.PoolSummary `json:"pool,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// NewListingDocument 상품 → 문서
func NewListingDocument(l *domain.Listing) ListingDocument {
	s := l.ToSummary(0)
	return ListingDocument{
		ID:        l.ID,
		Title:     l.Title,
		Category:  l.Category,
		Price:     l.Price,
		Status:    l.Status,
		Thumbnail: s.Thumbnail,
		Address:   l.Address,
		Location:  s.Location,
		PoolOpen:  l.Pool.Enabled && l.Pool.State == domain.PoolStateOpen,
		PoolEnd:   l.Pool.EndTime,
		Pool:      s.Pool,
		UpdatedAt: l.UpdatedAt,
	}
}

func (d ListingDocument) toSummary(distance float64) domain.ListingSummary {
	return domain.ListingSummary{
		ID:             d.ID,
		Title:          d.Title,
		Category:       d.Category,
		Price:          d.Price,
		Status:         d.Status,
		Thumbnail:      d.Thumbnail,
		Location:       d.Location,
		Address:        d.Address,
		DistanceMeters: distance,
		Pool:           d.Pool,
	}
}

// ESIndex geo_point 기반 검색 + 문서 동기화
type ESIndex struct {
	client *elasticsearch.Client
	index  string
	opts   Options
}

// NewESIndex 생성자
func NewESIndex(client *elasticsearch.Client, index string, opts Options) *ESIndex {
	return &ESIndex{client: client, index: index, opts: opts}
}

// FindNear geo_distance 필터 + _geo_distance 정렬
func (i *ESIndex) FindNear(ctx context.Context, q NearQuery) ([]domain.ListingSummary, error) {
	if err := i.opts.Normalize(&q); err != nil {
		return nil, err
	}

	res, err := i.client.Search(ctx, i.index, buildNearQuery(q), q.Limit)
	if err != nil {
		return nil, fmt.Errorf("es nearby search: %w", err)
	}

	result := make([]domain.ListingSummary, 0, len(res.Hits))
	for _, hit := range res.Hits {
		var doc ListingDocument
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			return nil, fmt.Errorf("decode listing document %s: %w", hit.ID, err)
		}
		var distance float64
		if len(hit.Sort) > 0 {
			if v, ok := hit.Sort[0].(float64); ok {
				distance = v
			}
		}
		result = append(result, doc.toSummary(distance))
	}
	return result, nil
}

func buildNearQuery(q NearQuery) map[string]interface{} {
	location := []float64{q.Longitude, q.Latitude}

	filters := []interface{}{
		map[string]interface{}{
			"geo_distance": map[string]interface{}{
				"distance": strconv.FormatFloat(q.RadiusMeters, 'f', -1, 64) + "m",
				"location": location,
			},
		},
	}
	if q.Category != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"category": q.Category}})
	}
	if q.ActiveOnly {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"status": domain.ListingStatusActive}})
	}
	if q.PoolOnly {
		filters = append(filters,
			map[string]interface{}{"term": map[string]interface{}{"pool_open": true}},
			map[string]interface{}{"range": map[string]interface{}{"pool_end_time": map[string]interface{}{"gt": "now"}}},
		)
	}

	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": filters,
				"must_not": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"status": domain.ListingStatusInactive}},
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{
				"_geo_distance": map[string]interface{}{
					"location":      location,
					"order":         "asc",
					"unit":          "m",
					"distance_type": "arc",
				},
			},
			map[string]interface{}{"id": "asc"},
		},
	}
}

// Upsert 상품 문서 색인
func (i *ESIndex) Upsert(ctx context.Context, l *domain.Listing) error {
	return i.client.IndexDocument(ctx, i.index, strconv.FormatUint(l.ID, 10), NewListingDocument(l))
}

// Remove 상품 문서 삭제
func (i *ESIndex) Remove(ctx context.Context, listingID uint64) error {
	return i.client.DeleteDocument(ctx, i.index, strconv.FormatUint(listingID, 10))
}
