package search

import (
	"context"
	"sort"

	"github.com/damoang/angple-groupbuy/internal/domain"
	"github.com/damoang/angple-groupbuy/internal/geo"
	"github.com/damoang/angple-groupbuy/internal/repository"
)

type dbIndex struct {
	repo repository.ListingRepository
	opts Options
}

// NewDBIndex 사각 범위로 후보를 좁힌 뒤 대원 거리로 거르고 정렬한다
func NewDBIndex(repo repository.ListingRepository, opts Options) Index {
	return &dbIndex{repo: repo, opts: opts}
}

type candidate struct {
	listing  *domain.Listing
	distance float64
}

func (i *dbIndex) FindNear(ctx context.Context, q NearQuery) ([]domain.ListingSummary, error) {
	if err := i.opts.Normalize(&q); err != nil {
		return nil, err
	}

	center := q.Center()
	box := geo.BoundingBox(center, q.RadiusMeters)

	listings, err := i.repo.FindInBox(ctx, box, &repository.GeoFilter{
		Category:   q.Category,
		ActiveOnly: q.ActiveOnly,
		PoolOnly:   q.PoolOnly,
		Near:       &center,
	})
	if err != nil {
		return nil, err
	}

	matches := make([]candidate, 0, len(listings))
	for _, l := range listings {
		d := geo.Distance(center, l.Point())
		if d <= q.RadiusMeters {
			matches = append(matches, candidate{listing: l, distance: d})
		}
	}

	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].distance != matches[b].distance {
			return matches[a].distance < matches[b].distance
		}
		return matches[a].listing.ID < matches[b].listing.ID
	})

	if len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}

	result := make([]domain.ListingSummary, 0, len(matches))
	for _, m := range matches {
		result = append(result, m.listing.ToSummary(m.distance))
	}
	return result, nil
}
