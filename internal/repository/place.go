package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"travel-points/internal/catalog"
	"travel-points/internal/geo"
	"travel-points/internal/model"
)

// PlaceRepository handles place persistence.
type PlaceRepository struct {
	pool *pgxpool.Pool
}

// NewPlaceRepository creates a new PlaceRepository instance.
func NewPlaceRepository(pool *pgxpool.Pool) *PlaceRepository {
	return &PlaceRepository{pool: pool}
}

const placeColumns = `id, name, category, legacy_type, city, latitude, longitude, point_value, visit_count, created_at`

func scanPlace(row pgx.Row) (*model.Place, error) {
	var (
		p        model.Place
		category string
		lat, lon *float64
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&category,
		&p.LegacyType,
		&p.City,
		&lat,
		&lon,
		&p.PointValue,
		&p.VisitCount,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Category = catalog.Category(category)
	if lat != nil && lon != nil {
		p.Location = &geo.Coordinate{Latitude: *lat, Longitude: *lon}
	}
	return &p, nil
}

func collectPlaces(rows pgx.Rows) ([]*model.Place, error) {
	defer rows.Close()

	var places []*model.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		places = append(places, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating places: %w", err)
	}
	return places, nil
}

// CreatePlace inserts a place. Location may be nil.
func (r *PlaceRepository) CreatePlace(ctx context.Context, p *model.Place) (*model.Place, error) {
	const query = `
		INSERT INTO places (name, category, legacy_type, city, city_key, latitude, longitude, point_value, visit_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING ` + placeColumns

	var lat, lon *float64
	if p.Location != nil {
		lat, lon = &p.Location.Latitude, &p.Location.Longitude
	}

	created, err := scanPlace(r.pool.QueryRow(ctx, query,
		p.Name, string(p.Category), p.LegacyType, p.City, catalog.CityKey(p.City),
		lat, lon, p.PointValue, p.VisitCount,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create place: %w", err)
	}
	return created, nil
}

// GetPlace retrieves a place by ID.
// Returns ErrPlaceNotFound if the place does not exist.
func (r *PlaceRepository) GetPlace(ctx context.Context, id int64) (*model.Place, error) {
	const query = `SELECT ` + placeColumns + ` FROM places WHERE id = $1`

	p, err := scanPlace(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlaceNotFound
		}
		return nil, fmt.Errorf("failed to get place: %w", err)
	}
	return p, nil
}

// IncrementVisitCount adds one to the place's visitor counter.
func (r *PlaceRepository) IncrementVisitCount(ctx context.Context, id int64) error {
	const query = `UPDATE places SET visit_count = visit_count + 1 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment visit count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrPlaceNotFound
	}
	return nil
}

// ListPlacesByCity returns every place in a city, most visited first.
func (r *PlaceRepository) ListPlacesByCity(ctx context.Context, city string) ([]*model.Place, error) {
	const query = `
		SELECT ` + placeColumns + `
		FROM places
		WHERE city_key = $1
		ORDER BY visit_count DESC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, catalog.CityKey(city))
	if err != nil {
		return nil, fmt.Errorf("failed to list places: %w", err)
	}
	return collectPlaces(rows)
}

// ListPlacesNear returns up to limit places within radiusMeters of center,
// nearest first. The bounding box narrows the scan; the exact check is
// the haversine distance.
func (r *PlaceRepository) ListPlacesNear(ctx context.Context, center geo.Coordinate, radiusMeters float64, limit int) ([]*model.Place, error) {
	const query = `
		SELECT ` + placeColumns + `
		FROM places
		WHERE latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
	`

	box := geo.BoundingBox(center, radiusMeters)
	rows, err := r.pool.Query(ctx, query, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon)
	if err != nil {
		return nil, fmt.Errorf("failed to list nearby places: %w", err)
	}
	candidates, err := collectPlaces(rows)
	if err != nil {
		return nil, err
	}

	return Nearest(candidates, center, radiusMeters, limit), nil
}

// Nearest filters places to radiusMeters of center and sorts them by
// distance. A non-positive limit keeps every match.
func Nearest(places []*model.Place, center geo.Coordinate, radiusMeters float64, limit int) []*model.Place {
	type ranked struct {
		place *model.Place
		dist  float64
	}

	var in []ranked
	for _, p := range places {
		if !p.HasLocation() {
			continue
		}
		if d := geo.DistanceMeters(center, *p.Location); d <= radiusMeters {
			in = append(in, ranked{p, d})
		}
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].dist < in[j].dist })

	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	out := make([]*model.Place, len(in))
	for i, rp := range in {
		out[i] = rp.place
	}
	return out
}
