package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"travel-points/internal/catalog"
	"travel-points/internal/geo"
	"travel-points/internal/model"
	"travel-points/internal/service"
)

type seedPlace struct {
	name     string
	category catalog.Category
	legacy   string
	lat, lon float64
	points   int64
}

// seedCities is a small starter catalogue for demos and local runs.
var seedCities = map[string][]seedPlace{
	"Istanbul": {
		{"Hagia Sophia", catalog.CategoryReligious, "", 41.0086, 28.9802, 100},
		{"Blue Mosque", catalog.CategoryReligious, "", 41.0054, 28.9768, 90},
		{"Süleymaniye Mosque", catalog.CategoryReligious, "", 41.0162, 28.9639, 80},
		{"Topkapı Palace", catalog.CategoryHistoric, "", 41.0115, 28.9834, 100},
		{"Galata Tower", catalog.CategoryViewpoint, "", 41.0256, 28.9742, 80},
		{"Basilica Cistern", catalog.CategoryHistoric, "", 41.0084, 28.9779, 70},
		{"Istanbul Archaeology Museums", catalog.CategoryMuseum, "", 41.0117, 28.9814, 70},
		{"Pera Museum", catalog.CategoryMuseum, "", 41.0317, 28.9754, 60},
		{"Istanbul Modern", catalog.CategoryMuseum, "", 41.0266, 28.9839, 60},
		{"Grand Bazaar", catalog.CategoryUnknown, "covered bazaar", 41.0107, 28.9681, 70},
		{"Spice Bazaar", catalog.CategoryMarket, "", 41.0166, 28.9706, 60},
		{"Kadıköy Market", catalog.CategoryMarket, "", 40.9906, 29.0258, 50},
		{"Moda Park", catalog.CategoryPark, "", 40.9823, 29.0257, 40},
		{"Gülhane Park", catalog.CategoryPark, "", 41.0133, 28.9814, 40},
		{"Emirgan Park", catalog.CategoryPark, "", 41.1086, 29.0532, 50},
		{"Pierre Loti Hill", catalog.CategoryUnknown, "hilltop viewpoint", 41.0537, 28.9336, 60},
		{"Çamlıca Hill", catalog.CategoryViewpoint, "", 41.0274, 29.0687, 60},
		{"Pandeli", catalog.CategoryRestaurant, "", 41.0170, 28.9708, 40},
		{"Mandabatmaz", catalog.CategoryCafe, "", 41.0343, 28.9770, 30},
		{"Old Tram Stop", catalog.CategoryOther, "", 41.0333, 28.9778, 20},
	},
	"Izmir": {
		{"Clock Tower", catalog.CategoryHistoric, "", 38.4189, 27.1287, 60},
		{"Kemeraltı Bazaar", catalog.CategoryMarket, "", 38.4192, 27.1310, 60},
		{"Kadifekale", catalog.CategoryViewpoint, "", 38.4134, 27.1453, 70},
		{"Asansör", catalog.CategoryViewpoint, "", 38.4086, 27.1192, 60},
		{"Kordon", catalog.CategoryUnknown, "seaside promenade park", 38.4340, 27.1420, 40},
	},
}

// seedPlaces adds the starter catalogue to cities that have no places.
func seedPlaces(ctx context.Context, discovery *service.DiscoveryService) error {
	for city, places := range seedCities {
		existing, err := discovery.ListPlaces(ctx, city)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}
		for _, sp := range places {
			_, err := discovery.AddPlace(ctx, &model.Place{
				Name:       sp.name,
				Category:   sp.category,
				LegacyType: sp.legacy,
				City:       city,
				Location:   &geo.Coordinate{Latitude: sp.lat, Longitude: sp.lon},
				PointValue: sp.points,
			})
			if err != nil {
				return fmt.Errorf("failed to seed %s: %w", sp.name, err)
			}
		}
		log.Info().Str("city", city).Int("places", len(places)).Msg("Seeded places")
	}
	return nil
}
