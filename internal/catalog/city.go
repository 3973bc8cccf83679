package catalog

import "github.com/gosimple/slug"

// CityKey normalises a city name for lookups, so "İstanbul", "istanbul"
// and " ISTANBUL " share one key.
func CityKey(city string) string {
	return slug.Make(city)
}
