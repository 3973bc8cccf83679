// Package catalog defines place categories and the templated text used
// when challenges are generated for a city.
package catalog

import "strings"

// Category is the explicit place category stored with every place.
type Category string

// Place categories.
const (
	CategoryUnknown    Category = ""
	CategoryMuseum     Category = "museum"
	CategoryHistoric   Category = "historic"
	CategoryReligious  Category = "religious"
	CategoryPark       Category = "park"
	CategoryViewpoint  Category = "viewpoint"
	CategoryMarket     Category = "market"
	CategoryRestaurant Category = "restaurant"
	CategoryCafe       Category = "cafe"
	CategoryBeach      Category = "beach"
	CategoryNightlife  Category = "nightlife"
	CategoryOther      Category = "other"
)

// All lists every known category except CategoryUnknown.
func All() []Category {
	return []Category{
		CategoryMuseum, CategoryHistoric, CategoryReligious, CategoryPark,
		CategoryViewpoint, CategoryMarket, CategoryRestaurant, CategoryCafe,
		CategoryBeach, CategoryNightlife, CategoryOther,
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range All() {
		if c == known {
			return true
		}
	}
	return false
}

// Parse converts a stored or user-supplied value into a Category.
func Parse(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// keywords maps substrings seen in legacy free-form place types to a
// category. Order matters: the first match wins.
var keywords = []struct {
	category Category
	words    []string
}{
	{CategoryMuseum, []string{"museum", "müze", "muze", "gallery", "galeri", "exhibition"}},
	{CategoryReligious, []string{"mosque", "cami", "church", "kilise", "synagogue", "temple", "cathedral"}},
	{CategoryHistoric, []string{"historic", "tarihi", "palace", "saray", "castle", "kale", "tower", "kule", "monument", "ruins"}},
	{CategoryPark, []string{"park", "garden", "bahçe", "bahce", "forest", "orman"}},
	{CategoryViewpoint, []string{"viewpoint", "view", "manzara", "seyir", "hill", "tepe"}},
	{CategoryCafe, []string{"cafe", "café", "kahve", "coffee", "tea", "çay"}},
	{CategoryMarket, []string{"market", "bazaar", "çarşı", "carsi", "pazar", "mall", "shop"}},
	{CategoryRestaurant, []string{"restaurant", "restoran", "lokanta", "food", "kebap", "meyhane"}},
	{CategoryBeach, []string{"beach", "plaj", "coast", "sahil"}},
	{CategoryNightlife, []string{"bar", "pub", "club", "night"}},
}

// Categorize maps a legacy free-form type string to a category.
// It is only meant for rows that predate the explicit category column.
func Categorize(legacyType string) Category {
	t := strings.ToLower(strings.TrimSpace(legacyType))
	if t == "" {
		return CategoryOther
	}
	if c, ok := Parse(t); ok {
		return c
	}
	for _, k := range keywords {
		for _, w := range k.words {
			if strings.Contains(t, w) {
				return k.category
			}
		}
	}
	return CategoryOther
}

// Resolve returns explicit when it is a known category and falls back to
// keyword matching on legacyType otherwise.
func Resolve(explicit Category, legacyType string) Category {
	if explicit.Valid() {
		return explicit
	}
	return Categorize(legacyType)
}
