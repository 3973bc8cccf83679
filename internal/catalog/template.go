package catalog

import (
	"fmt"
	"strings"
)

// Template is the text and difficulty used for a generated challenge.
type Template struct {
	Title       string
	Description string
	Difficulty  string
}

var collectionTemplates = map[Category]Template{
	CategoryMuseum:     {"Museum Hopper", "Visit %d museums in %s.", "medium"},
	CategoryHistoric:   {"Time Traveller", "Explore %d historic sites in %s.", "medium"},
	CategoryReligious:  {"Sacred Spaces", "Visit %d places of worship in %s.", "easy"},
	CategoryPark:       {"Green Escape", "Take a break in %d parks in %s.", "easy"},
	CategoryViewpoint:  {"Best Views", "Catch the view from %d viewpoints in %s.", "medium"},
	CategoryMarket:     {"Market Day", "Wander through %d markets in %s.", "easy"},
	CategoryRestaurant: {"Taste Trail", "Eat at %d local restaurants in %s.", "easy"},
	CategoryCafe:       {"Coffee Crawl", "Stop by %d cafes in %s.", "easy"},
	CategoryBeach:      {"Shoreline", "Relax on %d beaches around %s.", "medium"},
	CategoryNightlife:  {"After Dark", "Check out %d night spots in %s.", "medium"},
	CategoryOther:      {"Hidden Gems", "Discover %d hidden gems in %s.", "medium"},
}

// CollectionTemplate returns the text for a collection challenge that asks
// for count places of category c in city.
func CollectionTemplate(c Category, city string, count int) Template {
	tpl, ok := collectionTemplates[c]
	if !ok {
		tpl = collectionTemplates[CategoryOther]
	}
	return Template{
		Title:       fmt.Sprintf("%s: %s", DisplayCity(city), tpl.Title),
		Description: fmt.Sprintf(tpl.Description, count, DisplayCity(city)),
		Difficulty:  tpl.Difficulty,
	}
}

// ExplorerTemplate returns the text for the mixed-category explorer challenge.
func ExplorerTemplate(city string, count int) Template {
	difficulty := "medium"
	if count >= 5 {
		difficulty = "hard"
	}
	return Template{
		Title:       fmt.Sprintf("%s Explorer", DisplayCity(city)),
		Description: fmt.Sprintf("Visit %d different kinds of places across %s.", count, DisplayCity(city)),
		Difficulty:  difficulty,
	}
}

// DisplayCity title-cases each word of a city name.
func DisplayCity(city string) string {
	words := strings.Fields(city)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
