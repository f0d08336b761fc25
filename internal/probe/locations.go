package probe

import (
	"fmt"

	"github.com/tidwall/gjson"

	"netdiag-mcp/internal/domain"
)

// parseLocations decodes the upstream location catalog, a JSON array of
// objects keyed iata/city/region/country/lat/lon. Entries without an iata
// code are skipped; coordinates are optional.
func parseLocations(body []byte) ([]domain.ServerEntry, error) {
	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("locations: expected JSON array, got %s", parsed.Type)
	}

	var entries []domain.ServerEntry
	parsed.ForEach(func(_, loc gjson.Result) bool {
		name := loc.Get("iata").String()
		if name == "" {
			return true
		}
		entry := domain.ServerEntry{
			Name:    name,
			City:    loc.Get("city").String(),
			Region:  loc.Get("region").String(),
			Country: loc.Get("country").String(),
		}
		if entry.City != "" && entry.Country != "" {
			entry.Location = entry.City + ", " + entry.Country
		}
		if lat := loc.Get("lat"); lat.Exists() {
			entry.Latitude = domain.Float(lat.Float())
		}
		if lon := loc.Get("lon"); lon.Exists() {
			entry.Longitude = domain.Float(lon.Float())
		}
		entries = append(entries, entry)
		return true
	})
	return entries, nil
}
