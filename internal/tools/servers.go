package tools

import (
	"context"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"netdiag-mcp/internal/catalog"
	"netdiag-mcp/internal/domain"
	"netdiag-mcp/internal/geo"
	"netdiag-mcp/internal/pipeline"
	"netdiag-mcp/internal/ratelimit"
)

const (
	defaultServerLimit = 20
	maxServerLimit     = 100
)

func (d deps) serverInfoTool() *pipeline.Tool {
	continentEnum := make([]any, len(geo.Continents))
	for i, c := range geo.Continents {
		continentEnum[i] = c
	}
	return &pipeline.Tool{
		Name:        ToolGetServerInfo,
		Description: "Discover edge servers, optionally filtered by geography and distance",
		Class:       ratelimit.ClassConnectionInfo,
		Schema: objectSchema(withCommon(map[string]*jsonschema.Schema{
			"continent": {
				Type:        "string",
				Enum:        continentEnum,
				Description: "Restrict results to one continent",
			},
			"country": {
				Type:        "string",
				Pattern:     "^[A-Z]{2}$",
				Description: "Restrict results to one ISO country code",
			},
			"region": {
				Type:        "string",
				Description: "Restrict results to one region",
			},
			"maxDistance": {
				Type:        "number",
				Minimum:     fptr(0),
				Description: "Drop servers farther than this many kilometers",
			},
			"includeDistance": {
				Type:        "boolean",
				Description: "Resolve the caller's location and annotate each server with distance",
			},
			"limit": {
				Type:        "integer",
				Minimum:     fptr(1),
				Maximum:     fptr(maxServerLimit),
				Description: "Maximum number of servers to return",
			},
		})),
		// Server discovery reads the catalog cache; its budget follows the
		// cache TTL rather than a probe deadline.
		DefaultTimeout: catalog.CacheTTL,
		Run:            d.runServerInfo,
	}
}

func (d deps) runServerInfo(ctx context.Context, args map[string]any) (any, error) {
	filter := &catalog.Filter{
		Continent: strArg(args, "continent", ""),
		Country:   strArg(args, "country", ""),
		Region:    strArg(args, "region", ""),
	}
	if v, ok := args["maxDistance"].(float64); ok {
		filter.MaxDistanceKm = &v
	}
	limit := intArg(args, "limit", defaultServerLimit)

	var userLocation *domain.UserLocation
	if boolArg(args, "includeDistance", false) {
		userLocation = d.resolveUserLocation(ctx)
	}

	servers, err := d.catalog.List(ctx, filter, userLocation)
	if err != nil {
		return nil, err
	}

	total := len(servers)
	if len(servers) > limit {
		servers = servers[:limit]
	}

	data := map[string]any{
		"servers":       servers,
		"totalServers":  total,
		"filterApplied": filterEcho(filter),
		"stats":         d.catalog.Stats(),
	}
	if userLocation != nil {
		data["userLocation"] = userLocation
	}
	return data, nil
}

// resolveUserLocation approximates the caller's coordinates: the trace
// names the caller's city, and the catalog entry for that city supplies
// coordinates. Failure to resolve degrades to no distance enrichment, not
// an error.
func (d deps) resolveUserLocation(ctx context.Context) *domain.UserLocation {
	trace, err := d.probe.GetTrace(ctx)
	if err != nil {
		return nil
	}
	loc := &domain.UserLocation{
		City:    trace.City,
		Region:  trace.Region,
		Country: trace.Country,
	}

	entries, err := d.catalog.ByLocation(ctx, catalog.LocationQuery{City: trace.City})
	if err != nil || len(entries) == 0 {
		entries, err = d.catalog.ByLocation(ctx, catalog.LocationQuery{Country: trace.Country})
		if err != nil || len(entries) == 0 {
			return loc
		}
	}
	for _, e := range entries {
		if e.Latitude != nil && e.Longitude != nil {
			loc.Latitude = e.Latitude
			loc.Longitude = e.Longitude
			break
		}
	}
	return loc
}

func filterEcho(f *catalog.Filter) map[string]any {
	echo := map[string]any{}
	if f.Continent != "" {
		echo["continent"] = f.Continent
	}
	if f.Country != "" {
		echo["country"] = strings.ToUpper(f.Country)
	}
	if f.Region != "" {
		echo["region"] = f.Region
	}
	if f.MaxDistanceKm != nil {
		echo["maxDistance"] = *f.MaxDistanceKm
	}
	return echo
}
