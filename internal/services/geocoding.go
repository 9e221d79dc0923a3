package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"binfleet-backend/internal/services/routing"
	"binfleet-backend/internal/store"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// Geocoder resolves a street address to coordinates
type Geocoder interface {
	Geocode(ctx context.Context, address string) (routing.Location, error)
}

// GeocodingService geocodes addresses using the Google Maps API
type GeocodingService struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// GoogleGeocodeResponse represents the Google Maps Geocoding API response
type GoogleGeocodeResponse struct {
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
	Status string `json:"status"`
}

// NewGeocodingService creates a new geocoding service
func NewGeocodingService(apiKey string) (*GeocodingService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_MAPS_API_KEY environment variable is required")
	}
	return &GeocodingService{
		apiKey:  apiKey,
		baseURL: googleGeocodeURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Geocode converts an address string to coordinates
func (s *GeocodingService) Geocode(ctx context.Context, address string) (routing.Location, error) {
	params := url.Values{}
	params.Add("address", address)
	params.Add("key", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return routing.Location{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return routing.Location{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return routing.Location{}, fmt.Errorf("API returned status code %d", resp.StatusCode)
	}

	var result GoogleGeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return routing.Location{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Status != "OK" {
		return routing.Location{}, fmt.Errorf("geocoding API returned status: %s", result.Status)
	}
	if len(result.Results) == 0 {
		return routing.Location{}, fmt.Errorf("no results found for address: %s", address)
	}

	loc := result.Results[0].Geometry.Location
	return routing.Location{Latitude: loc.Lat, Longitude: loc.Lng}, nil
}

// GeocodeResult is the outcome of geocoding one bin's street address
type GeocodeResult struct {
	BinID          string  `json:"bin_id"`
	BinNumber      int     `json:"bin_number"`
	Address        string  `json:"address"`
	Latitude       float64 `json:"latitude,omitempty"`
	Longitude      float64 `json:"longitude,omitempty"`
	GeocodeSuccess bool    `json:"geocode_success"`
	ErrorMessage   string  `json:"error_message,omitempty"`
}

// GeocodeMissing fills coordinates for active bins that cannot be routed
// because they have none. One bin's failure does not stop the others.
func GeocodeMissing(ctx context.Context, repo store.Repository, geocoder Geocoder) ([]GeocodeResult, error) {
	bins, err := repo.ActiveBins(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active bins: %w", err)
	}

	results := []GeocodeResult{}
	for _, bin := range bins {
		if bin.HasCoordinates() {
			continue
		}
		address := bin.CurrentStreet
		if bin.Region != "" {
			address += ", " + bin.Region
		}
		res := GeocodeResult{BinID: bin.ID, BinNumber: bin.BinNumber, Address: address}

		loc, err := geocoder.Geocode(ctx, address)
		if err == nil {
			err = repo.UpdateBinLocation(ctx, bin.ID, loc.Latitude, loc.Longitude)
		}
		if err != nil {
			log.Printf("⚠️  [GEOCODE] Bin #%d (%s): %v", bin.BinNumber, address, err)
			res.ErrorMessage = err.Error()
		} else {
			res.Latitude, res.Longitude = loc.Latitude, loc.Longitude
			res.GeocodeSuccess = true
		}
		results = append(results, res)
	}

	log.Printf("🗺️  [GEOCODE] Processed %d bins without coordinates", len(results))
	return results, nil
}
