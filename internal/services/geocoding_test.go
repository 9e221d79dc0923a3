package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"binfleet-backend/internal/fixtures"
	"binfleet-backend/internal/store"
)

func TestGeocodeMissingFillsCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if strings.Contains(r.URL.Query().Get("address"), "Nowhere") {
			w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
			return
		}
		w.Write([]byte(`{"status":"OK","results":[{"formatted_address":"x","geometry":{"location":{"lat":37.3,"lng":-121.9}}}]}`))
	}))
	defer srv.Close()

	geocoder, err := NewGeocodingService("test-key")
	if err != nil {
		t.Fatalf("geocoder: %v", err)
	}
	geocoder.baseURL = srv.URL

	ctx := context.Background()
	repo := store.NewMemory()
	b := fixtures.New(ctx, repo, testNow)
	b.Bin(1, "1 Main St", "Downtown", 37.33, -121.89)
	missing := b.BinWithoutCoordinates(2, "2 Market St", "Downtown")
	b.BinWithoutCoordinates(3, "Nowhere Rd", "")
	if err := b.Err(); err != nil {
		t.Fatalf("fixtures: %v", err)
	}

	results, err := GeocodeMissing(ctx, repo, geocoder)
	if err != nil {
		t.Fatalf("geocode: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("only bins without coordinates should be processed, got %d", len(results))
	}

	var ok, failed int
	for _, r := range results {
		if r.GeocodeSuccess {
			ok++
			if r.BinID != missing.ID || r.Address != "2 Market St, Downtown" {
				t.Fatalf("unexpected success %+v", r)
			}
		} else {
			failed++
			if !strings.Contains(r.ErrorMessage, "ZERO_RESULTS") {
				t.Fatalf("unexpected failure reason %q", r.ErrorMessage)
			}
		}
	}
	if ok != 1 || failed != 1 {
		t.Fatalf("expected one success and one failure, got %d/%d", ok, failed)
	}

	bins, err := repo.ActiveBins(ctx)
	if err != nil {
		t.Fatalf("bins: %v", err)
	}
	for _, bin := range bins {
		if bin.ID == missing.ID && (!bin.HasCoordinates() || *bin.Latitude != 37.3) {
			t.Fatalf("coordinates not stored: %+v", bin)
		}
	}
}
