// Package enrich adds geo and user-agent derived fields to documents when
// the backing data sources are available. Enrichment is idempotent and
// never fails a document: lookup errors are swallowed.
package enrich

import (
	"log/slog"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
	"github.com/ua-parser/uap-go/uaparser"

	"github.com/sentrel/sentrel/internal/schema"
)

// Enricher holds the optional GeoIP database handle and the user-agent
// parser.
type Enricher struct {
	geo *geoip2.Reader
	ua  *uaparser.Parser
}

// New creates an Enricher. A missing or unreadable GeoIP database disables
// geo enrichment with a warning instead of failing startup.
func New(geoipPath string) *Enricher {
	e := &Enricher{
		ua: uaparser.NewFromSaved(),
	}

	if geoipPath != "" {
		reader, err := geoip2.Open(geoipPath)
		if err != nil {
			slog.Warn("failed to load GeoIP database, geo enrichment disabled",
				slog.String("path", geoipPath),
				slog.String("error", err.Error()),
			)
		} else {
			e.geo = reader
			slog.Info("GeoIP database loaded", slog.String("path", geoipPath))
		}
	}

	return e
}

// Enrich applies geo then user-agent enrichment in place and returns the
// document.
func (e *Enricher) Enrich(doc *schema.Document) *schema.Document {
	e.enrichGeo(doc)
	e.enrichUserAgent(doc)
	return doc
}

// Close releases the GeoIP handle.
func (e *Enricher) Close() error {
	if e.geo == nil {
		return nil
	}
	err := e.geo.Close()
	e.geo = nil
	return err
}

func (e *Enricher) enrichGeo(doc *schema.Document) {
	if e.geo == nil || doc.User == nil || doc.User.IP == "" {
		return
	}
	if IsPrivateIP(doc.User.IP) {
		return
	}

	ip := net.ParseIP(doc.User.IP)
	if ip == nil {
		return
	}

	record, err := e.geo.City(ip)
	if err != nil || record == nil {
		return
	}

	geo := &schema.Geo{
		CountryCode: record.Country.IsoCode,
		CountryName: record.Country.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		// most-specific subdivision is last
		geo.RegionName = record.Subdivisions[len(record.Subdivisions)-1].Names["en"]
	}
	if name := record.City.Names["en"]; name != "" {
		geo.City = name
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		geo.Location = &schema.GeoPoint{
			Lat: record.Location.Latitude,
			Lon: record.Location.Longitude,
		}
	}

	if geo.CountryCode == "" && geo.CountryName == "" && geo.City == "" && geo.Location == nil {
		return
	}
	doc.Geo = geo
}

// enrichUserAgent fills browser/os/device from the raw request's
// User-Agent header, but only for fields the SDK did not already provide.
func (e *Enricher) enrichUserAgent(doc *schema.Document) {
	if doc.Browser != nil && doc.OS != nil {
		return
	}

	ua := headerLookup(doc.RequestHeaders, "user-agent")
	if ua == "" {
		return
	}

	client := e.ua.Parse(ua)
	if client == nil {
		return
	}

	if doc.Browser == nil && client.UserAgent != nil && client.UserAgent.Family != "Other" {
		doc.Browser = &schema.NameVer{
			Name:    client.UserAgent.Family,
			Version: client.UserAgent.ToVersionString(),
		}
	}
	if doc.OS == nil && client.Os != nil && client.Os.Family != "Other" {
		doc.OS = &schema.NameVer{
			Name:    client.Os.Family,
			Version: client.Os.ToVersionString(),
		}
	}
	if doc.Device == nil && client.Device != nil && client.Device.Family != "Other" {
		doc.Device = &schema.Device{
			Family: client.Device.Family,
			Brand:  client.Device.Brand,
			Model:  client.Device.Model,
		}
	}
}

func headerLookup(headers map[string]string, name string) string {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return ""
}

// IsPrivateIP reports whether an address should be excluded from geo
// lookups. The 172.* check is intentionally coarser than 172.16.0.0/12;
// it matches the established ingestion behavior.
func IsPrivateIP(ip string) bool {
	if ip == "" {
		return true
	}
	if ip == "localhost" || ip == "127.0.0.1" || ip == "::1" {
		return true
	}
	for _, prefix := range []string{"10.", "172.", "192.168.", "127.", "::1", "fe80:"} {
		if strings.HasPrefix(ip, prefix) {
			return true
		}
	}
	return false
}
