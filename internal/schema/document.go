// Package schema defines the canonical OpenSearch document produced by the
// ingestion pipeline, plus the index mapping and lifecycle policy bodies.
package schema

import "time"

// Document is the indexed representation of one Sentry event.
// Optional fields carry omitempty tags so that empty values never reach
// OpenSearch; nested records are pointers and are only allocated when at
// least one sub-field is populated.
type Document struct {
	Timestamp  time.Time `json:"@timestamp"`
	ReceivedAt time.Time `json:"received_at"`
	EventID    string    `json:"event_id"`
	ProjectID  int       `json:"project_id"`

	Level          string `json:"level,omitempty"`
	Platform       string `json:"platform,omitempty"`
	Environment    string `json:"environment,omitempty"`
	Release        string `json:"release,omitempty"`
	Transaction    string `json:"transaction,omitempty"`
	ServerName     string `json:"server_name,omitempty"`
	Logger         string `json:"logger,omitempty"`
	Message        string `json:"message,omitempty"`
	ExceptionType  string `json:"exception_type,omitempty"`
	ExceptionValue string `json:"exception_value,omitempty"`
	Stacktrace     string `json:"stacktrace,omitempty"`

	User    *User       `json:"user,omitempty"`
	Geo     *Geo        `json:"geo,omitempty"`
	Browser *NameVer    `json:"browser,omitempty"`
	OS      *NameVer    `json:"os,omitempty"`
	Device  *Device     `json:"device,omitempty"`
	Runtime *NameVer    `json:"runtime,omitempty"`
	Request *RequestRef `json:"request,omitempty"`
	SDK     *NameVer    `json:"sdk,omitempty"`

	Tags        map[string]string `json:"tags,omitempty"`
	Fingerprint []string          `json:"fingerprint,omitempty"`

	// RequestHeaders carries the source request headers through enrichment
	// (user-agent lookup); never serialized into the index.
	RequestHeaders map[string]string `json:"-"`
}

// User holds the PII-scrubbed user record. The raw email never appears;
// only its truncated SHA-256 digest does.
type User struct {
	ID        string `json:"id,omitempty"`
	EmailHash string `json:"email_hash,omitempty"`
	Username  string `json:"username,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// Geo is populated by the GeoIP enricher.
type Geo struct {
	CountryCode string    `json:"country_code,omitempty"`
	CountryName string    `json:"country_name,omitempty"`
	RegionName  string    `json:"region_name,omitempty"`
	City        string    `json:"city,omitempty"`
	Location    *GeoPoint `json:"location,omitempty"`
}

// GeoPoint maps to the geo_point field type.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NameVer is the shared shape of browser, os, runtime and sdk records.
type NameVer struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// Device describes the client hardware.
type Device struct {
	Family string `json:"family,omitempty"`
	Model  string `json:"model,omitempty"`
	Brand  string `json:"brand,omitempty"`
}

// RequestRef keeps only the non-sensitive parts of the HTTP request.
type RequestRef struct {
	URL    string `json:"url,omitempty"`
	Method string `json:"method,omitempty"`
}
