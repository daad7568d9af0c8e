package datamodel

import (
	"encoding/json"
	"fmt"
)

// error categories accumulated per processing job.
const (
	ErrCategoryFetchMetadata  = "fetchMetadata"
	ErrCategoryPinMetadata    = "pinMetadata"
	ErrCategoryPinImage       = "pinImage"
	ErrCategoryDatabaseWrite  = "databaseWrite"
	ErrCategoryGatewayTimeout = "gatewayTimeout"
	ErrCategoryInvalidCID     = "invalidCID"
	ErrCategoryOther          = "other"
)

// Schema tags the destination record layout. Supporting a new layout means
// adding a tag and its field mapping below.
type Schema string

const (
	SchemaV1 Schema = "v1"
	SchemaV2 Schema = "v2"
)

// fieldMappings maps NormalizedRecord fields to destination field names per
// schema variant.
var fieldMappings = map[Schema]map[string]string{
	SchemaV1: {
		"tokenId":           "tokenId",
		"serialNumber":      "serialNumber",
		"metadataReference": "metadata",
		"rawMetadataJson":   "metadataJson",
		"imageReference":    "image",
		"attributes":        "attributes",
		"name":              "name",
		"collection":        "collection",
		"environment":       "environment",
		"metadataCID":       "metadataCid",
		"uid":               "uid",
	},
	SchemaV2: {
		"tokenId":           "token_id",
		"serialNumber":      "serial_number",
		"metadataReference": "metadata_uri",
		"rawMetadataJson":   "metadata_json",
		"imageReference":    "image_uri",
		"attributes":        "properties",
		"name":              "display_name",
		"collection":        "collection_name",
		"environment":       "network",
		"metadataCID":       "metadata_cid",
		"uid":               "uid",
	},
}

// ValidateSchema checks the schema tag against the fixed set of known
// variants. Called once at job start, before any record is mapped.
func ValidateSchema(s Schema) error {
	if _, ok := fieldMappings[s]; !ok {
		return fmt.Errorf("unknown schema tag %q", s)
	}

	return nil
}

// ScrapeRequest is the unit of work consumed from the task queue (or built
// directly in one-shot mode).
type ScrapeRequest struct {
	TokenID     string `json:"tokenId"`
	Environment string `json:"environment"`
	Schema      Schema `json:"schema"`
}

// TokenInfo is the token-details lookup result from the ledger record source.
type TokenInfo struct {
	TokenID     string `json:"token_id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	TotalSupply int64  `json:"total_supply,string"`
}

// LedgerRecord is one on-chain serial entry with its base64-encoded metadata
// pointer.
type LedgerRecord struct {
	SerialNumber int64  `json:"serial_number"`
	Deleted      bool   `json:"deleted"`
	Metadata     string `json:"metadata"`
}

// SerialsPage is one page of ledger records.
type SerialsPage struct {
	Items         []*LedgerRecord `json:"items"`
	NextPageToken string          `json:"next_page_token"`
}

// TokenMetadata is the parsed shape of a fetched metadata document. The full
// document is preserved in NormalizedRecord.RawMetadataJSON.
type TokenMetadata struct {
	Name       string          `json:"name"`
	Image      string          `json:"image"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// NormalizedRecord is the resolved metadata for one serial. Created once per
// successfully fetched serial and immutable afterwards.
type NormalizedRecord struct {
	TokenID           string          `json:"tokenId"`
	SerialNumber      int64           `json:"serialNumber"`
	MetadataReference string          `json:"metadataReference"`
	RawMetadataJSON   json.RawMessage `json:"rawMetadataJson"`
	ImageReference    string          `json:"imageReference,omitempty"`
	Attributes        json.RawMessage `json:"attributes,omitempty"`
	Name              string          `json:"name,omitempty"`
	Collection        string          `json:"collection,omitempty"`
	Environment       string          `json:"environment"`
	MetadataCID       string          `json:"metadataCID,omitempty"`
	Schema            Schema          `json:"-"`
}

// UID is the deterministic key combining token id and serial number.
func (r *NormalizedRecord) UID() string {
	return fmt.Sprintf("%s-%d", r.TokenID, r.SerialNumber)
}

// MapToSchema applies the record's schema field mapping and returns the
// destination-shaped document.
func (r *NormalizedRecord) MapToSchema() (map[string]interface{}, error) {
	mapping, ok := fieldMappings[r.Schema]
	if !ok {
		return nil, fmt.Errorf("unknown schema tag %q", r.Schema)
	}

	doc := map[string]interface{}{
		mapping["tokenId"]:           r.TokenID,
		mapping["serialNumber"]:      r.SerialNumber,
		mapping["metadataReference"]: r.MetadataReference,
		mapping["rawMetadataJson"]:   r.RawMetadataJSON,
		mapping["imageReference"]:    r.ImageReference,
		mapping["attributes"]:        r.Attributes,
		mapping["name"]:              r.Name,
		mapping["collection"]:        r.Collection,
		mapping["environment"]:       r.Environment,
		mapping["metadataCID"]:       r.MetadataCID,
		mapping["uid"]:               r.UID(),
	}

	return doc, nil
}

// ErrorRecord carries the full context of one categorized per-serial failure.
type ErrorRecord struct {
	SerialNumber int64  `json:"serialNumber"`
	Identifier   string `json:"identifier,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
	RetryCount   int    `json:"retryCount,omitempty"`
	Message      string `json:"message"`
}

// JobSnapshot is the per-token progress snapshot persisted at the end of a
// run, letting a later invocation with the same identity skip completed work.
// Best-effort only, the external database stays authoritative.
type JobSnapshot struct {
	RunID       string `json:"runId"`
	TokenID     string `json:"tokenId"`
	Environment string `json:"environment"`
	Schema      Schema `json:"schema"`
	Completed   int64  `json:"completed"`
	ToProcess   int64  `json:"toProcess"`
	ActualTotal int64  `json:"actualTotal"`
	ErrorCount  int    `json:"errorCount"`
	StartedAt   int64  `json:"startedAt"`
	FinishedAt  int64  `json:"finishedAt"`
}

// PinRequest is the body of a pin creation call to the pinning service.
type PinRequest struct {
	CID  string `json:"cid"`
	Name string `json:"name,omitempty"`
}

// PinResponse is the pinning service's view of one pin request.
type PinResponse struct {
	RequestID string     `json:"requestid"`
	Status    string     `json:"status"`
	Pin       PinRequest `json:"pin"`
}

// PinListResponse is the envelope of pin listing/filter queries.
type PinListResponse struct {
	Count   int            `json:"count"`
	Results []*PinResponse `json:"results"`
}

// pin statuses reported by the pinning service.
const (
	PinStatusQueued  = "queued"
	PinStatusPinning = "pinning"
	PinStatusPinned  = "pinned"
	PinStatusFailed  = "failed"
)

// ScraperIssue is the report envelope posted to the ops/slack webhook when a
// run accumulates failures.
type ScraperIssue struct {
	InstanceID      string `json:"instanceId"`
	IssueType       string `json:"issueType"`
	TokenID         string `json:"tokenId"`
	RunID           string `json:"runId"`
	TimeOfReporting string `json:"timeOfReporting"`
	Extra           string `json:"extra,omitempty"`
}
