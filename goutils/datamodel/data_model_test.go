package datamodel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSchema(t *testing.T) {
	assert.NoError(t, ValidateSchema(SchemaV1))
	assert.NoError(t, ValidateSchema(SchemaV2))

	err := ValidateSchema(Schema("v3"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown schema tag")
}

func TestNormalizedRecordUID(t *testing.T) {
	record := &NormalizedRecord{TokenID: "0.0.1234", SerialNumber: 42}

	assert.Equal(t, "0.0.1234-42", record.UID())
}

func TestMapToSchema(t *testing.T) {
	record := &NormalizedRecord{
		TokenID:           "0.0.1234",
		SerialNumber:      7,
		MetadataReference: "ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		RawMetadataJSON:   json.RawMessage(`{"name":"Token 7"}`),
		ImageReference:    "ipfs://QmbWqxBEKC3P8tqsKc98xmWNzrzDtRLMiMPL8wBuTGsMnR",
		Name:              "Token 7",
		Collection:        "Test Collection",
		Environment:       "mainnet",
		MetadataCID:       "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
	}

	record.Schema = SchemaV1
	doc, err := record.MapToSchema()

	assert.NoError(t, err)
	assert.Equal(t, "0.0.1234", doc["tokenId"])
	assert.EqualValues(t, 7, doc["serialNumber"])
	assert.Equal(t, "Token 7", doc["name"])
	assert.Equal(t, "0.0.1234-7", doc["uid"])

	record.Schema = SchemaV2
	doc, err = record.MapToSchema()

	assert.NoError(t, err)
	assert.Equal(t, "0.0.1234", doc["token_id"])
	assert.EqualValues(t, 7, doc["serial_number"])
	assert.Equal(t, "Token 7", doc["display_name"])
	assert.Equal(t, "mainnet", doc["network"])

	record.Schema = Schema("v3")
	_, err = record.MapToSchema()

	assert.Error(t, err)
}

func TestTokenInfoUnmarshalsStringSupply(t *testing.T) {
	tokenInfo := new(TokenInfo)

	err := json.Unmarshal([]byte(`{"token_id":"0.0.1234","name":"Test","symbol":"TST","total_supply":"1500"}`), tokenInfo)

	assert.NoError(t, err)
	assert.EqualValues(t, 1500, tokenInfo.TotalSupply)
}
