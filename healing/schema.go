package healing

import "encoding/json"

// EndpointSchema constrains the submit tool's arguments to a valid step
// configuration. The model proposes a complete replacement config;
// omitted fields fall back to the failing endpoint's values.
var EndpointSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"method": {
			"type": "string",
			"enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"],
			"description": "HTTP verb. Omit for non-HTTP endpoints."
		},
		"urlHost": {
			"type": "string",
			"description": "Scheme and host, e.g. https://api.example.com or postgres://db:5432. May contain <<variable>> placeholders."
		},
		"urlPath": {
			"type": "string",
			"description": "Path portion of the URL. May contain <<variable>> placeholders."
		},
		"headers": {
			"type": "object",
			"additionalProperties": {"type": "string"},
			"description": "Header name to template string. Use <<credential_name>> placeholders, never literal secrets."
		},
		"queryParams": {
			"type": "object",
			"additionalProperties": {"type": "string"},
			"description": "Query parameter name to template string."
		},
		"body": {
			"type": "string",
			"description": "Request body template. JSON string for structured bodies."
		},
		"authentication": {
			"type": "string",
			"enum": ["NONE", "HEADER", "QUERY_PARAM", "OAUTH2"],
			"description": "Where credentials are injected."
		},
		"pagination": {
			"type": "object",
			"properties": {
				"type": {"type": "string", "enum": ["PAGE_BASED", "OFFSET_BASED", "CURSOR_BASED"]},
				"pageSize": {"type": "string"},
				"cursorPath": {"type": "string"},
				"stopCondition": {"type": "string"}
			},
			"required": ["type"]
		},
		"dataPath": {
			"type": "string",
			"description": "Dot-path to the result array inside the response, e.g. data.items. Use $ for the whole response."
		}
	},
	"required": ["urlHost"]
}`)

// verdictSchema constrains the response evaluator's structured output.
var verdictSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"success": {"type": "boolean"},
		"refactorNeeded": {"type": "boolean"},
		"shortReason": {"type": "string"}
	},
	"required": ["success", "refactorNeeded", "shortReason"],
	"additionalProperties": false
}`)

// searchDocumentationParameters is the schema of the optional
// search_documentation custom tool.
var searchDocumentationParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Keywords to search the API documentation for"}
	},
	"required": ["query"]
}`)
