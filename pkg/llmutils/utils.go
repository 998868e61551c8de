package llmutils

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/bububa/ljson"
)

// CleanJSON returns JSON by trimming prefixes and postfixes,
// as models and tool servers can reply like
// `Here you go: {json}`
func CleanJSON(bs []byte) []byte {
	trimmedPrefix := trimPrefixBeforeJSON(bs)
	trimmedJSON := trimPostfixAfterJSON(trimmedPrefix)
	return trimmedJSON
}

// Removes any prefixes before the JSON (like "Sure, here you go:")
func trimPrefixBeforeJSON(bs []byte) []byte {
	startObject := bytes.IndexByte(bs, '{')
	startArray := bytes.IndexByte(bs, '[')

	var start int
	if startObject == -1 && startArray == -1 {
		return bs
	} else if startObject == -1 {
		start = startArray
	} else if startArray == -1 {
		start = startObject
	} else {
		start = min(startObject, startArray)
	}

	return bs[start:]
}

// Removes any postfixes after the JSON
func trimPostfixAfterJSON(bs []byte) []byte {
	endObject := bytes.LastIndexByte(bs, '}')
	endArray := bytes.LastIndexByte(bs, ']')

	var end int
	if endObject == -1 && endArray == -1 {
		return bs
	} else if endObject == -1 {
		end = endArray
	} else if endArray == -1 {
		end = endObject
	} else {
		end = max(endObject, endArray)
	}

	return bs[:end+1]
}

// TrimBackticks removes ```json or ```
func TrimBackticks(text string) string {
	return string(BytesTrimBackticks([]byte(text)))
}

var backtick = []byte("```")

// BytesTrimBackticks removes ```json or ```
func BytesTrimBackticks(bs []byte) []byte {
	size := len(bs)
	startIndex := bytes.Index(bs, backtick)
	if startIndex == -1 {
		return bs
	}
	startIndex += len(backtick)

	for i := startIndex; i < size && bs[i] != '{' && bs[i] != '['; i++ {
		if bs[i] == '\n' {
			startIndex = i + 1
			break
		}
	}

	contentAfterStart := bs[startIndex:]
	endIndex := bytes.LastIndex(contentAfterStart, backtick)
	if endIndex == -1 {
		return contentAfterStart
	}

	return bytes.TrimSpace(contentAfterStart[:endIndex])
}

func ToJSON(val any) string {
	js, _ := json.Marshal(val)
	return string(js)
}

func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

// RawKey is the field used to wrap a payload that could not be parsed as JSON.
const RawKey = "raw"

// ParsePayload decodes a tool result payload.
// Strings are parsed as JSON first, then leniently after trimming any
// prose or backticks around the JSON body.
// A payload that is not JSON is returned as {"raw": text}.
// Non-string values are returned as is.
func ParsePayload(payload any) any {
	switch v := payload.(type) {
	case nil:
		return nil
	case string:
		return parseText(v)
	case []byte:
		return parseText(string(v))
	case json.RawMessage:
		return parseText(string(v))
	default:
		return payload
	}
}

func parseText(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return map[string]any{RawKey: text}
	}

	var val any
	if err := json.Unmarshal([]byte(trimmed), &val); err == nil {
		return val
	}

	cleaned := CleanJSON(BytesTrimBackticks([]byte(trimmed)))
	if len(cleaned) > 0 && (cleaned[0] == '{' || cleaned[0] == '[') {
		if err := ljson.Unmarshal(cleaned, &val); err == nil && val != nil {
			return val
		}
	}
	return map[string]any{RawKey: text}
}
