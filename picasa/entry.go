package picasa

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// wrapperKey holds the primitive value of a typed field, e.g. {"$t": "IMG_0327.JPG"}.
const wrapperKey = "$t"

// Entry is a single loosely typed record of a feed.
type Entry map[string]any

// Record is an entry after schema mapping. Every target key of the schema is present.
type Record map[string]any

// Schema translates remote field names into output names. An empty target drops the field.
type Schema map[string]string

var AlbumSchema = Schema{
	"gphoto$id":        "id",
	"gphoto$name":      "name",
	"gphoto$numphotos": "num_photos",
	"published":        "published",
	"title":            "title",
	"summary":          "summary",
	"gphoto$location":  "location",
	"gphoto$nickname":  "nickname",
}

var PhotoSchema = Schema{
	"gphoto$id":                "id",
	"gphoto$albumid":           "album_id",
	"gphoto$access":            "access",
	"gphoto$width":             "width",
	"gphoto$height":            "height",
	"gphoto$size":              "size",
	"gphoto$checksum":          "checksum",
	"gphoto$timestamp":         "timestamp",
	"gphoto$imageVersion":      "image_version",
	"gphoto$commentingEnabled": "commenting_enabled",
	"gphoto$commentCount":      "comment_count",
	"content":                  "content",
	"title":                    "title",
	"summary":                  "summary",
}

// ParseEntry maps entry through schema. It never fails: absent fields become
// "", primitives pass through, {"$t": v} wrappers are unwrapped and anything
// else is kept as is.
func ParseEntry(entry Entry, schema Schema) Record {
	record := make(Record, len(schema))
	for remote, key := range schema {
		if key == "" {
			continue
		}
		record[key] = checkParam(entry[remote])
	}
	return record
}

func checkParam(param any) any {
	if param == nil {
		return ""
	}
	if isValidType(param) {
		return param
	}
	if wrapped, ok := param.(map[string]any); ok && isValidType(wrapped[wrapperKey]) {
		return wrapped[wrapperKey]
	}
	return param
}

func isValidType(value any) bool {
	switch value.(type) {
	case string, json.Number, float64, float32, int, int64, int32:
		return true
	}
	return false
}

// decodeRecord fills out (a pointer to a struct) from record. Numbers are
// accepted for string fields and "" for struct fields.
func decodeRecord(record Record, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       lenientHook,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create record decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any(record)); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

func lenientHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	switch {
	case to.Kind() == reflect.Struct && from.Kind() == reflect.String:
		if reflect.ValueOf(data).String() == "" {
			return map[string]any{}, nil
		}
	case to.Kind() == reflect.String && (from.Kind() == reflect.Map || from.Kind() == reflect.Slice):
		return "", nil
	}
	return data, nil
}

func albumFromEntry(entry Entry) Album {
	var album Album
	_ = decodeRecord(ParseEntry(entry, AlbumSchema), &album)
	return album
}

func photoFromEntry(entry Entry) Photo {
	var photo Photo
	_ = decodeRecord(ParseEntry(entry, PhotoSchema), &photo)
	return photo
}
