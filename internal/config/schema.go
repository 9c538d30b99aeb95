package config

// descriptionSchema validates the shape of an image description before the
// semantic checks run. Offsets and sizes accept integers or 0x-prefixed
// strings; both are normalized during unmarshalling.
const descriptionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["head"],
  "additionalProperties": false,
  "properties": {
    "head": {
      "type": "object",
      "required": ["name"],
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "board": {"type": "string"},
        "description": {"type": "string"},
        "sector_size": {"type": "integer", "enum": [512, 4096]},
        "image_size": {"$ref": "#/$defs/bytecount"}
      }
    },
    "data": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "offset": {"$ref": "#/$defs/bytecount"},
          "size": {"$ref": "#/$defs/bytecount"},
          "source": {"type": "string"},
          "params": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          }
        }
      }
    },
    "body": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "partitions": {
          "type": "array",
          "maxItems": 4,
          "items": {
            "type": "object",
            "required": ["slot", "type", "start_lba", "sectors"],
            "additionalProperties": false,
            "properties": {
              "slot": {"type": "integer", "minimum": 0, "maximum": 3},
              "type": {"type": "string", "minLength": 1},
              "bootable": {"type": "boolean"},
              "start_lba": {"$ref": "#/$defs/bytecount"},
              "sectors": {"$ref": "#/$defs/bytecount"},
              "content": {"type": "string"}
            }
          }
        }
      }
    }
  },
  "$defs": {
    "bytecount": {
      "oneOf": [
        {"type": "integer", "minimum": 0},
        {"type": "string", "pattern": "^(0[xX][0-9a-fA-F]+|[0-9]+)$"}
      ]
    }
  }
}`
