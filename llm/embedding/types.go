// Package embedding provides text embedding providers with an
// OpenAI-compatible wire format.
package embedding

// modelDimensions maps known embedding models to their vector width.
var modelDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// DefaultDimension is used for models not present in the table.
const DefaultDimension = 1536

// ModelDimension returns the vector width produced by the given model.
func ModelDimension(model string) int {
	if d, ok := modelDimensions[model]; ok {
		return d
	}
	return DefaultDimension
}
