package domain

// KeyPrefix namespaces every key podrag writes to a shared key-value store.
const KeyPrefix = "podrag:"

// VectorConfig describes the index podrag reads. Documents were embedded
// upstream; queries must be embedded by the same model.
type VectorConfig struct {
	Model      string
	Dimensions int
	IndexName  string
	Namespace  string
}

// DefaultVectorConfig returns the defaults matching the transcript index:
// all-MiniLM-L6-v2 sentence embeddings compared by cosine similarity.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		Model:      "all-MiniLM-L6-v2",
		Dimensions: 384,
		IndexName:  "youtube-transcripts-embeddings",
		Namespace:  "youtube-transcripts-embeddings",
	}
}
